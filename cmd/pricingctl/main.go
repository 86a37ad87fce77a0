// Command pricingctl is the operator CLI for the launch pricing engine.
package main

import (
	"github.com/Simplici0/launchpricing/internal/config"
	"github.com/Simplici0/launchpricing/internal/logging"
)

func main() {
	cfg := config.Load()
	cfg.LogWarnings(logging.Setup(cfg.LogLevel))

	if err := newRootCommand(cfg).Execute(); err != nil {
		logging.Fatal("pricingctl failed", "error", err)
	}
}
