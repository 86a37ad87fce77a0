package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	defaultEnv              = "development"
	defaultDBPath           = "./dev.db"
	defaultPort             = "8080"
	defaultLogLevel         = "INFO"
	defaultRecomputeWorkers = 4
)

// Config holds application configuration sourced from environment variables.
type Config struct {
	Env              string
	DBPath           string
	Port             string
	AdminToken       string
	LogLevel         string
	RecomputeWorkers int
	SeedDemo         bool

	// Warnings collects problems found while reading the environment. They
	// are logged by LogWarnings once the logger is configured.
	Warnings []Warning
}

// Warning is a deferred log record.
type Warning struct {
	Msg  string
	Args []any
}

// Load reads environment variables and returns a populated Config.
func Load() Config {
	// Best-effort: load local dev environment variables.
	// We don't fail if the file is missing; production should use real env injection.
	_ = godotenv.Load(".env")
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv without touching .env files.
func FromEnv(getenv func(string) string) Config {
	cfg := Config{
		Env:        strings.ToLower(strings.TrimSpace(getenv("APP_ENV"))),
		DBPath:     getenv("DB_PATH"),
		Port:       getenv("PORT"),
		AdminToken: getenv("ADMIN_TOKEN"),
		LogLevel:   getenv("LOG_LEVEL"),
	}

	if cfg.Env == "" {
		cfg.Env = defaultEnv
	}
	if cfg.DBPath == "" {
		cfg.DBPath = defaultDBPath
	}
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}

	cfg.RecomputeWorkers = defaultRecomputeWorkers
	if raw := getenv("RECOMPUTE_WORKERS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			cfg.warn("invalid RECOMPUTE_WORKERS, using default", "value", raw, "default", defaultRecomputeWorkers)
		} else {
			cfg.RecomputeWorkers = n
		}
	}

	if raw := getenv("SEED_DEMO"); raw != "" {
		seed, err := strconv.ParseBool(raw)
		if err != nil {
			cfg.warn("invalid SEED_DEMO, ignoring", "value", raw)
		}
		cfg.SeedDemo = seed
	} else {
		cfg.SeedDemo = cfg.IsDev()
	}

	if cfg.AdminToken == "" && !cfg.IsDev() {
		cfg.warn("ADMIN_TOKEN is not set; mutating routes are open")
	}

	return cfg
}

func (c *Config) warn(msg string, args ...any) {
	c.Warnings = append(c.Warnings, Warning{Msg: msg, Args: args})
}

// LogWarnings writes the collected warnings to l.
func (c Config) LogWarnings(l *slog.Logger) {
	for _, w := range c.Warnings {
		l.Warn(w.Msg, w.Args...)
	}
}

// IsDev reports whether the app runs in the development environment.
func (c Config) IsDev() bool {
	return c.Env == defaultEnv || c.Env == "dev"
}
