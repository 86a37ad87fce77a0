// Package store persists the pricing configuration entities and the derived
// unit valuations. Missing rows are reported as pricing.ErrNotFound.
package store

import (
	"context"
	"time"

	"github.com/Simplici0/launchpricing/internal/pricing"
)

// UnitFilter narrows ListUnits. Zero-value fields do not filter.
type UnitFilter struct {
	Development string
	Code        string
	IDs         []string
}

// ScenarioStatus records the outcome of the last recompute of a scenario.
// Stale is set when the configuration changed but the recompute was aborted,
// so stored valuations still reflect the previous configuration.
type ScenarioStatus struct {
	ScenarioID   string    `json:"scenario_id"`
	Stale        bool      `json:"stale"`
	LastError    string    `json:"last_error,omitempty"`
	FailedUnitID string    `json:"failed_unit_id,omitempty"`
	UpdatedCount int       `json:"updated_count"`
	RecomputedAt time.Time `json:"recomputed_at"`
}

// Store is the persistence collaborator of the pricing engine.
type Store interface {
	CreateScenario(ctx context.Context, s *pricing.Scenario) error
	GetScenario(ctx context.Context, id string) (*pricing.Scenario, error)
	ListScenarios(ctx context.Context, development string) ([]pricing.Scenario, error)

	GetRateTable(ctx context.Context, scenarioID string) (*pricing.RateTable, error)
	GetRateTableByID(ctx context.Context, id string) (*pricing.RateTable, error)
	UpsertRateTable(ctx context.Context, scenarioID string, rt *pricing.RateTable) error

	ListFactors(ctx context.Context, rateTableID string) ([]pricing.Factor, error)
	GetFactor(ctx context.Context, id string) (*pricing.Factor, error)
	UpsertFactor(ctx context.Context, f *pricing.Factor) error
	DeleteFactor(ctx context.Context, id string) error

	ListUnits(ctx context.Context, filter UnitFilter) ([]pricing.Unit, error)
	GetUnit(ctx context.Context, id string) (*pricing.Unit, error)
	UpsertUnit(ctx context.Context, u *pricing.Unit) error

	ListPhases(ctx context.Context, scenarioID string) ([]pricing.Phase, error)
	GetPhase(ctx context.Context, id string) (*pricing.Phase, error)
	UpsertPhase(ctx context.Context, p *pricing.Phase) error
	DeletePhase(ctx context.Context, id string) error

	GetValuation(ctx context.Context, scenarioID, unitID string) (*pricing.Valuation, error)
	ListValuations(ctx context.Context, scenarioID string, unitIDs ...string) ([]pricing.Valuation, error)
	BatchUpsertValuations(ctx context.Context, scenarioID string, vals []pricing.Valuation) error
	ReplaceValuations(ctx context.Context, scenarioID string, vals []pricing.Valuation) error

	GetStatus(ctx context.Context, scenarioID string) (ScenarioStatus, error)
	SaveStatus(ctx context.Context, st ScenarioStatus) error
}
