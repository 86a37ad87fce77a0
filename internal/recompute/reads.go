package recompute

import (
	"context"

	"github.com/Simplici0/launchpricing/internal/pricing"
	"github.com/Simplici0/launchpricing/internal/store"
)

// GetDetailedBreakdown returns the stored valuations of a scenario, or only
// the given unit's when unitID is set. Reads wait for an in-flight recompute
// of the scenario so they never observe a half-applied pass.
func (c *Coordinator) GetDetailedBreakdown(ctx context.Context, scenarioID, unitID string) ([]pricing.Valuation, error) {
	if _, err := c.store.GetScenario(ctx, scenarioID); err != nil {
		return nil, err
	}
	l := c.lane(scenarioID)
	l.mu.RLock()
	defer l.mu.RUnlock()

	if unitID == "" {
		return c.store.ListValuations(ctx, scenarioID)
	}
	v, err := c.store.GetValuation(ctx, scenarioID, unitID)
	if err != nil {
		return nil, err
	}
	return []pricing.Valuation{*v}, nil
}

// Summary totals the scenario's valuations.
func (c *Coordinator) Summary(ctx context.Context, scenarioID string) (pricing.Summary, error) {
	if _, err := c.store.GetScenario(ctx, scenarioID); err != nil {
		return pricing.Summary{}, err
	}
	l := c.lane(scenarioID)
	l.mu.RLock()
	defer l.mu.RUnlock()

	vals, err := c.store.ListValuations(ctx, scenarioID)
	if err != nil {
		return pricing.Summary{}, err
	}
	return pricing.Summarize(scenarioID, vals), nil
}

// Status reports the last recompute outcome of a scenario.
func (c *Coordinator) Status(ctx context.Context, scenarioID string) (store.ScenarioStatus, error) {
	if _, err := c.store.GetScenario(ctx, scenarioID); err != nil {
		return store.ScenarioStatus{}, err
	}
	l := c.lane(scenarioID)
	l.mu.RLock()
	defer l.mu.RUnlock()

	return c.store.GetStatus(ctx, scenarioID)
}

// Scenario returns one scenario.
func (c *Coordinator) Scenario(ctx context.Context, id string) (*pricing.Scenario, error) {
	return c.store.GetScenario(ctx, id)
}

// Scenarios lists scenarios, optionally of one development.
func (c *Coordinator) Scenarios(ctx context.Context, development string) ([]pricing.Scenario, error) {
	return c.store.ListScenarios(ctx, development)
}

// RateTable returns the scenario's rate table together with its factors.
func (c *Coordinator) RateTable(ctx context.Context, scenarioID string) (*pricing.RateTable, []pricing.Factor, error) {
	rt, err := c.store.GetRateTable(ctx, scenarioID)
	if err != nil {
		return nil, nil, err
	}
	factors, err := c.store.ListFactors(ctx, rt.ID)
	if err != nil {
		return nil, nil, err
	}
	return rt, factors, nil
}

// Phases returns the scenario's ladder in order.
func (c *Coordinator) Phases(ctx context.Context, scenarioID string) ([]pricing.Phase, error) {
	if _, err := c.store.GetScenario(ctx, scenarioID); err != nil {
		return nil, err
	}
	return c.store.ListPhases(ctx, scenarioID)
}

// Phase returns one sales phase.
func (c *Coordinator) Phase(ctx context.Context, id string) (*pricing.Phase, error) {
	return c.store.GetPhase(ctx, id)
}
