package recompute

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/Simplici0/launchpricing/internal/pricing"
	"github.com/Simplici0/launchpricing/internal/store"
)

// CreateScenario stores a new scenario. It has no valuations until its rate
// table is configured.
func (c *Coordinator) CreateScenario(ctx context.Context, sc *pricing.Scenario) error {
	if err := sc.Validate(); err != nil {
		return err
	}
	return c.store.CreateScenario(ctx, sc)
}

// RecomputeScenario re-derives every valuation of a scenario.
func (c *Coordinator) RecomputeScenario(ctx context.Context, scenarioID string) (Result, error) {
	sc, err := c.store.GetScenario(ctx, scenarioID)
	if err != nil {
		return Result{ScenarioID: scenarioID}, err
	}
	unlock := c.lockScenarios([]string{sc.ID})
	defer unlock()
	return c.run(ctx, *sc, ScopeFull, "")
}

// RecomputeAll recomputes every scenario, several at a time. A failing
// scenario does not stop the others; all failures are joined.
func (c *Coordinator) RecomputeAll(ctx context.Context) ([]Result, error) {
	scenarios, err := c.store.ListScenarios(ctx, "")
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(scenarios))
	errs := make([]error, len(scenarios))
	var g errgroup.Group
	if c.workers > 0 {
		g.SetLimit(c.workers)
	}
	for i, sc := range scenarios {
		i, sc := i, sc
		g.Go(func() error {
			results[i], errs[i] = c.RecomputeScenario(ctx, sc.ID)
			return nil
		})
	}
	_ = g.Wait()
	return results, errors.Join(errs...)
}

// UpsertRateTable writes the scenario's rate table and recomputes the scenario.
func (c *Coordinator) UpsertRateTable(ctx context.Context, scenarioID string, rt *pricing.RateTable) (Result, error) {
	if err := rt.Validate(); err != nil {
		return Result{ScenarioID: scenarioID}, err
	}
	sc, err := c.store.GetScenario(ctx, scenarioID)
	if err != nil {
		return Result{ScenarioID: scenarioID}, err
	}

	unlock := c.lockScenarios([]string{sc.ID})
	defer unlock()

	if err := c.store.UpsertRateTable(ctx, sc.ID, rt); err != nil {
		return Result{ScenarioID: sc.ID}, err
	}
	return c.run(ctx, *sc, ScopeFull, "")
}

// UpsertFactor writes a valorization factor and recomputes the whole scenario
// of its rate table.
func (c *Coordinator) UpsertFactor(ctx context.Context, f *pricing.Factor) (Result, error) {
	if err := f.Validate(); err != nil {
		return Result{}, err
	}
	sc, err := c.scenarioOfRateTable(ctx, f.RateTableID)
	if err != nil {
		return Result{}, err
	}

	unlock := c.lockScenarios([]string{sc.ID})
	defer unlock()

	if err := c.store.UpsertFactor(ctx, f); err != nil {
		return Result{ScenarioID: sc.ID}, err
	}
	return c.run(ctx, *sc, ScopeFull, "")
}

// DeleteFactor removes a valorization factor and recomputes its scenario.
func (c *Coordinator) DeleteFactor(ctx context.Context, factorID string) (Result, error) {
	f, err := c.store.GetFactor(ctx, factorID)
	if err != nil {
		return Result{}, err
	}
	sc, err := c.scenarioOfRateTable(ctx, f.RateTableID)
	if err != nil {
		return Result{}, err
	}

	unlock := c.lockScenarios([]string{sc.ID})
	defer unlock()

	if err := c.store.DeleteFactor(ctx, factorID); err != nil {
		return Result{ScenarioID: sc.ID}, err
	}
	return c.run(ctx, *sc, ScopeFull, "")
}

func (c *Coordinator) scenarioOfRateTable(ctx context.Context, rateTableID string) (*pricing.Scenario, error) {
	rt, err := c.store.GetRateTableByID(ctx, rateTableID)
	if err != nil {
		return nil, err
	}
	return c.store.GetScenario(ctx, rt.ScenarioID)
}

// UpsertPhase inserts or updates a sales phase and rechains the scenario's
// ladders from the first position whose input changed.
func (c *Coordinator) UpsertPhase(ctx context.Context, p *pricing.Phase) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{ScenarioID: p.ScenarioID}, err
	}
	if p.ID != "" {
		existing, err := c.store.GetPhase(ctx, p.ID)
		switch {
		case err == nil && existing.ScenarioID != p.ScenarioID:
			return Result{ScenarioID: p.ScenarioID}, pricing.Invalid("phase", p.ID, "scenario_id", "a phase cannot move between scenarios")
		case err != nil && !errors.Is(err, pricing.ErrNotFound):
			return Result{ScenarioID: p.ScenarioID}, err
		}
	}
	sc, err := c.store.GetScenario(ctx, p.ScenarioID)
	if err != nil {
		return Result{ScenarioID: p.ScenarioID}, err
	}

	unlock := c.lockScenarios([]string{sc.ID})
	defer unlock()

	if err := c.store.UpsertPhase(ctx, p); err != nil {
		return Result{ScenarioID: sc.ID}, err
	}
	return c.run(ctx, *sc, ScopePhases, "")
}

// DeletePhase removes a sales phase, compacts the orders after it and
// rechains the ladders from its position. Units allocated to it are released.
func (c *Coordinator) DeletePhase(ctx context.Context, phaseID string) (Result, error) {
	p, err := c.store.GetPhase(ctx, phaseID)
	if err != nil {
		return Result{}, err
	}
	sc, err := c.store.GetScenario(ctx, p.ScenarioID)
	if err != nil {
		return Result{ScenarioID: p.ScenarioID}, err
	}

	unlock := c.lockScenarios([]string{sc.ID})
	defer unlock()

	if err := c.store.DeletePhase(ctx, phaseID); err != nil {
		return Result{ScenarioID: sc.ID}, err
	}
	return c.run(ctx, *sc, ScopePhases, "")
}

// UpsertUnit writes a unit and recomputes it in every scenario of its
// development. When the unit moved from another development, the scenarios
// of that development are fully recomputed so its old valuations go away.
//
// The affected scenarios depend on the stored unit, so the unit is read again
// once their lanes are held; if a concurrent write moved it in between, the
// lanes are released and the scenarios are resolved again.
func (c *Coordinator) UpsertUnit(ctx context.Context, u *pricing.Unit) ([]Result, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}

	for {
		previous, err := c.storedDevelopment(ctx, u.ID)
		if err != nil {
			return nil, err
		}
		scenarios, err := c.unitScenarios(ctx, u.Development, previous)
		if err != nil {
			return nil, err
		}

		ids := make([]string, len(scenarios))
		for i, sc := range scenarios {
			ids[i] = sc.ID
		}
		unlock := c.lockScenarios(ids)

		current, err := c.storedDevelopment(ctx, u.ID)
		if err != nil {
			unlock()
			return nil, err
		}
		if current != previous {
			unlock()
			c.log.Debug("unit moved during write, retrying", "unit_id", u.ID, "development", current)
			continue
		}

		results, err := c.writeUnit(ctx, u, scenarios)
		unlock()
		return results, err
	}
}

// storedDevelopment returns the development of the stored unit id, or "" when
// the unit does not exist yet.
func (c *Coordinator) storedDevelopment(ctx context.Context, unitID string) (string, error) {
	if unitID == "" {
		return "", nil
	}
	u, err := c.store.GetUnit(ctx, unitID)
	switch {
	case err == nil:
		return u.Development, nil
	case errors.Is(err, pricing.ErrNotFound):
		return "", nil
	default:
		return "", err
	}
}

func (c *Coordinator) unitScenarios(ctx context.Context, development, previous string) ([]pricing.Scenario, error) {
	scenarios, err := c.store.ListScenarios(ctx, development)
	if err != nil {
		return nil, err
	}
	if previous != "" && previous != development {
		old, err := c.store.ListScenarios(ctx, previous)
		if err != nil {
			return nil, err
		}
		scenarios = append(scenarios, old...)
	}
	return scenarios, nil
}

// writeUnit stores u and recomputes it in scenarios, whose lanes are held.
func (c *Coordinator) writeUnit(ctx context.Context, u *pricing.Unit, scenarios []pricing.Scenario) ([]Result, error) {
	if err := c.store.UpsertUnit(ctx, u); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(scenarios))
	var errs []error
	for _, sc := range scenarios {
		scope := ScopeUnit
		if sc.Development != u.Development {
			scope = ScopeFull
		}
		res, err := c.run(ctx, sc, scope, u.ID)
		results = append(results, res)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return results, errors.Join(errs...)
}

// ListUnits passes through to the store; units are read without a lane since
// they are not owned by a single scenario.
func (c *Coordinator) ListUnits(ctx context.Context, filter store.UnitFilter) ([]pricing.Unit, error) {
	return c.store.ListUnits(ctx, filter)
}
