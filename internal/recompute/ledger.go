package recompute

import (
	"context"
	"fmt"
	"time"

	"github.com/Simplici0/launchpricing/internal/pricing"
	"github.com/Simplici0/launchpricing/internal/store"
)

// Allocate commits units to a phase. The whole batch is rejected when any
// unit is allocated elsewhere or cannot be resolved.
func (c *Coordinator) Allocate(ctx context.Context, phaseID string, unitIDs []string) (Result, error) {
	return c.ledger(ctx, "allocate", phaseID, unitIDs, pricing.Allocate)
}

// Deallocate releases the units committed to a phase. Units not on that phase
// are left untouched.
func (c *Coordinator) Deallocate(ctx context.Context, phaseID string, unitIDs []string) (Result, error) {
	return c.ledger(ctx, "deallocate", phaseID, unitIDs, func(vals []pricing.Valuation, ids []string, phaseID string) ([]pricing.Valuation, error) {
		return pricing.Deallocate(vals, ids, phaseID), nil
	})
}

// Reallocate moves units to a phase whether or not they hold another one.
func (c *Coordinator) Reallocate(ctx context.Context, phaseID string, unitIDs []string) (Result, error) {
	return c.ledger(ctx, "reallocate", phaseID, unitIDs, pricing.Reallocate)
}

type ledgerOp func(vals []pricing.Valuation, unitIDs []string, phaseID string) ([]pricing.Valuation, error)

func (c *Coordinator) ledger(ctx context.Context, op, phaseID string, unitIDs []string, apply ledgerOp) (res Result, err error) {
	start := time.Now()
	defer func() {
		res.Duration = time.Since(start)
		c.metrics.Allocation(op, res.UpdatedCount, err)
	}()

	if len(unitIDs) == 0 {
		return Result{}, pricing.Invalid("allocation", "", "unit_ids", "at least one unit is required")
	}
	p, err := c.store.GetPhase(ctx, phaseID)
	if err != nil {
		return Result{}, err
	}
	res.ScenarioID = p.ScenarioID

	unlock := c.lockScenarios([]string{p.ScenarioID})
	defer unlock()

	vals, err := c.store.ListValuations(ctx, p.ScenarioID, unitIDs...)
	if err != nil {
		return res, err
	}
	changed, err := apply(vals, unitIDs, phaseID)
	if err != nil {
		c.log.Warn("allocation rejected", "op", op, "phase_id", phaseID, "error", err)
		return res, err
	}
	if len(changed) == 0 {
		return res, nil
	}
	if err := c.store.BatchUpsertValuations(ctx, p.ScenarioID, changed); err != nil {
		return res, err
	}
	res.UpdatedCount = len(changed)
	c.log.Info("allocation applied", "op", op, "scenario_id", p.ScenarioID, "phase_id", phaseID, "updated", res.UpdatedCount)
	return res, nil
}

// ResolveUnitCodes maps human unit codes to unit ids within the scenario's
// development. A code repeated in the request or matching several units is a
// data integrity error; an unknown code is not found.
func (c *Coordinator) ResolveUnitCodes(ctx context.Context, scenarioID string, codes []string) ([]string, error) {
	sc, err := c.store.GetScenario(ctx, scenarioID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(codes))
	ids := make([]string, 0, len(codes))
	for _, code := range codes {
		if seen[code] {
			return nil, pricing.DataIntegrity("unit", code, "code listed more than once in request")
		}
		seen[code] = true

		units, err := c.store.ListUnits(ctx, store.UnitFilter{Development: sc.Development, Code: code})
		if err != nil {
			return nil, err
		}
		switch len(units) {
		case 0:
			return nil, pricing.NotFound("unit", code)
		case 1:
			ids = append(ids, units[0].ID)
		default:
			return nil, pricing.DataIntegrity("unit", code, fmt.Sprintf("code matches %d units", len(units)))
		}
	}
	return ids, nil
}
