package pricing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

type factorKey struct {
	category  Category
	reference string
}

// FactorSet indexes the valorization factors of one rate table by (category, reference value).
type FactorSet struct {
	byKey map[factorKey]Factor
}

// NewFactorSet indexes factors. Two factors sharing a (category, reference value)
// pair are a configuration error.
func NewFactorSet(factors []Factor) (FactorSet, error) {
	set := FactorSet{byKey: make(map[factorKey]Factor, len(factors))}
	for _, f := range factors {
		key := factorKey{category: f.Category, reference: f.ReferenceValue}
		if prev, ok := set.byKey[key]; ok {
			return FactorSet{}, Configuration("factor", f.ID, "reference_value",
				fmt.Sprintf("duplicates factor %s for %s=%q", prev.ID, f.Category, f.ReferenceValue))
		}
		set.byKey[key] = f
	}
	return set, nil
}

// Lookup returns the factor for (c, reference). ok is false when none is configured,
// which is distinct from a configured 0% factor.
func (s FactorSet) Lookup(c Category, reference string) (Factor, bool) {
	f, ok := s.byKey[factorKey{category: c, reference: reference}]
	return f, ok
}

// Len returns the number of indexed factors.
func (s FactorSet) Len() int {
	return len(s.byKey)
}

// Valuate prices one unit. The steps run in a fixed order: base, ancillary,
// subtotal, category adjustments over the subtotal, initial value.
// The result carries no phase values or allocation; see ComputePhaseValues.
func Valuate(rt RateTable, factors FactorSet, u Unit) (Valuation, error) {
	rate, ok := rt.RatePerArea[u.Typology]
	if !ok {
		return Valuation{}, &Error{
			Kind:    ErrConfiguration,
			Entity:  "unit",
			ID:      u.ID,
			Field:   "typology",
			Message: fmt.Sprintf("no rate configured for typology %q in rate table %s", u.Typology, rt.ID),
		}
	}

	privative := u.AreaPrivative.Mul(rate)
	garden := decimal.Zero
	if u.AreaGarden.IsPositive() {
		garden = u.AreaGarden.Mul(rt.RateGardenPerArea)
	}
	base := privative.Add(garden)

	ancillary := decimal.Zero
	for _, kind := range AncillaryKinds {
		count := u.Ancillary.Count(kind)
		if count == 0 {
			continue
		}
		ancillary = ancillary.Add(decimal.NewFromInt(int64(count)).Mul(rt.RatePerAncillary[kind]))
	}

	subtotal := base.Add(ancillary)

	percentages := make(map[Category]decimal.Decimal)
	values := make(map[Category]decimal.Decimal)
	initial := subtotal
	for _, c := range Categories {
		ref, defined := u.Attribute(c)
		if !defined {
			continue
		}
		f, found := factors.Lookup(c, ref)
		if !found {
			continue
		}
		adjustment := subtotal.Mul(f.Percentage.Shift(-2))
		percentages[c] = f.Percentage
		values[c] = adjustment
		initial = initial.Add(adjustment)
	}

	return Valuation{
		ScenarioID:          rt.ScenarioID,
		UnitID:              u.ID,
		UnitCode:            u.Code,
		Typology:            u.Typology,
		PrivativeValue:      privative,
		GardenValue:         garden,
		BaseValue:           base,
		AncillaryValue:      ancillary,
		CategoryPercentages: percentages,
		CategoryValues:      values,
		InitialValue:        initial,
	}, nil
}

// ValuateAll prices a batch of units against the same configuration and chains
// each unit through the phase ladder. Units are valuated on up to workers
// goroutines; results keep input order. When any unit fails, the failure of the
// earliest unit in input order is returned and no valuations are.
func ValuateAll(rt RateTable, factors FactorSet, phases []Phase, units []Unit, workers int, now time.Time) ([]Valuation, error) {
	ordered := SortPhases(phases)
	out := make([]Valuation, len(units))
	errs := make([]error, len(units))

	var g errgroup.Group
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i := range units {
		i := i
		g.Go(func() error {
			v, err := Valuate(rt, factors, units[i])
			if err != nil {
				errs[i] = err
				return nil
			}
			v.PhaseValues = ComputePhaseValues(v.InitialValue, ordered)
			v.ComputedAt = now
			out[i] = v
			return nil
		})
	}
	_ = g.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, UnitFailure(units[i].ID, err)
		}
	}
	return out, nil
}
