package pricing

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// SortPhases returns a copy of phases ordered by Order.
func SortPhases(phases []Phase) []Phase {
	out := append([]Phase(nil), phases...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// ValidateLadder checks every phase and rejects two phases sharing an order.
func ValidateLadder(phases []Phase) error {
	seen := make(map[int]string, len(phases))
	for _, p := range phases {
		if err := p.Validate(); err != nil {
			return err
		}
		if other, ok := seen[p.Order]; ok && other != p.ID {
			return Configuration("phase", p.ID, "order",
				fmt.Sprintf("order %d already used by phase %s", p.Order, other))
		}
		seen[p.Order] = p.ID
	}
	return nil
}

// ComputePhaseValues compounds each phase's readjustment onto the previous
// phase's value, starting from initial. Phases are visited in Order and none is
// skipped, including 0% phases.
func ComputePhaseValues(initial decimal.Decimal, phases []Phase) []PhaseValue {
	ordered := SortPhases(phases)
	out := make([]PhaseValue, 0, len(ordered))
	prev := initial
	for _, p := range ordered {
		value := readjust(prev, p.Readjustment)
		out = append(out, phaseValue(p, value))
		prev = value
	}
	return out
}

// RechainPhaseValues recomputes a ladder after phases were inserted, updated or
// removed. Leading prior values whose phase id and readjustment still match the
// ladder position are reused; everything from the first divergence onward is
// recompounded from its new predecessor.
func RechainPhaseValues(initial decimal.Decimal, prior []PhaseValue, phases []Phase) []PhaseValue {
	ordered := SortPhases(phases)
	out := make([]PhaseValue, 0, len(ordered))
	prev := initial
	reuse := true
	for i, p := range ordered {
		if reuse && i < len(prior) && prior[i].PhaseID == p.ID && prior[i].Readjustment.Equal(p.Readjustment) {
			pv := prior[i]
			pv.Order = p.Order
			pv.Name = p.Name
			out = append(out, pv)
			prev = pv.Value
			continue
		}
		reuse = false
		value := readjust(prev, p.Readjustment)
		out = append(out, phaseValue(p, value))
		prev = value
	}
	return out
}

// FirstDivergence returns the ladder position from which RechainPhaseValues
// would recompute, or len(phases) when prior already matches.
func FirstDivergence(prior []PhaseValue, phases []Phase) int {
	ordered := SortPhases(phases)
	for i, p := range ordered {
		if i >= len(prior) || prior[i].PhaseID != p.ID || !prior[i].Readjustment.Equal(p.Readjustment) {
			return i
		}
	}
	return len(ordered)
}

func readjust(value, percentage decimal.Decimal) decimal.Decimal {
	return value.Mul(decimal.NewFromInt(1).Add(percentage.Shift(-2)))
}

func phaseValue(p Phase, value decimal.Decimal) PhaseValue {
	return PhaseValue{
		PhaseID:      p.ID,
		Order:        p.Order,
		Name:         p.Name,
		Readjustment: p.Readjustment,
		Value:        value,
	}
}
