package pricing

import "fmt"

// Allocate commits each unit to phaseID and fixes its sale value at that
// phase's computed value. vals are the scenario's current valuations and are
// not modified; the changed valuations are returned.
//
// The batch is checked in full before anything changes: a unit id repeated in
// the request or resolving to more than one valuation is a data integrity
// error, an unknown unit or a phase missing from the ladder is not found, and a
// unit committed to another phase fails with ErrAlreadyAllocated. Units
// already on phaseID are refreshed.
func Allocate(vals []Valuation, unitIDs []string, phaseID string) ([]Valuation, error) {
	index, err := resolveUnits(vals, unitIDs)
	if err != nil {
		return nil, err
	}

	for _, id := range unitIDs {
		v := index[id]
		if _, ok := v.PhaseValue(phaseID); !ok {
			return nil, NotFound("phase", phaseID)
		}
		if v.Allocated() && v.AllocatedPhaseID != phaseID {
			return nil, alreadyAllocated(id, v.AllocatedPhaseID)
		}
	}

	out := make([]Valuation, 0, len(unitIDs))
	for _, id := range unitIDs {
		v := index[id].Clone()
		v.AllocatedPhaseID = phaseID
		RefreshSaleValue(&v)
		out = append(out, v)
	}
	return out, nil
}

// Deallocate releases the units currently committed to phaseID. Units that are
// unknown or allocated elsewhere are left alone. Only changed valuations are
// returned.
func Deallocate(vals []Valuation, unitIDs []string, phaseID string) []Valuation {
	wanted := make(map[string]bool, len(unitIDs))
	for _, id := range unitIDs {
		wanted[id] = true
	}

	var out []Valuation
	for _, v := range vals {
		if !wanted[v.UnitID] || v.AllocatedPhaseID != phaseID {
			continue
		}
		c := v.Clone()
		clearAllocation(&c)
		out = append(out, c)
		delete(wanted, v.UnitID)
	}
	return out
}

// Reallocate moves units to phaseID in one step: each unit is released from
// whatever phase it holds, then allocated. The same checks as Allocate apply,
// except that a current allocation elsewhere is not an error.
func Reallocate(vals []Valuation, unitIDs []string, phaseID string) ([]Valuation, error) {
	index, err := resolveUnits(vals, unitIDs)
	if err != nil {
		return nil, err
	}

	released := make([]Valuation, len(vals))
	for i, v := range vals {
		released[i] = v
		if _, ok := index[v.UnitID]; ok {
			c := v.Clone()
			clearAllocation(&c)
			released[i] = c
		}
	}
	return Allocate(released, unitIDs, phaseID)
}

// RefreshSaleValue sets the sale value from the allocated phase's current
// value. An allocation to a phase no longer on the ladder is cleared.
func RefreshSaleValue(v *Valuation) {
	if !v.Allocated() {
		v.SaleValue.Valid = false
		return
	}
	value, ok := v.PhaseValue(v.AllocatedPhaseID)
	if !ok {
		clearAllocation(v)
		return
	}
	v.SaleValue.Decimal = value
	v.SaleValue.Valid = true
}

// CarryAllocations copies allocations from prior onto freshly computed
// valuations and refreshes their sale values.
func CarryAllocations(fresh []Valuation, prior []Valuation) {
	held := make(map[string]string, len(prior))
	for _, p := range prior {
		if p.Allocated() {
			held[p.UnitID] = p.AllocatedPhaseID
		}
	}
	for i := range fresh {
		fresh[i].AllocatedPhaseID = held[fresh[i].UnitID]
		RefreshSaleValue(&fresh[i])
	}
}

func clearAllocation(v *Valuation) {
	v.AllocatedPhaseID = ""
	v.SaleValue.Valid = false
}

func resolveUnits(vals []Valuation, unitIDs []string) (map[string]Valuation, error) {
	requested := make(map[string]bool, len(unitIDs))
	for _, id := range unitIDs {
		if requested[id] {
			return nil, DataIntegrity("unit", id, "unit listed more than once in request")
		}
		requested[id] = true
	}

	index := make(map[string]Valuation, len(unitIDs))
	rows := make(map[string]int, len(unitIDs))
	for _, v := range vals {
		if !requested[v.UnitID] {
			continue
		}
		rows[v.UnitID]++
		index[v.UnitID] = v
	}
	for _, id := range unitIDs {
		switch n := rows[id]; {
		case n == 0:
			return nil, NotFound("valuation", id)
		case n > 1:
			return nil, DataIntegrity("unit", id, fmt.Sprintf("resolves to %d valuation rows", n))
		}
	}
	return index, nil
}
