package pricing

import "github.com/shopspring/decimal"

// PhaseTotal aggregates one phase across all units of a scenario.
type PhaseTotal struct {
	PhaseID        string          `json:"phase_id"`
	Order          int             `json:"order"`
	Name           string          `json:"name"`
	ProjectedTotal decimal.Decimal `json:"projected_total"`
	AllocatedUnits int             `json:"allocated_units"`
	AllocatedTotal decimal.Decimal `json:"allocated_total"`
}

// Summary rolls a scenario's valuations up for the dashboard. VGV is the sum of
// the sale values of allocated units.
type Summary struct {
	ScenarioID     string          `json:"scenario_id"`
	Units          int             `json:"units"`
	AllocatedUnits int             `json:"allocated_units"`
	InitialTotal   decimal.Decimal `json:"initial_total"`
	VGV            decimal.Decimal `json:"vgv"`
	Phases         []PhaseTotal    `json:"phases"`
}

// Summarize aggregates valuations of one scenario. Phase totals follow the
// ladder order of the first valuation.
func Summarize(scenarioID string, vals []Valuation) Summary {
	s := Summary{
		ScenarioID:   scenarioID,
		Units:        len(vals),
		InitialTotal: decimal.Zero,
		VGV:          decimal.Zero,
	}

	positions := make(map[string]int)
	for _, v := range vals {
		s.InitialTotal = s.InitialTotal.Add(v.InitialValue)
		for _, pv := range v.PhaseValues {
			pos, ok := positions[pv.PhaseID]
			if !ok {
				pos = len(s.Phases)
				positions[pv.PhaseID] = pos
				s.Phases = append(s.Phases, PhaseTotal{
					PhaseID:        pv.PhaseID,
					Order:          pv.Order,
					Name:           pv.Name,
					ProjectedTotal: decimal.Zero,
					AllocatedTotal: decimal.Zero,
				})
			}
			s.Phases[pos].ProjectedTotal = s.Phases[pos].ProjectedTotal.Add(pv.Value)
		}
		if v.Allocated() && v.SaleValue.Valid {
			s.AllocatedUnits++
			s.VGV = s.VGV.Add(v.SaleValue.Decimal)
			if pos, ok := positions[v.AllocatedPhaseID]; ok {
				s.Phases[pos].AllocatedUnits++
				s.Phases[pos].AllocatedTotal = s.Phases[pos].AllocatedTotal.Add(v.SaleValue.Decimal)
			}
		}
	}
	return s
}
