package main

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Simplici0/launchpricing/internal/pricing"
	"github.com/Simplici0/launchpricing/internal/recompute"
	"github.com/Simplici0/launchpricing/internal/store"
)

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleListScenarios(w http.ResponseWriter, r *http.Request) {
	scenarios, err := s.coord.Scenarios(r.Context(), strings.TrimSpace(r.URL.Query().Get("development")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if scenarios == nil {
		scenarios = []pricing.Scenario{}
	}
	writeJSON(w, http.StatusOK, scenarios)
}

func (s *server) handleGetScenario(w http.ResponseWriter, r *http.Request) {
	sc, err := s.coord.Scenario(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (s *server) handleCreateScenario(w http.ResponseWriter, r *http.Request) {
	var sc pricing.Scenario
	if err := decodeJSON(r, &sc); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.coord.CreateScenario(r.Context(), &sc); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sc)
}

func (s *server) handleScenarioStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, err := s.coord.Status(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		store.ScenarioStatus
		State string `json:"state"`
	}{ScenarioStatus: st, State: s.coord.State(id).String()})
}

type rateTableResponse struct {
	*pricing.RateTable
	Factors []pricing.Factor `json:"factors"`
}

func (s *server) handleGetRateTable(w http.ResponseWriter, r *http.Request) {
	rt, factors, err := s.coord.RateTable(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if factors == nil {
		factors = []pricing.Factor{}
	}
	writeJSON(w, http.StatusOK, rateTableResponse{RateTable: rt, Factors: factors})
}

// recomputeResponse pairs the written entity with the recompute it triggered.
type recomputeResponse struct {
	Data    any                `json:"data,omitempty"`
	Result  *recompute.Result  `json:"result,omitempty"`
	Results []recompute.Result `json:"results,omitempty"`
}

func (s *server) handleUpsertRateTable(w http.ResponseWriter, r *http.Request) {
	var rt pricing.RateTable
	if err := decodeJSON(r, &rt); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.coord.UpsertRateTable(r.Context(), chi.URLParam(r, "id"), &rt)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recomputeResponse{Data: rt, Result: &res})
}

func (s *server) handleUpsertFactor(w http.ResponseWriter, r *http.Request) {
	var f pricing.Factor
	if err := decodeJSON(r, &f); err != nil {
		s.writeError(w, r, err)
		return
	}
	rt, _, err := s.coord.RateTable(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	f.RateTableID = rt.ID

	res, err := s.coord.UpsertFactor(r.Context(), &f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recomputeResponse{Data: f, Result: &res})
}

func (s *server) handleDeleteFactor(w http.ResponseWriter, r *http.Request) {
	res, err := s.coord.DeleteFactor(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recomputeResponse{Result: &res})
}

func (s *server) handleListPhases(w http.ResponseWriter, r *http.Request) {
	phases, err := s.coord.Phases(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if phases == nil {
		phases = []pricing.Phase{}
	}
	writeJSON(w, http.StatusOK, phases)
}

func (s *server) handleCreatePhase(w http.ResponseWriter, r *http.Request) {
	var p pricing.Phase
	if err := decodeJSON(r, &p); err != nil {
		s.writeError(w, r, err)
		return
	}
	p.ID = ""
	p.ScenarioID = chi.URLParam(r, "id")
	s.upsertPhase(w, r, &p, http.StatusCreated)
}

func (s *server) handleUpdatePhase(w http.ResponseWriter, r *http.Request) {
	var p pricing.Phase
	if err := decodeJSON(r, &p); err != nil {
		s.writeError(w, r, err)
		return
	}
	existing, err := s.coord.Phase(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p.ID = existing.ID
	p.ScenarioID = existing.ScenarioID
	s.upsertPhase(w, r, &p, http.StatusOK)
}

func (s *server) upsertPhase(w http.ResponseWriter, r *http.Request, p *pricing.Phase, status int) {
	res, err := s.coord.UpsertPhase(r.Context(), p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, status, recomputeResponse{Data: p, Result: &res})
}

func (s *server) handleDeletePhase(w http.ResponseWriter, r *http.Request) {
	res, err := s.coord.DeletePhase(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recomputeResponse{Result: &res})
}

func (s *server) handleListUnits(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	units, err := s.coord.ListUnits(r.Context(), store.UnitFilter{
		Development: strings.TrimSpace(q.Get("development")),
		Code:        strings.TrimSpace(q.Get("code")),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if units == nil {
		units = []pricing.Unit{}
	}
	writeJSON(w, http.StatusOK, units)
}

func (s *server) handleUpsertUnit(w http.ResponseWriter, r *http.Request) {
	var u pricing.Unit
	if err := decodeJSON(r, &u); err != nil {
		s.writeError(w, r, err)
		return
	}
	if id := chi.URLParam(r, "id"); id != "" {
		u.ID = id
	}
	results, err := s.coord.UpsertUnit(r.Context(), &u)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recomputeResponse{Data: u, Results: results})
}

func (s *server) handleRecomputeScenario(w http.ResponseWriter, r *http.Request) {
	res, err := s.coord.RecomputeScenario(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recomputeResponse{Result: &res})
}

func (s *server) handleRecomputeAll(w http.ResponseWriter, r *http.Request) {
	results, err := s.coord.RecomputeAll(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recomputeResponse{Results: results})
}

func (s *server) handleBreakdown(w http.ResponseWriter, r *http.Request) {
	vals, err := s.coord.GetDetailedBreakdown(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("unit_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if vals == nil {
		vals = []pricing.Valuation{}
	}
	writeJSON(w, http.StatusOK, vals)
}

func (s *server) handleSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.coord.Summary(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

type allocationRequest struct {
	UnitIDs   []string `json:"unit_ids"`
	UnitCodes []string `json:"unit_codes"`
}

type allocationOp func(c *recompute.Coordinator, ctx context.Context, phaseID string, unitIDs []string) (recompute.Result, error)

var (
	allocate   allocationOp = (*recompute.Coordinator).Allocate
	deallocate allocationOp = (*recompute.Coordinator).Deallocate
	reallocate allocationOp = (*recompute.Coordinator).Reallocate
)

// handleAllocation accepts units by id or by code. Codes are resolved inside
// the scenario's development and must each match exactly one unit.
func (s *server) handleAllocation(op allocationOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req allocationRequest
		if err := decodeJSON(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if len(req.UnitIDs) > 0 && len(req.UnitCodes) > 0 {
			s.writeError(w, r, pricing.Invalid("allocation", "", "unit_ids", "send unit_ids or unit_codes, not both"))
			return
		}

		ctx := r.Context()
		scenarioID := chi.URLParam(r, "id")
		phaseID := chi.URLParam(r, "phaseID")

		p, err := s.coord.Phase(ctx, phaseID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if p.ScenarioID != scenarioID {
			s.writeError(w, r, pricing.NotFound("phase", phaseID))
			return
		}

		unitIDs := req.UnitIDs
		if len(req.UnitCodes) > 0 {
			unitIDs, err = s.coord.ResolveUnitCodes(ctx, scenarioID, req.UnitCodes)
			if err != nil {
				s.writeError(w, r, err)
				return
			}
		}

		res, err := op(s.coord, ctx, phaseID, unitIDs)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, recomputeResponse{Result: &res})
	}
}
