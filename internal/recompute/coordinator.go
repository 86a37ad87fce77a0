// Package recompute keeps unit valuations consistent with the pricing
// configuration. Every configuration write goes through a Coordinator, which
// serializes work per scenario and re-derives the affected valuations before
// releasing the scenario.
package recompute

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Simplici0/launchpricing/internal/metrics"
	"github.com/Simplici0/launchpricing/internal/pricing"
	"github.com/Simplici0/launchpricing/internal/store"
)

// Scope names how much of a scenario a recompute pass re-derives.
type Scope string

const (
	ScopeFull   Scope = "full"
	ScopePhases Scope = "phases"
	ScopeUnit   Scope = "unit"
)

// State is the recompute state of one scenario.
type State int32

const (
	Idle State = iota
	Recomputing
)

func (s State) String() string {
	if s == Recomputing {
		return "recomputing"
	}
	return "idle"
}

// Result describes a completed recompute pass or ledger operation.
type Result struct {
	ScenarioID   string        `json:"scenario_id"`
	Scope        Scope         `json:"scope,omitempty"`
	UpdatedCount int           `json:"updated_count"`
	Duration     time.Duration `json:"duration_ns"`
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Recorder) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithWorkers bounds parallelism for valuating units and for RecomputeAll.
func WithWorkers(n int) Option {
	return func(c *Coordinator) { c.workers = n }
}

// WithClock overrides the time source stamped on valuations.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// Coordinator owns all writes that invalidate valuations.
type Coordinator struct {
	store   store.Store
	log     *slog.Logger
	metrics *metrics.Recorder
	workers int
	now     func() time.Time

	mu    sync.Mutex
	lanes map[string]*lane
}

// lane serializes work on one scenario. Writers hold mu exclusively for the
// whole write-then-recompute sequence; readers share it.
type lane struct {
	mu    sync.RWMutex
	state atomic.Int32
}

// New returns a Coordinator over s.
func New(s store.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:   s,
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		workers: 4,
		now:     time.Now,
		lanes:   make(map[string]*lane),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State reports whether scenarioID is being recomputed.
func (c *Coordinator) State(scenarioID string) State {
	return State(c.lane(scenarioID).state.Load())
}

func (c *Coordinator) lane(scenarioID string) *lane {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.lanes[scenarioID]
	if !ok {
		l = &lane{}
		c.lanes[scenarioID] = l
	}
	return l
}

// lockScenarios takes the write side of several lanes in id order so two
// multi-scenario writers cannot deadlock. The returned func releases them.
func (c *Coordinator) lockScenarios(ids []string) func() {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	locked := make([]*lane, 0, len(sorted))
	for i, id := range sorted {
		if i > 0 && sorted[i-1] == id {
			continue
		}
		l := c.lane(id)
		l.mu.Lock()
		locked = append(locked, l)
	}
	return func() {
		for i := len(locked) - 1; i >= 0; i-- {
			locked[i].mu.Unlock()
		}
	}
}

// run executes one recompute pass on a scenario whose lane is held. Unit and
// phase scopes are widened to a full pass when the scenario has never been
// recomputed or its last pass failed, since stored valuations are then not a
// valid base for a partial update.
func (c *Coordinator) run(ctx context.Context, sc pricing.Scenario, scope Scope, unitID string) (Result, error) {
	l := c.lane(sc.ID)
	l.state.Store(int32(Recomputing))
	defer l.state.Store(int32(Idle))

	status, err := c.store.GetStatus(ctx, sc.ID)
	if err != nil {
		return Result{ScenarioID: sc.ID, Scope: scope}, err
	}
	if scope != ScopeFull && (status.Stale || status.RecomputedAt.IsZero()) {
		scope = ScopeFull
	}

	start := time.Now()
	var written int
	priced, err := c.hasRateTable(ctx, sc.ID)
	switch {
	case err != nil:
	case !priced:
		// Nothing to value until the scenario has rates.
	case scope == ScopeUnit:
		written, err = c.recomputeUnit(ctx, sc, unitID)
	case scope == ScopePhases:
		written, err = c.recomputePhases(ctx, sc)
	default:
		written, err = c.recomputeFull(ctx, sc)
	}
	res := Result{ScenarioID: sc.ID, Scope: scope, UpdatedCount: written, Duration: time.Since(start)}

	c.metrics.Recompute(string(scope), res.Duration, written, err)
	c.saveStatus(ctx, status, res, err)

	if err != nil {
		level := slog.LevelError
		if pricing.KindOf(err) != nil {
			level = slog.LevelWarn
		}
		c.log.Log(ctx, level, "recompute aborted",
			"scenario_id", sc.ID, "scope", scope, "error", err)
		return res, err
	}
	c.log.Info("recompute finished",
		"scenario_id", sc.ID, "scope", scope, "updated", written, "duration", res.Duration)
	return res, nil
}

func (c *Coordinator) saveStatus(ctx context.Context, prev store.ScenarioStatus, res Result, runErr error) {
	st := store.ScenarioStatus{ScenarioID: res.ScenarioID}
	if runErr != nil {
		st.Stale = true
		st.LastError = runErr.Error()
		st.RecomputedAt = prev.RecomputedAt
		st.UpdatedCount = prev.UpdatedCount
		var pe *pricing.Error
		if errors.As(runErr, &pe) && pe.Entity == "unit" {
			st.FailedUnitID = pe.ID
		}
	} else {
		st.UpdatedCount = res.UpdatedCount
		st.RecomputedAt = c.now()
		if res.Scope != ScopeFull {
			st.UpdatedCount = prev.UpdatedCount
		}
	}
	if err := c.store.SaveStatus(ctx, st); err != nil {
		c.log.Error("save scenario status", "scenario_id", res.ScenarioID, "error", err)
	}
}

func (c *Coordinator) hasRateTable(ctx context.Context, scenarioID string) (bool, error) {
	_, err := c.store.GetRateTable(ctx, scenarioID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, pricing.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// inputs is the read-only configuration snapshot of one pass.
type inputs struct {
	rateTable pricing.RateTable
	factors   pricing.FactorSet
	phases    []pricing.Phase
}

func (c *Coordinator) loadInputs(ctx context.Context, sc pricing.Scenario) (inputs, error) {
	rt, err := c.store.GetRateTable(ctx, sc.ID)
	if err != nil {
		return inputs{}, err
	}
	factors, err := c.store.ListFactors(ctx, rt.ID)
	if err != nil {
		return inputs{}, err
	}
	set, err := pricing.NewFactorSet(factors)
	if err != nil {
		return inputs{}, err
	}
	phases, err := c.store.ListPhases(ctx, sc.ID)
	if err != nil {
		return inputs{}, err
	}
	if err := pricing.ValidateLadder(phases); err != nil {
		return inputs{}, err
	}
	return inputs{rateTable: *rt, factors: set, phases: phases}, nil
}

func (c *Coordinator) recomputeFull(ctx context.Context, sc pricing.Scenario) (int, error) {
	in, err := c.loadInputs(ctx, sc)
	if err != nil {
		return 0, err
	}
	units, err := c.store.ListUnits(ctx, store.UnitFilter{Development: sc.Development})
	if err != nil {
		return 0, err
	}

	fresh, err := pricing.ValuateAll(in.rateTable, in.factors, in.phases, units, c.workers, c.now())
	if err != nil {
		return 0, err
	}

	prior, err := c.store.ListValuations(ctx, sc.ID)
	if err != nil {
		return 0, err
	}
	pricing.CarryAllocations(fresh, prior)

	if err := c.store.ReplaceValuations(ctx, sc.ID, fresh); err != nil {
		return 0, err
	}
	return len(fresh), nil
}

func (c *Coordinator) recomputeUnit(ctx context.Context, sc pricing.Scenario, unitID string) (int, error) {
	in, err := c.loadInputs(ctx, sc)
	if err != nil {
		return 0, err
	}
	u, err := c.store.GetUnit(ctx, unitID)
	if err != nil {
		return 0, err
	}

	fresh, err := pricing.ValuateAll(in.rateTable, in.factors, in.phases, []pricing.Unit{*u}, 1, c.now())
	if err != nil {
		return 0, err
	}

	prior, err := c.store.ListValuations(ctx, sc.ID, unitID)
	if err != nil {
		return 0, err
	}
	pricing.CarryAllocations(fresh, prior)

	if err := c.store.BatchUpsertValuations(ctx, sc.ID, fresh); err != nil {
		return 0, err
	}
	return len(fresh), nil
}

// recomputePhases rechains every stored ladder from its first divergent
// position and refreshes sale values; base and category values are kept.
func (c *Coordinator) recomputePhases(ctx context.Context, sc pricing.Scenario) (int, error) {
	phases, err := c.store.ListPhases(ctx, sc.ID)
	if err != nil {
		return 0, err
	}
	if err := pricing.ValidateLadder(phases); err != nil {
		return 0, err
	}
	prior, err := c.store.ListValuations(ctx, sc.ID)
	if err != nil {
		return 0, err
	}

	now := c.now()
	changed := make([]pricing.Valuation, 0, len(prior))
	for _, v := range prior {
		from := pricing.FirstDivergence(v.PhaseValues, phases)
		if from == len(phases) && len(v.PhaseValues) == len(phases) && !orderOrNameChanged(v.PhaseValues, phases) {
			continue
		}
		next := v.Clone()
		next.PhaseValues = pricing.RechainPhaseValues(v.InitialValue, v.PhaseValues, phases)
		next.ComputedAt = now
		pricing.RefreshSaleValue(&next)
		changed = append(changed, next)
	}

	if len(changed) == 0 {
		return 0, nil
	}
	if err := c.store.BatchUpsertValuations(ctx, sc.ID, changed); err != nil {
		return 0, err
	}
	return len(changed), nil
}

func orderOrNameChanged(values []pricing.PhaseValue, phases []pricing.Phase) bool {
	ordered := pricing.SortPhases(phases)
	for i, p := range ordered {
		if values[i].Order != p.Order || values[i].Name != p.Name {
			return true
		}
	}
	return false
}
