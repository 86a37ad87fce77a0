package recompute

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Simplici0/launchpricing/internal/db"
	"github.com/Simplici0/launchpricing/internal/migrations"
	"github.com/Simplici0/launchpricing/internal/pricing"
	"github.com/Simplici0/launchpricing/internal/store"
)

var fixedNow = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, got.Equal(d(want)), "want %s, got %s", want, got)
}

type fixture struct {
	c        *Coordinator
	store    *store.SQLite
	scenario pricing.Scenario
	rt       pricing.RateTable
	launch   pricing.Phase
	presale  pricing.Phase
}

func newCoordinator(t *testing.T) (*Coordinator, *store.SQLite) {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "recompute-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, migrations.Up(testContext(t), database))

	s := store.NewSQLite(database)
	return New(s, WithClock(func() time.Time { return fixedNow }), WithWorkers(2)), s
}

func rateTable() pricing.RateTable {
	return pricing.RateTable{
		RatePerArea:       map[string]decimal.Decimal{"apartment": d("10000"), "penthouse": d("15000")},
		RatePerAncillary:  map[pricing.AncillaryKind]decimal.Decimal{pricing.AncillarySuite: d("50000")},
		RateGardenPerArea: d("2000"),
	}
}

func unitA101(development string) pricing.Unit {
	return pricing.Unit{
		ID:            "u-1",
		Development:   development,
		Code:          "A-101",
		Typology:      "apartment",
		AreaPrivative: d("70"),
		AreaGarden:    d("10"),
		Floor:         1,
		Block:         "A",
		Orientation:   "North",
		Ancillary:     pricing.AncillaryCounts{Suite: 1},
	}
}

// newFixture builds a scenario with one unit valued at 808500 and a two phase
// ladder (+10%, +5%).
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := testContext(t)
	c, s := newCoordinator(t)
	f := &fixture{c: c, store: s}

	f.scenario = pricing.Scenario{Name: "Base", Development: "Residencial Aurora"}
	require.NoError(t, c.CreateScenario(ctx, &f.scenario))

	f.rt = rateTable()
	_, err := c.UpsertRateTable(ctx, f.scenario.ID, &f.rt)
	require.NoError(t, err)

	_, err = c.UpsertFactor(ctx, &pricing.Factor{RateTableID: f.rt.ID, Category: pricing.CategoryOrientation, ReferenceValue: "North", Percentage: d("5")})
	require.NoError(t, err)

	u := unitA101(f.scenario.Development)
	_, err = c.UpsertUnit(ctx, &u)
	require.NoError(t, err)

	f.launch = pricing.Phase{ScenarioID: f.scenario.ID, Order: 0, Name: "Launch", Readjustment: d("10")}
	_, err = c.UpsertPhase(ctx, &f.launch)
	require.NoError(t, err)
	f.presale = pricing.Phase{ScenarioID: f.scenario.ID, Order: 1, Name: "Pre-sale", Readjustment: d("5")}
	_, err = c.UpsertPhase(ctx, &f.presale)
	require.NoError(t, err)
	return f
}

func (f *fixture) valuation(t *testing.T, unitID string) pricing.Valuation {
	t.Helper()
	vals, err := f.c.GetDetailedBreakdown(testContext(t), f.scenario.ID, unitID)
	require.NoError(t, err)
	require.Len(t, vals, 1)
	return vals[0]
}

func TestWorkedExampleThroughCoordinator(t *testing.T) {
	f := newFixture(t)

	v := f.valuation(t, "u-1")
	assertMoney(t, "720000", v.BaseValue)
	assertMoney(t, "50000", v.AncillaryValue)
	assertMoney(t, "38500", v.CategoryValues[pricing.CategoryOrientation])
	assertMoney(t, "808500", v.InitialValue)
	require.Len(t, v.PhaseValues, 2)
	assertMoney(t, "889350", v.PhaseValues[0].Value)
	assertMoney(t, "933817.5", v.PhaseValues[1].Value)
	assert.True(t, v.ComputedAt.Equal(fixedNow))

	st, err := f.c.Status(testContext(t), f.scenario.ID)
	require.NoError(t, err)
	assert.False(t, st.Stale)
	assert.Equal(t, Idle, f.c.State(f.scenario.ID))
}

func TestRecomputeIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)

	first, err := f.c.RecomputeScenario(ctx, f.scenario.ID)
	require.NoError(t, err)
	assert.Equal(t, ScopeFull, first.Scope)
	assert.Equal(t, 1, first.UpdatedCount)
	before, err := f.store.ListValuations(ctx, f.scenario.ID)
	require.NoError(t, err)

	_, err = f.c.RecomputeScenario(ctx, f.scenario.ID)
	require.NoError(t, err)
	after, err := f.store.ListValuations(ctx, f.scenario.ID)
	require.NoError(t, err)

	assert.Equal(t, before, after)
}

func TestFailedRecomputeKeepsPriorValuationsAndMarksStale(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)

	penthouse := pricing.Unit{ID: "u-2", Development: f.scenario.Development, Code: "PH-1", Typology: "penthouse", AreaPrivative: d("100"), AreaGarden: d("0")}
	_, err := f.c.UpsertUnit(ctx, &penthouse)
	require.NoError(t, err)
	assertMoney(t, "1500000", f.valuation(t, "u-2").InitialValue)

	withoutPenthouse := rateTable()
	delete(withoutPenthouse.RatePerArea, "penthouse")
	withoutPenthouse.RatePerArea["apartment"] = d("20000")
	_, err = f.c.UpsertRateTable(ctx, f.scenario.ID, &withoutPenthouse)
	require.ErrorIs(t, err, pricing.ErrConfiguration)

	assertMoney(t, "808500", f.valuation(t, "u-1").InitialValue)
	assertMoney(t, "1500000", f.valuation(t, "u-2").InitialValue)

	st, err := f.c.Status(ctx, f.scenario.ID)
	require.NoError(t, err)
	assert.True(t, st.Stale)
	assert.Equal(t, "u-2", st.FailedUnitID)
	assert.Contains(t, st.LastError, "typology")

	fixed := rateTable()
	_, err = f.c.UpsertRateTable(ctx, f.scenario.ID, &fixed)
	require.NoError(t, err)

	st, err = f.c.Status(ctx, f.scenario.ID)
	require.NoError(t, err)
	assert.False(t, st.Stale)
	assert.Empty(t, st.FailedUnitID)
	assert.Equal(t, 2, st.UpdatedCount)
}

func TestDeletingFirstPhaseRechainsFromInitialValue(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)

	res, err := f.c.DeletePhase(ctx, f.launch.ID)
	require.NoError(t, err)
	assert.Equal(t, ScopePhases, res.Scope)
	assert.Equal(t, 1, res.UpdatedCount)

	v := f.valuation(t, "u-1")
	require.Len(t, v.PhaseValues, 1)
	assert.Equal(t, f.presale.ID, v.PhaseValues[0].PhaseID)
	assert.Equal(t, 0, v.PhaseValues[0].Order)
	assertMoney(t, "848925", v.PhaseValues[0].Value)
	assertMoney(t, "808500", v.InitialValue)
}

func TestInsertingPhaseInMiddleShiftsTail(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)

	f.presale.Order = 2
	_, err := f.c.UpsertPhase(ctx, &f.presale)
	require.NoError(t, err)

	middle := pricing.Phase{ScenarioID: f.scenario.ID, Order: 1, Name: "Discount", Readjustment: d("-10")}
	_, err = f.c.UpsertPhase(ctx, &middle)
	require.NoError(t, err)

	v := f.valuation(t, "u-1")
	require.Len(t, v.PhaseValues, 3)
	assertMoney(t, "889350", v.PhaseValues[0].Value)
	assertMoney(t, "800415", v.PhaseValues[1].Value)
	assertMoney(t, "840435.75", v.PhaseValues[2].Value)
}

func TestPhaseOrderCollisionIsConfigurationError(t *testing.T) {
	f := newFixture(t)

	clash := pricing.Phase{ScenarioID: f.scenario.ID, Order: 1, Name: "Clash", Readjustment: d("1")}
	_, err := f.c.UpsertPhase(testContext(t), &clash)

	assert.ErrorIs(t, err, pricing.ErrConfiguration)
	assert.Len(t, f.valuation(t, "u-1").PhaseValues, 2)
}

func TestSaleValueFollowsRateChange(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)

	res, err := f.c.Allocate(ctx, f.launch.ID, []string{"u-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.UpdatedCount)
	v := f.valuation(t, "u-1")
	require.True(t, v.SaleValue.Valid)
	assertMoney(t, "889350", v.SaleValue.Decimal)

	rt := rateTable()
	rt.RatePerArea["apartment"] = d("11000")
	_, err = f.c.UpsertRateTable(ctx, f.scenario.ID, &rt)
	require.NoError(t, err)

	v = f.valuation(t, "u-1")
	assert.Equal(t, f.launch.ID, v.AllocatedPhaseID)
	assertMoney(t, "882000", v.InitialValue)
	assertMoney(t, "970200", v.SaleValue.Decimal)

	sum, err := f.c.Summary(ctx, f.scenario.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.AllocatedUnits)
	assertMoney(t, "970200", sum.VGV)
}

func TestAllocateElsewhereFailsWithoutMutation(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)

	_, err := f.c.Allocate(ctx, f.launch.ID, []string{"u-1"})
	require.NoError(t, err)

	_, err = f.c.Allocate(ctx, f.presale.ID, []string{"u-1"})
	require.ErrorIs(t, err, pricing.ErrAlreadyAllocated)

	v := f.valuation(t, "u-1")
	assert.Equal(t, f.launch.ID, v.AllocatedPhaseID)
	assertMoney(t, "889350", v.SaleValue.Decimal)

	res, err := f.c.Reallocate(ctx, f.presale.ID, []string{"u-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.UpdatedCount)
	v = f.valuation(t, "u-1")
	assert.Equal(t, f.presale.ID, v.AllocatedPhaseID)
	assertMoney(t, "933817.5", v.SaleValue.Decimal)
}

func TestDeallocateOnOtherPhaseIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)

	_, err := f.c.Allocate(ctx, f.launch.ID, []string{"u-1"})
	require.NoError(t, err)

	res, err := f.c.Deallocate(ctx, f.presale.ID, []string{"u-1"})
	require.NoError(t, err)
	assert.Zero(t, res.UpdatedCount)
	assert.Equal(t, f.launch.ID, f.valuation(t, "u-1").AllocatedPhaseID)

	res, err = f.c.Deallocate(ctx, f.launch.ID, []string{"u-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.UpdatedCount)
	v := f.valuation(t, "u-1")
	assert.False(t, v.Allocated())
	assert.False(t, v.SaleValue.Valid)
}

func TestDeletingAllocatedPhaseReleasesUnit(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)

	_, err := f.c.Allocate(ctx, f.launch.ID, []string{"u-1"})
	require.NoError(t, err)
	_, err = f.c.DeletePhase(ctx, f.launch.ID)
	require.NoError(t, err)

	v := f.valuation(t, "u-1")
	assert.False(t, v.Allocated())
	assert.False(t, v.SaleValue.Valid)
}

func TestAllocateRejectsDuplicateAndUnknownUnits(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)

	_, err := f.c.Allocate(ctx, f.launch.ID, []string{"u-1", "u-1"})
	assert.ErrorIs(t, err, pricing.ErrDataIntegrity)

	_, err = f.c.Allocate(ctx, f.launch.ID, []string{"u-1", "missing"})
	assert.ErrorIs(t, err, pricing.ErrNotFound)
	assert.False(t, f.valuation(t, "u-1").Allocated())

	_, err = f.c.Allocate(ctx, "missing-phase", []string{"u-1"})
	assert.ErrorIs(t, err, pricing.ErrNotFound)

	_, err = f.c.Allocate(ctx, f.launch.ID, nil)
	assert.ErrorIs(t, err, pricing.ErrInvalidInput)
}

func TestResolveUnitCodes(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)

	ids, err := f.c.ResolveUnitCodes(ctx, f.scenario.ID, []string{"A-101"})
	require.NoError(t, err)
	assert.Equal(t, []string{"u-1"}, ids)

	_, err = f.c.ResolveUnitCodes(ctx, f.scenario.ID, []string{"A-101", "A-101"})
	assert.ErrorIs(t, err, pricing.ErrDataIntegrity)

	_, err = f.c.ResolveUnitCodes(ctx, f.scenario.ID, []string{"Z-999"})
	assert.ErrorIs(t, err, pricing.ErrNotFound)

	twin := unitA101(f.scenario.Development)
	twin.ID = "u-twin"
	_, err = f.c.UpsertUnit(ctx, &twin)
	require.NoError(t, err)

	_, err = f.c.ResolveUnitCodes(ctx, f.scenario.ID, []string{"A-101"})
	assert.ErrorIs(t, err, pricing.ErrDataIntegrity)
}

func TestUnitMovingDevelopmentLeavesOldScenario(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)

	other := pricing.Scenario{Name: "Tower", Development: "Torre Sul"}
	require.NoError(t, f.c.CreateScenario(ctx, &other))
	otherRT := rateTable()
	_, err := f.c.UpsertRateTable(ctx, other.ID, &otherRT)
	require.NoError(t, err)

	moved := unitA101(other.Development)
	results, err := f.c.UpsertUnit(ctx, &moved)
	require.NoError(t, err)
	require.Len(t, results, 2)

	old, err := f.c.GetDetailedBreakdown(ctx, f.scenario.ID, "")
	require.NoError(t, err)
	assert.Empty(t, old)

	vals, err := f.c.GetDetailedBreakdown(ctx, other.ID, "u-1")
	require.NoError(t, err)
	require.Len(t, vals, 1)
	assertMoney(t, "770000", vals[0].InitialValue)
}

func TestFactorDeleteRecomputesScenario(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)

	_, factors, err := f.c.RateTable(ctx, f.scenario.ID)
	require.NoError(t, err)
	require.Len(t, factors, 1)

	_, err = f.c.DeleteFactor(ctx, factors[0].ID)
	require.NoError(t, err)

	v := f.valuation(t, "u-1")
	assertMoney(t, "770000", v.InitialValue)
	assert.Empty(t, v.CategoryValues)
}

func TestConcurrentTriggersSerializePerScenario(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)

	percentages := []string{"1", "2", "3", "4", "5", "6"}
	var wg sync.WaitGroup
	for _, p := range percentages {
		p := p
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := f.c.UpsertFactor(ctx, &pricing.Factor{RateTableID: f.rt.ID, Category: pricing.CategoryBlock, ReferenceValue: "A", Percentage: d(p)})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := f.c.RecomputeScenario(ctx, f.scenario.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	_, factors, err := f.c.RateTable(ctx, f.scenario.ID)
	require.NoError(t, err)
	var block decimal.Decimal
	for _, fac := range factors {
		if fac.Category == pricing.CategoryBlock {
			block = fac.Percentage
		}
	}

	v := f.valuation(t, "u-1")
	assert.True(t, v.CategoryPercentages[pricing.CategoryBlock].Equal(block), "valuation reflects the last committed factor")
	assert.Equal(t, Idle, f.c.State(f.scenario.ID))
}

func TestRecomputeAllCollectsEveryScenario(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)

	broken := pricing.Scenario{Name: "Penthouses only", Development: f.scenario.Development}
	require.NoError(t, f.c.CreateScenario(ctx, &broken))
	brokenRT := pricing.RateTable{RatePerArea: map[string]decimal.Decimal{"penthouse": d("15000")}}
	_, err := f.c.UpsertRateTable(ctx, broken.ID, &brokenRT)
	require.ErrorIs(t, err, pricing.ErrConfiguration)

	results, err := f.c.RecomputeAll(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, pricing.ErrConfiguration)
	assert.Len(t, results, 2)

	st, err := f.c.Status(ctx, f.scenario.ID)
	require.NoError(t, err)
	assert.False(t, st.Stale)

	st, err = f.c.Status(ctx, broken.ID)
	require.NoError(t, err)
	assert.True(t, st.Stale)
}

func TestCreateScenarioRejectsExistingID(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)

	moved := pricing.Scenario{ID: f.scenario.ID, Name: "Base", Development: "Other Dev"}
	err := f.c.CreateScenario(ctx, &moved)
	require.ErrorIs(t, err, pricing.ErrDataIntegrity)

	sc, err := f.c.Scenario(ctx, f.scenario.ID)
	require.NoError(t, err)
	assert.Equal(t, "Residencial Aurora", sc.Development)

	v := f.valuation(t, "u-1")
	assertMoney(t, "808500", v.InitialValue)
	st, err := f.c.Status(ctx, f.scenario.ID)
	require.NoError(t, err)
	assert.False(t, st.Stale)
}

func TestWritesBeforeRateTableSucceedWithNothingToValue(t *testing.T) {
	c, _ := newCoordinator(t)
	ctx := testContext(t)

	sc := pricing.Scenario{Name: "Base", Development: "Residencial Aurora"}
	require.NoError(t, c.CreateScenario(ctx, &sc))

	launch := pricing.Phase{ScenarioID: sc.ID, Order: 0, Name: "Launch", Readjustment: d("10")}
	res, err := c.UpsertPhase(ctx, &launch)
	require.NoError(t, err)
	assert.Zero(t, res.UpdatedCount)

	u := unitA101(sc.Development)
	results, err := c.UpsertUnit(ctx, &u)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Zero(t, results[0].UpdatedCount)

	presale := pricing.Phase{ScenarioID: sc.ID, Order: 1, Name: "Pre-sale", Readjustment: d("5")}
	_, err = c.UpsertPhase(ctx, &presale)
	require.NoError(t, err)
	_, err = c.DeletePhase(ctx, presale.ID)
	require.NoError(t, err)

	st, err := c.Status(ctx, sc.ID)
	require.NoError(t, err)
	assert.False(t, st.Stale)
	assert.Empty(t, st.LastError)

	vals, err := c.GetDetailedBreakdown(ctx, sc.ID, "")
	require.NoError(t, err)
	assert.Empty(t, vals)

	rt := rateTable()
	res, err = c.UpsertRateTable(ctx, sc.ID, &rt)
	require.NoError(t, err)
	assert.Equal(t, 1, res.UpdatedCount)

	vals, err = c.GetDetailedBreakdown(ctx, sc.ID, "u-1")
	require.NoError(t, err)
	require.Len(t, vals, 1)
	assertMoney(t, "770000", vals[0].InitialValue)
	require.Len(t, vals[0].PhaseValues, 1)
	assertMoney(t, "847000", vals[0].PhaseValues[0].Value)
}

// interleavingStore runs between once, right after the first unit read, to
// stand in for a write that lands between reading a unit and locking lanes.
type interleavingStore struct {
	store.Store
	fired   atomic.Bool
	between func()
}

func (s *interleavingStore) GetUnit(ctx context.Context, id string) (*pricing.Unit, error) {
	u, err := s.Store.GetUnit(ctx, id)
	if err == nil && s.between != nil && s.fired.CompareAndSwap(false, true) {
		s.between()
	}
	return u, err
}

func TestUnitMovedDuringWriteLeavesNoValuationBehind(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)

	interleaved := &interleavingStore{Store: f.store}
	c := New(interleaved, WithClock(func() time.Time { return fixedNow }), WithWorkers(2))

	tower := pricing.Scenario{Name: "Tower", Development: "Torre Sul"}
	require.NoError(t, c.CreateScenario(ctx, &tower))
	towerRT := rateTable()
	_, err := c.UpsertRateTable(ctx, tower.ID, &towerRT)
	require.NoError(t, err)

	park := pricing.Scenario{Name: "Park", Development: "Parque Norte"}
	require.NoError(t, c.CreateScenario(ctx, &park))
	parkRT := rateTable()
	_, err = c.UpsertRateTable(ctx, park.ID, &parkRT)
	require.NoError(t, err)

	interleaved.between = func() {
		toTower := unitA101(tower.Development)
		_, err := c.UpsertUnit(ctx, &toTower)
		require.NoError(t, err)
		vals, err := c.GetDetailedBreakdown(ctx, tower.ID, "u-1")
		require.NoError(t, err)
		require.Len(t, vals, 1)
	}

	toPark := unitA101(park.Development)
	_, err = c.UpsertUnit(ctx, &toPark)
	require.NoError(t, err)
	require.True(t, interleaved.fired.Load())

	for _, id := range []string{f.scenario.ID, tower.ID} {
		vals, err := c.GetDetailedBreakdown(ctx, id, "")
		require.NoError(t, err)
		assert.Empty(t, vals, "scenario %s still values the moved unit", id)
	}
	vals, err := c.GetDetailedBreakdown(ctx, park.ID, "u-1")
	require.NoError(t, err)
	assert.Len(t, vals, 1)
}
