package pricing

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func threePhases() []Phase {
	return []Phase{
		{ID: "p-a", Order: 0, Name: "Launch", Readjustment: dec("10")},
		{ID: "p-b", Order: 1, Name: "Pre-sale", Readjustment: dec("5")},
		{ID: "p-c", Order: 2, Name: "Stock", Readjustment: dec("0")},
	}
}

func TestComputePhaseValues_CompoundsSequentially(t *testing.T) {
	values := ComputePhaseValues(dec("808500"), threePhases()[:2])

	require.Len(t, values, 2)
	assert.True(t, values[0].Value.Equal(dec("889350")), "phase0 = %s", values[0].Value)
	assert.True(t, values[1].Value.Equal(dec("933817.5")), "phase1 = %s", values[1].Value)
}

func TestComputePhaseValues_HoldsRecurrenceForEveryPhase(t *testing.T) {
	phases := []Phase{
		{ID: "p-1", Order: 3, Name: "d", Readjustment: dec("-7.25")},
		{ID: "p-2", Order: 0, Name: "a", Readjustment: dec("2.5")},
		{ID: "p-3", Order: 1, Name: "b", Readjustment: dec("0")},
		{ID: "p-4", Order: 2, Name: "c", Readjustment: dec("13.3")},
	}
	initial := dec("123456.78")

	values := ComputePhaseValues(initial, phases)

	require.Len(t, values, 4)
	one := decimal.NewFromInt(1)
	prev := initial
	for i, pv := range values {
		assert.Equal(t, i, pv.Order)
		want := prev.Mul(one.Add(pv.Readjustment.Div(decimal.NewFromInt(100))))
		assert.True(t, pv.Value.Equal(want), "phase %d = %s, want %s", i, pv.Value, want)
		prev = pv.Value
	}
	assert.True(t, values[1].Value.Equal(values[0].Value), "a zero readjustment carries its predecessor unchanged")
}

func TestComputePhaseValues_EmptyLadder(t *testing.T) {
	assert.Empty(t, ComputePhaseValues(dec("1000"), nil))
}

func TestRechainPhaseValues_DeletingFirstPhaseRechainsFromInitial(t *testing.T) {
	initial := dec("1000")
	prior := ComputePhaseValues(initial, threePhases())

	remaining := threePhases()[1:]
	remaining[0].Order = 0
	remaining[1].Order = 1

	values := RechainPhaseValues(initial, prior, remaining)

	require.Len(t, values, 2)
	assert.Equal(t, "p-b", values[0].PhaseID)
	assert.True(t, values[0].Value.Equal(dec("1050")), "got %s", values[0].Value)
	assert.False(t, values[0].Value.Equal(prior[1].Value), "phase value must change after its predecessor is removed")
	assert.True(t, values[1].Value.Equal(dec("1050")))
}

func TestRechainPhaseValues_InsertInMiddleShiftsTail(t *testing.T) {
	initial := dec("1000")
	phases := []Phase{
		{ID: "p-a", Order: 0, Name: "a", Readjustment: dec("10")},
		{ID: "p-c", Order: 20, Name: "c", Readjustment: dec("10")},
	}
	prior := ComputePhaseValues(initial, phases)

	phases = append(phases, Phase{ID: "p-b", Order: 10, Name: "b", Readjustment: dec("10")})
	values := RechainPhaseValues(initial, prior, phases)

	require.Len(t, values, 3)
	assert.Equal(t, []string{"p-a", "p-b", "p-c"}, []string{values[0].PhaseID, values[1].PhaseID, values[2].PhaseID})
	assert.True(t, values[0].Value.Equal(prior[0].Value))
	assert.True(t, values[2].Value.Equal(dec("1331")), "got %s", values[2].Value)
	assert.Equal(t, 1, FirstDivergence(prior, phases))
}

func TestRechainPhaseValues_MatchesFullComputation(t *testing.T) {
	initial := dec("555555.55")
	prior := ComputePhaseValues(initial, threePhases())

	updated := threePhases()
	updated[1].Readjustment = dec("7.5")

	assert.Equal(t, ComputePhaseValues(initial, updated), RechainPhaseValues(initial, prior, updated))
	assert.Equal(t, 1, FirstDivergence(prior, updated))
	assert.Equal(t, 3, FirstDivergence(ComputePhaseValues(initial, updated), updated))
}

func TestValidateLadder_RejectsOrderCollision(t *testing.T) {
	phases := threePhases()
	phases[2].Order = 1

	err := ValidateLadder(phases)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfiguration))
}

func TestValidateLadder_RejectsReadjustmentBelowMinusHundred(t *testing.T) {
	phases := threePhases()
	phases[0].Readjustment = dec("-100.01")

	assert.ErrorIs(t, ValidateLadder(phases), ErrInvalidInput)
}
