package ppalgo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeCoercesNaNAndInf(t *testing.T) {
	assert.Equal(t, 0.0, Sanitize(math.NaN()))
	assert.Equal(t, 0.0, Sanitize(math.Inf(1)))
	assert.Equal(t, 0.0, Sanitize(math.Inf(-1)))
	assert.Equal(t, 123.46, Sanitize(123.456))
}

func TestRound2(t *testing.T) {
	assert.Equal(t, 123.46, Round2(123.4560))
	assert.Equal(t, 0.0, Round2(0))
}

func TestIsRelaxOsu(t *testing.T) {
	assert.True(t, IsRelaxOsu(0, 1<<7))
	assert.False(t, IsRelaxOsu(1, 1<<7)) // taiko, not osu
	assert.False(t, IsRelaxOsu(0, 0))    // no relax bit
}

func TestRegistryResolvesRelaxFirst(t *testing.T) {
	reg := DefaultRegistry()
	relaxBeatmap := []byte("mock beatmap bytes for relax selection test")
	in := ScoreInputs{Mode: 0, MaxCombo: 500, Accuracy: 0.98, Count300: 480, Count100: 10, Count50: 2, CountMiss: 1}

	relaxVariant := reg.Resolve(10, 0, 1<<7)
	directVariant := reg.Resolve(10, 0, 0)

	relaxResult, err := relaxVariant.Calculate(relaxBeatmap, in)
	assert.NoError(t, err)
	directResult, err := directVariant.Calculate(relaxBeatmap, in)
	assert.NoError(t, err)

	// relax selection wins over rework_id 10's own conceptual variant;
	// the two curves are tuned differently so their output differs.
	assert.NotEqual(t, relaxResult.PP, directResult.PP)
}

func TestRegistryFallsBackForUnknownRework(t *testing.T) {
	reg := DefaultRegistry()
	v := reg.Resolve(999, 0, 0)
	assert.NotNil(t, v)
}

func TestAggregateNewPPSingleScoreBoundary(t *testing.T) {
	// spec boundary case: pp=1000, score_count=1 -> round(1000 + 416.6667*(1-0.995)) = 1002
	got := AggregateNewPP([]float64{1000}, 1)
	assert.Equal(t, int32(1002), got)
}

func TestAggregateNewPPEmptyTop100(t *testing.T) {
	got := AggregateNewPP(nil, 0)
	assert.Equal(t, int32(0), got)
}

func TestAggregateNewPPOrdersDescendingBeforeWeighting(t *testing.T) {
	ascending := AggregateNewPP([]float64{10, 100, 50}, 3)
	descendingInput := AggregateNewPP([]float64{100, 50, 10}, 3)
	assert.Equal(t, descendingInput, ascending)
}

func TestBaseCurveCalculateRejectsEmptyBeatmap(t *testing.T) {
	curve := Conceptual()
	_, err := curve.Calculate(nil, ScoreInputs{})
	assert.Error(t, err)
}

func TestBaseCurveCalculateProducesFiniteNonNegativeResult(t *testing.T) {
	curve := Conceptual()
	res, err := curve.Calculate([]byte("osu file format v14\n...mock beatmap bytes..."), ScoreInputs{
		Mode: 0, MaxCombo: 500, Accuracy: 0.98, Count300: 480, Count100: 10, Count50: 2, CountMiss: 1,
	})
	assert.NoError(t, err)
	assert.False(t, math.IsNaN(res.PP))
	assert.False(t, math.IsInf(res.PP, 0))
	assert.GreaterOrEqual(t, res.PP, 0.0)
	assert.GreaterOrEqual(t, res.Stars, 0.0)
}
