package montage

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idossha/TI-Toolbox-sub001/internal/leadfield"
	"github.com/idossha/TI-Toolbox-sub001/internal/target"
)

// lineModel builds a leadfield with voxels on the x axis and per-electrode
// field directions spread around the unit circle.
func lineModel(t *testing.T, nElectrodes, nVoxels int) *leadfield.Model {
	t.Helper()

	fieldData := make([]float64, nElectrodes*nVoxels*3)
	positions := make([]float64, nVoxels*3)
	for v := 0; v < nVoxels; v++ {
		positions[v*3] = float64(v)
	}
	for e := 0; e < nElectrodes; e++ {
		angle := 2 * math.Pi * float64(e) / float64(nElectrodes)
		anchor := float64(e) * float64(nVoxels) / float64(nElectrodes)
		for v := 0; v < nVoxels; v++ {
			g := 1000.0 / (1.0 + math.Abs(float64(v)-anchor))
			i := (e*nVoxels + v) * 3
			fieldData[i] = g * math.Cos(angle)
			fieldData[i+1] = g * math.Sin(angle)
			fieldData[i+2] = 0.1 * g
		}
	}

	m, err := leadfield.New(nElectrodes, nVoxels, fieldData, positions)
	require.NoError(t, err)
	return m
}

func testEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	ev := NewEvaluator(lineModel(t, 8, 100))
	require.NoError(t, ev.SetTarget(target.Spec{Coord: [3]float64{50, 0, 0}, Radius: 2}))
	return ev
}

func TestEvaluateBeforeSetTarget(t *testing.T) {
	ev := NewEvaluator(lineModel(t, 8, 100))

	_, err := ev.Evaluate([]float64{0, 1, 2, 3, 0})
	assert.ErrorIs(t, err, ErrTargetNotSet)

	_, _, err = ev.EvaluateDual([]float64{0, 1, 2, 3, 0})
	assert.ErrorIs(t, err, ErrTargetNotSet)
}

func TestSetTargetIdempotent(t *testing.T) {
	ev := NewEvaluator(lineModel(t, 8, 100))
	spec := target.Spec{Coord: [3]float64{50, 0, 0}, Radius: 2}

	require.NoError(t, ev.SetTarget(spec))
	first := append([]int(nil), ev.ROI()...)
	require.NoError(t, ev.SetTarget(spec))

	assert.Equal(t, first, ev.ROI())
	assert.Equal(t, []int{48, 49, 50, 51, 52}, ev.ROI())
}

func TestSetTargetEmptyROI(t *testing.T) {
	ev := NewEvaluator(lineModel(t, 8, 100))

	err := ev.SetTarget(target.Spec{Coord: [3]float64{1000, 0, 0}, Radius: 1})
	var emptyErr *target.ErrEmptyROI
	require.ErrorAs(t, err, &emptyErr)
}

func TestEvaluateInvalidMontage(t *testing.T) {
	ev := testEvaluator(t)

	tests := []struct {
		name string
		x    []float64
	}{
		{"duplicate index", []float64{0, 0, 1, 2, 0}},
		{"duplicate after rounding", []float64{0.4, 0.3, 1, 2, 3}},
		{"out of range", []float64{0, 1, 2, 20, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, ratio := range []float64{0, 2, 7.5} {
				x := append([]float64(nil), tt.x...)
				x[4] = ratio

				cost, err := ev.Evaluate(x)
				require.NoError(t, err)
				assert.Equal(t, SentinelCost, cost)

				intensity, focality, err := ev.EvaluateDual(x)
				require.NoError(t, err)
				assert.Equal(t, SentinelCost, intensity)
				assert.Equal(t, SentinelCost, focality)
			}
		})
	}
}

func TestEvaluateValidMontage(t *testing.T) {
	ev := testEvaluator(t)

	cost, err := ev.Evaluate([]float64{0, 4, 2, 6, 1})
	require.NoError(t, err)
	assert.Greater(t, cost, 0.0)
	assert.Less(t, cost, SentinelCost)
	assert.False(t, math.IsInf(cost, 0))
}

func TestEvaluateDualConsistency(t *testing.T) {
	ev := testEvaluator(t)
	x := []float64{0, 4, 2, 6, 1}

	single, err := ev.Evaluate(x)
	require.NoError(t, err)

	intensity, focality, err := ev.EvaluateDual(x)
	require.NoError(t, err)

	// The ROI-restricted and whole-volume computations must agree on the
	// intensity cost.
	assert.InDelta(t, single, intensity, 1e-9)
	assert.Greater(t, focality, 0.0)
}

func TestEvaluateRoundsElectrodes(t *testing.T) {
	ev := testEvaluator(t)

	exact, err := ev.Evaluate([]float64{0, 4, 2, 6, 1})
	require.NoError(t, err)

	rounded, err := ev.Evaluate([]float64{0.2, 3.7, 2.4, 5.6, 1})
	require.NoError(t, err)

	assert.InDelta(t, exact, rounded, 1e-12)
}

func TestCurrentRatioSteersSplit(t *testing.T) {
	ev := testEvaluator(t)

	base, err := ev.Evaluate([]float64{0, 4, 2, 6, 0})
	require.NoError(t, err)
	steered, err := ev.Evaluate([]float64{0, 4, 2, 6, 4})
	require.NoError(t, err)

	// Ratio changes the current split, so the cost must respond.
	assert.NotEqual(t, base, steered)
}
