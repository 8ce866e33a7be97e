package pareto

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idossha/TI-Toolbox-sub001/internal/leadfield"
	"github.com/idossha/TI-Toolbox-sub001/internal/montage"
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

func testSearch(t *testing.T) *Search {
	t.Helper()
	ev := montage.NewEvaluator(lineModel(t, 8, 100))
	require.NoError(t, ev.SetTarget(target.Spec{Coord: [3]float64{50, 0, 0}, Radius: 2}))
	s := NewSearch(ev)
	s.Seed = 42
	return s
}

func TestGenerateSerial(t *testing.T) {
	s := testSearch(t)

	sols, stats, err := s.Generate(context.Background(), 4, 50, 1)
	require.NoError(t, err)
	require.Len(t, sols, 4)
	require.NotNil(t, stats)
	assert.Equal(t, 4, stats.Count)

	for _, sol := range sols {
		seen := make(map[int]bool)
		for _, e := range sol.Electrodes {
			assert.GreaterOrEqual(t, e, 0)
			assert.LessOrEqual(t, e, 7)
			seen[e] = true
		}
		assert.Len(t, seen, 4, "montage electrodes must be distinct")
		assert.Greater(t, sol.IntensityField, 0.0)
		assert.Greater(t, sol.Focality, 0.0)
		assert.Greater(t, sol.Improvements, 0)
	}
}

func TestGenerateParallel(t *testing.T) {
	s := testSearch(t)
	s.PollInterval = 10 * time.Millisecond

	sols, stats, err := s.Generate(context.Background(), 6, 30, 3)
	require.NoError(t, err)
	require.Len(t, sols, 6)
	require.NotNil(t, stats)

	// Every submitted task must be accounted for exactly once.
	seen := make(map[int]bool)
	for _, sol := range sols {
		assert.False(t, seen[sol.SolutionIndex])
		seen[sol.SolutionIndex] = true
	}
}

func TestGenerateSeedDeterminism(t *testing.T) {
	first, _, err := testSearch(t).Generate(context.Background(), 3, 40, 1)
	require.NoError(t, err)
	second, _, err := testSearch(t).Generate(context.Background(), 3, 40, 1)
	require.NoError(t, err)

	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].Electrodes, second[i].Electrodes)
		assert.Equal(t, first[i].CurrentRatio, second[i].CurrentRatio)
		assert.Equal(t, first[i].IntensityField, second[i].IntensityField)
	}
}

func TestGenerateTargetNotSet(t *testing.T) {
	s := NewSearch(montage.NewEvaluator(lineModel(t, 8, 100)))

	_, _, err := s.Generate(context.Background(), 2, 10, 1)
	assert.ErrorIs(t, err, montage.ErrTargetNotSet)
}

func TestGenerateBadSolutionCount(t *testing.T) {
	s := testSearch(t)

	_, _, err := s.Generate(context.Background(), 0, 10, 1)
	require.Error(t, err)
}

func TestGenerateHealthCheckFailure(t *testing.T) {
	s := testSearch(t)
	s.probe = func() error { return errors.New("worker init broken") }

	start := time.Now()
	_, _, err := s.Generate(context.Background(), 4, 1000, 2)
	assert.ErrorIs(t, err, ErrHealthCheck)
	// A broken pool must fail fast instead of burning the timeout budget.
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestGenerateTimeout(t *testing.T) {
	s := testSearch(t)
	s.TimeoutFloor = 50 * time.Millisecond
	s.TimeoutCeiling = 100 * time.Millisecond
	s.PollInterval = 10 * time.Millisecond
	s.CollectTimeout = 500 * time.Millisecond
	s.eval = func(x []float64) (float64, float64, error) {
		time.Sleep(30 * time.Millisecond)
		return 1, 1, nil
	}

	start := time.Now()
	sols, stats, err := s.Generate(context.Background(), 4, 100000, 2)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Nil(t, sols)
	assert.Nil(t, stats)
	assert.Less(t, time.Since(start), 5*time.Second,
		"a timed-out run must return promptly after the budget expires")
}

func TestGenerateCancelledParallel(t *testing.T) {
	s := testSearch(t)
	s.PollInterval = 10 * time.Millisecond
	s.eval = func(x []float64) (float64, float64, error) {
		time.Sleep(20 * time.Millisecond)
		return 1, 1, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	_, _, err := s.Generate(ctx, 4, 100000, 2)
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestGenerateCancelledSerial(t *testing.T) {
	s := testSearch(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := s.Generate(ctx, 2, 100, 1)
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestGenerateNoValidSolutions(t *testing.T) {
	s := testSearch(t)
	s.eval = func(x []float64) (float64, float64, error) {
		return 0, 0, errors.New("evaluation broken")
	}

	sols, stats, err := s.Generate(context.Background(), 3, 10, 1)
	require.NoError(t, err)
	assert.Empty(t, sols)
	assert.NotNil(t, sols, "a failed generation still returns an empty slice")
	assert.Nil(t, stats)
}

func TestTimeoutBudgetClamping(t *testing.T) {
	s := testSearch(t)
	s.TimeoutFloor = time.Minute
	s.TimeoutCeiling = time.Hour

	// 100 voxels at the default rate is far below the floor.
	assert.Equal(t, time.Minute, s.timeoutBudget(10, 100, 4))

	// An absurd per-evaluation estimate hits the ceiling.
	s.EvalSecondsPer10kVoxels = 1e9
	assert.Equal(t, time.Hour, s.timeoutBudget(10, 100, 4))
}

func TestSampleDistinct(t *testing.T) {
	rng := newRand(9)
	for i := 0; i < 100; i++ {
		picks := sampleDistinct(rng, 4, 8)
		require.Len(t, picks, 4)
		seen := make(map[int]bool)
		for _, p := range picks {
			assert.GreaterOrEqual(t, p, 0)
			assert.Less(t, p, 8)
			assert.False(t, seen[p])
			seen[p] = true
		}
	}
}

func TestSummarize(t *testing.T) {
	assert.Nil(t, Summarize(nil))

	sols := []Solution{
		{IntensityField: 0.2, Focality: 0.10, Improvements: 3, Elapsed: time.Second, SolutionIndex: 0},
		{IntensityField: 0.5, Focality: 0.25, Improvements: 7, Elapsed: 3 * time.Second, SolutionIndex: 1},
		{IntensityField: 0.3, Focality: 0.05, Improvements: 5, Elapsed: 2 * time.Second, SolutionIndex: 2},
	}

	stats := Summarize(sols)
	require.NotNil(t, stats)
	assert.Equal(t, 3, stats.Count)

	assert.Equal(t, 0.2, stats.IntensityMin)
	assert.Equal(t, 0.5, stats.IntensityMax)
	assert.InDelta(t, 1.0/3.0, stats.IntensityMean, 1e-12)

	assert.Equal(t, 0.05, stats.FocalityMin)
	assert.Equal(t, 0.25, stats.FocalityMax)

	assert.Equal(t, time.Second, stats.ElapsedMin)
	assert.Equal(t, 3*time.Second, stats.ElapsedMax)
	assert.Equal(t, 2*time.Second, stats.ElapsedMean)

	assert.Equal(t, 3, stats.ImprovementsMin)
	assert.Equal(t, 7, stats.ImprovementsMax)
	assert.Equal(t, 5.0, stats.ImprovementsMean)

	assert.Equal(t, 1, stats.BestIntensity)
	assert.Equal(t, 2, stats.BestFocality)
	// 0.3/0.05 = 6 beats 2 and 2.
	assert.Equal(t, 2, stats.BestRatio)
}
