package pareto

import (
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Stats aggregates the valid solutions of one generation run. Best* fields
// index into the slice passed to Summarize, not SolutionIndex values.
type Stats struct {
	Count int

	IntensityMin  float64
	IntensityMax  float64
	IntensityMean float64

	FocalityMin  float64
	FocalityMax  float64
	FocalityMean float64

	ElapsedMin  time.Duration
	ElapsedMax  time.Duration
	ElapsedMean time.Duration

	ImprovementsMin  int
	ImprovementsMax  int
	ImprovementsMean float64

	// BestIntensity has the strongest target field, BestFocality the lowest
	// off-target exposure, and BestRatio the largest intensity/focality
	// quotient.
	BestIntensity int
	BestFocality  int
	BestRatio     int
}

// Summarize computes aggregate statistics over valid solutions. Solutions
// tagged as worker failures must be filtered out before calling.
func Summarize(solutions []Solution) *Stats {
	if len(solutions) == 0 {
		return nil
	}

	n := len(solutions)
	intensity := make([]float64, n)
	focality := make([]float64, n)
	elapsed := make([]float64, n)
	improvements := make([]float64, n)
	for i, sol := range solutions {
		intensity[i] = sol.IntensityField
		focality[i] = sol.Focality
		elapsed[i] = sol.Elapsed.Seconds()
		improvements[i] = float64(sol.Improvements)
	}

	s := &Stats{
		Count: n,

		IntensityMin:  floats.Min(intensity),
		IntensityMax:  floats.Max(intensity),
		IntensityMean: stat.Mean(intensity, nil),

		FocalityMin:  floats.Min(focality),
		FocalityMax:  floats.Max(focality),
		FocalityMean: stat.Mean(focality, nil),

		ElapsedMin:  secondsToDuration(floats.Min(elapsed)),
		ElapsedMax:  secondsToDuration(floats.Max(elapsed)),
		ElapsedMean: secondsToDuration(stat.Mean(elapsed, nil)),

		ImprovementsMin:  int(floats.Min(improvements)),
		ImprovementsMax:  int(floats.Max(improvements)),
		ImprovementsMean: stat.Mean(improvements, nil),
	}

	s.BestIntensity = floats.MaxIdx(intensity)
	s.BestFocality = floats.MinIdx(focality)

	bestRatio := 0
	for i := 1; i < n; i++ {
		if ratio(solutions[i]) > ratio(solutions[bestRatio]) {
			bestRatio = i
		}
	}
	s.BestRatio = bestRatio

	return s
}

// ratio is the intensity/focality quotient used to pick a balanced solution.
func ratio(sol Solution) float64 {
	if sol.Focality == 0 {
		return 0
	}
	return sol.IntensityField / sol.Focality
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
