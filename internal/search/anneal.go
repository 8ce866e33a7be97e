package search

import (
	"context"
	"math"
	"math/rand"
)

// Annealing schedule constants. The step scale is a fraction of each
// dimension's range and shrinks with the temperature.
const (
	saInitialTemp       = 1.0
	saCooling           = 0.97
	saMinTemp           = 1e-4
	saStepScale         = 0.25
	saStepsPerIteration = 10
)

// simulatedAnnealing performs a single-chain Metropolis search with geometric
// cooling. Worse moves are accepted with probability exp(-delta/T), which lets
// the chain cross the sentinel-cost plateaus around invalid montages.
type simulatedAnnealing struct {
	rng *rand.Rand
}

func newSimulatedAnnealing(seed int64) *simulatedAnnealing {
	return &simulatedAnnealing{rng: newRand(seed)}
}

func (sa *simulatedAnnealing) Minimize(ctx context.Context, objective Objective, bounds [][2]float64, maxIterations int) (*Point, error) {
	nDims := len(bounds)
	evals := 0

	current := make([]float64, nDims)
	for i := range current {
		current[i] = bounds[i][0] + sa.rng.Float64()*(bounds[i][1]-bounds[i][0])
	}
	currentVal, err := objective(current)
	if err != nil {
		return nil, err
	}
	evals++

	best := append([]float64(nil), current...)
	bestVal := currentVal

	temp := saInitialTemp
	for iter := 0; iter < maxIterations; iter++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		for step := 0; step < saStepsPerIteration; step++ {
			candidate := make([]float64, nDims)
			for i := range candidate {
				span := bounds[i][1] - bounds[i][0]
				candidate[i] = clampToBounds(
					current[i]+sa.rng.NormFloat64()*saStepScale*span*temp,
					bounds[i],
				)
			}

			v, err := objective(candidate)
			if err != nil {
				return nil, err
			}
			evals++

			delta := v - currentVal
			if delta <= 0 || sa.rng.Float64() < math.Exp(-delta/temp) {
				current = candidate
				currentVal = v
				if v < bestVal {
					best = append([]float64(nil), candidate...)
					bestVal = v
				}
			}
		}

		temp *= saCooling
		if temp < saMinTemp {
			temp = saMinTemp
		}
	}

	return &Point{X: best, Value: bestVal, Evaluations: evals}, nil
}
