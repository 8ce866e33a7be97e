package search

import (
	"context"
	"math/rand"
	"time"
)

// Differential evolution constants: DE/rand/1 with binomial crossover.
const (
	deMutationFactor = 0.7
	deCrossoverRate  = 0.9
	deDefaultPopSize = 20
)

// differentialEvolution is a population-based global optimizer. Candidates
// evolve by recombining three random population members; the discontinuities
// introduced by the sentinel cost are harmless because only value comparisons
// are used.
type differentialEvolution struct {
	popSize int
	rng     *rand.Rand
}

func newDifferentialEvolution(popSize int, seed int64) *differentialEvolution {
	if popSize < 4 {
		popSize = deDefaultPopSize
	}
	return &differentialEvolution{
		popSize: popSize,
		rng:     newRand(seed),
	}
}

func (de *differentialEvolution) Minimize(ctx context.Context, objective Objective, bounds [][2]float64, maxIterations int) (*Point, error) {
	nDims := len(bounds)
	evals := 0

	// Stratified initial sampling spreads the population across the box.
	population := latinHypercubeSample(de.rng, bounds, de.popSize)
	values := make([]float64, de.popSize)
	for i, x := range population {
		v, err := objective(x)
		if err != nil {
			return nil, err
		}
		evals++
		values[i] = v
	}

	bestIdx := 0
	for i := 1; i < de.popSize; i++ {
		if values[i] < values[bestIdx] {
			bestIdx = i
		}
	}

	for gen := 0; gen < maxIterations; gen++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		for i := 0; i < de.popSize; i++ {
			// Three distinct members, all different from i.
			a, b, c := i, i, i
			for a == i {
				a = de.rng.Intn(de.popSize)
			}
			for b == i || b == a {
				b = de.rng.Intn(de.popSize)
			}
			for c == i || c == a || c == b {
				c = de.rng.Intn(de.popSize)
			}

			trial := make([]float64, nDims)
			jrand := de.rng.Intn(nDims) // at least one mutant dimension
			for j := 0; j < nDims; j++ {
				if de.rng.Float64() < deCrossoverRate || j == jrand {
					trial[j] = population[a][j] + deMutationFactor*(population[b][j]-population[c][j])
				} else {
					trial[j] = population[i][j]
				}
				trial[j] = clampToBounds(trial[j], bounds[j])
			}

			v, err := objective(trial)
			if err != nil {
				return nil, err
			}
			evals++

			if v <= values[i] {
				population[i] = trial
				values[i] = v
				if v < values[bestIdx] {
					bestIdx = i
				}
			}
		}
	}

	return &Point{
		X:           append([]float64(nil), population[bestIdx]...),
		Value:       values[bestIdx],
		Evaluations: evals,
	}, nil
}

// latinHypercubeSample generates n points with one sample per stratum in each
// dimension.
func latinHypercubeSample(rng *rand.Rand, bounds [][2]float64, n int) [][]float64 {
	nDims := len(bounds)
	samples := make([][]float64, n)
	for j := range samples {
		samples[j] = make([]float64, nDims)
	}

	for i := 0; i < nDims; i++ {
		samples1D := make([]float64, n)
		for j := 0; j < n; j++ {
			samples1D[j] = (float64(j) + rng.Float64()) / float64(n)
		}
		rng.Shuffle(n, func(k, l int) {
			samples1D[k], samples1D[l] = samples1D[l], samples1D[k]
		})

		lo, hi := bounds[i][0], bounds[i][1]
		for j := 0; j < n; j++ {
			samples[j][i] = lo + samples1D[j]*(hi-lo)
		}
	}
	return samples
}

func clampToBounds(v float64, bound [2]float64) float64 {
	if v < bound[0] {
		return bound[0]
	}
	if v > bound[1] {
		return bound[1]
	}
	return v
}

func newRand(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}
