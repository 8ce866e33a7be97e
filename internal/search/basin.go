package search

import (
	"context"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/optimize"
)

// Basin hopping constants: each hop is a derivative-free local search
// followed by a random kick away from the best point.
const (
	bhKickScale       = 0.2
	bhLocalIterations = 100
	bhMinHops         = 3
	bhHopsDivisor     = 5
)

// basinHopping wraps a Nelder-Mead local search in random restarts. The local
// method is derivative-free, which the discontinuous objective requires.
type basinHopping struct {
	rng *rand.Rand
}

func newBasinHopping(seed int64) *basinHopping {
	return &basinHopping{rng: newRand(seed)}
}

func (bh *basinHopping) Minimize(ctx context.Context, objective Objective, bounds [][2]float64, maxIterations int) (*Point, error) {
	nDims := len(bounds)
	evals := 0
	var objErr error

	// gonum's Problem.Func cannot return an error, so the wrapper clamps to
	// bounds, records the first failure, and poisons the value with +Inf to
	// stop the local search from walking further.
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			for i := range x {
				x[i] = clampToBounds(x[i], bounds[i])
			}
			v, err := objective(x)
			evals++
			if err != nil {
				if objErr == nil {
					objErr = err
				}
				return math.Inf(1)
			}
			return v
		},
	}

	settings := &optimize.Settings{
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-6,
			Relative:   1e-6,
			Iterations: bhLocalIterations,
		},
	}

	nHops := maxIterations / bhHopsDivisor
	if nHops < bhMinHops {
		nHops = bhMinHops
	}

	current := make([]float64, nDims)
	for i := range current {
		current[i] = bounds[i][0] + bh.rng.Float64()*(bounds[i][1]-bounds[i][0])
	}

	var best []float64
	bestVal := math.Inf(1)

	for hop := 0; hop < nHops; hop++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		method := &optimize.NelderMead{
			Reflection:  1.0,
			Expansion:   2.0,
			Contraction: 0.5,
			Shrink:      0.5,
			SimplexSize: 0.2,
		}

		result, err := optimize.Minimize(problem, append([]float64(nil), current...), settings, method)
		if objErr != nil {
			return nil, objErr
		}
		if err == nil && result.F < bestVal {
			bestVal = result.F
			best = append([]float64(nil), result.X...)
			for i := range best {
				best[i] = clampToBounds(best[i], bounds[i])
			}
		}

		// Kick away from the best basin for the next hop.
		from := current
		if best != nil {
			from = best
		}
		for i := range current {
			span := bounds[i][1] - bounds[i][0]
			current[i] = clampToBounds(from[i]+bh.rng.NormFloat64()*bhKickScale*span, bounds[i])
		}
	}

	if best == nil {
		return nil, NewErrorf("no local search converged after %d hops", nHops).
			WithOp("minimize").WithComponent("basin_hopping")
	}
	return &Point{X: best, Value: bestVal, Evaluations: evals}, nil
}
