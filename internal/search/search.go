// Package search finds the single best montage by global minimization of the
// intensity cost over a bounded 5-dimensional space: four electrode slots plus
// the current-ratio scalar, all optimized as continuous values and rounded at
// the end.
package search

import (
	"context"
	"math"

	"github.com/idossha/TI-Toolbox-sub001/internal/montage"
	"github.com/idossha/TI-Toolbox-sub001/internal/target"
)

// Objective is a black-box scalar function over a bounded point. It must be
// total over the search box; invalid candidates are expected to surface as
// large finite costs, not errors.
type Objective func(x []float64) (float64, error)

// Method selects one of the interchangeable global optimization strategies.
type Method string

const (
	DifferentialEvolution Method = "differential_evolution"
	SimulatedAnnealing    Method = "simulated_annealing"
	BasinHopping          Method = "basin_hopping"
)

// Strategy is the contract every global optimizer fulfils: minimize a
// black-box scalar function over bounded continuous variables, tolerate a
// discontinuous objective, and stop within the iteration budget. The context
// is advisory; strategies check it between iterations.
type Strategy interface {
	Minimize(ctx context.Context, objective Objective, bounds [][2]float64, maxIterations int) (*Point, error)
}

// Point is a strategy's winning location together with its evaluation count.
type Point struct {
	X           []float64
	Value       float64
	Evaluations int
}

// Options configures a single-objective run.
type Options struct {
	Target         target.Spec
	Method         Method
	MaxIterations  int
	PopulationSize int
	Seed           int64
	// Progress receives free-text status events tagged with a severity
	// level ("info", "warn", "error"). Nil disables reporting.
	Progress func(level, msg string)
}

// Run is the outcome of a single-objective search: the best montage found,
// its field strength, and bookkeeping about the search itself. Immutable once
// returned.
type Run struct {
	Electrodes    [4]int
	CurrentRatio  int
	Cost          float64
	FieldStrength float64
	Method        Method
	Evaluations   int
	Iterations    int
	Success       bool
}

// Runner owns an evaluator and dispatches to the selected strategy.
type Runner struct {
	evaluator *montage.Evaluator
}

// NewRunner creates a Runner over the given evaluator.
func NewRunner(ev *montage.Evaluator) *Runner {
	return &Runner{evaluator: ev}
}

// Run executes one single-objective search. Strategy failures propagate
// unwrapped intent: there is no retry here, since a failing run almost always
// means an invalid configuration that a retry would only mask.
func (r *Runner) Run(ctx context.Context, opts Options) (*Run, error) {
	if r.evaluator.ROI() == nil {
		if err := r.evaluator.SetTarget(opts.Target); err != nil {
			return nil, WrapError(err, "resolving target region").WithOp("run").WithComponent("search")
		}
	}

	emit(opts.Progress, "info", "starting single-objective search with method "+string(opts.Method))

	n := r.evaluator.NumElectrodes()
	bounds := make([][2]float64, 5)
	for i := range bounds {
		bounds[i] = [2]float64{0, float64(n - 1)}
	}

	strategy, err := newStrategy(opts)
	if err != nil {
		return nil, err
	}

	point, err := strategy.Minimize(ctx, r.evaluator.Evaluate, bounds, opts.MaxIterations)
	if err != nil {
		return nil, WrapError(err, "strategy failed").WithOp("minimize").WithComponent("search")
	}

	run := &Run{
		Cost:          point.Value,
		FieldStrength: 1 / point.Value,
		Method:        opts.Method,
		Evaluations:   point.Evaluations,
		Iterations:    opts.MaxIterations,
		Success:       true,
	}
	for i := 0; i < 4; i++ {
		run.Electrodes[i] = clampIndex(point.X[i], n)
	}
	run.CurrentRatio = clampIndex(point.X[4], n)

	emit(opts.Progress, "info", "single-objective search finished")
	return run, nil
}

// newStrategy maps a Method to its implementation.
func newStrategy(opts Options) (Strategy, error) {
	switch opts.Method {
	case DifferentialEvolution, "":
		return newDifferentialEvolution(opts.PopulationSize, opts.Seed), nil
	case SimulatedAnnealing:
		return newSimulatedAnnealing(opts.Seed), nil
	case BasinHopping:
		return newBasinHopping(opts.Seed), nil
	default:
		return nil, NewErrorf("unknown method %q", opts.Method).WithOp("new_strategy").WithComponent("search")
	}
}

// clampIndex rounds a continuous slot value to the nearest valid index.
func clampIndex(x float64, numElectrodes int) int {
	i := int(math.Round(x))
	if i < 0 {
		return 0
	}
	if i > numElectrodes-1 {
		return numElectrodes - 1
	}
	return i
}

func emit(progress func(level, msg string), level, msg string) {
	if progress != nil {
		progress(level, msg)
	}
}
