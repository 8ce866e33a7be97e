// Package pareto approximates the intensity-versus-focality trade-off surface
// by running many independent randomized searches in parallel. Each task is a
// random-restart local search over montages; tasks share the read-only
// leadfield and never communicate with each other. The coordinator owns
// dispatch, health checking, timeout budgeting, progress reporting, and
// teardown.
package pareto

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"time"

	"github.com/idossha/TI-Toolbox-sub001/internal/montage"
)

// Failure reasons surfaced to the caller. Timed out, worker-broken, and
// user-cancelled runs are distinct conditions and must stay distinguishable.
var (
	ErrTimeout     = errors.New("pareto: generation timed out, in-flight work discarded")
	ErrCancelled   = errors.New("pareto: generation cancelled")
	ErrHealthCheck = errors.New("pareto: worker pool failed health check")
)

// Timing defaults. The per-evaluation estimate is a calibration constant tied
// to this implementation's measured throughput; re-measure it rather than
// trusting it across machines.
const (
	defaultEvalSecondsPer10k = 0.05
	timeoutSafetyFactor      = 3.0
	defaultTimeoutFloor      = 30 * time.Minute
	defaultTimeoutCeiling    = 4 * time.Hour
	defaultHealthTimeout     = 10 * time.Second
	defaultPollInterval      = 2 * time.Second
	defaultProgressInterval  = 10 * time.Second
	defaultCollectTimeout    = 30 * time.Second
)

// Solution is one point on the approximated Pareto front, produced by exactly
// one task and never mutated after creation.
type Solution struct {
	Electrodes     [4]int
	CurrentRatio   int
	IntensityField float64 // mean ROI envelope, V/m
	Focality       float64 // mean whole-brain envelope, V/m
	Improvements   int
	Elapsed        time.Duration
	SolutionIndex  int
}

// DualObjective scores a 5-dimensional search point on both objectives.
type DualObjective func(x []float64) (intensityCost, focality float64, err error)

// Search coordinates multi-solution generation. The timing fields default to
// the constants above; tests shrink them to keep runtimes bounded.
type Search struct {
	// Progress receives free-text status events tagged with a severity
	// level ("info", "warn", "error"). Nil disables reporting.
	Progress func(level, msg string)
	// Seed fixes the random stream; zero means time-seeded.
	Seed int64

	EvalSecondsPer10kVoxels float64
	TimeoutFloor            time.Duration
	TimeoutCeiling          time.Duration
	HealthTimeout           time.Duration
	PollInterval            time.Duration
	ProgressInterval        time.Duration
	CollectTimeout          time.Duration

	evaluator *montage.Evaluator
	eval      DualObjective // task objective, replaceable in tests
	probe     func() error  // health-check round trip, replaceable in tests
}

// NewSearch creates a Search over the given evaluator. The evaluator's target
// must be set before Generate is called.
func NewSearch(ev *montage.Evaluator) *Search {
	return &Search{
		EvalSecondsPer10kVoxels: defaultEvalSecondsPer10k,
		TimeoutFloor:            defaultTimeoutFloor,
		TimeoutCeiling:          defaultTimeoutCeiling,
		HealthTimeout:           defaultHealthTimeout,
		PollInterval:            defaultPollInterval,
		ProgressInterval:        defaultProgressInterval,
		CollectTimeout:          defaultCollectTimeout,

		evaluator: ev,
		eval:      ev.EvaluateDual,
		probe:     func() error { return nil },
	}
}

// Generate runs nSolutions independent tasks of maxIterPerSolution random
// montage evaluations each and returns the valid solutions with their
// aggregate statistics. nCores <= 0 means all available cores minus one. A
// timed-out or cancelled run returns no solutions: partial results from a
// torn-down pool are not trustworthy Pareto points.
func (s *Search) Generate(ctx context.Context, nSolutions, maxIterPerSolution, nCores int) ([]Solution, *Stats, error) {
	if nSolutions < 1 {
		return nil, nil, fmt.Errorf("pareto: nSolutions must be positive, got %d", nSolutions)
	}
	if s.evaluator.ROI() == nil {
		return nil, nil, montage.ErrTargetNotSet
	}

	if nCores <= 0 {
		nCores = runtime.NumCPU() - 1
		if nCores < 1 {
			nCores = 1
		}
	}

	// Pool setup overhead is not worth it for trivial workloads.
	if nCores <= 1 || nSolutions <= 1 {
		return s.generateSerial(ctx, nSolutions, maxIterPerSolution)
	}
	return s.generateParallel(ctx, nSolutions, maxIterPerSolution, nCores)
}

// generateSerial runs all tasks inline on the calling goroutine.
func (s *Search) generateSerial(ctx context.Context, nSolutions, maxIter int) ([]Solution, *Stats, error) {
	s.emit("info", fmt.Sprintf("generating %d solutions serially", nSolutions))

	rng := newRand(s.Seed)
	var valid []Solution
	failures := 0
	for i := 0; i < nSolutions; i++ {
		sol, err := s.runTask(ctx, i, maxIter, rand.New(rand.NewSource(rng.Int63())))
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, nil, ErrCancelled
			}
			failures++
			s.emit("warn", fmt.Sprintf("solution %d failed: %v", i, err))
			continue
		}
		valid = append(valid, sol)
	}

	return s.finish(valid, failures)
}

// generateParallel dispatches tasks to a worker pool and monitors completion
// against the timeout budget.
func (s *Search) generateParallel(ctx context.Context, nSolutions, maxIter, nCores int) ([]Solution, *Stats, error) {
	budget := s.timeoutBudget(nSolutions, maxIter, nCores)
	s.emit("info", fmt.Sprintf("generating %d solutions on %d workers, timeout budget %s",
		nSolutions, nCores, budget))

	pool := newWorkerPool(ctx, nCores, nSolutions+1)
	// Teardown runs on every exit path: success, timeout, error, cancellation.
	defer pool.terminate(s.CollectTimeout)

	// A broken pool should fail fast, not burn the timeout budget.
	if err := s.healthCheck(pool); err != nil {
		s.emit("error", fmt.Sprintf("aborting: %v", err))
		return nil, nil, err
	}

	rng := newRand(s.Seed)
	results := make(chan taskOutcome, nSolutions)
	for i := 0; i < nSolutions; i++ {
		i := i
		seed := rng.Int63()
		pool.submit(func(taskCtx context.Context) {
			sol, err := s.runTask(taskCtx, i, maxIter, rand.New(rand.NewSource(seed)))
			results <- taskOutcome{index: i, solution: sol, err: err}
		})
	}

	deadline := time.Now().Add(budget)
	lastProgress := time.Now()
	var valid []Solution
	failures := 0
	received := 0

	for received < nSolutions {
		// Bounded wait: the coordinator never blocks longer than the poll
		// interval before re-checking timeout and cancellation.
		select {
		case out := <-results:
			received++
			if out.err != nil {
				failures++
				s.emit("warn", fmt.Sprintf("solution %d failed: %v", out.index, out.err))
			} else {
				valid = append(valid, out.solution)
			}
		case <-ctx.Done():
			s.emit("warn", "generation cancelled by caller, discarding in-flight work")
			return nil, nil, ErrCancelled
		case <-time.After(s.PollInterval):
		}

		if time.Now().After(deadline) {
			s.emit("error", fmt.Sprintf("timeout budget %s exhausted with %d/%d solutions collected",
				budget, received, nSolutions))
			return nil, nil, ErrTimeout
		}

		if time.Since(lastProgress) >= s.ProgressInterval {
			s.emit("info", fmt.Sprintf("progress: %d/%d solutions complete", received, nSolutions))
			lastProgress = time.Now()
		}
	}

	return s.finish(valid, failures)
}

// finish validates and summarizes collected results.
func (s *Search) finish(valid []Solution, failures int) ([]Solution, *Stats, error) {
	s.emit("info", fmt.Sprintf("collected %d valid solutions, %d worker failures", len(valid), failures))
	if len(valid) == 0 {
		s.emit("error", "no valid solutions produced")
		return []Solution{}, nil, nil
	}

	stats := Summarize(valid)
	best := valid[stats.BestIntensity]
	s.emit("info", fmt.Sprintf(
		"best intensity %.4f V/m (solution %d), best focality %.4f V/m (solution %d)",
		best.IntensityField, best.SolutionIndex,
		valid[stats.BestFocality].Focality, valid[stats.BestFocality].SolutionIndex))
	return valid, stats, nil
}

// runTask performs one independent random-restart search: sample a random
// montage, evaluate both objectives, keep the lowest intensity cost seen.
func (s *Search) runTask(ctx context.Context, index, maxIter int, rng *rand.Rand) (Solution, error) {
	start := time.Now()
	numElectrodes := s.evaluator.NumElectrodes()

	best := Solution{SolutionIndex: index}
	bestCost := 0.0
	found := false

	x := make([]float64, 5)
	for iter := 0; iter < maxIter; iter++ {
		select {
		case <-ctx.Done():
			return Solution{}, ctx.Err()
		default:
		}

		electrodes := sampleDistinct(rng, 4, numElectrodes)
		ratio := rng.Intn(numElectrodes + 1)
		for i, e := range electrodes {
			x[i] = float64(e)
		}
		x[4] = float64(ratio)

		cost, focality, err := s.eval(x)
		if err != nil {
			return Solution{}, err
		}

		if !found || cost < bestCost {
			found = true
			bestCost = cost
			copy(best.Electrodes[:], electrodes)
			best.CurrentRatio = ratio
			best.IntensityField = 1 / cost
			best.Focality = focality
			best.Improvements++
		}
	}

	if !found {
		return Solution{}, fmt.Errorf("no evaluations completed for solution %d", index)
	}
	best.Elapsed = time.Since(start)
	return best, nil
}

// healthCheck runs one trivial round trip through the pool. It catches broken
// worker initialization before real work is dispatched.
func (s *Search) healthCheck(pool *workerPool) error {
	reply := make(chan error, 1)
	pool.submit(func(context.Context) { reply <- s.probe() })

	select {
	case err := <-reply:
		if err != nil {
			return fmt.Errorf("%w: %v", ErrHealthCheck, err)
		}
		return nil
	case <-time.After(s.HealthTimeout):
		return fmt.Errorf("%w: no reply within %s", ErrHealthCheck, s.HealthTimeout)
	}
}

// timeoutBudget estimates wall time for the whole batch and clamps it to the
// configured floor and ceiling. The estimate is advisory for reporting but
// becomes the hard collection deadline.
func (s *Search) timeoutBudget(nSolutions, maxIter, nCores int) time.Duration {
	perEval := s.EvalSecondsPer10kVoxels * float64(s.evaluator.NumVoxels()) / 10000.0
	seconds := perEval * float64(nSolutions) * float64(maxIter) / float64(nCores) * timeoutSafetyFactor

	budget := time.Duration(seconds * float64(time.Second))
	if budget < s.TimeoutFloor {
		budget = s.TimeoutFloor
	}
	if budget > s.TimeoutCeiling {
		budget = s.TimeoutCeiling
	}
	return budget
}

func (s *Search) emit(level, msg string) {
	if s.Progress != nil {
		s.Progress(level, msg)
	}
}

// sampleDistinct draws k distinct integers from [0, n).
func sampleDistinct(rng *rand.Rand, k, n int) []int {
	out := make([]int, 0, k)
	for len(out) < k {
		candidate := rng.Intn(n)
		dup := false
		for _, e := range out {
			if e == candidate {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, candidate)
		}
	}
	return out
}

func newRand(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}
