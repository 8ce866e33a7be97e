// Package montage turns a candidate electrode configuration into a scalar or
// dual-objective cost by building the two bipolar stimulation vectors and
// evaluating the TI envelope over the region of interest.
package montage

import (
	"errors"
	"math"

	"github.com/idossha/TI-Toolbox-sub001/internal/field"
	"github.com/idossha/TI-Toolbox-sub001/internal/leadfield"
	"github.com/idossha/TI-Toolbox-sub001/internal/target"
)

// SentinelCost is returned for malformed montages (duplicate or out-of-range
// electrodes). It is large relative to realistic costs so a gradient-free
// search steers away from invalid regions, but finite so comparisons stay
// well defined.
const SentinelCost = 1000.0

// costEpsilon keeps the reciprocal finite when a degenerate montage produces
// a near-zero envelope.
const costEpsilon = 1e-10

// ErrTargetNotSet reports an Evaluate call before SetTarget. That ordering is
// a programming error in the caller, not a recoverable condition.
var ErrTargetNotSet = errors.New("montage: evaluate called before SetTarget")

// Evaluator scores candidate montages against a fixed leadfield and target
// region. SetTarget must be called once before any evaluation; after that the
// evaluator is safe for concurrent readers since every evaluation only reads
// shared state.
type Evaluator struct {
	model         *leadfield.Model
	numElectrodes int
	roi           []int
}

// NewEvaluator creates an evaluator over the given leadfield.
func NewEvaluator(m *leadfield.Model) *Evaluator {
	return &Evaluator{
		model:         m,
		numElectrodes: m.NumElectrodes(),
	}
}

// SetTarget resolves the target sphere to a voxel index set. Calling it again
// with the same spec yields the same ROI.
func (ev *Evaluator) SetTarget(spec target.Spec) error {
	roi, err := target.FindTargetVoxels(ev.model, spec)
	if err != nil {
		return err
	}
	ev.roi = roi
	return nil
}

// ROI returns the current target voxel indices, nil before SetTarget.
func (ev *Evaluator) ROI() []int { return ev.roi }

// NumElectrodes returns the size of the electrode catalog.
func (ev *Evaluator) NumElectrodes() int { return ev.numElectrodes }

// NumVoxels returns the number of voxels in the underlying leadfield.
func (ev *Evaluator) NumVoxels() int { return ev.model.NumVoxels() }

// Evaluate computes the intensity-only cost for a 5-dimensional search point:
// four electrode slots followed by the current-ratio scalar. Electrode values
// are rounded to the nearest index; invalid montages cost SentinelCost.
func (ev *Evaluator) Evaluate(x []float64) (float64, error) {
	if ev.roi == nil {
		return 0, ErrTargetNotSet
	}

	electrodes, ratio, ok := ev.decode(x)
	if !ok {
		return SentinelCost, nil
	}

	stimA, stimB := ev.stimulationPair(electrodes, ratio)
	env := field.CalculateTIField(ev.model, stimA, stimB, ev.roi)
	return 1 / (mean(env) + costEpsilon), nil
}

// EvaluateDual computes both objectives: the intensity cost over the ROI and
// the whole-brain mean envelope (focality proxy). The envelope is computed
// once over all voxels and the ROI slice reuses it.
func (ev *Evaluator) EvaluateDual(x []float64) (intensityCost, focality float64, err error) {
	if ev.roi == nil {
		return 0, 0, ErrTargetNotSet
	}

	electrodes, ratio, ok := ev.decode(x)
	if !ok {
		return SentinelCost, SentinelCost, nil
	}

	stimA, stimB := ev.stimulationPair(electrodes, ratio)
	env := field.CalculateTIField(ev.model, stimA, stimB, nil)

	roiSum := 0.0
	for _, v := range ev.roi {
		roiSum += env[v]
	}
	roiMean := roiSum / float64(len(ev.roi))

	return 1 / (roiMean + costEpsilon), mean(env), nil
}

// decode rounds the electrode slots of a search point and validates them.
func (ev *Evaluator) decode(x []float64) (electrodes [4]int, ratio float64, ok bool) {
	idx := make([]int, 4)
	for i := 0; i < 4; i++ {
		idx[i] = int(math.Round(x[i]))
	}
	if !target.ValidateMontage(idx) {
		return electrodes, 0, false
	}
	for _, e := range idx {
		if e >= ev.numElectrodes {
			return electrodes, 0, false
		}
	}
	copy(electrodes[:], idx)
	return electrodes, x[4], true
}

// stimulationPair builds the two bipolar current vectors. The current-ratio
// scalar perturbs the split between the pairs asymmetrically: pair A carries
// 1+ratio/n and pair B carries 1-ratio/n, so one search dimension steers
// current between the pairs.
func (ev *Evaluator) stimulationPair(electrodes [4]int, ratio float64) (stimA, stimB []float64) {
	stimA = make([]float64, ev.numElectrodes)
	stimB = make([]float64, ev.numElectrodes)

	delta := ratio / float64(ev.numElectrodes)
	stimA[electrodes[0]] = 1 + delta
	stimA[electrodes[1]] = -(1 + delta)
	stimB[electrodes[2]] = 1 - delta
	stimB[electrodes[3]] = -(1 - delta)
	return stimA, stimB
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range xs {
		sum += v
	}
	return sum / float64(len(xs))
}
