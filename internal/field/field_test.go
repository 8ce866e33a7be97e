package field

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idossha/TI-Toolbox-sub001/internal/leadfield"
)

func randVec(rng *rand.Rand) [3]float64 {
	return [3]float64{
		rng.Float64()*2 - 1,
		rng.Float64()*2 - 1,
		rng.Float64()*2 - 1,
	}
}

func TestEnvelopeEqualVectors(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 100; i++ {
		e := randVec(rng)
		want := 2 * math.Sqrt(e[0]*e[0]+e[1]*e[1]+e[2]*e[2])
		assert.InDelta(t, want, Envelope(e, e), 1e-12)
	}
}

func TestEnvelopeSymmetry(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	for i := 0; i < 500; i++ {
		a, b := randVec(rng), randVec(rng)
		assert.InDelta(t, Envelope(a, b), Envelope(b, a), 1e-12,
			"envelope must be symmetric in its arguments")
	}
}

func TestEnvelopeNonNegative(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 500; i++ {
		a, b := randVec(rng), randVec(rng)
		assert.GreaterOrEqual(t, Envelope(a, b), 0.0)
	}
}

func TestEnvelopeZeroVector(t *testing.T) {
	zero := [3]float64{}
	e := [3]float64{0.5, -0.25, 1.0}

	assert.Equal(t, 0.0, Envelope(zero, e))
	assert.Equal(t, 0.0, Envelope(e, zero))
	assert.Equal(t, 0.0, Envelope(zero, zero))
}

func TestEnvelopeAntiparallel(t *testing.T) {
	// Opposite fields collapse to the equal-vector case after sign
	// normalization.
	e := [3]float64{1, 2, 3}
	neg := [3]float64{-1, -2, -3}
	want := 2 * math.Sqrt(14)
	assert.InDelta(t, want, Envelope(e, neg), 1e-12)
}

func TestEnvelopeOrthogonalUnitVectors(t *testing.T) {
	// For orthogonal equal-magnitude fields the envelope follows the
	// cross-product branch: 2*|cross(e1, e2-e1)|/|e2-e1| = sqrt(2).
	e1 := [3]float64{1, 0, 0}
	e2 := [3]float64{0, 1, 0}
	assert.InDelta(t, math.Sqrt2, Envelope(e1, e2), 1e-12)
}

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

func TestComputeFieldsScaling(t *testing.T) {
	m := lineModel(t, 4, 10)

	stimA := make([]float64, 4)
	stimB := make([]float64, 4)
	stimA[1] = 2.0

	ea, eb := ComputeFields(m, stimA, stimB, nil)
	require.Len(t, ea, 30)

	// E_a at voxel 3 must be stim * leadfield / 1000.
	fx, fy, fz := m.FieldAt(1, 3)
	assert.InDelta(t, 2.0*fx/1000.0, ea[9], 1e-12)
	assert.InDelta(t, 2.0*fy/1000.0, ea[10], 1e-12)
	assert.InDelta(t, 2.0*fz/1000.0, ea[11], 1e-12)

	// No current on pair B means no field.
	for _, v := range eb {
		assert.Equal(t, 0.0, v)
	}
}

func TestComputeFieldsSuperposition(t *testing.T) {
	m := lineModel(t, 4, 10)

	stim := make([]float64, 4)
	stim[0] = 1.0
	stim[2] = -1.0
	ea, _ := ComputeFields(m, stim, make([]float64, 4), nil)

	f0x, _, _ := m.FieldAt(0, 5)
	f2x, _, _ := m.FieldAt(2, 5)
	assert.InDelta(t, (f0x-f2x)/1000.0, ea[15], 1e-12)
}

func TestCalculateTIFieldRestriction(t *testing.T) {
	m := lineModel(t, 6, 20)

	stimA := make([]float64, 6)
	stimB := make([]float64, 6)
	stimA[0], stimA[1] = 1, -1
	stimB[3], stimB[4] = 1, -1

	full := CalculateTIField(m, stimA, stimB, nil)
	require.Len(t, full, 20)

	indices := []int{2, 7, 13}
	restricted := CalculateTIField(m, stimA, stimB, indices)
	require.Len(t, restricted, 3)

	for i, v := range indices {
		assert.InDelta(t, full[v], restricted[i], 1e-12,
			"restricted envelope must match the full computation at voxel %d", v)
	}
}
