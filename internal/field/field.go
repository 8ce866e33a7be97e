// Package field computes electric fields from stimulation currents and the
// temporal-interference modulation envelope at a set of voxels. All functions
// are pure; the leadfield is read, never written.
package field

import (
	"math"

	"github.com/idossha/TI-Toolbox-sub001/internal/leadfield"
)

// Tolerance is the shared near-zero guard used for vector magnitudes,
// component-wise equality, and difference-vector norms. The same value is
// applied at different physical scales; treat it as tunable, not exact.
const Tolerance = 1e-10

// leadfieldScale converts the simulator's milli-field units to field per
// meter.
const leadfieldScale = 1000.0

// ComputeFields forms the superposed field produced by each stimulation
// vector at every voxel (or only at indices, when non-nil). stimA and stimB
// hold the injected current per electrode; most entries are zero for a
// bipolar montage but the combination is general.
//
// The returned slices are flat 3-vectors: the field at output voxel i
// occupies [i*3, i*3+3).
func ComputeFields(m *leadfield.Model, stimA, stimB []float64, indices []int) (ea, eb []float64) {
	n := m.NumVoxels()
	if indices != nil {
		n = len(indices)
	}

	ea = make([]float64, n*3)
	eb = make([]float64, n*3)

	for e := 0; e < m.NumElectrodes(); e++ {
		ca, cb := stimA[e], stimB[e]
		if ca == 0 && cb == 0 {
			continue
		}
		for i := 0; i < n; i++ {
			v := i
			if indices != nil {
				v = indices[i]
			}
			fx, fy, fz := m.FieldAt(e, v)
			if ca != 0 {
				ea[i*3] += ca * fx / leadfieldScale
				ea[i*3+1] += ca * fy / leadfieldScale
				ea[i*3+2] += ca * fz / leadfieldScale
			}
			if cb != 0 {
				eb[i*3] += cb * fx / leadfieldScale
				eb[i*3+1] += cb * fy / leadfieldScale
				eb[i*3+2] += cb * fz / leadfieldScale
			}
		}
	}
	return ea, eb
}

// Envelope computes the TI modulation envelope for a single voxel from the
// two interfering field vectors. The branch order is load-bearing: the
// boundary behavior at the cos-theta thresholds is part of the contract.
func Envelope(e1, e2 [3]float64) float64 {
	m1 := norm3(e1)
	m2 := norm3(e2)

	cos := 0.0
	if m1 > Tolerance && m2 > Tolerance {
		cos = dot3(e1, e2) / (m1 * m2)
	}

	// The envelope is invariant to the sign convention of one pair;
	// normalize so the angle between the fields is at most 90 degrees.
	if cos < 0 {
		e1[0], e1[1], e1[2] = -e1[0], -e1[1], -e1[2]
		cos = -cos
	}

	if equal3(e1, e2) {
		return 2 * m1
	}

	if m2 < m1 {
		if m1 < m2*cos {
			return 2 * m2
		}
		d := sub3(e1, e2)
		dn := norm3(d)
		if dn < Tolerance {
			return 0
		}
		return 2 * norm3(cross3(e2, d)) / dn
	}

	if m2 < m1*cos {
		return 2 * m1
	}
	d := sub3(e2, e1)
	dn := norm3(d)
	if dn < Tolerance {
		return 0
	}
	return 2 * norm3(cross3(e1, d)) / dn
}

// CalculateTIField computes the envelope at every voxel, or only at indices
// when non-nil. Restricting the voxel set happens before the field
// combination so the cross-product work is never done for voxels the caller
// will discard.
func CalculateTIField(m *leadfield.Model, stimA, stimB []float64, indices []int) []float64 {
	ea, eb := ComputeFields(m, stimA, stimB, indices)

	n := len(ea) / 3
	env := make([]float64, n)
	for i := 0; i < n; i++ {
		e1 := [3]float64{ea[i*3], ea[i*3+1], ea[i*3+2]}
		e2 := [3]float64{eb[i*3], eb[i*3+1], eb[i*3+2]}
		env[i] = Envelope(e1, e2)
	}
	return env
}

func dot3(a, b [3]float64) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

func norm3(a [3]float64) float64 {
	return math.Sqrt(a[0]*a[0] + a[1]*a[1] + a[2]*a[2])
}

func sub3(a, b [3]float64) [3]float64 {
	return [3]float64{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
}

func cross3(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func equal3(a, b [3]float64) bool {
	return math.Abs(a[0]-b[0]) < Tolerance &&
		math.Abs(a[1]-b[1]) < Tolerance &&
		math.Abs(a[2]-b[2]) < Tolerance
}
