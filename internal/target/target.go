// Package target selects the region-of-interest voxels for a stimulation
// target and validates candidate montages.
package target

import (
	"fmt"
)

// ErrEmptyROI reports that no voxel fell within the target sphere. This is a
// configuration error, not a retryable condition: either the coordinate is
// outside the sampled volume or the radius is too small.
type ErrEmptyROI struct {
	Coord  [3]float64
	Radius float64
}

func (e *ErrEmptyROI) Error() string {
	return fmt.Sprintf("target: no voxels within %.2f mm of (%.1f, %.1f, %.1f)",
		e.Radius, e.Coord[0], e.Coord[1], e.Coord[2])
}

// Spec is a stimulation target: a physical coordinate plus a spherical radius
// in millimeters.
type Spec struct {
	Coord  [3]float64
	Radius float64
}

// Positions is the minimal view of voxel geometry this package needs.
type Positions interface {
	NumVoxels() int
	Position(v int) (x, y, z float64)
}

// FindTargetVoxels returns the indices of all voxels whose Euclidean distance
// to the target coordinate is at most the radius (boundary included). An
// empty result is returned as *ErrEmptyROI.
func FindTargetVoxels(pos Positions, spec Spec) ([]int, error) {
	if spec.Radius < 0 {
		return nil, fmt.Errorf("target: radius must be non-negative, got %v", spec.Radius)
	}

	r2 := spec.Radius * spec.Radius
	var roi []int
	for v := 0; v < pos.NumVoxels(); v++ {
		x, y, z := pos.Position(v)
		dx := x - spec.Coord[0]
		dy := y - spec.Coord[1]
		dz := z - spec.Coord[2]
		if dx*dx+dy*dy+dz*dz <= r2 {
			roi = append(roi, v)
		}
	}

	if len(roi) == 0 {
		return nil, &ErrEmptyROI{Coord: spec.Coord, Radius: spec.Radius}
	}
	return roi, nil
}

// ValidateMontage reports whether indices names exactly four pairwise
// distinct non-negative electrodes. The upper bound against the electrode
// catalog is the caller's check.
func ValidateMontage(indices []int) bool {
	if len(indices) != 4 {
		return false
	}
	for i, a := range indices {
		if a < 0 {
			return false
		}
		for _, b := range indices[i+1:] {
			if a == b {
				return false
			}
		}
	}
	return true
}
