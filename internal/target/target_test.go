package target

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gridPositions is a minimal Positions implementation for tests: voxels on
// the x axis at integer coordinates.
type gridPositions struct {
	n int
}

func (g gridPositions) NumVoxels() int { return g.n }

func (g gridPositions) Position(v int) (x, y, z float64) {
	return float64(v), 0, 0
}

func TestFindTargetVoxelsBoundaryInclusive(t *testing.T) {
	pos := gridPositions{n: 10}

	// Radius 2 around voxel 5: voxels at distance exactly 2 are included.
	roi, err := FindTargetVoxels(pos, Spec{Coord: [3]float64{5, 0, 0}, Radius: 2})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4, 5, 6, 7}, roi)
}

func TestFindTargetVoxelsZeroRadius(t *testing.T) {
	pos := gridPositions{n: 10}

	// A voxel exactly at the coordinate still matches with radius 0.
	roi, err := FindTargetVoxels(pos, Spec{Coord: [3]float64{4, 0, 0}, Radius: 0})
	require.NoError(t, err)
	assert.Equal(t, []int{4}, roi)

	// No voxel at the coordinate: empty ROI is a hard error.
	_, err = FindTargetVoxels(pos, Spec{Coord: [3]float64{4.5, 0, 0}, Radius: 0})
	require.Error(t, err)
	var emptyErr *ErrEmptyROI
	require.ErrorAs(t, err, &emptyErr)
	assert.Equal(t, 0.0, emptyErr.Radius)
}

func TestFindTargetVoxelsOutsideVolume(t *testing.T) {
	pos := gridPositions{n: 10}

	_, err := FindTargetVoxels(pos, Spec{Coord: [3]float64{500, 500, 500}, Radius: 5})
	var emptyErr *ErrEmptyROI
	require.ErrorAs(t, err, &emptyErr)
}

func TestFindTargetVoxelsNegativeRadius(t *testing.T) {
	pos := gridPositions{n: 10}

	_, err := FindTargetVoxels(pos, Spec{Coord: [3]float64{5, 0, 0}, Radius: -1})
	require.Error(t, err)
}

func TestValidateMontage(t *testing.T) {
	tests := []struct {
		name    string
		indices []int
		want    bool
	}{
		{"valid", []int{0, 1, 2, 3}, true},
		{"valid unordered", []int{7, 2, 5, 0}, true},
		{"duplicate", []int{0, 0, 1, 2}, false},
		{"duplicate at end", []int{0, 1, 2, 2}, false},
		{"negative", []int{-1, 1, 2, 3}, false},
		{"too few", []int{0, 1, 2}, false},
		{"too many", []int{0, 1, 2, 3, 4}, false},
		{"empty", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidateMontage(tt.indices))
		})
	}
}

func TestLoadPresets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "presets.yaml")
	content := "left_hippocampus: [-30.0, -20.0, -14.0]\nright_motor: [38.0, -18.0, 56.0]\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	presets, err := LoadPresets(path)
	require.NoError(t, err)
	require.Len(t, presets, 2)

	coord, err := presets.Resolve("left_hippocampus")
	require.NoError(t, err)
	assert.Equal(t, [3]float64{-30, -20, -14}, coord)

	_, err = presets.Resolve("nonexistent")
	assert.Error(t, err)

	assert.Equal(t, []string{"left_hippocampus", "right_motor"}, presets.Names())
}

func TestLoadPresetsBadArity(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "presets.yaml")
	require.NoError(t, os.WriteFile(path, []byte("broken: [1.0, 2.0]\n"), 0o644))

	_, err := LoadPresets(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}
