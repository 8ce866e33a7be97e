// Package leadfield holds the precomputed per-electrode field samples the
// optimizer searches over. The arrays are produced by an external field
// simulator and are treated as opaque data: loaded once, validated for shape,
// and shared read-only with every worker for the lifetime of the process.
package leadfield

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
)

// Model is the in-memory leadfield: the vector field produced at each voxel by
// one unit of current at each electrode, plus the voxel coordinates.
//
// Field data is stored flat in electrode-major order: the 3-vector for
// electrode e at voxel v starts at (e*numVoxels+v)*3. Positions are stored
// flat in voxel-major order. A Model is immutable after construction.
type Model struct {
	numElectrodes int
	numVoxels     int
	field         []float64 // len numElectrodes*numVoxels*3, milli-field per unit current
	positions     []float64 // len numVoxels*3, millimeters
}

// manifest describes the on-disk layout of a leadfield: two little-endian
// float64 blobs plus their dimensions.
type manifest struct {
	NumElectrodes int    `json:"num_electrodes"`
	NumVoxels     int    `json:"num_voxels"`
	FieldFile     string `json:"field_file"`
	PositionsFile string `json:"positions_file"`
}

// New builds a Model from flat slices. field must have length
// numElectrodes*numVoxels*3 and positions numVoxels*3; the slices are retained,
// not copied, so callers must not mutate them afterwards.
func New(numElectrodes, numVoxels int, field, positions []float64) (*Model, error) {
	if numElectrodes < 2 {
		return nil, fmt.Errorf("leadfield: need at least 2 electrodes, got %d", numElectrodes)
	}
	if numVoxels < 1 {
		return nil, fmt.Errorf("leadfield: need at least 1 voxel, got %d", numVoxels)
	}
	if want := numElectrodes * numVoxels * 3; len(field) != want {
		return nil, fmt.Errorf("leadfield: field length %d, want %d (%d electrodes x %d voxels x 3)",
			len(field), want, numElectrodes, numVoxels)
	}
	if want := numVoxels * 3; len(positions) != want {
		return nil, fmt.Errorf("leadfield: positions length %d, want %d (%d voxels x 3)",
			len(positions), want, numVoxels)
	}
	return &Model{
		numElectrodes: numElectrodes,
		numVoxels:     numVoxels,
		field:         field,
		positions:     positions,
	}, nil
}

// Load reads a leadfield described by a JSON manifest. Blob paths in the
// manifest are resolved relative to the manifest's directory.
func Load(manifestPath string) (*Model, error) {
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("leadfield: read manifest: %w", err)
	}

	var m manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("leadfield: parse manifest %s: %w", manifestPath, err)
	}

	dir := filepath.Dir(manifestPath)
	field, err := readFloat64Blob(filepath.Join(dir, m.FieldFile), m.NumElectrodes*m.NumVoxels*3)
	if err != nil {
		return nil, fmt.Errorf("leadfield: field blob: %w", err)
	}
	positions, err := readFloat64Blob(filepath.Join(dir, m.PositionsFile), m.NumVoxels*3)
	if err != nil {
		return nil, fmt.Errorf("leadfield: positions blob: %w", err)
	}

	return New(m.NumElectrodes, m.NumVoxels, field, positions)
}

// readFloat64Blob reads exactly n little-endian float64 values from path.
func readFloat64Blob(path string, n int) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, n*8)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	// Reject trailing garbage: the blob must be exactly n values.
	var extra [1]byte
	if _, err := f.Read(extra[:]); err != io.EOF {
		return nil, fmt.Errorf("%s: blob larger than expected %d values", path, n)
	}

	out := make([]float64, n)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return out, nil
}

// NumElectrodes returns the number of electrodes in the catalog.
func (m *Model) NumElectrodes() int { return m.numElectrodes }

// NumVoxels returns the number of voxels sampled.
func (m *Model) NumVoxels() int { return m.numVoxels }

// FieldAt returns the field 3-vector for electrode e at voxel v.
func (m *Model) FieldAt(e, v int) (x, y, z float64) {
	i := (e*m.numVoxels + v) * 3
	return m.field[i], m.field[i+1], m.field[i+2]
}

// Position returns the physical coordinate of voxel v in millimeters.
func (m *Model) Position(v int) (x, y, z float64) {
	i := v * 3
	return m.positions[i], m.positions[i+1], m.positions[i+2]
}
