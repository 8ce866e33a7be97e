package target

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Presets maps a target name to a fixed coordinate, loaded from a YAML file
// of the form:
//
//	left_hippocampus: [-30.0, -20.0, -14.0]
//	right_motor:      [38.0, -18.0, 56.0]
type Presets map[string][3]float64

// LoadPresets reads a preset file. Entries must be exactly 3 numbers.
func LoadPresets(path string) (Presets, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("target: read presets: %w", err)
	}

	var parsed map[string][]float64
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("target: parse presets %s: %w", path, err)
	}

	presets := make(Presets, len(parsed))
	for name, coord := range parsed {
		if len(coord) != 3 {
			return nil, fmt.Errorf("target: preset %q has %d coordinates, want 3", name, len(coord))
		}
		presets[name] = [3]float64{coord[0], coord[1], coord[2]}
	}
	return presets, nil
}

// Resolve returns the coordinate for a named preset.
func (p Presets) Resolve(name string) ([3]float64, error) {
	coord, ok := p[name]
	if !ok {
		return [3]float64{}, fmt.Errorf("target: unknown preset %q (have: %v)", name, p.Names())
	}
	return coord, nil
}

// Names returns the preset names in sorted order.
func (p Presets) Names() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
