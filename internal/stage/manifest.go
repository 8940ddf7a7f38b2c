package stage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Manifest is the optional stages.yaml file that pins explicit order,
// dependencies and timeouts. Keys are stage file names.
type Manifest struct {
	Stages map[string]ManifestEntry `yaml:"stages"`
}

// ManifestEntry holds per-stage overrides.
type ManifestEntry struct {
	Order       *int          `yaml:"order,omitempty"`
	DependsOn   []string      `yaml:"depends_on,omitempty"`
	Timeout     time.Duration `yaml:"timeout,omitempty"`
	Description string        `yaml:"description,omitempty"`
}

// LoadManifest reads the manifest at path. A missing file yields nil, nil.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: read %s: %w", ErrManifest, path, err)
	}

	var m Manifest
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", ErrManifest, filepath.Base(path), err)
	}
	return &m, nil
}

// apply merges manifest entries into units. Every key must name a discovered unit.
func (m *Manifest) apply(units []Unit) error {
	if m == nil {
		return nil
	}

	index := make(map[string]int, len(units))
	for i, u := range units {
		index[u.Name] = i
	}

	names := make([]string, 0, len(m.Stages))
	for name := range m.Stages {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		entry := m.Stages[name]
		i, ok := index[name]
		if !ok {
			return fmt.Errorf("%w: entry %q does not match any discovered stage", ErrManifest, name)
		}
		if entry.Order != nil && *entry.Order < 0 {
			return fmt.Errorf("%w: %s: order must not be negative", ErrManifest, name)
		}
		if entry.Timeout < 0 {
			return fmt.Errorf("%w: %s: timeout must not be negative", ErrManifest, name)
		}
		units[i].Order = entry.Order
		units[i].DependsOn = entry.DependsOn
		units[i].Description = entry.Description
		if entry.Timeout > 0 {
			units[i].Timeout = entry.Timeout
		}
	}
	return nil
}

// sortUnits orders units with an explicit order first by (order, name), then the rest by name.
func sortUnits(units []Unit) {
	sort.SliceStable(units, func(i, j int) bool {
		a, b := units[i], units[j]
		switch {
		case a.Order != nil && b.Order != nil:
			if *a.Order != *b.Order {
				return *a.Order < *b.Order
			}
			return a.Name < b.Name
		case a.Order != nil:
			return true
		case b.Order != nil:
			return false
		default:
			return a.Name < b.Name
		}
	})
}

// validateDependencies checks every depends_on entry names a stage that runs earlier.
// Dependencies are never used to reorder.
func validateDependencies(units []Unit) error {
	position := make(map[string]int, len(units))
	for i, u := range units {
		position[u.Name] = i
	}
	for i, u := range units {
		for _, dep := range u.DependsOn {
			p, ok := position[dep]
			if !ok {
				return fmt.Errorf("%w: %s depends on unknown stage %q", ErrManifest, u.Name, dep)
			}
			if p >= i {
				return fmt.Errorf("%w: %s depends on %s, which does not run before it", ErrManifest, u.Name, dep)
			}
		}
	}
	return nil
}
