// Package stage discovers the ordered list of stage units in a stages directory.
package stage

import "time"

// Unit is one executable stage.
type Unit struct {
	Name        string        `json:"name"` // file name, used for ordering and logging
	Path        string        `json:"path"` // absolute path
	Order       *int          `json:"order,omitempty"`
	DependsOn   []string      `json:"depends_on,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"` // 0 means none
	Description string        `json:"description,omitempty"`
	Command     []string      `json:"command"` // argv, interpreter first when one is mapped
}

// Options controls what Discover treats as a stage.
type Options struct {
	Patterns       []string            // glob patterns matched against file names
	PackageMarker  string              // reserved name never treated as a stage
	Interpreters   map[string][]string // file extension -> argv prefix
	Manifest       string              // optional manifest file name inside the stages dir
	DefaultTimeout time.Duration       // applied to units without a manifest timeout
}

// DefaultOptions mirrors the conventional python layout.
func DefaultOptions() Options {
	return Options{
		Patterns:      []string{"*.py"},
		PackageMarker: "__init__.py",
		Interpreters:  map[string][]string{".py": {"python3"}},
		Manifest:      "stages.yaml",
	}
}

// Names returns the unit names in order.
func Names(units []Unit) []string {
	out := make([]string, len(units))
	for i, u := range units {
		out[i] = u.Name
	}
	return out
}

// Finder binds Options and a logger so discovery can be called by directory alone.
type Finder struct {
	opts   Options
	logger func(level, msg string, args ...any)
}

// NewFinder returns a Finder using opts.
func NewFinder(opts Options, logger func(level, msg string, args ...any)) *Finder {
	return &Finder{opts: opts, logger: logger}
}

// Discover runs Discover on dir with the bound options.
func (f *Finder) Discover(dir string) ([]Unit, error) {
	return Discover(dir, f.opts, f.logger)
}
