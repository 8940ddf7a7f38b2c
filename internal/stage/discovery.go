package stage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Discover lists the stage units directly inside dir, in execution order.
//
// A missing dir yields an empty list and a warning. Files must match one of
// opts.Patterns; the package marker, names starting with '_' or '.', and the
// manifest itself are skipped. The ordered list is logged before returning.
func Discover(dir string, opts Options, logger func(level, msg string, args ...any)) ([]Unit, error) {
	if logger == nil {
		logger = func(level, msg string, args ...any) {}
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve stages dir %q: %w", dir, err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		if os.IsNotExist(err) {
			logger("warn", "stages directory does not exist", "dir", absDir)
			return []Unit{}, nil
		}
		return nil, fmt.Errorf("failed to stat stages dir %s: %w", absDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("stages dir is not a directory: %s", absDir)
	}

	entries, err := os.ReadDir(absDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read stages dir %s: %w", absDir, err)
	}

	units := make([]Unit, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if skipName(name, opts) {
			continue
		}
		matched, err := matchAny(opts.Patterns, name)
		if err != nil {
			return nil, err
		}
		if !matched {
			continue
		}

		path := filepath.Join(absDir, name)
		// Stat follows symlinks so a linked script counts as a regular file.
		fi, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidUnit, name, err)
		}
		if !fi.Mode().IsRegular() {
			continue
		}

		command, err := buildCommand(path, fi.Mode(), opts.Interpreters)
		if err != nil {
			return nil, err
		}

		units = append(units, Unit{
			Name:    name,
			Path:    path,
			Timeout: opts.DefaultTimeout,
			Command: command,
		})
	}

	sort.SliceStable(units, func(i, j int) bool { return units[i].Name < units[j].Name })

	if opts.Manifest != "" {
		manifest, err := LoadManifest(filepath.Join(absDir, opts.Manifest))
		if err != nil {
			return nil, err
		}
		if err := manifest.apply(units); err != nil {
			return nil, err
		}
		sortUnits(units)
		if err := validateDependencies(units); err != nil {
			return nil, err
		}
	}

	if len(units) == 0 {
		logger("warn", "no stages found", "dir", absDir, "patterns", strings.Join(opts.Patterns, ","))
		return units, nil
	}

	logger("info", "stages discovered (execution order)", "dir", absDir, "count", len(units))
	for i, u := range units {
		logger("info", "stage", "position", i+1, "name", u.Name)
	}
	return units, nil
}

func skipName(name string, opts Options) bool {
	if name == opts.PackageMarker {
		return true
	}
	if strings.HasPrefix(name, "_") {
		return true
	}
	return opts.Manifest != "" && name == opts.Manifest
}

func matchAny(patterns []string, name string) (bool, error) {
	for _, pattern := range patterns {
		ok, err := filepath.Match(pattern, name)
		if err != nil {
			return false, fmt.Errorf("invalid stage pattern %q: %w", pattern, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// buildCommand returns the argv for path. Files without an interpreter mapping
// run directly and must carry an execute bit.
func buildCommand(path string, mode os.FileMode, interpreters map[string][]string) ([]string, error) {
	if interp, ok := interpreters[filepath.Ext(path)]; ok && len(interp) > 0 {
		argv := make([]string, 0, len(interp)+1)
		argv = append(argv, interp...)
		return append(argv, path), nil
	}
	if mode&0o111 == 0 {
		return nil, fmt.Errorf("%w: %s has no interpreter mapping and is not executable", ErrInvalidUnit, filepath.Base(path))
	}
	return []string{path}, nil
}
