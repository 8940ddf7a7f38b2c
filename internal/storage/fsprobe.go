package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNetworkFilesystem is returned when the run log would live on a network mount.
var ErrNetworkFilesystem = errors.New("path is on a network filesystem")

var errProbeUnsupported = errors.New("filesystem probing is unsupported on this platform")

var networkFilesystems = map[string]struct{}{
	"afpfs":  {},
	"cifs":   {},
	"nfs":    {},
	"smbfs":  {},
	"smb2":   {},
	"webdav": {},
}

// Mount describes the filesystem a project path lives on.
type Mount struct {
	Path    string // nearest existing ancestor that was inspected
	Type    string // filesystem name, or hex magic when unrecognised
	Network bool
	Known   bool // false when the platform cannot be probed
}

// Probe reports the filesystem under path. Paths that do not exist yet are
// resolved to their nearest existing ancestor.
func Probe(path string) (Mount, error) {
	return probeWith(path, filesystemType)
}

func probeWith(path string, detect func(string) (string, error)) (Mount, error) {
	if strings.TrimSpace(path) == "" {
		return Mount{}, fmt.Errorf("probe: path is empty")
	}
	existing, err := nearestExistingPath(path)
	if err != nil {
		return Mount{}, fmt.Errorf("resolve %q: %w", path, err)
	}

	m := Mount{Path: existing}
	fsType, err := detect(existing)
	if errors.Is(err, errProbeUnsupported) {
		return m, nil
	}
	if err != nil {
		return Mount{}, fmt.Errorf("detect filesystem for %q: %w", existing, err)
	}
	m.Type = fsType
	m.Known = true
	m.Network = isNetworkFilesystem(fsType)
	return m, nil
}

// requireLocal refuses run log paths on network mounts, where SQLite locking is unreliable.
func requireLocal(path string, detect func(string) (string, error)) error {
	m, err := probeWith(path, detect)
	if err != nil {
		return err
	}
	if m.Network {
		return fmt.Errorf("%w: run log %q is on %s; SQLite needs local disk for reliable locking, set state.path (or STRATA_STATE_PATH) to a local path",
			ErrNetworkFilesystem, path, m.Type)
	}
	return nil
}

func nearestExistingPath(path string) (string, error) {
	candidate, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}
	for {
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing ancestor of %q", path)
		}
		candidate = parent
	}
}

func isNetworkFilesystem(fsType string) bool {
	_, found := networkFilesystems[strings.ToLower(strings.TrimSpace(fsType))]
	return found
}
