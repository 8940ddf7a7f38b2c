package storage

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func fixedType(fsType string) func(string) (string, error) {
	return func(string) (string, error) { return fsType, nil }
}

func TestRequireLocalAllowsLocalDisk(t *testing.T) {
	t.Parallel()

	if err := requireLocal(filepath.Join(t.TempDir(), "state.db"), fixedType("ext4")); err != nil {
		t.Fatalf("expected local filesystem to pass, got: %v", err)
	}
}

func TestRequireLocalRejectsNetworkMount(t *testing.T) {
	t.Parallel()

	err := requireLocal(filepath.Join(t.TempDir(), "state.db"), fixedType("nfs"))
	if !errors.Is(err, ErrNetworkFilesystem) {
		t.Fatalf("expected ErrNetworkFilesystem, got %v", err)
	}
	for _, want := range []string{"nfs", "STRATA_STATE_PATH"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected error to mention %q, got %q", want, err)
		}
	}
}

func TestProbeInspectsNearestExistingAncestor(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	var inspected string
	m, err := probeWith(filepath.Join(root, ".strata", "nested", "state.db"), func(path string) (string, error) {
		inspected = path
		return "SMBFS", nil
	})
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if inspected != root || m.Path != root {
		t.Fatalf("expected %q to be inspected, got %q (mount path %q)", root, inspected, m.Path)
	}
	if !m.Known || !m.Network {
		t.Fatalf("expected a known network mount, got %+v", m)
	}
}

func TestProbeToleratesUnsupportedPlatform(t *testing.T) {
	t.Parallel()

	m, err := probeWith(t.TempDir(), func(string) (string, error) { return "", errProbeUnsupported })
	if err != nil {
		t.Fatalf("expected unsupported probing to be tolerated, got: %v", err)
	}
	if m.Known || m.Network {
		t.Fatalf("expected an unknown mount, got %+v", m)
	}
	if err := requireLocal(t.TempDir(), func(string) (string, error) { return "", errProbeUnsupported }); err != nil {
		t.Fatalf("requireLocal on unsupported platform: %v", err)
	}
}

func TestProbeRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	if _, err := Probe("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestProbeRealPath(t *testing.T) {
	t.Parallel()

	m, err := Probe(t.TempDir())
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if m.Path == "" {
		t.Fatalf("expected inspected path, got %+v", m)
	}
}

func TestIsNetworkFilesystem(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"nfs":    true,
		"SMBFS":  true,
		" cifs ": true,
		"ext4":   false,
		"0x6969": false,
		"fuse":   false,
	}
	for fsType, want := range cases {
		if got := isNetworkFilesystem(fsType); got != want {
			t.Errorf("isNetworkFilesystem(%q) = %v, want %v", fsType, got, want)
		}
	}
}
