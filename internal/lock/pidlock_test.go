package lock

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestAcquirePIDLockWritesPID(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), ".strata", "strata.lock")
	l, err := AcquirePIDLock(lockPath)
	if err != nil {
		t.Fatalf("AcquirePIDLock: %v", err)
	}
	t.Cleanup(func() { _ = l.Release() })

	b, err := os.ReadFile(lockPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if strings.TrimSpace(string(b)) == "" {
		t.Fatalf("expected PID in lock file, got empty")
	}

	pid, err := Holder(lockPath)
	if err != nil {
		t.Fatalf("Holder: %v", err)
	}
	if pid != os.Getpid() {
		t.Fatalf("Holder() = %d, want %d", pid, os.Getpid())
	}
	if l.Path() != lockPath {
		t.Fatalf("Path() = %q, want %q", l.Path(), lockPath)
	}
}

func TestAcquirePIDLockIsExclusive(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("flock not available")
	}

	lockPath := filepath.Join(t.TempDir(), "strata.lock")
	first, err := AcquirePIDLock(lockPath)
	if err != nil {
		t.Fatalf("AcquirePIDLock: %v", err)
	}

	if _, err := AcquirePIDLock(lockPath); !errors.Is(err, ErrLocked) {
		t.Fatalf("second AcquirePIDLock error = %v, want ErrLocked", err)
	}

	if err := first.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	second, err := AcquirePIDLock(lockPath)
	if err != nil {
		t.Fatalf("AcquirePIDLock after release: %v", err)
	}
	_ = second.Release()
}

func TestReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	l, err := AcquirePIDLock(filepath.Join(t.TempDir(), "strata.lock"))
	if err != nil {
		t.Fatalf("AcquirePIDLock: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}
	var nilLock *PIDLock
	if err := nilLock.Release(); err != nil {
		t.Fatalf("nil Release: %v", err)
	}
}

func TestAcquirePIDLockEmptyPath(t *testing.T) {
	t.Parallel()
	if _, err := AcquirePIDLock(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
