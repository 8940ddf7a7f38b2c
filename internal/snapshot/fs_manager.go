package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattjoyce/strata/internal/log"
	"github.com/mattjoyce/strata/internal/runstate"
)

// FSManager archives the data directory into timestamped copies on local disk.
type FSManager struct {
	dataDir    string
	historyDir string
	now        func() time.Time
	logger     *slog.Logger
}

var _ Manager = (*FSManager)(nil)

// NewFSManager creates a manager that copies dataDir into historyDir/<timestamp>.
func NewFSManager(dataDir, historyDir string) (*FSManager, error) {
	data := strings.TrimSpace(dataDir)
	history := strings.TrimSpace(historyDir)
	if data == "" {
		return nil, fmt.Errorf("data directory is empty")
	}
	if history == "" {
		return nil, fmt.Errorf("history directory is empty")
	}

	return &FSManager{
		dataDir:    filepath.Clean(data),
		historyDir: filepath.Clean(history),
		now:        time.Now,
		logger:     log.WithComponent("snapshot"),
	}, nil
}

// HistoryDir returns the directory archives are written to.
func (m *FSManager) HistoryDir() string {
	return m.historyDir
}

// Create copies the data directory into a new archive named after the current
// second. Returns nil, nil when the data directory is missing or empty. When
// simulate is true the would-be archive is returned and nothing is touched.
func (m *FSManager) Create(ctx context.Context, simulate bool) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	empty, err := runstate.NewDetector(m.dataDir).IsFirstRun()
	if err != nil {
		return nil, fmt.Errorf("inspect data directory: %w", err)
	}
	if empty {
		m.logger.Info("no data to snapshot", "data_dir", m.dataDir)
		return nil, nil
	}

	createdAt := m.now()
	name := createdAt.Format(NameLayout)
	snap := &Snapshot{
		Name:      name,
		Path:      filepath.Join(m.historyDir, name),
		CreatedAt: createdAt,
	}

	if simulate {
		m.logger.Info("dry run: would copy", "from", m.dataDir, "to", snap.Path)
		return snap, nil
	}

	if err := os.MkdirAll(m.historyDir, 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	// Mkdir, not MkdirAll: an existing archive must never be overwritten.
	if err := os.Mkdir(snap.Path, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrSnapshotExists, snap.Path)
		}
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}

	m.logger.Info("creating snapshot", "from", m.dataDir, "to", snap.Path)
	files, total, err := copyTree(ctx, m.dataDir, snap.Path)
	if err != nil {
		if rmErr := os.RemoveAll(snap.Path); rmErr != nil {
			m.logger.Warn("failed to remove partial snapshot", "path", snap.Path, "error", rmErr)
		}
		return nil, fmt.Errorf("copy %s to %s: %w", m.dataDir, snap.Path, err)
	}

	snap.Files = files
	snap.Bytes = total
	m.logger.Info("snapshot created", "name", name, "files", len(files), "bytes", total)
	return snap, nil
}

// List returns the archives under the history directory, oldest first.
// Entries whose names do not follow NameLayout are ignored.
func (m *FSManager) List(ctx context.Context) ([]Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(m.historyDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history directory: %w", err)
	}

	// ReadDir sorts by name and the layout sorts chronologically.
	var out []Snapshot
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		createdAt, err := parseName(entry.Name())
		if err != nil {
			continue
		}
		path := filepath.Join(m.historyDir, entry.Name())
		size, err := treeSize(ctx, path)
		if err != nil {
			return nil, err
		}
		out = append(out, Snapshot{Name: entry.Name(), Path: path, CreatedAt: createdAt, Bytes: size})
	}
	return out, nil
}

// Open resolves one archive by name.
func (m *FSManager) Open(ctx context.Context, name string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	createdAt, err := parseName(name)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(m.historyDir, name)
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("open snapshot %q: %w", name, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("snapshot path for %q is not a directory", name)
	}

	size, err := treeSize(ctx, path)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Name: name, Path: path, CreatedAt: createdAt, Bytes: size}, nil
}

// Restore copies the named archive into dst. dst must not exist or be an empty
// directory. The live data directory is never touched unless dst names it.
func (m *FSManager) Restore(ctx context.Context, name, dst string) error {
	snap, err := m.Open(ctx, name)
	if err != nil {
		return err
	}

	dst = filepath.Clean(dst)
	created, err := prepareDestination(dst)
	if err != nil {
		return err
	}

	m.logger.Info("restoring snapshot", "name", name, "to", dst)
	if _, _, err := copyTree(ctx, snap.Path, dst); err != nil {
		if created {
			_ = os.RemoveAll(dst)
		} else {
			_ = clearDir(dst)
		}
		return fmt.Errorf("restore %s to %s: %w", name, dst, err)
	}
	return nil
}

// Verify recomputes the archive digests and compares them with want.
func (m *FSManager) Verify(ctx context.Context, name string, want []FileDigest) error {
	snap, err := m.Open(ctx, name)
	if err != nil {
		return err
	}

	got, err := Digest(ctx, snap.Path)
	if err != nil {
		return fmt.Errorf("digest snapshot %q: %w", name, err)
	}

	if diffs := CompareDigests(want, got); len(diffs) > 0 {
		const maxShown = 5
		shown := diffs
		if len(shown) > maxShown {
			shown = shown[:maxShown]
		}
		return fmt.Errorf("%w: %s: %d difference(s): %s",
			ErrDigestMismatch, name, len(diffs), strings.Join(shown, ", "))
	}
	return nil
}

func parseName(name string) (time.Time, error) {
	if strings.ContainsAny(name, `/\`) {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	t, err := time.ParseInLocation(NameLayout, name, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return t, nil
}

// prepareDestination ensures dst exists and is empty. Reports whether it was created.
func prepareDestination(dst string) (bool, error) {
	info, err := os.Stat(dst)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return false, fmt.Errorf("create destination parent: %w", err)
		}
		if err := os.Mkdir(dst, 0o755); err != nil {
			return false, fmt.Errorf("create destination directory: %w", err)
		}
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat destination: %w", err)
	}
	if !info.IsDir() {
		return false, fmt.Errorf("%w: %s is not a directory", ErrDestinationNotEmpty, dst)
	}

	f, err := os.Open(dst)
	if err != nil {
		return false, fmt.Errorf("open destination: %w", err)
	}
	defer f.Close()
	if _, err := f.Readdirnames(1); !errors.Is(err, io.EOF) {
		if err != nil {
			return false, fmt.Errorf("read destination: %w", err)
		}
		return false, fmt.Errorf("%w: %s", ErrDestinationNotEmpty, dst)
	}
	return false, nil
}

func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func treeSize(ctx context.Context, dir string) (int64, error) {
	dir, err := resolveRoot(dir)
	if err != nil {
		return 0, err
	}
	var total int64
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("measure %s: %w", dir, err)
	}
	return total, nil
}
