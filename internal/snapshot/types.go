package snapshot

import (
	"context"
	"time"
)

// NameLayout is the time layout of archive directory names (YYYYMMDD_HHMMSS).
const NameLayout = "20060102_150405"

// FileDigest records one archived file.
type FileDigest struct {
	Path   string `json:"path"` // slash-separated, relative to the archive root
	Size   int64  `json:"size"`
	Digest string `json:"digest"` // hex BLAKE3
}

// Snapshot describes one archive under the history directory.
//
// The archive root is the copied data directory itself; metadata such as
// digests lives in the run log, never inside the archive.
type Snapshot struct {
	Name      string       `json:"name"`
	Path      string       `json:"path"`
	CreatedAt time.Time    `json:"created_at"`
	Files     []FileDigest `json:"files,omitempty"`
	Bytes     int64        `json:"bytes"`
}

// Manager governs the lifecycle of data directory snapshots.
type Manager interface {
	// Create archives the data directory. Returns nil when there is nothing to protect.
	Create(ctx context.Context, simulate bool) (*Snapshot, error)

	// List returns archives oldest first.
	List(ctx context.Context) ([]Snapshot, error)

	// Open resolves an existing archive by name.
	Open(ctx context.Context, name string) (*Snapshot, error)

	// Restore copies an archive into dst, which must be absent or empty.
	Restore(ctx context.Context, name, dst string) error

	// Verify checks an archive against previously recorded digests.
	Verify(ctx context.Context, name string, want []FileDigest) error
}
