package snapshot

import "errors"

var (
	// ErrSnapshotExists is returned when an archive with the same name is already present.
	ErrSnapshotExists = errors.New("snapshot already exists")

	// ErrNotFound is returned when no archive has the requested name.
	ErrNotFound = errors.New("snapshot not found")

	// ErrInvalidName is returned for names that do not follow NameLayout.
	ErrInvalidName = errors.New("invalid snapshot name")

	// ErrDestinationNotEmpty is returned when a restore target already has content.
	ErrDestinationNotEmpty = errors.New("restore destination is not empty")

	// ErrDigestMismatch is returned when an archive differs from its recorded digests.
	ErrDigestMismatch = errors.New("snapshot digest mismatch")
)
