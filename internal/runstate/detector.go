// Package runstate decides whether a run is the project's first.
package runstate

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// Detector inspects the data directory.
type Detector struct {
	dataDir string
}

// NewDetector returns a Detector for dataDir.
func NewDetector(dataDir string) *Detector {
	return &Detector{dataDir: dataDir}
}

// IsFirstRun reports true when the data directory is missing or holds no entries.
// Hidden files count as entries. A path that is not a directory is an error.
func (d *Detector) IsFirstRun() (bool, error) {
	info, err := os.Stat(d.dataDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return true, nil
		}
		return false, fmt.Errorf("stat data dir %s: %w", d.dataDir, err)
	}
	if !info.IsDir() {
		return false, fmt.Errorf("data dir %s is not a directory", d.dataDir)
	}

	f, err := os.Open(d.dataDir)
	if err != nil {
		return false, fmt.Errorf("open data dir %s: %w", d.dataDir, err)
	}
	defer f.Close()

	// One entry is enough to decide.
	_, err = f.Readdirnames(1)
	if errors.Is(err, io.EOF) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("read data dir %s: %w", d.dataDir, err)
	}
	return false, nil
}
