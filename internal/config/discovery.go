package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// DiscoverConfigFile locates the config file to load.
// Order: explicit path, $STRATA_CONFIG, ./strata.yaml. Returns "" when none exists,
// in which case the caller runs on defaults.
func DiscoverConfigFile(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}

	if envPath := os.Getenv("STRATA_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err != nil {
			return "", fmt.Errorf("STRATA_CONFIG points to %s: %w", envPath, err)
		}
		return envPath, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolve working directory: %w", err)
	}
	candidate := filepath.Join(cwd, DefaultFilename)
	if fileExists(candidate) {
		return candidate, nil
	}
	return "", nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
