package stage

import "errors"

var (
	// ErrInvalidUnit is returned when a matched file cannot be run.
	ErrInvalidUnit = errors.New("invalid stage unit")

	// ErrManifest is returned when the stage manifest is malformed or inconsistent.
	ErrManifest = errors.New("invalid stage manifest")
)
