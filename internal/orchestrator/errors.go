package orchestrator

import "errors"

// ErrNoStages is returned when discovery finds nothing to run.
var ErrNoStages = errors.New("no stages to run")
