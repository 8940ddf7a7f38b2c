package executor

import (
	"fmt"
	"strings"
)

// StageError reports a stage that did not finish successfully.
type StageError struct {
	Stage    string
	ExitCode int // -1 when the process never ran or was killed by a signal
	Stdout   string
	Stderr   string
	TimedOut bool
	Canceled bool
	Err      error // underlying cause, if any
}

func (e *StageError) Error() string {
	var b strings.Builder
	switch {
	case e.TimedOut:
		fmt.Fprintf(&b, "stage %s timed out", e.Stage)
	case e.Canceled:
		fmt.Fprintf(&b, "stage %s canceled", e.Stage)
	case e.ExitCode < 0 && e.Err != nil:
		fmt.Fprintf(&b, "stage %s could not run: %v", e.Stage, e.Err)
	default:
		fmt.Fprintf(&b, "stage %s failed (exit status %d)", e.Stage, e.ExitCode)
	}
	return b.String()
}

func (e *StageError) Unwrap() error {
	return e.Err
}
