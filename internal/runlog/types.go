package runlog

import (
	"errors"
	"time"
)

// Status is the terminal or in-flight state of a run or stage.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
	StatusCanceled  Status = "canceled"
)

// Run is one orchestrator invocation as recorded in the run log.
type Run struct {
	ID         string        `json:"id"`
	Status     Status        `json:"status"`
	Source     string        `json:"source"` // cli, daemon
	FirstRun   bool          `json:"first_run"`
	Backup     bool          `json:"backup"`
	StagesDir  string        `json:"stages_dir"`
	Snapshot   *string       `json:"snapshot,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	Error      *string       `json:"error,omitempty"`
	Stages     []StageRecord `json:"stages,omitempty"`
}

// Duration returns the wall time of a finished run, or zero.
func (r Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// StageRecord is one stage execution within a run.
type StageRecord struct {
	Position  int           `json:"position"`
	Stage     string        `json:"stage"`
	Command   string        `json:"command"`
	Status    Status        `json:"status"`
	ExitCode  int           `json:"exit_code"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Stdout    string        `json:"stdout,omitempty"`
	Stderr    string        `json:"stderr,omitempty"`
}

var (
	// ErrRunNotFound is returned when no run matches the requested id.
	ErrRunNotFound = errors.New("run not found")

	// ErrAmbiguousRunID is returned when a run id prefix matches more than one run.
	ErrAmbiguousRunID = errors.New("run id prefix is ambiguous")

	// ErrSnapshotNotRecorded is returned when the run log holds no digests for a snapshot.
	ErrSnapshotNotRecorded = errors.New("snapshot not recorded in run log")
)

// StatusSimulated marks a stage that a dry run would have executed. It is never persisted.
const StatusSimulated Status = "simulated"
