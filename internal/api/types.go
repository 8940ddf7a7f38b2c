package api

import (
	"time"

	"github.com/mattjoyce/strata/internal/runlog"
	"github.com/mattjoyce/strata/internal/snapshot"
)

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string     `json:"status"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	LastRun       *RunBrief  `json:"last_run,omitempty"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
}

// RunBrief summarises a run without its stage output.
type RunBrief struct {
	ID         string        `json:"id"`
	Status     runlog.Status `json:"status"`
	Source     string        `json:"source"`
	FirstRun   bool          `json:"first_run"`
	Snapshot   *string       `json:"snapshot,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	DurationMS int64         `json:"duration_ms"`
	Error      *string       `json:"error,omitempty"`
}

// RunListResponse is returned by GET /runs.
type RunListResponse struct {
	Runs []RunBrief `json:"runs"`
}

// RunDetailResponse is returned by GET /runs/{runID}.
type RunDetailResponse struct {
	RunBrief
	StagesDir string               `json:"stages_dir"`
	Stages    []runlog.StageRecord `json:"stage_log"`
}

// SnapshotListResponse is returned by GET /snapshots.
type SnapshotListResponse struct {
	Snapshots []snapshot.Snapshot `json:"snapshots"`
}

func briefOf(run runlog.Run) RunBrief {
	return RunBrief{
		ID:         run.ID,
		Status:     run.Status,
		Source:     run.Source,
		FirstRun:   run.FirstRun,
		Snapshot:   run.Snapshot,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		DurationMS: run.Duration().Milliseconds(),
		Error:      run.Error,
	}
}
