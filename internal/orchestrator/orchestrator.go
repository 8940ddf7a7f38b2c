// Package orchestrator drives one pipeline run: detect, snapshot, discover,
// then execute stages strictly in order, stopping at the first failure.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/strata/internal/executor"
	"github.com/mattjoyce/strata/internal/log"
	"github.com/mattjoyce/strata/internal/runlog"
	"github.com/mattjoyce/strata/internal/snapshot"
)

// Options is the immutable configuration of one run.
type Options struct {
	StagesDir string
	Backup    bool
	DryRun    bool
	Verbose   bool
	Source    string // recorded in the run log: cli, daemon
}

// Deps are the collaborators a run needs. Recorder and Observer are optional.
type Deps struct {
	Detector    Detector
	Snapshotter Snapshotter
	Discoverer  Discoverer
	Runner      StageRunner
	Recorder    Recorder
	Observer    Observer
}

// StageOutcome summarises one stage within a Report.
type StageOutcome struct {
	Name     string        `json:"name"`
	Status   runlog.Status `json:"status"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// Report describes a finished run.
type Report struct {
	RunID      string             `json:"run_id"`
	State      State              `json:"state"`
	FirstRun   bool               `json:"first_run"`
	DryRun     bool               `json:"dry_run"`
	Snapshot   *snapshot.Snapshot `json:"snapshot,omitempty"`
	Stages     []StageOutcome     `json:"stages"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Err        error              `json:"-"`
	Error      string             `json:"error,omitempty"`
}

// Orchestrator runs the pipeline once per call to Run.
type Orchestrator struct {
	opts Options
	deps Deps
	now  func() time.Time
}

// New validates deps and returns an Orchestrator.
func New(opts Options, deps Deps) (*Orchestrator, error) {
	if deps.Detector == nil || deps.Snapshotter == nil || deps.Discoverer == nil || deps.Runner == nil {
		return nil, fmt.Errorf("orchestrator: detector, snapshotter, discoverer and runner are required")
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if opts.Source == "" {
		opts.Source = "cli"
	}
	return &Orchestrator{opts: opts, deps: deps, now: time.Now}, nil
}

// run holds the mutable state of a single Run call.
type run struct {
	o        *Orchestrator
	report   *Report
	logger   *slog.Logger
	recorder Recorder
}

// Run executes the pipeline. The returned Report is always non-nil; err is
// the same value as Report.Err.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	r := &run{
		o: o,
		report: &Report{
			RunID:     uuid.NewString(),
			State:     StateInit,
			DryRun:    o.opts.DryRun,
			Stages:    []StageOutcome{},
			StartedAt: o.now(),
		},
	}
	r.logger = log.WithRun(r.report.RunID).With("component", "orchestrator")

	r.logger.Info("starting pipeline run", "stages_dir", o.opts.StagesDir, "backup", o.opts.Backup, "dry_run", o.opts.DryRun)

	if err := r.execute(ctx); err != nil {
		return r.fail(ctx, err)
	}
	return r.finish(ctx)
}

func (r *run) execute(ctx context.Context) error {
	o := r.o

	r.transition(StateDetecting)
	first, err := o.deps.Detector.IsFirstRun()
	if err != nil {
		return fmt.Errorf("detect first run: %w", err)
	}
	r.report.FirstRun = first
	r.begin(ctx)

	switch {
	case first:
		r.logger.Info("first run detected: data directory is missing or empty, skipping snapshot")
	case !o.opts.Backup:
		r.logger.Info("backup disabled, skipping snapshot")
	default:
		r.transition(StateSnapshotting)
		snap, err := o.deps.Snapshotter.Create(ctx, o.opts.DryRun)
		if err != nil {
			return fmt.Errorf("snapshot: %w", err)
		}
		r.report.Snapshot = snap
		if snap != nil && !o.opts.DryRun {
			o.deps.Observer.SnapshotCreated(snap)
			r.record("snapshot", func(rec Recorder) error {
				return rec.RecordSnapshot(context.WithoutCancel(ctx), r.report.RunID, snap)
			})
		}
	}

	r.transition(StateDiscovering)
	units, err := o.deps.Discoverer.Discover(o.opts.StagesDir)
	if err != nil {
		return fmt.Errorf("discover stages: %w", err)
	}
	if len(units) == 0 {
		return fmt.Errorf("%w in %s", ErrNoStages, o.opts.StagesDir)
	}

	r.transition(StateExecuting)
	for i, unit := range units {
		if err := ctx.Err(); err != nil {
			return err
		}

		started := o.now()
		res, err := o.deps.Runner.Run(ctx, unit, o.opts.DryRun)
		if o.opts.DryRun && err == nil {
			r.report.Stages = append(r.report.Stages, StageOutcome{Name: unit.Name, Status: runlog.StatusSimulated})
			continue
		}

		outcome := StageOutcome{Name: unit.Name, Status: stageStatus(err), ExitCode: -1}
		rec := runlog.StageRecord{
			Position:  i + 1,
			Stage:     unit.Name,
			Command:   strings.Join(unit.Command, " "),
			Status:    outcome.Status,
			ExitCode:  -1,
			StartedAt: started,
		}
		if res != nil {
			outcome.ExitCode = res.ExitCode
			outcome.Duration = res.Duration
			rec.ExitCode = res.ExitCode
			rec.StartedAt = res.StartedAt
			rec.Duration = res.Duration
			rec.Stdout = res.Stdout
			rec.Stderr = res.Stderr
		}
		r.report.Stages = append(r.report.Stages, outcome)
		o.deps.Observer.StageFinished(unit.Name, outcome.Status, outcome.Duration)
		r.record("stage", func(recorder Recorder) error {
			return recorder.RecordStage(context.WithoutCancel(ctx), r.report.RunID, rec)
		})

		if err != nil {
			if remaining := len(units) - i - 1; remaining > 0 {
				r.logger.Warn("halting pipeline, later stages will not run", "stage", unit.Name, "skipped", remaining)
			}
			return err
		}
	}
	return nil
}

// begin records the run start. Dry runs leave no trace in the run log, and a
// recorder that fails here is dropped for the rest of the run.
func (r *run) begin(ctx context.Context) {
	if r.o.opts.DryRun || r.o.deps.Recorder == nil {
		return
	}
	err := r.o.deps.Recorder.BeginRun(context.WithoutCancel(ctx), runlog.Run{
		ID:        r.report.RunID,
		Source:    r.o.opts.Source,
		FirstRun:  r.report.FirstRun,
		Backup:    r.o.opts.Backup,
		StagesDir: r.o.opts.StagesDir,
		StartedAt: r.report.StartedAt,
	})
	if err != nil {
		r.logger.Error("failed to record run start, continuing without run log", "error", err)
		return
	}
	r.recorder = r.o.deps.Recorder
}

func (r *run) record(what string, fn func(Recorder) error) {
	if r.recorder == nil {
		return
	}
	if err := fn(r.recorder); err != nil {
		r.logger.Error("failed to record "+what, "error", err)
	}
}

func (r *run) transition(to State) {
	from := r.report.State
	if !canTransition(from, to) {
		// Programming error; keep going but leave a trace.
		r.logger.Error("illegal state transition", "from", from, "to", to)
	}
	r.report.State = to
	r.logger.Debug("state transition", "from", from, "to", to)
	r.o.deps.Observer.StateChanged(to)
}

func (r *run) fail(ctx context.Context, err error) (*Report, error) {
	r.transition(StateFailed)
	r.report.Err = err
	r.report.Error = err.Error()
	r.report.FinishedAt = r.o.now()

	status := runlog.StatusFailed
	if errors.Is(err, context.Canceled) {
		status = runlog.StatusCanceled
	}
	r.record("run finish", func(rec Recorder) error {
		return rec.FinishRun(context.WithoutCancel(ctx), r.report.RunID, status, err)
	})

	duration := r.report.FinishedAt.Sub(r.report.StartedAt)
	r.o.deps.Observer.RunFinished(StateFailed, duration)
	r.logger.Error("pipeline failed", "error", err, "duration", duration)
	return r.report, err
}

func (r *run) finish(ctx context.Context) (*Report, error) {
	r.transition(StateDone)
	r.report.FinishedAt = r.o.now()
	r.record("run finish", func(rec Recorder) error {
		return rec.FinishRun(context.WithoutCancel(ctx), r.report.RunID, runlog.StatusSucceeded, nil)
	})

	duration := r.report.FinishedAt.Sub(r.report.StartedAt)
	r.o.deps.Observer.RunFinished(StateDone, duration)
	if r.o.opts.DryRun {
		r.logger.Info("dry run complete, nothing was changed", "stages", len(r.report.Stages))
	} else {
		r.logger.Info("pipeline completed without errors", "stages", len(r.report.Stages), "duration", duration)
	}
	return r.report, nil
}

func stageStatus(err error) runlog.Status {
	if err == nil {
		return runlog.StatusSucceeded
	}
	var stageErr *executor.StageError
	if errors.As(err, &stageErr) {
		switch {
		case stageErr.TimedOut:
			return runlog.StatusTimedOut
		case stageErr.Canceled:
			return runlog.StatusCanceled
		}
	}
	return runlog.StatusFailed
}
