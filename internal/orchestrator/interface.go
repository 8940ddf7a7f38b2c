package orchestrator

import (
	"context"
	"time"

	"github.com/mattjoyce/strata/internal/executor"
	"github.com/mattjoyce/strata/internal/runlog"
	"github.com/mattjoyce/strata/internal/snapshot"
	"github.com/mattjoyce/strata/internal/stage"
)

//go:generate mockgen -destination=mocks/mock_orchestrator.go -package=mocks github.com/mattjoyce/strata/internal/orchestrator Detector,Snapshotter,Discoverer,StageRunner,Recorder,Observer

// Detector decides whether this is the project's first run.
type Detector interface {
	IsFirstRun() (bool, error)
}

// Snapshotter archives the data directory before stages mutate it.
type Snapshotter interface {
	Create(ctx context.Context, simulate bool) (*snapshot.Snapshot, error)
}

// Discoverer lists the stages in a directory in execution order.
type Discoverer interface {
	Discover(dir string) ([]stage.Unit, error)
}

// StageRunner executes a single stage.
type StageRunner interface {
	Run(ctx context.Context, unit stage.Unit, simulate bool) (*executor.Result, error)
}

// Recorder persists run history. Never called during a dry run.
type Recorder interface {
	BeginRun(ctx context.Context, run runlog.Run) error
	RecordStage(ctx context.Context, runID string, rec runlog.StageRecord) error
	RecordSnapshot(ctx context.Context, runID string, snap *snapshot.Snapshot) error
	FinishRun(ctx context.Context, runID string, status runlog.Status, runErr error) error
}

// Observer receives progress notifications, e.g. for metrics.
type Observer interface {
	StateChanged(state State)
	SnapshotCreated(snap *snapshot.Snapshot)
	StageFinished(name string, status runlog.Status, duration time.Duration)
	RunFinished(state State, duration time.Duration)
}

type nopObserver struct{}

func (nopObserver) StateChanged(State)                                 {}
func (nopObserver) SnapshotCreated(*snapshot.Snapshot)                 {}
func (nopObserver) StageFinished(string, runlog.Status, time.Duration) {}
func (nopObserver) RunFinished(State, time.Duration)                   {}

// Observers fans notifications out to each non-nil observer in order.
func Observers(observers ...Observer) Observer {
	var out multiObserver
	for _, o := range observers {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

type multiObserver []Observer

func (m multiObserver) StateChanged(state State) {
	for _, o := range m {
		o.StateChanged(state)
	}
}

func (m multiObserver) SnapshotCreated(snap *snapshot.Snapshot) {
	for _, o := range m {
		o.SnapshotCreated(snap)
	}
}

func (m multiObserver) StageFinished(name string, status runlog.Status, duration time.Duration) {
	for _, o := range m {
		o.StageFinished(name, status, duration)
	}
}

func (m multiObserver) RunFinished(state State, duration time.Duration) {
	for _, o := range m {
		o.RunFinished(state, duration)
	}
}
