package orchestrator_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/strata/internal/executor"
	"github.com/mattjoyce/strata/internal/orchestrator"
	"github.com/mattjoyce/strata/internal/orchestrator/mocks"
	"github.com/mattjoyce/strata/internal/runlog"
	"github.com/mattjoyce/strata/internal/snapshot"
	"github.com/mattjoyce/strata/internal/stage"
)

type harness struct {
	detector    *mocks.MockDetector
	snapshotter *mocks.MockSnapshotter
	discoverer  *mocks.MockDiscoverer
	runner      *mocks.MockStageRunner
	recorder    *mocks.MockRecorder
	observer    *mocks.MockObserver
}

func newHarness(t *testing.T) *harness {
	ctrl := gomock.NewController(t)
	return &harness{
		detector:    mocks.NewMockDetector(ctrl),
		snapshotter: mocks.NewMockSnapshotter(ctrl),
		discoverer:  mocks.NewMockDiscoverer(ctrl),
		runner:      mocks.NewMockStageRunner(ctrl),
		recorder:    mocks.NewMockRecorder(ctrl),
		observer:    mocks.NewMockObserver(ctrl),
	}
}

// deps wires the harness without recorder or observer; tests opt in.
func (h *harness) deps() orchestrator.Deps {
	return orchestrator.Deps{
		Detector:    h.detector,
		Snapshotter: h.snapshotter,
		Discoverer:  h.discoverer,
		Runner:      h.runner,
	}
}

func units(names ...string) []stage.Unit {
	out := make([]stage.Unit, len(names))
	for i, n := range names {
		out[i] = stage.Unit{Name: n, Path: "/stages/" + n, Command: []string{"python3", "/stages/" + n}}
	}
	return out
}

func ok(name string) *executor.Result {
	return &executor.Result{Stage: name, ExitCode: 0, Duration: 10 * time.Millisecond}
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := orchestrator.New(orchestrator.Options{}, orchestrator.Deps{})
	assert.Error(t, err)
}

func TestRunStopsAtFirstFailingStage(t *testing.T) {
	h := newHarness(t)
	snap := &snapshot.Snapshot{Name: "20260102_030405", Path: "/history/20260102_030405"}
	stages := units("01_a.py", "02_b.py", "03_c.py")
	failure := &executor.StageError{Stage: "02_b.py", ExitCode: 3, Stderr: "boom"}

	h.detector.EXPECT().IsFirstRun().Return(false, nil)
	h.snapshotter.EXPECT().Create(gomock.Any(), false).Return(snap, nil)
	h.discoverer.EXPECT().Discover("/stages").Return(stages, nil)
	gomock.InOrder(
		h.runner.EXPECT().Run(gomock.Any(), stages[0], false).Return(ok("01_a.py"), nil),
		h.runner.EXPECT().Run(gomock.Any(), stages[1], false).Return(&executor.Result{Stage: "02_b.py", ExitCode: 3, Stderr: "boom"}, failure),
	)
	// No expectation for stages[2]: gomock fails the test if it is invoked.

	var recorded []runlog.StageRecord
	h.recorder.EXPECT().BeginRun(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, run runlog.Run) error {
		assert.False(t, run.FirstRun)
		assert.True(t, run.Backup)
		assert.Equal(t, "/stages", run.StagesDir)
		assert.Equal(t, "cli", run.Source)
		return nil
	})
	h.recorder.EXPECT().RecordSnapshot(gomock.Any(), gomock.Any(), snap).Return(nil)
	h.recorder.EXPECT().RecordStage(gomock.Any(), gomock.Any(), gomock.Any()).Times(2).
		DoAndReturn(func(_ context.Context, _ string, rec runlog.StageRecord) error {
			recorded = append(recorded, rec)
			return nil
		})
	h.recorder.EXPECT().FinishRun(gomock.Any(), gomock.Any(), runlog.StatusFailed, failure).Return(nil)

	deps := h.deps()
	deps.Recorder = h.recorder
	o, err := orchestrator.New(orchestrator.Options{StagesDir: "/stages", Backup: true}, deps)
	require.NoError(t, err)

	report, err := o.Run(context.Background())
	require.Error(t, err)

	var stageErr *executor.StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, "02_b.py", stageErr.Stage)
	assert.Equal(t, orchestrator.StateFailed, report.State)
	assert.Equal(t, snap, report.Snapshot)
	require.Len(t, report.Stages, 2)
	assert.Equal(t, runlog.StatusSucceeded, report.Stages[0].Status)
	assert.Equal(t, runlog.StatusFailed, report.Stages[1].Status)
	assert.Equal(t, 3, report.Stages[1].ExitCode)
	assert.Equal(t, err.Error(), report.Error)

	require.Len(t, recorded, 2)
	assert.Equal(t, 1, recorded[0].Position)
	assert.Equal(t, "python3 /stages/01_a.py", recorded[0].Command)
	assert.Equal(t, 2, recorded[1].Position)
	assert.Equal(t, "boom", recorded[1].Stderr)
}

func TestRunSkipsSnapshotOnFirstRun(t *testing.T) {
	h := newHarness(t)
	stages := units("01_a.py")

	h.detector.EXPECT().IsFirstRun().Return(true, nil)
	h.snapshotter.EXPECT().Create(gomock.Any(), gomock.Any()).Times(0)
	h.discoverer.EXPECT().Discover(gomock.Any()).Return(stages, nil)
	h.runner.EXPECT().Run(gomock.Any(), stages[0], false).Return(ok("01_a.py"), nil)

	o, err := orchestrator.New(orchestrator.Options{StagesDir: "/stages", Backup: true}, h.deps())
	require.NoError(t, err)

	report, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.FirstRun)
	assert.Nil(t, report.Snapshot)
	assert.Equal(t, orchestrator.StateDone, report.State)
}

func TestRunSkipsSnapshotWhenBackupDisabled(t *testing.T) {
	h := newHarness(t)
	stages := units("01_a.py")

	h.detector.EXPECT().IsFirstRun().Return(false, nil)
	h.snapshotter.EXPECT().Create(gomock.Any(), gomock.Any()).Times(0)
	h.discoverer.EXPECT().Discover(gomock.Any()).Return(stages, nil)
	h.runner.EXPECT().Run(gomock.Any(), stages[0], false).Return(ok("01_a.py"), nil)

	o, err := orchestrator.New(orchestrator.Options{StagesDir: "/stages", Backup: false}, h.deps())
	require.NoError(t, err)

	report, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, report.FirstRun)
	assert.Nil(t, report.Snapshot)
}

func TestRunDryRunSimulatesWithoutRecording(t *testing.T) {
	h := newHarness(t)
	stages := units("01_a.py", "02_b.py")
	wouldBe := &snapshot.Snapshot{Name: "20260102_030405", Path: "/history/20260102_030405"}

	h.detector.EXPECT().IsFirstRun().Return(false, nil)
	h.snapshotter.EXPECT().Create(gomock.Any(), true).Return(wouldBe, nil)
	h.discoverer.EXPECT().Discover(gomock.Any()).Return(stages, nil)
	h.runner.EXPECT().Run(gomock.Any(), gomock.Any(), true).Return(nil, nil).Times(2)
	// Recorder has no expectations: any call fails the test.

	deps := h.deps()
	deps.Recorder = h.recorder
	o, err := orchestrator.New(orchestrator.Options{StagesDir: "/stages", Backup: true, DryRun: true}, deps)
	require.NoError(t, err)

	report, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, wouldBe, report.Snapshot)
	require.Len(t, report.Stages, 2)
	for _, s := range report.Stages {
		assert.Equal(t, runlog.StatusSimulated, s.Status)
	}
}

func TestRunFailsWhenNoStages(t *testing.T) {
	h := newHarness(t)

	h.detector.EXPECT().IsFirstRun().Return(true, nil)
	h.discoverer.EXPECT().Discover("/empty").Return(nil, nil)

	o, err := orchestrator.New(orchestrator.Options{StagesDir: "/empty", Backup: true, DryRun: true}, h.deps())
	require.NoError(t, err)

	report, err := o.Run(context.Background())
	require.ErrorIs(t, err, orchestrator.ErrNoStages)
	assert.Contains(t, err.Error(), "/empty")
	assert.Equal(t, orchestrator.StateFailed, report.State)
	assert.Empty(t, report.Stages)
}

func TestRunSnapshotFailureStopsBeforeDiscovery(t *testing.T) {
	h := newHarness(t)
	diskFull := errors.New("no space left on device")

	h.detector.EXPECT().IsFirstRun().Return(false, nil)
	h.snapshotter.EXPECT().Create(gomock.Any(), false).Return(nil, diskFull)
	h.discoverer.EXPECT().Discover(gomock.Any()).Times(0)
	h.runner.EXPECT().Run(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	o, err := orchestrator.New(orchestrator.Options{StagesDir: "/stages", Backup: true}, h.deps())
	require.NoError(t, err)

	_, err = o.Run(context.Background())
	require.ErrorIs(t, err, diskFull)
}

func TestRunDetectionFailureRecordsNothing(t *testing.T) {
	h := newHarness(t)

	h.detector.EXPECT().IsFirstRun().Return(false, errors.New("data is not a directory"))

	deps := h.deps()
	deps.Recorder = h.recorder
	o, err := orchestrator.New(orchestrator.Options{StagesDir: "/stages", Backup: true}, deps)
	require.NoError(t, err)

	report, err := o.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, orchestrator.StateFailed, report.State)
}

func TestRunStateTransitions(t *testing.T) {
	h := newHarness(t)
	stages := units("01_a.py")
	snap := &snapshot.Snapshot{Name: "20260102_030405"}

	h.detector.EXPECT().IsFirstRun().Return(false, nil)
	h.snapshotter.EXPECT().Create(gomock.Any(), false).Return(snap, nil)
	h.discoverer.EXPECT().Discover(gomock.Any()).Return(stages, nil)
	h.runner.EXPECT().Run(gomock.Any(), stages[0], false).Return(ok("01_a.py"), nil)

	var seen []orchestrator.State
	h.observer.EXPECT().StateChanged(gomock.Any()).AnyTimes().Do(func(s orchestrator.State) {
		seen = append(seen, s)
	})
	h.observer.EXPECT().SnapshotCreated(snap)
	h.observer.EXPECT().StageFinished("01_a.py", runlog.StatusSucceeded, 10*time.Millisecond)
	h.observer.EXPECT().RunFinished(orchestrator.StateDone, gomock.Any())

	deps := h.deps()
	deps.Observer = h.observer
	o, err := orchestrator.New(orchestrator.Options{StagesDir: "/stages", Backup: true}, deps)
	require.NoError(t, err)

	_, err = o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []orchestrator.State{
		orchestrator.StateDetecting,
		orchestrator.StateSnapshotting,
		orchestrator.StateDiscovering,
		orchestrator.StateExecuting,
		orchestrator.StateDone,
	}, seen)
}

func TestRunCanceledBeforeNextStage(t *testing.T) {
	h := newHarness(t)
	stages := units("01_a.py", "02_b.py")
	ctx, cancel := context.WithCancel(context.Background())

	h.detector.EXPECT().IsFirstRun().Return(true, nil)
	h.discoverer.EXPECT().Discover(gomock.Any()).Return(stages, nil)
	h.runner.EXPECT().Run(gomock.Any(), stages[0], false).DoAndReturn(
		func(context.Context, stage.Unit, bool) (*executor.Result, error) {
			cancel()
			return ok("01_a.py"), nil
		})
	h.recorder.EXPECT().BeginRun(gomock.Any(), gomock.Any()).Return(nil)
	h.recorder.EXPECT().RecordStage(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	h.recorder.EXPECT().FinishRun(gomock.Any(), gomock.Any(), runlog.StatusCanceled, gomock.Any()).Return(nil)

	deps := h.deps()
	deps.Recorder = h.recorder
	o, err := orchestrator.New(orchestrator.Options{StagesDir: "/stages", Backup: true}, deps)
	require.NoError(t, err)

	report, err := o.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, report.Stages, 1)
}

func TestRunContinuesWhenBeginRunFails(t *testing.T) {
	h := newHarness(t)
	stages := units("01_a.py")

	h.detector.EXPECT().IsFirstRun().Return(true, nil)
	h.discoverer.EXPECT().Discover(gomock.Any()).Return(stages, nil)
	h.runner.EXPECT().Run(gomock.Any(), stages[0], false).Return(ok("01_a.py"), nil)
	h.recorder.EXPECT().BeginRun(gomock.Any(), gomock.Any()).Return(errors.New("database is locked"))
	// Once BeginRun fails the recorder is not called again.

	deps := h.deps()
	deps.Recorder = h.recorder
	o, err := orchestrator.New(orchestrator.Options{StagesDir: "/stages", Backup: true}, deps)
	require.NoError(t, err)

	report, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StateDone, report.State)
}

func TestRunReportsTimedOutStage(t *testing.T) {
	h := newHarness(t)
	stages := units("01_slow.py")
	timeout := &executor.StageError{Stage: "01_slow.py", ExitCode: -1, TimedOut: true}

	h.detector.EXPECT().IsFirstRun().Return(true, nil)
	h.discoverer.EXPECT().Discover(gomock.Any()).Return(stages, nil)
	h.runner.EXPECT().Run(gomock.Any(), stages[0], false).Return(&executor.Result{Stage: "01_slow.py", ExitCode: -1}, timeout)

	o, err := orchestrator.New(orchestrator.Options{StagesDir: "/stages"}, h.deps())
	require.NoError(t, err)

	report, err := o.Run(context.Background())
	require.ErrorIs(t, err, timeout)
	require.Len(t, report.Stages, 1)
	assert.Equal(t, runlog.StatusTimedOut, report.Stages[0].Status)
	assert.Equal(t, -1, report.Stages[0].ExitCode)
}

func TestObserversFanOut(t *testing.T) {
	h := newHarness(t)
	second := newHarness(t).observer

	h.observer.EXPECT().StateChanged(orchestrator.StateDone)
	second.EXPECT().StateChanged(orchestrator.StateDone)
	h.observer.EXPECT().RunFinished(orchestrator.StateDone, time.Second)
	second.EXPECT().RunFinished(orchestrator.StateDone, time.Second)

	obs := orchestrator.Observers(h.observer, nil, second)
	obs.StateChanged(orchestrator.StateDone)
	obs.RunFinished(orchestrator.StateDone, time.Second)
}
