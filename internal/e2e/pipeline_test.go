package e2e

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/strata/internal/api"
	"github.com/mattjoyce/strata/internal/events"
	"github.com/mattjoyce/strata/internal/executor"
	"github.com/mattjoyce/strata/internal/log"
	"github.com/mattjoyce/strata/internal/metrics"
	"github.com/mattjoyce/strata/internal/orchestrator"
	"github.com/mattjoyce/strata/internal/runlog"
	"github.com/mattjoyce/strata/internal/runstate"
	"github.com/mattjoyce/strata/internal/snapshot"
	"github.com/mattjoyce/strata/internal/stage"
	"github.com/mattjoyce/strata/internal/storage"
)

type env struct {
	root      string
	dataDir   string
	stagesDir string
	store     *runlog.Store
	snaps     *snapshot.FSManager
	collector *metrics.Collector
	hub       *events.Hub
}

func newEnv(t *testing.T) *env {
	t.Helper()
	log.Setup("error", "text")

	root := t.TempDir()
	e := &env{
		root:      root,
		dataDir:   filepath.Join(root, "data"),
		stagesDir: filepath.Join(root, "scripts"),
		collector: metrics.New(),
		hub:       events.NewHub(64),
	}
	require.NoError(t, os.MkdirAll(e.stagesDir, 0o755))

	db, err := storage.OpenSQLite(context.Background(), filepath.Join(root, ".strata", "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	e.store = runlog.New(db)

	e.snaps, err = snapshot.NewFSManager(e.dataDir, filepath.Join(root, "history"))
	require.NoError(t, err)
	return e
}

func (e *env) writeStage(t *testing.T, name, script string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(e.stagesDir, name), []byte(script), 0o755))
}

func (e *env) orchestrator(t *testing.T) *orchestrator.Orchestrator {
	t.Helper()
	opts := stage.DefaultOptions()
	opts.Patterns = []string{"*.sh"}
	opts.Interpreters = map[string][]string{".sh": {"/bin/sh"}}

	orch, err := orchestrator.New(orchestrator.Options{
		StagesDir: e.stagesDir,
		Backup:    true,
		Source:    "cli",
	}, orchestrator.Deps{
		Detector:    runstate.NewDetector(e.dataDir),
		Snapshotter: e.snaps,
		Discoverer:  stage.NewFinder(opts, func(string, string, ...any) {}),
		Runner:      executor.New(executor.Options{WorkDir: e.root, GracePeriod: time.Second}),
		Recorder:    e.store,
		Observer:    orchestrator.Observers(e.collector, events.NewObserver(e.hub)),
	})
	require.NoError(t, err)
	return orch
}

func TestEndToEndPipeline(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// 1. A first run populates data/ from nothing.
	e.writeStage(t, "01_extract.sh", "mkdir -p data\necho 'id,value' > data/table.csv\necho '1,a' >> data/table.csv\n")
	e.writeStage(t, "02_transform.sh", "echo '2,b' >> data/table.csv\necho transformed\n")

	report, err := e.orchestrator(t).Run(ctx)
	require.NoError(t, err)
	assert.True(t, report.FirstRun)
	assert.Nil(t, report.Snapshot)
	assert.Equal(t, orchestrator.StateDone, report.State)
	require.Len(t, report.Stages, 2)
	for _, s := range report.Stages {
		assert.Equal(t, runlog.StatusSucceeded, s.Status)
	}

	goodData, err := os.ReadFile(filepath.Join(e.dataDir, "table.csv"))
	require.NoError(t, err)
	assert.Equal(t, "id,value\n1,a\n2,b\n", string(goodData))

	// 2. The transform is broken: it clobbers the table and then fails.
	e.writeStage(t, "02_transform.sh", "echo garbage > data/table.csv\necho 'parse error' >&2\nexit 4\n")
	e.writeStage(t, "03_publish.sh", "touch published\n")

	report, err = e.orchestrator(t).Run(ctx)
	require.Error(t, err)
	var stageErr *executor.StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, "02_transform.sh", stageErr.Stage)
	assert.Equal(t, 4, stageErr.ExitCode)

	assert.False(t, report.FirstRun)
	assert.Equal(t, orchestrator.StateFailed, report.State)
	require.NotNil(t, report.Snapshot)
	require.Len(t, report.Stages, 2, "the stage after the failure must not run")
	assert.NoFileExists(t, filepath.Join(e.root, "published"))

	// 3. The run log has both runs with their stage records.
	runs, err := e.store.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, runlog.StatusFailed, runs[0].Status)
	assert.Equal(t, runlog.StatusSucceeded, runs[1].Status)

	failed, err := e.store.GetRun(ctx, report.RunID)
	require.NoError(t, err)
	require.NotNil(t, failed.Snapshot)
	assert.Equal(t, report.Snapshot.Name, *failed.Snapshot)
	require.Len(t, failed.Stages, 2)
	assert.Equal(t, 4, failed.Stages[1].ExitCode)
	assert.Contains(t, failed.Stages[1].Stderr, "parse error")

	// 4. The snapshot holds the data as it was before the failed run.
	digests, err := e.store.SnapshotDigests(ctx, report.Snapshot.Name)
	require.NoError(t, err)
	require.NoError(t, e.snaps.Verify(ctx, report.Snapshot.Name, digests))

	restored := filepath.Join(e.root, "restored")
	require.NoError(t, e.snaps.Restore(ctx, report.Snapshot.Name, restored))
	got, err := os.ReadFile(filepath.Join(restored, "table.csv"))
	require.NoError(t, err)
	assert.Equal(t, string(goodData), string(got))

	// 5. Observers saw both runs.
	series, err := testutil.GatherAndCount(e.collector.Registry(), "strata_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 2, series, "one series per final state")

	finished := 0
	for _, ev := range e.hub.Since(0) {
		if ev.Type == events.TypeRunFinished {
			finished++
		}
	}
	assert.Equal(t, 2, finished)

	// 6. The API serves the same history.
	srv := httptest.NewServer(api.New(api.Config{}, api.Deps{
		Runs:      e.store,
		Snapshots: e.snaps,
		Events:    e.hub,
		Metrics:   e.collector.Handler(),
	}, log.Get()).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/runs")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list api.RunListResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list.Runs, 2)
	assert.Equal(t, report.RunID, list.Runs[0].ID)

	metricsResp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	body := new(strings.Builder)
	_, err = io.Copy(body, metricsResp.Body)
	require.NoError(t, err)
	assert.Contains(t, body.String(), "strata_stage_executions_total")
}
