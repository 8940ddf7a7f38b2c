package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/strata/internal/events"
	"github.com/mattjoyce/strata/internal/runlog"
	"github.com/mattjoyce/strata/internal/snapshot"
)

// mockRuns implements RunReader for testing
type mockRuns struct {
	listRunsFunc func(ctx context.Context, limit int) ([]runlog.Run, error)
	getRunFunc   func(ctx context.Context, id string) (*runlog.Run, error)
}

func (m *mockRuns) ListRuns(ctx context.Context, limit int) ([]runlog.Run, error) {
	if m.listRunsFunc == nil {
		return nil, nil
	}
	return m.listRunsFunc(ctx, limit)
}

func (m *mockRuns) GetRun(ctx context.Context, id string) (*runlog.Run, error) {
	if m.getRunFunc == nil {
		return nil, fmt.Errorf("%w: %s", runlog.ErrRunNotFound, id)
	}
	return m.getRunFunc(ctx, id)
}

// mockSnapshots implements SnapshotLister for testing
type mockSnapshots struct {
	snaps []snapshot.Snapshot
	err   error
}

func (m *mockSnapshots) List(ctx context.Context) ([]snapshot.Snapshot, error) {
	return m.snaps, m.err
}

type mockSchedule struct {
	next time.Time
}

func (m *mockSchedule) Next() time.Time             { return m.next }
func (m *mockSchedule) LastRun() (time.Time, error) { return time.Time{}, nil }

func newTestServer(token string, deps Deps) *Server {
	if deps.Runs == nil {
		deps.Runs = &mockRuns{}
	}
	if deps.Snapshots == nil {
		deps.Snapshots = &mockSnapshots{}
	}
	return New(Config{Listen: "localhost:0", Token: token}, deps, slog.Default())
}

func do(t *testing.T, s *Server, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func sampleRun(id string, status runlog.Status) runlog.Run {
	started := time.Date(2026, 4, 1, 3, 0, 0, 0, time.UTC)
	finished := started.Add(90 * time.Second)
	snap := "20260401_030000"
	return runlog.Run{
		ID:         id,
		Status:     status,
		Source:     "daemon",
		Backup:     true,
		StagesDir:  "/proj/scripts",
		Snapshot:   &snap,
		StartedAt:  started,
		FinishedAt: &finished,
	}
}

func TestHandleHealthz_NoAuth(t *testing.T) {
	next := time.Date(2026, 4, 2, 3, 0, 0, 0, time.UTC)
	s := newTestServer("secret", Deps{
		Runs: &mockRuns{listRunsFunc: func(ctx context.Context, limit int) ([]runlog.Run, error) {
			assert.Equal(t, 1, limit)
			return []runlog.Run{sampleRun("run-1", runlog.StatusSucceeded)}, nil
		}},
		Schedule: &mockSchedule{next: next},
	})

	rec := do(t, s, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthzResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
	require.NotNil(t, resp.LastRun)
	assert.Equal(t, "run-1", resp.LastRun.ID)
	assert.Equal(t, int64(90000), resp.LastRun.DurationMS)
	require.NotNil(t, resp.NextRunAt)
	assert.True(t, next.Equal(*resp.NextRunAt))
}

func TestHandleHealthz_RunLogError(t *testing.T) {
	s := newTestServer("", Deps{
		Runs: &mockRuns{listRunsFunc: func(ctx context.Context, limit int) ([]runlog.Run, error) {
			return nil, errors.New("database is locked")
		}},
	})

	rec := do(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer("secret", Deps{})

	for _, path := range []string{"/runs", "/runs/abc", "/snapshots"} {
		t.Run(path, func(t *testing.T) {
			assert.Equal(t, http.StatusUnauthorized, do(t, s, http.MethodGet, path, "").Code)
			assert.Equal(t, http.StatusUnauthorized, do(t, s, http.MethodGet, path, "wrong").Code)
		})
	}
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/runs", "secret").Code)
}

func TestNoTokenLeavesRoutesOpen(t *testing.T) {
	s := newTestServer("", Deps{})
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/runs", "").Code)
}

func TestHandleListRuns(t *testing.T) {
	var gotLimit int
	s := newTestServer("", Deps{
		Runs: &mockRuns{listRunsFunc: func(ctx context.Context, limit int) ([]runlog.Run, error) {
			gotLimit = limit
			return []runlog.Run{
				sampleRun("run-2", runlog.StatusFailed),
				sampleRun("run-1", runlog.StatusSucceeded),
			}, nil
		}},
	})

	rec := do(t, s, http.MethodGet, "/runs?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, gotLimit)

	var resp RunListResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Runs, 2)
	assert.Equal(t, "run-2", resp.Runs[0].ID)
	assert.Equal(t, runlog.StatusFailed, resp.Runs[0].Status)

	do(t, s, http.MethodGet, "/runs?limit=100000", "")
	assert.Equal(t, maxListLimit, gotLimit)
}

func TestHandleListRuns_BadLimit(t *testing.T) {
	s := newTestServer("", Deps{})
	for _, v := range []string{"0", "-1", "ten"} {
		assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/runs?limit="+v, "").Code, v)
	}
}

func TestHandleListRuns_EmptyIsArray(t *testing.T) {
	s := newTestServer("", Deps{})
	rec := do(t, s, http.MethodGet, "/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"runs":[]}`, rec.Body.String())
}

func TestHandleGetRun(t *testing.T) {
	s := newTestServer("", Deps{
		Runs: &mockRuns{getRunFunc: func(ctx context.Context, id string) (*runlog.Run, error) {
			switch id {
			case "run-1":
				run := sampleRun("run-1", runlog.StatusFailed)
				run.Stages = []runlog.StageRecord{
					{Position: 1, Stage: "01_a.py", Status: runlog.StatusSucceeded},
					{Position: 2, Stage: "02_b.py", Status: runlog.StatusFailed, ExitCode: 1, Stderr: "boom"},
				}
				return &run, nil
			case "r":
				return nil, fmt.Errorf("%w: %s", runlog.ErrAmbiguousRunID, id)
			case "broken":
				return nil, errors.New("disk I/O error")
			}
			return nil, fmt.Errorf("%w: %s", runlog.ErrRunNotFound, id)
		}},
	})

	rec := do(t, s, http.MethodGet, "/runs/run-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp RunDetailResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "run-1", resp.ID)
	assert.Equal(t, "/proj/scripts", resp.StagesDir)
	require.Len(t, resp.Stages, 2)
	assert.Equal(t, "boom", resp.Stages[1].Stderr)

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/runs/nope", "").Code)
	assert.Equal(t, http.StatusConflict, do(t, s, http.MethodGet, "/runs/r", "").Code)
	assert.Equal(t, http.StatusInternalServerError, do(t, s, http.MethodGet, "/runs/broken", "").Code)
}

func TestHandleListSnapshots(t *testing.T) {
	s := newTestServer("", Deps{
		Snapshots: &mockSnapshots{snaps: []snapshot.Snapshot{
			{Name: "20260401_030000", Path: "/proj/history/20260401_030000", Bytes: 42},
		}},
	})

	rec := do(t, s, http.MethodGet, "/snapshots", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp SnapshotListResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Snapshots, 1)
	assert.Equal(t, int64(42), resp.Snapshots[0].Bytes)

	failing := newTestServer("", Deps{Snapshots: &mockSnapshots{err: errors.New("permission denied")}})
	assert.Equal(t, http.StatusInternalServerError, do(t, failing, http.MethodGet, "/snapshots", "").Code)
}

func TestMetricsRouteOptional(t *testing.T) {
	without := newTestServer("", Deps{})
	assert.Equal(t, http.StatusNotFound, do(t, without, http.MethodGet, "/metrics", "").Code)

	with := newTestServer("secret", Deps{Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "strata_runs_total 1\n")
	})})
	rec := do(t, with, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "strata_runs_total")
}

func TestOpenAPIDocListsServedRoutes(t *testing.T) {
	s := newTestServer("secret", Deps{Events: events.NewHub(1)})
	rec := do(t, s, http.MethodGet, "/openapi.json", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var doc map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&doc))
	paths := doc["paths"].(map[string]any)
	assert.Contains(t, paths, "/runs/{runID}")
	assert.Contains(t, paths, "/events")
	assert.NotContains(t, paths, "/metrics")
}

func TestHandleEventsStreamsBufferedAndLive(t *testing.T) {
	hub := events.NewHub(10)
	hub.Publish(events.TypeStateChanged, map[string]string{"state": "executing"})

	s := newTestServer("", Deps{Events: hub})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Frames are read on a goroutine; it stops when the body closes.
	frames := make(chan []string, 16)
	go func() {
		defer close(frames)
		reader := bufio.NewReader(resp.Body)
		var lines []string
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimRight(line, "\n")
			if line != "" {
				lines = append(lines, line)
				continue
			}
			frames <- lines
			lines = nil
		}
	}()

	select {
	case first := <-frames:
		assert.Equal(t, []string{"id: 1", "event: run.state", `data: {"state":"executing"}`}, first)
	case <-time.After(5 * time.Second):
		t.Fatal("buffered event not replayed")
	}

	// The subscription is registered after the replay; publish until one arrives live.
	deadline := time.After(5 * time.Second)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case live, ok := <-frames:
			require.True(t, ok, "stream closed early")
			assert.Contains(t, live, "event: run.finished")
			return
		case <-ticker.C:
			hub.Publish(events.TypeRunFinished, map[string]string{"state": "done"})
		case <-deadline:
			t.Fatal("no live event received")
		}
	}
}

func TestParseLastEventID(t *testing.T) {
	assert.Equal(t, int64(0), parseLastEventID(""))
	assert.Equal(t, int64(0), parseLastEventID("-3"))
	assert.Equal(t, int64(0), parseLastEventID("abc"))
	assert.Equal(t, int64(12), parseLastEventID("12"))
}

func TestParseTypes(t *testing.T) {
	assert.Nil(t, parseTypes(""))
	assert.True(t, parseTypes("").has(events.TypeRunFinished))

	f := parseTypes(" stage.finished , ,run.finished")
	assert.Len(t, f, 2)
	assert.True(t, f.has(events.TypeStageFinished))
	assert.False(t, f.has(events.TypeStateChanged))
}

func TestHandleEventsFiltersTypes(t *testing.T) {
	hub := events.NewHub(10)
	hub.Publish(events.TypeStateChanged, map[string]string{"state": "executing"})
	hub.Publish(events.TypeStageFinished, map[string]string{"stage": "01_a.py"})

	ts := httptest.NewServer(newTestServer("", Deps{Events: hub}).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/events?types=stage.finished")
	require.NoError(t, err)
	defer resp.Body.Close()

	first := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(resp.Body).ReadString('\n')
		first <- strings.TrimRight(line, "\n")
	}()

	select {
	case line := <-first:
		assert.Equal(t, "id: 2", line, "the state event must be filtered out")
	case <-time.After(5 * time.Second):
		t.Fatal("filtered event not replayed")
	}
}
