package inspect

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/strata/internal/orchestrator"
	"github.com/mattjoyce/strata/internal/runlog"
	"github.com/mattjoyce/strata/internal/snapshot"
	"github.com/mattjoyce/strata/internal/stage"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestPrinter() (*Printer, *bytes.Buffer) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	p.now = func() time.Time { return testNow }
	return p, &buf
}

func ptr[T any](v T) *T { return &v }

func TestRunsTable(t *testing.T) {
	t.Parallel()
	p, buf := newTestPrinter()

	started := testNow.Add(-2 * time.Hour)
	finished := started.Add(90 * time.Second)
	p.Runs([]runlog.Run{
		{
			ID:         "0f8fad5b-d9cb-469f-a165-70867728950e",
			Status:     runlog.StatusSucceeded,
			Source:     "daemon",
			StartedAt:  started,
			FinishedAt: &finished,
			Snapshot:   ptr("20260301_100000"),
		},
		{
			ID:        "7c9e6679-7425-40de-944b-e07fc1f90ae7",
			Status:    runlog.StatusRunning,
			Source:    "cli",
			StartedAt: testNow.Add(-time.Minute),
		},
	})

	out := buf.String()
	for _, want := range []string{"RUN", "0f8fad5b", "succeeded", "daemon", "1m30s", "20260301_100000", "2 hours ago", "7c9e6679", "running"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got:\n%s", want, out)
		}
	}
	if strings.Contains(out, "0f8fad5b-d9cb") {
		t.Fatalf("expected shortened run id, got:\n%s", out)
	}
}

func TestRunsEmpty(t *testing.T) {
	t.Parallel()
	p, buf := newTestPrinter()
	p.Runs(nil)
	if !strings.Contains(buf.String(), "No runs recorded.") {
		t.Fatalf("unexpected output: %s", buf.String())
	}
}

func TestRunDetail(t *testing.T) {
	t.Parallel()

	started := testNow.Add(-time.Hour)
	finished := started.Add(3 * time.Second)
	run := &runlog.Run{
		ID:         "0f8fad5b-d9cb-469f-a165-70867728950e",
		Status:     runlog.StatusFailed,
		Source:     "cli",
		Backup:     true,
		StagesDir:  "/srv/project/scripts",
		StartedAt:  started,
		FinishedAt: &finished,
		Error:      ptr("stage 02_transform.py exited with code 3"),
		Stages: []runlog.StageRecord{
			{Position: 1, Stage: "01_extract.py", Command: "python3 01_extract.py", Status: runlog.StatusSucceeded, Duration: time.Second, Stdout: "fetched 10 rows\n"},
			{Position: 2, Stage: "02_transform.py", Command: "python3 02_transform.py", Status: runlog.StatusFailed, ExitCode: 3, Duration: 2 * time.Second, Stderr: "boom\ntraceback\n"},
		},
	}

	t.Run("summary", func(t *testing.T) {
		t.Parallel()
		p, buf := newTestPrinter()
		p.Run(run, false)
		out := buf.String()
		for _, want := range []string{"Run 0f8fad5b-d9cb-469f-a165-70867728950e", "failed", "/srv/project/scripts", "Duration    : 3s", "<none>", "exited with code 3", "[1] 01_extract.py", "[2] 02_transform.py", "exit=3", "python3 02_transform.py"} {
			if !strings.Contains(out, want) {
				t.Fatalf("expected %q in output, got:\n%s", want, out)
			}
		}
		if strings.Contains(out, "boom") {
			t.Fatalf("captured output should be hidden, got:\n%s", out)
		}
	})

	t.Run("with output", func(t *testing.T) {
		t.Parallel()
		p, buf := newTestPrinter()
		p.Run(run, true)
		out := buf.String()
		for _, want := range []string{"stdout:", "      fetched 10 rows", "stderr:", "      boom", "      traceback"} {
			if !strings.Contains(out, want) {
				t.Fatalf("expected %q in output, got:\n%s", want, out)
			}
		}
	})
}

func TestRunDetailBackupDisabled(t *testing.T) {
	t.Parallel()
	p, buf := newTestPrinter()
	p.Run(&runlog.Run{ID: "abc", Status: runlog.StatusRunning, StartedAt: testNow}, false)
	out := buf.String()
	if !strings.Contains(out, "<backup disabled>") || !strings.Contains(out, "No stages recorded.") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	if strings.Contains(out, "Duration") {
		t.Fatalf("unfinished run should have no duration:\n%s", out)
	}
}

func TestSnapshots(t *testing.T) {
	t.Parallel()
	p, buf := newTestPrinter()
	p.Snapshots([]snapshot.Snapshot{
		{Name: "20260301_090000", CreatedAt: testNow.Add(-3 * time.Hour), Bytes: 1500},
		{Name: "20260301_110000", CreatedAt: testNow.Add(-time.Hour), Bytes: 2_000_000},
	})
	out := buf.String()
	for _, want := range []string{"NAME", "20260301_090000", "1.5 kB", "3 hours ago", "2.0 MB", "2.0 MB in 2 snapshots"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got:\n%s", want, out)
		}
	}
}

func TestSnapshotsEmpty(t *testing.T) {
	t.Parallel()
	p, buf := newTestPrinter()
	p.Snapshots(nil)
	if !strings.Contains(buf.String(), "No snapshots.") {
		t.Fatalf("unexpected output: %s", buf.String())
	}
}

func TestStages(t *testing.T) {
	t.Parallel()
	p, buf := newTestPrinter()
	p.Stages([]stage.Unit{
		{Name: "01_extract.py", Command: []string{"python3", "/p/01_extract.py"}, Description: "pull raw data"},
		{Name: "02_load.sh", Command: []string{"/p/02_load.sh"}, DependsOn: []string{"01_extract.py"}, Timeout: time.Minute},
	})
	out := buf.String()
	for _, want := range []string{"STAGE", "1    01_extract.py", "python3 /p/01_extract.py", "pull raw data", "2    02_load.sh", "after 01_extract.py; timeout 1m0s"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got:\n%s", want, out)
		}
	}
}

func TestReport(t *testing.T) {
	t.Parallel()

	t.Run("failed", func(t *testing.T) {
		t.Parallel()
		p, buf := newTestPrinter()
		p.Report(&orchestrator.Report{
			RunID:      "0f8fad5b-d9cb-469f-a165-70867728950e",
			State:      orchestrator.StateFailed,
			Snapshot:   &snapshot.Snapshot{Name: "20260301_110000", Bytes: 2048},
			Stages:     []orchestrator.StageOutcome{{Name: "01_a.py", Status: runlog.StatusFailed, Duration: 250 * time.Millisecond}},
			StartedAt:  testNow,
			FinishedAt: testNow.Add(time.Second),
			Err:        errors.New("exit 1"),
			Error:      "exit 1",
		})
		out := buf.String()
		for _, want := range []string{"Pipeline failed", "(0f8fad5b)", "snapshot: 20260301_110000 (2.0 kB)", "[1] 01_a.py", "250ms", "error: exit 1", "took 1s"} {
			if !strings.Contains(out, want) {
				t.Fatalf("expected %q in output, got:\n%s", want, out)
			}
		}
	})

	t.Run("dry run", func(t *testing.T) {
		t.Parallel()
		p, buf := newTestPrinter()
		p.Report(&orchestrator.Report{
			RunID:    "r1",
			State:    orchestrator.StateDone,
			DryRun:   true,
			Snapshot: &snapshot.Snapshot{Name: "20260301_110000"},
			Stages:   []orchestrator.StageOutcome{{Name: "01_a.py", Status: runlog.StatusSimulated}},
		})
		out := buf.String()
		for _, want := range []string{"Dry run complete", "would create 20260301_110000", "simulated"} {
			if !strings.Contains(out, want) {
				t.Fatalf("expected %q in output, got:\n%s", want, out)
			}
		}
	})

	t.Run("first run", func(t *testing.T) {
		t.Parallel()
		p, buf := newTestPrinter()
		p.Report(&orchestrator.Report{RunID: "r2", State: orchestrator.StateDone, FirstRun: true})
		if !strings.Contains(buf.String(), "skipped, first run") {
			t.Fatalf("unexpected output:\n%s", buf.String())
		}
	})
}

func TestJSON(t *testing.T) {
	t.Parallel()
	p, buf := newTestPrinter()
	if err := p.JSON(map[string]any{"run_id": "abc"}); err != nil {
		t.Fatalf("JSON: %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if got["run_id"] != "abc" {
		t.Fatalf("unexpected payload: %v", got)
	}
}
