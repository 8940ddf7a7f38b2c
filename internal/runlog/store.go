// Package runlog persists runs, stage executions and snapshot digests in SQLite.
package runlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mattjoyce/strata/internal/snapshot"
)

const (
	// maxOutputBytes caps the stdout/stderr stored per stage.
	maxOutputBytes = 64 * 1024

	// timeLayout is fixed width so stored timestamps sort lexically.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// Store reads and writes the run log.
type Store struct {
	db *sql.DB
}

// New wraps an open database created by storage.OpenSQLite.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// BeginRun inserts run with status running.
func (s *Store) BeginRun(ctx context.Context, run Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id is empty")
	}
	if run.Source == "" {
		run.Source = "cli"
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO runs(id, status, source, first_run, backup, stages_dir, started_at)
VALUES(?, ?, ?, ?, ?, ?, ?);
`, run.ID, StatusRunning, run.Source, run.FirstRun, run.Backup, run.StagesDir, formatTime(run.StartedAt))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RecordStage appends one stage execution. Each stream keeps its last 64 KiB.
func (s *Store) RecordStage(ctx context.Context, runID string, rec StageRecord) error {
	if runID == "" {
		return fmt.Errorf("run id is empty")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO stage_log(run_id, position, stage, command, status, exit_code, started_at, duration_ms, stdout, stderr)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, runID, rec.Position, rec.Stage, rec.Command, rec.Status, rec.ExitCode, formatTime(rec.StartedAt),
		rec.Duration.Milliseconds(), truncate(rec.Stdout), truncate(rec.Stderr))
	if err != nil {
		return fmt.Errorf("insert stage_log: %w", err)
	}
	return nil
}

// RecordSnapshot stores an archive and its file digests and links it to runID.
func (s *Store) RecordSnapshot(ctx context.Context, runID string, snap *snapshot.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("snapshot is nil")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var runRef any
	if runID != "" {
		runRef = runID
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO snapshots(name, run_id, path, created_at, files, bytes)
VALUES(?, ?, ?, ?, ?, ?);
`, snap.Name, runRef, snap.Path, formatTime(snap.CreatedAt), len(snap.Files), snap.Bytes); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO snapshot_files(snapshot, path, size, digest) VALUES(?, ?, ?, ?);`)
	if err != nil {
		return fmt.Errorf("prepare snapshot_files: %w", err)
	}
	defer stmt.Close()
	for _, f := range snap.Files {
		if _, err := stmt.ExecContext(ctx, snap.Name, f.Path, f.Size, f.Digest); err != nil {
			return fmt.Errorf("insert snapshot file %s: %w", f.Path, err)
		}
	}

	if runID != "" {
		if _, err := tx.ExecContext(ctx, `UPDATE runs SET snapshot = ? WHERE id = ?;`, snap.Name, runID); err != nil {
			return fmt.Errorf("link snapshot to run: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// FinishRun marks a run terminal. runErr may be nil.
func (s *Store) FinishRun(ctx context.Context, runID string, status Status, runErr error) error {
	if status == StatusRunning {
		return fmt.Errorf("invalid terminal status: %q", status)
	}

	var errMsg any
	if runErr != nil {
		errMsg = runErr.Error()
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE runs SET status = ?, finished_at = ?, error = ? WHERE id = ?;
`, status, formatTime(time.Now()), errMsg, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// ListRuns returns up to limit runs, newest first. Stage records are not loaded.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, status, source, first_run, backup, stages_dir, snapshot, started_at, finished_at, error
FROM runs
ORDER BY started_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// GetRun returns one run with its stage records. id may be a unique prefix.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("run id is empty")
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, status, source, first_run, backup, stages_dir, snapshot, started_at, finished_at, error
FROM runs
WHERE id = ? OR id LIKE ? ESCAPE '\'
ORDER BY (id = ?) DESC
LIMIT 2;
`, id, escapeLike(id)+"%", id)
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}

	var matches []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		matches = append(matches, run)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}

	switch {
	case len(matches) == 0:
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	case matches[0].ID == id:
	case len(matches) > 1:
		return nil, fmt.Errorf("%w: %s", ErrAmbiguousRunID, id)
	}
	run := matches[0]

	stages, err := s.stagesFor(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	run.Stages = stages
	return run, nil
}

// SnapshotDigests returns the file digests recorded when a snapshot was created.
func (s *Store) SnapshotDigests(ctx context.Context, name string) ([]snapshot.FileDigest, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots WHERE name = ?;`, name).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("lookup snapshot: %w", err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotRecorded, name)
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT path, size, digest FROM snapshot_files WHERE snapshot = ? ORDER BY path ASC;
`, name)
	if err != nil {
		return nil, fmt.Errorf("list snapshot files: %w", err)
	}
	defer rows.Close()

	digests := []snapshot.FileDigest{}
	for rows.Next() {
		var d snapshot.FileDigest
		if err := rows.Scan(&d.Path, &d.Size, &d.Digest); err != nil {
			return nil, fmt.Errorf("scan snapshot file: %w", err)
		}
		digests = append(digests, d)
	}
	return digests, rows.Err()
}

func (s *Store) stagesFor(ctx context.Context, runID string) ([]StageRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT position, stage, command, status, exit_code, started_at, duration_ms, stdout, stderr
FROM stage_log
WHERE run_id = ?
ORDER BY position ASC, id ASC;
`, runID)
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	defer rows.Close()

	var out []StageRecord
	for rows.Next() {
		var (
			rec        StageRecord
			statusS    string
			startedAtS string
			durationMs int64
			stdout     sql.NullString
			stderr     sql.NullString
		)
		if err := rows.Scan(&rec.Position, &rec.Stage, &rec.Command, &statusS, &rec.ExitCode,
			&startedAtS, &durationMs, &stdout, &stderr); err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		rec.Status = Status(statusS)
		rec.StartedAt = parseTime(startedAtS)
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		rec.Stdout = stdout.String
		rec.Stderr = stderr.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		r            Run
		statusS      string
		snapshotName sql.NullString
		startedAtS   string
		finishedAtS  sql.NullString
		errMsg       sql.NullString
	)
	if err := row.Scan(&r.ID, &statusS, &r.Source, &r.FirstRun, &r.Backup, &r.StagesDir,
		&snapshotName, &startedAtS, &finishedAtS, &errMsg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}

	r.Status = Status(statusS)
	r.StartedAt = parseTime(startedAtS)
	if snapshotName.Valid {
		r.Snapshot = &snapshotName.String
	}
	if finishedAtS.Valid {
		t := parseTime(finishedAtS.String)
		r.FinishedAt = &t
	}
	if errMsg.Valid {
		r.Error = &errMsg.String
	}
	return &r, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// truncate keeps the last maxOutputBytes of s, where stage failures are
// reported. The cut never splits a UTF-8 sequence.
func truncate(s string) string {
	if len(s) <= maxOutputBytes {
		return s
	}
	cut := len(s) - maxOutputBytes
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return s[cut:]
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
