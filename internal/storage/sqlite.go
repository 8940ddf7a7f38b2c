package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the run log database at path and
// ensures required tables exist. Network filesystems are rejected.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := requireLocal(path, filesystemType); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps per-connection pragmas in effect for every query.
	db.SetMaxOpenConns(1)

	// Basic health check + apply a few safe pragmas.
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign_keys: %w", err)
	}
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates the run log tables and indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
  id          TEXT PRIMARY KEY,
  status      TEXT NOT NULL,
  source      TEXT NOT NULL DEFAULT 'cli',
  first_run   INTEGER NOT NULL DEFAULT 0,
  backup      INTEGER NOT NULL DEFAULT 1,
  stages_dir  TEXT NOT NULL,
  snapshot    TEXT,
  started_at  TEXT NOT NULL,
  finished_at TEXT,
  error       TEXT
);`,
		`CREATE TABLE IF NOT EXISTS stage_log (
  id          INTEGER PRIMARY KEY AUTOINCREMENT,
  run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
  position    INTEGER NOT NULL,
  stage       TEXT NOT NULL,
  command     TEXT NOT NULL,
  status      TEXT NOT NULL,
  exit_code   INTEGER NOT NULL,
  started_at  TEXT NOT NULL,
  duration_ms INTEGER NOT NULL,
  stdout      TEXT,
  stderr      TEXT
);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
  name       TEXT PRIMARY KEY,
  run_id     TEXT REFERENCES runs(id) ON DELETE SET NULL,
  path       TEXT NOT NULL,
  created_at TEXT NOT NULL,
  files      INTEGER NOT NULL,
  bytes      INTEGER NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS snapshot_files (
  snapshot TEXT NOT NULL REFERENCES snapshots(name) ON DELETE CASCADE,
  path     TEXT NOT NULL,
  size     INTEGER NOT NULL,
  digest   TEXT NOT NULL,
  PRIMARY KEY (snapshot, path)
);`,
		`CREATE INDEX IF NOT EXISTS runs_started_at_idx ON runs(started_at);`,
		`CREATE INDEX IF NOT EXISTS stage_log_run_position_idx ON stage_log(run_id, position);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
