// Package store implements the durable, transactional queue backing
// store described in spec.md §6: a single SQLite file per queue, opened
// in WAL mode so the submitting process, the spawn loop, and every
// worker can share it safely.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// execer is satisfied by both *sql.DB and *sql.Tx, matching how other
// storage packages in this codebase thread an optional transaction
// through to lower-level statements.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	app_name TEXT NOT NULL,
	app_hash TEXT NOT NULL,
	kind TEXT NOT NULL DEFAULT 'func',
	args BLOB,
	kwargs BLOB,
	deps TEXT NOT NULL DEFAULT '[]',
	state TEXT NOT NULL,
	result BLOB,
	errno INTEGER NOT NULL DEFAULT 0,
	out TEXT NOT NULL DEFAULT '',
	err TEXT NOT NULL DEFAULT '',
	jobid TEXT NOT NULL DEFAULT '',
	tm_config BLOB,
	t_created REAL NOT NULL,
	t_started REAL,
	t_finished REAL,
	t_heartbeat REAL
);
CREATE INDEX IF NOT EXISTS idx_tasks_state ON tasks(state);
CREATE INDEX IF NOT EXISTS idx_tasks_app_state ON tasks(app_name, state);

CREATE TABLE IF NOT EXISTS task_deps (
	task_id TEXT NOT NULL,
	dep_id  TEXT NOT NULL,
	PRIMARY KEY (task_id, dep_id)
);
CREATE INDEX IF NOT EXISTS idx_task_deps_dep ON task_deps(dep_id);

CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const (
	// MetaState is the meta key holding the queue's ACTIVE/PAUSED state.
	MetaState = "state"
	// MetaVersion is the meta key holding the schema version, bumped only
	// if a future migration changes the tables above.
	MetaVersion = "version"

	schemaVersion = "1"

	// StateActive and StatePaused are the queue-level states from
	// spec.md §3 ("Queue"), distinct from task.State.
	StateActive = "ACTIVE"
	StatePaused = "PAUSED"
)

// Store is a single queue's durable backing store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite file at path and ensures
// its schema and pragmas are in place.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// SQLite only tolerates one writer at a time; keep the pool small so
	// busy_timeout (not connection contention) is what serializes writers.
	db.SetMaxOpenConns(4)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}

	s := &Store{db: db}
	if err := s.ensureMetaDefaults(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureMetaDefaults(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO meta(key, value) VALUES (?, ?)`, MetaState, StateActive); err != nil {
		return fmt.Errorf("store: seed meta state: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO meta(key, value) VALUES (?, ?)`, MetaVersion, schemaVersion); err != nil {
		return fmt.Errorf("store: seed meta version: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetMeta reads a meta key, returning "" if unset.
func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: get meta %s: %w", key, err)
	}
	return value, nil
}

// SetMeta upserts a meta key.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO meta(key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("store: set meta %s: %w", key, err)
	}
	return nil
}

// Pause sets the queue's meta state to PAUSED. Gates new claims only;
// in-flight RUNNING tasks are left untouched (spec.md §5).
func (s *Store) Pause(ctx context.Context) error {
	return s.SetMeta(ctx, MetaState, StatePaused)
}

// Resume sets the queue's meta state back to ACTIVE.
func (s *Store) Resume(ctx context.Context) error {
	return s.SetMeta(ctx, MetaState, StateActive)
}

// IsPaused reports the current queue state.
func (s *Store) IsPaused(ctx context.Context) (bool, error) {
	v, err := s.GetMeta(ctx, MetaState)
	if err != nil {
		return false, err
	}
	return v == StatePaused, nil
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func fromUnixSeconds(v sql.NullFloat64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, int64(v.Float64*1e9))
	return &t
}

var _ execer = (*sql.DB)(nil)
var _ execer = (*sql.Tx)(nil)
