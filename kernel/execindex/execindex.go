// Package execindex persists a durable, queryable record of command
// executions across process restarts. kernel/engine.Engine's own map is
// in-memory only and is lost on restart; Index gives the embedder a place
// to record each terminal transition and look executions back up later.
package execindex

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	driver  = "sqlite"
	dsnOpts = "?_pragma=busy_timeout(3000)&_pragma=journal_mode(WAL)"
)

// Entry is one durably indexed execution.
type Entry struct {
	ExecutionID string
	SessionID   string
	CommandName string
	State       string
	BackupID    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Index is a sqlite-backed durable store of execution terminal states.
type Index struct {
	db *sql.DB
}

// Open opens (creating if needed) the index database at path.
func Open(path string) (*Index, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("execindex: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("execindex: create dir: %w", err)
	}
	db, err := sql.Open(driver, path+dsnOpts)
	if err != nil {
		return nil, fmt.Errorf("execindex: open db: %w", err)
	}
	idx := &Index{db: db}
	if err := idx.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return idx, nil
}

// Close releases the underlying database handle.
func (i *Index) Close() error {
	if i == nil || i.db == nil {
		return nil
	}
	return i.db.Close()
}

func (i *Index) migrate(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS executions (
	execution_id TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL DEFAULT '',
	command_name TEXT NOT NULL,
	state        TEXT NOT NULL,
	backup_id    TEXT NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executions_session
ON executions(session_id, updated_at DESC);`
	_, err := i.db.ExecContext(ctx, ddl)
	if err != nil {
		return fmt.Errorf("execindex: migrate: %w", err)
	}
	return nil
}

// Upsert records or updates e's terminal state.
func (i *Index) Upsert(e Entry) error {
	if i == nil || i.db == nil {
		return nil
	}
	if strings.TrimSpace(e.ExecutionID) == "" {
		return fmt.Errorf("execindex: execution_id is required")
	}
	const q = `
INSERT INTO executions (execution_id, session_id, command_name, state, backup_id, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(execution_id) DO UPDATE SET
	state = excluded.state,
	backup_id = excluded.backup_id,
	updated_at = excluded.updated_at`
	_, err := i.db.ExecContext(context.Background(), q,
		e.ExecutionID, e.SessionID, e.CommandName, e.State, e.BackupID,
		e.CreatedAt.UnixMilli(), e.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("execindex: upsert %s: %w", e.ExecutionID, err)
	}
	return nil
}

// ListSession returns every indexed execution for sessionID, most recently
// updated first.
func (i *Index) ListSession(sessionID string, limit int) ([]Entry, error) {
	if i == nil || i.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT execution_id, session_id, command_name, state, backup_id, created_at, updated_at
FROM executions
WHERE session_id = ?
ORDER BY updated_at DESC
LIMIT ?`
	rows, err := i.db.QueryContext(context.Background(), q, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("execindex: list session %s: %w", sessionID, err)
	}
	defer rows.Close()

	out := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		var createdAt, updatedAt int64
		if err := rows.Scan(&e.ExecutionID, &e.SessionID, &e.CommandName, &e.State, &e.BackupID, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("execindex: scan row: %w", err)
		}
		e.CreatedAt = time.UnixMilli(createdAt)
		e.UpdatedAt = time.UnixMilli(updatedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Get looks up one execution by id.
func (i *Index) Get(executionID string) (Entry, bool, error) {
	if i == nil || i.db == nil {
		return Entry{}, false, nil
	}
	const q = `
SELECT execution_id, session_id, command_name, state, backup_id, created_at, updated_at
FROM executions WHERE execution_id = ?`
	var e Entry
	var createdAt, updatedAt int64
	err := i.db.QueryRowContext(context.Background(), q, executionID).
		Scan(&e.ExecutionID, &e.SessionID, &e.CommandName, &e.State, &e.BackupID, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("execindex: get %s: %w", executionID, err)
	}
	e.CreatedAt = time.UnixMilli(createdAt)
	e.UpdatedAt = time.UnixMilli(updatedAt)
	return e, true, nil
}
