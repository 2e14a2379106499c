// Package store persists backend lifecycle events in SQLite so the desktop CLI
// can show what happened across runs.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/openprism/desktop/internal/supervisor"
)

// FileName is the database file created inside the data directory.
const FileName = "desktop.db"

// SQLiteStore records supervisor events.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens or creates the database at path. ":memory:" is accepted.
func Open(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
		path += "?_journal_mode=WAL&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// OpenDataDir opens the store inside dataDir.
func OpenDataDir(dataDir string) (*SQLiteStore, error) {
	return Open(filepath.Join(dataDir, FileName))
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS lifecycle_events (
		id TEXT PRIMARY KEY,
		handle_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		pid INTEGER,
		port INTEGER,
		detail TEXT,
		at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_lifecycle_events_handle ON lifecycle_events(handle_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Close releases the database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record implements supervisor.EventSink.
func (s *SQLiteStore) Record(ctx context.Context, ev supervisor.Event) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO lifecycle_events (id, handle_id, kind, pid, port, detail, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.HandleID, string(ev.Kind), ev.PID, ev.Port, ev.Detail, ev.At.UTC())
	if err != nil {
		return fmt.Errorf("record %s event: %w", ev.Kind, err)
	}
	return nil
}

// Recent returns up to limit events, newest first. ULIDs sort by creation
// time, so ordering by id breaks timestamp ties deterministically.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]supervisor.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, handle_id, kind, pid, port, detail, at
		FROM lifecycle_events ORDER BY at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ForHandle returns the events of one backend run in order.
func (s *SQLiteStore) ForHandle(ctx context.Context, handleID string) ([]supervisor.Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, handle_id, kind, pid, port, detail, at
		FROM lifecycle_events WHERE handle_id = ? ORDER BY at ASC, id ASC`, handleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// Prune deletes events older than cutoff and returns how many were removed.
func (s *SQLiteStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM lifecycle_events WHERE at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanEvents(rows *sql.Rows) ([]supervisor.Event, error) {
	var events []supervisor.Event
	for rows.Next() {
		var ev supervisor.Event
		var kind string
		var detail sql.NullString
		if err := rows.Scan(&ev.ID, &ev.HandleID, &kind, &ev.PID, &ev.Port, &detail, &ev.At); err != nil {
			return nil, err
		}
		ev.Kind = supervisor.EventKind(kind)
		ev.Detail = detail.String
		events = append(events, ev)
	}
	return events, rows.Err()
}
