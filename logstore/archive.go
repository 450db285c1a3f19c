package logstore

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

const archiveSchema = `
CREATE TABLE IF NOT EXISTS log_entries (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	session TEXT NOT NULL,
	entry_id INTEGER NOT NULL,
	ts TEXT NOT NULL,
	kind TEXT NOT NULL,
	tool TEXT,
	request_id INTEGER,
	body BLOB NOT NULL
);`

// Archive is an append-only SQLite sink for log entries. The in-memory store
// stays the source of truth; the archive survives wrapper restarts and is
// meant for offline inspection.
type Archive struct {
	db      *sql.DB
	session string
}

// NewArchive opens (or creates) an archive database at path. The session id
// tags every row written by this wrapper process.
func NewArchive(path, session string) (*Archive, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("logstore: archive path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("logstore: archive open: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("logstore: archive set WAL mode: %w", err)
	}
	if _, err := db.Exec(archiveSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("logstore: archive create schema: %w", err)
	}

	return &Archive{db: db, session: session}, nil
}

// Append writes one entry row.
func (a *Archive) Append(e Entry) error {
	body, err := e.MarshalJSON()
	if err != nil {
		return fmt.Errorf("logstore: archive encode entry: %w", err)
	}
	_, err = a.db.Exec(
		"INSERT INTO log_entries (session, entry_id, ts, kind, tool, request_id, body) VALUES (?, ?, ?, ?, ?, ?, ?)",
		a.session, e.ID, e.Timestamp.Format("2006-01-02T15:04:05.999999999Z07:00"), string(e.Kind), e.Tool, e.RequestID, body,
	)
	if err != nil {
		return fmt.Errorf("logstore: archive insert: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (a *Archive) Close() error {
	return a.db.Close()
}
