// Package history records download outcomes in a local SQLite
// database, capped to the most recent entries.
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const maxRecords = 100

const schema = `
CREATE TABLE IF NOT EXISTS downloads (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	tool TEXT NOT NULL,
	version TEXT NOT NULL,
	status TEXT NOT NULL,
	url TEXT,
	error TEXT,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_downloads_tool ON downloads(tool);`

// Statuses of a terminal download outcome.
const (
	StatusSuccess  = "success"
	StatusFailed   = "failed"
	StatusCanceled = "canceled"
)

// Record is one download outcome.
type Record struct {
	Tool      string    `json:"tool"`
	Version   string    `json:"version"`
	Status    string    `json:"status"`
	URL       string    `json:"url,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store persists download records.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the history database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history open: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history wal: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Add appends a record and prunes the table to the cap.
func (s *Store) Add(r Record) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		"INSERT INTO downloads (tool, version, status, url, error, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		r.Tool, r.Version, r.Status, r.URL, r.Error, r.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("history insert: %w", err)
	}
	_, err = s.db.Exec(
		"DELETE FROM downloads WHERE seq NOT IN (SELECT seq FROM downloads ORDER BY seq DESC LIMIT ?)",
		maxRecords,
	)
	if err != nil {
		return fmt.Errorf("history prune: %w", err)
	}
	return nil
}

// List returns records newest first, filtered to tool when non-empty.
func (s *Store) List(tool string) ([]Record, error) {
	query := "SELECT tool, version, status, url, error, created_at FROM downloads"
	var args []any
	if tool != "" {
		query += " WHERE tool = ?"
		args = append(args, tool)
	}
	query += " ORDER BY seq DESC"
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("history list: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var created string
		if err := rows.Scan(&r.Tool, &r.Version, &r.Status, &r.URL, &r.Error, &created); err != nil {
			return nil, fmt.Errorf("history scan: %w", err)
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Clear drops every record.
func (s *Store) Clear() error {
	_, err := s.db.Exec("DELETE FROM downloads")
	if err != nil {
		return fmt.Errorf("history clear: %w", err)
	}
	return nil
}
