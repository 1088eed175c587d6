// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/shuklaaditya846/local-lm/internal/chat"
)

// =============================================================================
// SQLITE STORE
// =============================================================================

// SQLiteStore persists the collection in a SQLite database. Collection
// order is kept in an explicit position column so Load reproduces exactly
// what Save was given.
type SQLiteStore struct {
	db *sql.DB
}

// schema creates the tables on first open. Entries are stored per session
// with their own ordering column.
const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	position   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
	id            TEXT NOT NULL,
	session_id    TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	user_text     TEXT NOT NULL,
	response_text TEXT NOT NULL,
	timestamp     TEXT NOT NULL,
	position      INTEGER NOT NULL,
	PRIMARY KEY (session_id, position)
);
`

// OpenSQLiteStore opens (creating if needed) the database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Load reads the collection in stored order. Rows that fail to scan are
// skipped rather than failing the whole load.
func (s *SQLiteStore) Load() ([]*chat.Session, error) {
	rows, err := s.db.Query(`SELECT id, title, created_at, updated_at FROM sessions ORDER BY position`)
	if err != nil {
		return []*chat.Session{}, nil
	}
	defer rows.Close()

	var records []StoredSession
	for rows.Next() {
		var rec StoredSession
		var created, updated string
		if err := rows.Scan(&rec.ID, &rec.Title, &created, &updated); err != nil {
			continue
		}
		rec.CreatedAt = parseTime(created)
		rec.UpdatedAt = parseTime(updated)
		records = append(records, rec)
	}

	sessions := make([]*chat.Session, 0, len(records))
	for i := range records {
		if err := s.loadEntries(&records[i]); err != nil {
			continue
		}
		sessions = append(sessions, FromRecord(records[i]))
	}
	return sessions, nil
}

// loadEntries fills rec.Entries in stored order.
func (s *SQLiteStore) loadEntries(rec *StoredSession) error {
	rows, err := s.db.Query(
		`SELECT id, user_text, response_text, timestamp FROM entries WHERE session_id = ? ORDER BY position`,
		rec.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var e StoredEntry
		var ts string
		if err := rows.Scan(&e.ID, &e.UserText, &e.ResponseText, &ts); err != nil {
			return err
		}
		e.Timestamp = parseTime(ts)
		rec.Entries = append(rec.Entries, e)
	}
	return rows.Err()
}

// Save replaces the stored collection in one transaction.
func (s *SQLiteStore) Save(sessions []*chat.Session) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM entries`); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM sessions`); err != nil {
		return err
	}

	for pos, sess := range sessions {
		rec := ToRecord(sess)
		if _, err := tx.Exec(
			`INSERT INTO sessions (id, title, created_at, updated_at, position) VALUES (?, ?, ?, ?, ?)`,
			rec.ID, rec.Title, formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt), pos); err != nil {
			return err
		}
		for i, e := range rec.Entries {
			if _, err := tx.Exec(
				`INSERT INTO entries (id, session_id, user_text, response_text, timestamp, position) VALUES (?, ?, ?, ?, ?, ?)`,
				e.ID, rec.ID, e.UserText, e.ResponseText, formatTime(e.Timestamp), i); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
