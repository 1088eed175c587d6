// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package history

import (
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/shuklaaditya846/local-lm/internal/chat"
	"github.com/shuklaaditya846/local-lm/internal/util"
)

// =============================================================================
// STORE CONTRACT
// =============================================================================

// Store is the persistence boundary for the session collection.
type Store interface {
	// Load returns the stored sessions in collection order. Missing or
	// corrupt data yields an empty collection, not an error.
	Load() ([]*chat.Session, error)

	// Save replaces the stored collection. Atomic from the caller's
	// perspective.
	Save(sessions []*chat.Session) error
}

// =============================================================================
// STORED RECORD TYPES
// =============================================================================

// StoredSession is the serialized form of one session.
type StoredSession struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	Entries   []StoredEntry `json:"entries"`
}

// StoredEntry is the serialized form of one entry.
type StoredEntry struct {
	ID           string    `json:"id"`
	UserText     string    `json:"user_text,omitempty"`
	ResponseText string    `json:"response_text,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// ToRecord converts a live session into its stored form.
func ToRecord(s *chat.Session) StoredSession {
	entries := s.Snapshot()
	rec := StoredSession{
		ID:        s.ID(),
		Title:     s.Title(),
		CreatedAt: s.CreatedAt(),
		UpdatedAt: s.UpdatedAt(),
		Entries:   make([]StoredEntry, len(entries)),
	}
	for i, e := range entries {
		rec.Entries[i] = StoredEntry{
			ID:           e.ID,
			UserText:     e.UserText,
			ResponseText: e.ResponseText,
			Timestamp:    e.Timestamp,
		}
	}
	return rec
}

// FromRecord rebuilds a live session from its stored form.
func FromRecord(rec StoredSession) *chat.Session {
	entries := make([]*chat.Entry, len(rec.Entries))
	for i, e := range rec.Entries {
		entries[i] = &chat.Entry{
			ID:           e.ID,
			UserText:     e.UserText,
			ResponseText: e.ResponseText,
			Timestamp:    e.Timestamp,
		}
	}
	return chat.Restore(rec.ID, rec.Title, rec.CreatedAt, rec.UpdatedAt, entries)
}

// =============================================================================
// JSON FILE STORE
// =============================================================================

// FileStore persists the collection as a single JSON document.
type FileStore struct {
	// Path is the JSON file holding the collection.
	Path string
}

// NewFileStore creates a file store at path. The parent directory is
// created on the first Save, not here.
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// Load reads the collection. A missing file or undecodable content is
// treated as "no history".
func (s *FileStore) Load() ([]*chat.Session, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return []*chat.Session{}, nil
		}
		return nil, err
	}

	var records []StoredSession
	if err := json.Unmarshal(data, &records); err != nil {
		// Corrupt history is not fatal; start fresh.
		return []*chat.Session{}, nil
	}

	sessions := make([]*chat.Session, 0, len(records))
	for _, rec := range records {
		sessions = append(sessions, FromRecord(rec))
	}
	return sessions, nil
}

// Save writes the collection with an atomic rename.
func (s *FileStore) Save(sessions []*chat.Session) error {
	records := make([]StoredSession, len(sessions))
	for i, sess := range sessions {
		records[i] = ToRecord(sess)
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}

	// RELIABILITY: Atomic write with fsync prevents data loss on crash
	return util.AtomicWriteFile(s.Path, data, 0644)
}

// =============================================================================
// SEARCH
// =============================================================================

// Search returns the sessions whose title or entry content contains query,
// case-insensitive, preserving collection order. An empty query matches
// everything.
func Search(sessions []*chat.Session, query string) []*chat.Session {
	if query == "" {
		return sessions
	}
	query = strings.ToLower(query)

	var results []*chat.Session
	for _, sess := range sessions {
		if strings.Contains(strings.ToLower(sess.Title()), query) {
			results = append(results, sess)
			continue
		}
		for _, e := range sess.Snapshot() {
			if strings.Contains(strings.ToLower(e.Content()), query) {
				results = append(results, sess)
				break
			}
		}
	}
	return results
}
