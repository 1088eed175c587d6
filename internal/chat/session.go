// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shuklaaditya846/local-lm/internal/engine"
)

// DefaultTitle is the sentinel title a session starts with. It is overwritten
// at most once, by the title generation protocol or its fallback.
const DefaultTitle = "New Chat"

// =============================================================================
// SESSION TYPE
// =============================================================================

// Session holds one conversation: an ordered sequence of entries plus
// display metadata.
//
// A Session is safe for concurrent use. The streaming goroutine extends the
// last assistant entry while the controller and front-end read snapshots.
type Session struct {
	mu sync.RWMutex

	id        string
	title     string
	entries   []*Entry
	createdAt time.Time
	updatedAt time.Time
}

// NewSession creates an empty session with a generated ID and the sentinel
// title.
func NewSession() *Session {
	now := time.Now()
	return &Session{
		id:        generateSessionID(),
		title:     DefaultTitle,
		entries:   make([]*Entry, 0),
		createdAt: now,
		updatedAt: now,
	}
}

// Restore rebuilds a session from persisted state. Used by the history
// stores; entries are adopted as-is.
func Restore(id, title string, createdAt, updatedAt time.Time, entries []*Entry) *Session {
	if title == "" {
		title = DefaultTitle
	}
	return &Session{
		id:        id,
		title:     title,
		entries:   entries,
		createdAt: createdAt,
		updatedAt: updatedAt,
	}
}

// =============================================================================
// ACCESSORS
// =============================================================================

// ID returns the immutable session ID.
func (s *Session) ID() string {
	return s.id
}

// Title returns the current display title.
func (s *Session) Title() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.title
}

// CreatedAt returns the immutable creation time.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// UpdatedAt returns the time of the last mutation.
func (s *Session) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// Len returns the number of entries.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// IsEmpty returns true if the session has no entries.
func (s *Session) IsEmpty() bool {
	return s.Len() == 0
}

// EntryAt returns a copy of the entry at index i, or false if out of range.
func (s *Session) EntryAt(i int) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 || i >= len(s.entries) {
		return Entry{}, false
	}
	return *s.entries[i], true
}

// Snapshot returns value copies of all entries in order. Safe to iterate
// while streaming continues.
func (s *Session) Snapshot() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	for i, e := range s.entries {
		out[i] = *e
	}
	return out
}

// Preview returns a short preview of the first user entry for listings.
func (s *Session) Preview() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		if e.IsUser() {
			return e.Preview(80)
		}
	}
	return "Empty session"
}

// =============================================================================
// MUTATION
// =============================================================================

// AppendUser appends a user entry and returns a copy of it.
func (s *Session) AppendUser(text string) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := NewUserEntry(text)
	s.entries = append(s.entries, e)
	s.updatedAt = time.Now()
	return *e
}

// ExtendAssistant applies the streaming mutation rule: if the last entry is
// a user entry, a new assistant entry is appended holding the joined token
// buffer, with a fresh ID and the user entry's timestamp; otherwise the last
// entry's response text is replaced with the buffer, preserving its identity.
//
// Returns false if the session is empty (nothing to attach a response to).
func (s *Session) ExtendAssistant(buffer string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return false
	}
	last := s.entries[len(s.entries)-1]
	if last.IsUser() {
		e := NewAssistantEntry(last.Timestamp)
		e.ResponseText = buffer
		s.entries = append(s.entries, e)
	} else {
		last.ResponseText = buffer
	}
	s.updatedAt = time.Now()
	return true
}

// SetTitle overwrites the display title and bumps UpdatedAt.
func (s *Session) SetTitle(title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.title = title
	s.updatedAt = time.Now()
}

// EditUser replaces the user text of the entry at index i in place,
// preserving its ID and timestamp. Editing a non-user entry or an index out
// of range returns ErrInvalidIndex and leaves the sequence untouched.
func (s *Session) EditUser(i int, newText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.entries) {
		return ErrInvalidIndex
	}
	if !s.entries[i].IsUser() {
		return ErrNotUserEntry
	}
	s.entries[i].UserText = newText
	s.updatedAt = time.Now()
	return nil
}

// CutForRegenerate prepares the session for re-running the exchange whose
// assistant entry sits at index i. The entry at i must be an assistant entry
// immediately preceded by a user entry. The user entry and everything after
// it are dropped, and its text is returned so the caller can re-send it.
func (s *Session) CutForRegenerate(i int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i <= 0 || i >= len(s.entries) {
		return "", ErrInvalidIndex
	}
	if !s.entries[i].IsAssistant() {
		return "", ErrNotAssistantEntry
	}
	user := s.entries[i-1]
	if !user.IsUser() {
		return "", ErrInvalidIndex
	}
	text := user.UserText
	s.entries = s.entries[:i-1]
	s.updatedAt = time.Now()
	return text, nil
}

// =============================================================================
// DERIVED STATE
// =============================================================================

// CompletedExchanges counts user entries immediately followed by a non-empty
// assistant entry. The title protocol triggers when this first reaches 1.
func (s *Session) CompletedExchanges() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for i := 0; i+1 < len(s.entries); i++ {
		if s.entries[i].IsUser() && s.entries[i+1].IsAssistant() && s.entries[i+1].ResponseText != "" {
			count++
		}
	}
	return count
}

// Render maps the entry sequence to the engine chat format. A leading system
// turn holding systemPrompt is prepended when non-empty. Entries with no
// content yet (an in-flight assistant placeholder) are skipped.
func (s *Session) Render(systemPrompt string) []engine.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages := make([]engine.Message, 0, len(s.entries)+1)
	if systemPrompt != "" {
		messages = append(messages, engine.Message{Role: engine.RoleSystem, Content: systemPrompt})
	}

	for _, e := range s.entries {
		switch {
		case e.ResponseText != "":
			messages = append(messages, engine.Message{Role: engine.RoleAssistant, Content: e.ResponseText})
		case e.UserText != "":
			messages = append(messages, engine.Message{Role: engine.RoleUser, Content: e.UserText})
		}
	}

	return messages
}

// Clone creates a deep copy of the session.
func (s *Session) Clone() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]*Entry, len(s.entries))
	for i, e := range s.entries {
		cp := *e
		entries[i] = &cp
	}
	return &Session{
		id:        s.id,
		title:     s.title,
		entries:   entries,
		createdAt: s.createdAt,
		updatedAt: s.updatedAt,
	}
}

// ExportMarkdown renders the session as a Markdown document with role
// labels and timestamps.
func (s *Session) ExportMarkdown() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sb strings.Builder
	sb.WriteString("# " + s.title + "\n\n")
	sb.WriteString("Created: " + s.createdAt.Format(time.RFC3339) + "\n\n")
	sb.WriteString("---\n\n")

	for _, e := range s.entries {
		role := "**User**"
		if e.IsAssistant() {
			role = "**Assistant**"
		}
		sb.WriteString(role + " (" + e.Timestamp.Format("15:04") + "):\n\n")
		sb.WriteString(e.Content())
		sb.WriteString("\n\n---\n\n")
	}

	return sb.String()
}

// =============================================================================
// ERRORS
// =============================================================================

// SessionError represents a session mutation error.
// It implements the error interface and can be compared using errors.Is.
type SessionError struct {
	Message string
}

// Error implements the error interface.
func (e *SessionError) Error() string {
	return e.Message
}

// Is implements errors.Is support for comparing session errors.
func (e *SessionError) Is(target error) bool {
	t, ok := target.(*SessionError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

var (
	// ErrInvalidIndex is returned when an operation names an index that does
	// not exist or cannot serve the operation.
	ErrInvalidIndex = &SessionError{Message: "invalid entry index"}

	// ErrNotUserEntry is returned when an edit targets an assistant entry.
	ErrNotUserEntry = &SessionError{Message: "entry is not a user entry"}

	// ErrNotAssistantEntry is returned when regenerate targets a user entry.
	ErrNotAssistantEntry = &SessionError{Message: "entry is not an assistant entry"}
)

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// generateSessionID creates a unique session ID.
func generateSessionID() string {
	return "sess_" + uuid.NewString()
}
