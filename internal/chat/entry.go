// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ENTRY TYPE
// =============================================================================

// Entry represents one turn fragment in a session.
//
// An entry is either a user entry (UserText non-empty, ResponseText empty)
// or an assistant entry (UserText empty). Mixed entries never occur.
type Entry struct {
	// Identity
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	// Content. Exactly one of the two is populated.
	UserText     string `json:"user_text,omitempty"`
	ResponseText string `json:"response_text,omitempty"`
}

// NewUserEntry creates a user entry with a generated ID.
func NewUserEntry(text string) *Entry {
	return &Entry{
		ID:        generateEntryID(),
		Timestamp: time.Now(),
		UserText:  text,
	}
}

// NewAssistantEntry creates an assistant entry. The timestamp is copied from
// the user entry that triggered the generation, not the arrival time of the
// first token.
func NewAssistantEntry(userTimestamp time.Time) *Entry {
	return &Entry{
		ID:        generateEntryID(),
		Timestamp: userTimestamp,
	}
}

// IsUser returns true if this is a user entry.
func (e *Entry) IsUser() bool {
	return e.UserText != ""
}

// IsAssistant returns true if this is an assistant entry.
func (e *Entry) IsAssistant() bool {
	return e.UserText == ""
}

// Content returns the populated side of the entry.
func (e *Entry) Content() string {
	if e.IsUser() {
		return e.UserText
	}
	return e.ResponseText
}

// Preview returns a truncated preview of the entry content.
// Uses rune-based truncation to handle Unicode correctly.
func (e *Entry) Preview(maxLen int) string {
	content := e.Content()
	runes := []rune(content)
	if len(runes) <= maxLen {
		return content
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// generateEntryID creates a unique entry ID.
func generateEntryID() string {
	return "ent_" + uuid.NewString()
}
