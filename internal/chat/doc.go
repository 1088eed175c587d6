// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat contains the data structures for conversation sessions.
//
// This package defines the core domain types used throughout the
// application for representing a chat session and its turn entries.
//
// # Key Types
//
//   - Session: one conversation, a recency-ordered set of which forms the
//     chat history
//   - Entry: one turn fragment, either a user turn or an assistant turn
//
// # Usage
//
// Create a new session and append a user turn:
//
//	sess := chat.NewSession()
//	sess.AppendUser("Hello!")
//
// During streaming, grow the assistant turn from the joined token buffer:
//
//	sess.ExtendAssistant(buffer.String())
package chat
