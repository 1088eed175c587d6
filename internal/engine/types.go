// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import "time"

// =============================================================================
// ROLES
// =============================================================================

// Chat roles understood by the model server.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// Message represents a chat message in a generation context.
type Message struct {
	Role    string `json:"role"`    // "system", "user" or "assistant"
	Content string `json:"content"` // The message content
}

// chatRequest is the request body for the /api/chat endpoint.
type chatRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	Stream    bool      `json:"stream"`
	KeepAlive any       `json:"keep_alive,omitempty"` // duration string or seconds
	Options   *Options  `json:"options,omitempty"`
}

// loadRequest is the request body for the /api/generate endpoint when used
// to load or unload a model (empty prompt, keep_alive controls residency).
type loadRequest struct {
	Model     string   `json:"model"`
	KeepAlive any      `json:"keep_alive"`
	Options   *Options `json:"options,omitempty"`
}

// Options contains model parameters for inference.
type Options struct {
	Temperature float64 `json:"temperature,omitempty"` // 0.0-2.0
	NumPredict  int     `json:"num_predict,omitempty"` // Max tokens to generate
	NumCtx      int     `json:"num_ctx,omitempty"`     // Context window size
	NumThread   int     `json:"num_thread,omitempty"`  // Inference threads
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// Chunk is one streamed fragment of a generation.
type Chunk struct {
	Content    string // Token text, may be empty on the terminal chunk
	Done       bool   // True on the terminal chunk
	DoneReason string // Server-reported stop reason, if any
	Error      error  // Set when the stream failed (channel delivery only)
}

// streamResponse mirrors the line-JSON the server emits for /api/chat.
type streamResponse struct {
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
	Message   struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done       bool   `json:"done"`
	DoneReason string `json:"done_reason,omitempty"`
}

// serverError is the error body the server returns on non-200 responses.
type serverError struct {
	Error string `json:"error"`
}
