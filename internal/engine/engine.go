// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"errors"
)

// =============================================================================
// ENGINE CONTRACT
// =============================================================================

// StreamFunc is called for each chunk received during streaming generation.
// Calls are synchronous and arrive in stream order.
type StreamFunc func(Chunk)

// Engine is the contract the session orchestrator consumes. It owns the
// model lifecycle and produces token streams; nothing else leaks through.
type Engine interface {
	// LoadModel makes the named model resident with the given thread count
	// and context window. On failure the engine stays unloaded.
	LoadModel(ctx context.Context, path string, threads, contextSize int) error

	// GenerateChat opens a single token stream seeded with the ordered
	// message context and a bounded decoding budget. The stream is lazy,
	// finite and non-restartable; it terminates normally or with an error.
	GenerateChat(ctx context.Context, messages []Message, maxTokens int, temperature float64, fn StreamFunc) error

	// Dispose releases all engine resources. Idempotent.
	Dispose() error
}

// =============================================================================
// ERROR TYPES
// =============================================================================

// ClientError represents an error from the engine client.
type ClientError struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// Is matches client errors by category so sentinels work with errors.Is.
func (e *ClientError) Is(target error) bool {
	t, ok := target.(*ClientError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// ErrorType categorizes client errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeNotRunning
	ErrTypeTimeout
	ErrTypeModelNotFound
	ErrTypeLoadFailed
	ErrTypeGeneration
	ErrTypeInvalidResponse
)

// Sentinel errors for easy checking.
var (
	ErrNotRunning    = &ClientError{Type: ErrTypeNotRunning, Message: "model server is not running"}
	ErrTimeout       = &ClientError{Type: ErrTypeTimeout, Message: "request timed out"}
	ErrModelNotFound = &ClientError{Type: ErrTypeModelNotFound, Message: "model not found"}
	ErrLoadFailed    = &ClientError{Type: ErrTypeLoadFailed, Message: "model load failed"}
	ErrNoModel       = &ClientError{Type: ErrTypeLoadFailed, Message: "no model loaded"}
)

// IsLoadFailure checks if an error came from the load path.
func IsLoadFailure(err error) bool {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type == ErrTypeLoadFailed || clientErr.Type == ErrTypeModelNotFound
	}
	return false
}

// IsNotRunning checks if an error indicates the server is unreachable.
func IsNotRunning(err error) bool {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type == ErrTypeNotRunning
	}
	return false
}
