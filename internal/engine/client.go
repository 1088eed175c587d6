// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"
)

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds configuration options for the engine client.
type ClientConfig struct {
	// BaseURL is the model server base URL (default: http://127.0.0.1:11434)
	// Note: Uses explicit IPv4 address instead of localhost to avoid IPv6
	// resolution issues on Windows
	BaseURL string

	// Timeout for non-streaming requests (default: 30s)
	Timeout time.Duration

	// LoadTimeout for model load requests, which can pull weights into
	// memory (default: 2m)
	LoadTimeout time.Duration
}

// DefaultClientConfig returns the default client configuration.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:     "http://127.0.0.1:11434",
		Timeout:     30 * time.Second,
		LoadTimeout: 2 * time.Minute,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client implements Engine against an Ollama-compatible HTTP API.
//
// LoadModel pins the model resident on the server; Dispose releases it.
// The Client is safe for concurrent use.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client

	mu          sync.Mutex
	model       string // loaded model, empty when unloaded
	threads     int
	contextSize int
}

// NewClient creates a new engine client. A nil config selects defaults.
func NewClient(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultClientConfig()
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://127.0.0.1:11434"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.LoadTimeout == 0 {
		config.LoadTimeout = 2 * time.Minute
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// =============================================================================
// HEALTH CHECK
// =============================================================================

// CheckRunning verifies that the model server is reachable.
func (c *Client) CheckRunning(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL, nil)
	if err != nil {
		return &ClientError{Type: ErrTypeNotRunning, Message: "failed to create request", Cause: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrTimeout
		}
		return ErrNotRunning
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &ClientError{
			Type:    ErrTypeNotRunning,
			Message: "unexpected status from model server: " + resp.Status,
		}
	}

	return nil
}

// =============================================================================
// MODEL LIFECYCLE
// =============================================================================

// LoadModel makes the model resident on the server with the given thread
// count and context window. A load request with an empty prompt and an
// unbounded keep_alive warms the model without generating.
//
// On failure no state is retained: a later GenerateChat reports ErrNoModel.
func (c *Client) LoadModel(ctx context.Context, path string, threads, contextSize int) error {
	if path == "" {
		return &ClientError{Type: ErrTypeLoadFailed, Message: "model path is empty"}
	}

	body := loadRequest{
		Model:     path,
		KeepAlive: -1,
		Options: &Options{
			NumThread: threads,
			NumCtx:    contextSize,
		},
	}

	loadCtx, cancel := context.WithTimeout(ctx, c.config.LoadTimeout)
	defer cancel()

	resp, err := c.post(loadCtx, "/api/generate", body, nil)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &ClientError{Type: ErrTypeLoadFailed, Message: "model load timed out", Cause: ErrTimeout}
		}
		return &ClientError{Type: ErrTypeLoadFailed, Message: "model load failed", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &ClientError{Type: ErrTypeLoadFailed, Message: "model not found: " + path, Cause: ErrModelNotFound}
	}
	if resp.StatusCode != http.StatusOK {
		return &ClientError{
			Type:    ErrTypeLoadFailed,
			Message: "model load failed: " + c.readServerError(resp),
		}
	}

	c.mu.Lock()
	c.model = path
	c.threads = threads
	c.contextSize = contextSize
	c.mu.Unlock()

	return nil
}

// Dispose releases the loaded model on the server. Idempotent: disposing an
// unloaded client is a no-op.
func (c *Client) Dispose() error {
	c.mu.Lock()
	model := c.model
	c.model = ""
	c.mu.Unlock()

	if model == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
	defer cancel()

	body := loadRequest{Model: model, KeepAlive: 0}
	resp, err := c.post(ctx, "/api/generate", body, nil)
	if err != nil {
		// The client-side state is already cleared; an unreachable server
		// will drop the model on its own keep_alive expiry.
		return nil
	}
	resp.Body.Close()
	return nil
}

// Loaded reports whether a model is currently resident.
func (c *Client) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model != ""
}

// Model returns the loaded model name, empty when unloaded.
func (c *Client) Model() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model
}

// =============================================================================
// STREAMING CHAT
// =============================================================================

// GenerateChat opens a streaming chat request and calls fn for each chunk.
// Chunks arrive in stream order; the call returns when the stream completes,
// fails, or ctx is cancelled.
func (c *Client) GenerateChat(ctx context.Context, messages []Message, maxTokens int, temperature float64, fn StreamFunc) error {
	c.mu.Lock()
	model := c.model
	threads := c.threads
	contextSize := c.contextSize
	c.mu.Unlock()

	if model == "" {
		return ErrNoModel
	}

	body := chatRequest{
		Model:     model,
		Messages:  messages,
		Stream:    true,
		KeepAlive: -1,
		Options: &Options{
			Temperature: temperature,
			NumPredict:  maxTokens,
			NumThread:   threads,
			NumCtx:      contextSize,
		},
	}

	// Streaming requests carry no client timeout; cancellation comes from ctx.
	resp, err := c.post(ctx, "/api/chat", body, &http.Client{})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return ctx.Err()
		}
		return ErrNotRunning
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrModelNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return &ClientError{
			Type:    ErrTypeGeneration,
			Message: "stream request failed: " + c.readServerError(resp),
		}
	}

	reader := NewStreamReader(resp.Body)
	return reader.Process(ctx, fn)
}

// GenerateChatChan is like GenerateChat but delivers chunks over a channel.
// The channel is closed when streaming ends; a failure is delivered as a
// final chunk with Error set.
func (c *Client) GenerateChatChan(ctx context.Context, messages []Message, maxTokens int, temperature float64) <-chan Chunk {
	ch := make(chan Chunk)

	go func() {
		defer close(ch)

		err := c.GenerateChat(ctx, messages, maxTokens, temperature, func(chunk Chunk) {
			select {
			case ch <- chunk:
			case <-ctx.Done():
			}
		})

		if err != nil {
			select {
			case ch <- Chunk{Error: err, Done: true}:
			case <-ctx.Done():
			}
		}
	}()

	return ch
}

// =============================================================================
// HELPERS
// =============================================================================

// post issues a JSON POST. A nil override uses the default (timeout-bound)
// HTTP client; streaming callers pass their own.
func (c *Client) post(ctx context.Context, path string, body any, override *http.Client) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, &ClientError{Type: ErrTypeNotRunning, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	client := c.httpClient
	if override != nil {
		client = override
	}
	return client.Do(req)
}

// readServerError extracts the server's error message from a failed
// response, falling back to the HTTP status.
func (c *Client) readServerError(resp *http.Response) string {
	var se serverError
	if err := json.NewDecoder(resp.Body).Decode(&se); err == nil && se.Error != "" {
		return se.Error
	}
	return resp.Status
}
