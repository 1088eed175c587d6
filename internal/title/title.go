// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package title

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/shuklaaditya846/local-lm/internal/chat"
	"github.com/shuklaaditya846/local-lm/internal/engine"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Defaults for the secondary stream. Deliberately small and cool compared
// to the chat stream: a title is a handful of tokens.
const (
	DefaultTimeout     = 5 * time.Second
	DefaultMaxTokens   = 16
	DefaultTemperature = 0.2

	maxTitleRunes = 50
	maxTitleWords = 6
	fallbackWords = 4
)

// instruction is the fixed prompt; %s-free on purpose, the user message is
// appended as its own line so echo detection can compare against it.
const instruction = "Reply with a short descriptive title, at most 4 words, for a conversation that starts with the following message. Reply with the title only."

// =============================================================================
// GENERATOR
// =============================================================================

// Generator produces session titles over a bounded secondary stream.
type Generator struct {
	engine      engine.Engine
	timeout     time.Duration
	maxTokens   int
	temperature float64

	mu       sync.Mutex
	inFlight map[string]bool // session id -> title generation running
}

// New creates a title Generator with the default budget and timeout.
func New(e engine.Engine) *Generator {
	return &Generator{
		engine:      e,
		timeout:     DefaultTimeout,
		maxTokens:   DefaultMaxTokens,
		temperature: DefaultTemperature,
		inFlight:    make(map[string]bool),
	}
}

// SetTimeout overrides the race timeout.
func (g *Generator) SetTimeout(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if d > 0 {
		g.timeout = d
	}
}

// SetBudget overrides the title token budget. Streams already in flight
// keep the budget they started with.
func (g *Generator) SetBudget(maxTokens int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if maxTokens > 0 {
		g.maxTokens = maxTokens
	}
}

// MaybeGenerate starts title generation for sess unless one is already in
// flight for it. notify is called after every applied title write and once
// more when the race resolves, regardless of path. The returned channel is
// closed on resolution; a nil channel means the call was a duplicate.
//
// The session is only borrowed for the duration of the race.
func (g *Generator) MaybeGenerate(ctx context.Context, sess *chat.Session, userText string, notify func()) <-chan struct{} {
	g.mu.Lock()
	if g.inFlight[sess.ID()] {
		g.mu.Unlock()
		return nil
	}
	g.inFlight[sess.ID()] = true
	timeout := g.timeout
	budget := g.maxTokens
	g.mu.Unlock()

	done := make(chan struct{})

	go func() {
		defer close(done)
		defer func() {
			g.mu.Lock()
			delete(g.inFlight, sess.ID())
			g.mu.Unlock()
		}()

		sctx, cancel := context.WithCancel(ctx)
		defer cancel()

		// Single-resolution guard: the first of stream-done, stream-error or
		// timeout wins completion; streamed writes before that point apply
		// directly to the session title.
		var (
			resMu    sync.Mutex
			resolved bool
			sawValid bool
		)

		prompt := []engine.Message{
			{Role: engine.RoleUser, Content: instruction + "\n\n" + userText},
		}

		// PERFORMANCE: strings.Builder avoids quadratic allocations
		var buffer strings.Builder

		streamDone := make(chan struct{})
		go func() {
			defer close(streamDone)
			// Errors are invisible by design: a failed stream just means
			// the fallback wins the race.
			_ = g.engine.GenerateChat(sctx, prompt, budget, g.temperature, func(c engine.Chunk) {
				if c.Content == "" {
					return
				}
				buffer.WriteString(c.Content)
				candidate := Clean(buffer.String())

				resMu.Lock()
				if !resolved && Valid(candidate) {
					sawValid = true
					sess.SetTitle(candidate)
					resMu.Unlock()
					if notify != nil {
						notify()
					}
					return
				}
				resMu.Unlock()
			})
		}()

		timer := time.NewTimer(timeout)
		defer timer.Stop()

		select {
		case <-streamDone:
		case <-timer.C:
			cancel()
		case <-ctx.Done():
			cancel()
		}

		resMu.Lock()
		resolved = true
		if !sawValid {
			sess.SetTitle(Fallback(userText))
		}
		resMu.Unlock()

		if notify != nil {
			notify()
		}
	}()

	return done
}

// =============================================================================
// CLEANING AND VALIDITY
// =============================================================================

// Clean normalizes a streamed title candidate: whitespace collapsed,
// surrounding quotes and literal "Title:" prefixes stripped, terminal
// punctuation dropped.
func Clean(raw string) string {
	s := strings.Join(strings.Fields(raw), " ")

	for {
		trimmed := strings.TrimSpace(s)
		trimmed = strings.Trim(trimmed, `"'`+"`")
		lower := strings.ToLower(trimmed)
		if strings.HasPrefix(lower, "title:") {
			trimmed = strings.TrimSpace(trimmed[len("title:"):])
		}
		if trimmed == s {
			break
		}
		s = trimmed
	}

	return strings.TrimRight(s, ".,!?;:")
}

// Valid reports whether a cleaned candidate may become the session title:
// non-empty, at most 50 characters and 6 words, and not an echo of the
// instruction text.
func Valid(candidate string) bool {
	if candidate == "" {
		return false
	}
	if len([]rune(candidate)) > maxTitleRunes {
		return false
	}
	if len(strings.Fields(candidate)) > maxTitleWords {
		return false
	}

	lower := strings.ToLower(candidate)
	if strings.Contains(lower, "title") {
		return false
	}
	// A candidate that is a fragment of the instruction is an echo.
	if strings.Contains(strings.ToLower(instruction), lower) {
		return false
	}
	return true
}

// Fallback builds the deterministic title used when no valid candidate
// arrived in time: the first four whitespace-separated words of the user
// message, with a trailing ellipsis marker only when truncation occurred.
func Fallback(userText string) string {
	words := strings.Fields(userText)
	if len(words) == 0 {
		return chat.DefaultTitle
	}
	if len(words) <= fallbackWords {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:fallbackWords], " ") + "..."
}
