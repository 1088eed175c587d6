// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package generate

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/shuklaaditya846/local-lm/internal/chat"
	"github.com/shuklaaditya846/local-lm/internal/engine"
)

// =============================================================================
// UPDATE EVENTS
// =============================================================================

// Kind tags an Update variant.
type Kind int

const (
	// KindToken is emitted after each token is folded into the session.
	KindToken Kind = iota
	// KindDone is the terminal event of a successful stream.
	KindDone
	// KindError is the terminal event of a failed stream. Accumulated text
	// stays in the session; there is no rollback.
	KindError
)

// Update is one event of a generation stream. SessionID is captured when
// the generation starts so observers can discard updates that outlive a
// session switch.
type Update struct {
	Kind      Kind
	SessionID string
	Token     string // KindToken: the token just applied
	UserText  string // KindDone: the originating user text
	Err       error  // KindError
}

// =============================================================================
// GENERATOR
// =============================================================================

// ErrGenerationActive is returned when a generation is already in flight.
var ErrGenerationActive = errors.New("generation already in flight")

// Generator owns the primary generation stream. One generation may be
// active at a time.
type Generator struct {
	engine      engine.Engine
	maxTokens   int
	temperature float64

	mu     sync.Mutex
	active bool
	cancel context.CancelFunc
}

// New creates a Generator with a fixed decoding budget and temperature.
func New(e engine.Engine, maxTokens int, temperature float64) *Generator {
	return &Generator{
		engine:      e,
		maxTokens:   maxTokens,
		temperature: temperature,
	}
}

// Active reports whether a generation is in flight.
func (g *Generator) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// Generate appends a user entry holding userText to sess, opens an engine
// stream over the full rendered context and returns the update channel.
// The channel is closed after the terminal Done or Error event, or silently
// after Cancel.
//
// The session is only borrowed: no reference is retained once the returned
// channel closes.
func (g *Generator) Generate(ctx context.Context, sess *chat.Session, userText, systemPrompt string) (<-chan Update, error) {
	g.mu.Lock()
	if g.active {
		g.mu.Unlock()
		return nil, ErrGenerationActive
	}
	g.active = true
	gctx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.mu.Unlock()

	sess.AppendUser(userText)
	messages := sess.Render(systemPrompt)
	sessionID := sess.ID()

	updates := make(chan Update, 64)

	go func() {
		defer close(updates)
		defer g.finish()

		emit := func(u Update) {
			select {
			case updates <- u:
			case <-gctx.Done():
			}
		}

		// PERFORMANCE: strings.Builder avoids quadratic allocations
		var buffer strings.Builder

		err := g.engine.GenerateChat(gctx, messages, g.maxTokens, g.temperature, func(c engine.Chunk) {
			if c.Content == "" {
				return
			}
			buffer.WriteString(c.Content)
			sess.ExtendAssistant(buffer.String())
			emit(Update{Kind: KindToken, SessionID: sessionID, Token: c.Content})
		})

		switch {
		case err == nil:
			emit(Update{Kind: KindDone, SessionID: sessionID, UserText: userText})
		case errors.Is(err, context.Canceled):
			// Cancelled by the caller: no terminal event, accumulated text
			// stays in the session.
		default:
			emit(Update{Kind: KindError, SessionID: sessionID, Err: err})
		}
	}()

	return updates, nil
}

// Cancel unsubscribes from the underlying stream. Tokens already applied
// remain in the session. Safe to call when nothing is in flight.
func (g *Generator) Cancel() {
	g.mu.Lock()
	cancel := g.cancel
	g.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// finish marks the generation inactive and releases the cancel func.
func (g *Generator) finish() {
	g.mu.Lock()
	g.active = false
	if g.cancel != nil {
		g.cancel()
		g.cancel = nil
	}
	g.mu.Unlock()
}
