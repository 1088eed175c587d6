// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package generate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shuklaaditya846/local-lm/internal/chat"
	"github.com/shuklaaditya846/local-lm/internal/engine"
)

// =============================================================================
// FAKE ENGINE
// =============================================================================

// fakeEngine scripts a token stream. A nil chunk list with err set fails
// the stream immediately.
type fakeEngine struct {
	tokens []string
	err    error
	delay  time.Duration

	gotMessages []engine.Message
}

func (f *fakeEngine) LoadModel(ctx context.Context, path string, threads, contextSize int) error {
	return nil
}

func (f *fakeEngine) Dispose() error { return nil }

func (f *fakeEngine) GenerateChat(ctx context.Context, messages []engine.Message, maxTokens int, temperature float64, fn engine.StreamFunc) error {
	f.gotMessages = messages
	for _, tok := range f.tokens {
		if f.delay > 0 {
			select {
			case <-time.After(f.delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fn(engine.Chunk{Content: tok})
	}
	if f.err != nil {
		return f.err
	}
	fn(engine.Chunk{Done: true, DoneReason: "stop"})
	return nil
}

// collect drains the update channel.
func collect(t *testing.T, updates <-chan Update) []Update {
	t.Helper()
	var out []Update
	timeout := time.After(5 * time.Second)
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				return out
			}
			out = append(out, u)
		case <-timeout:
			t.Fatal("timed out draining updates")
		}
	}
}

// =============================================================================
// TESTS
// =============================================================================

func TestGenerateStreamsIntoSession(t *testing.T) {
	eng := &fakeEngine{tokens: []string{"Hel", "lo", "!"}}
	g := New(eng, 64, 0.7)
	sess := chat.NewSession()

	updates, err := g.Generate(context.Background(), sess, "hi there", "sys")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	events := collect(t, updates)

	// Three token events plus the terminal done.
	var tokens []string
	var done *Update
	for i := range events {
		switch events[i].Kind {
		case KindToken:
			tokens = append(tokens, events[i].Token)
		case KindDone:
			done = &events[i]
		case KindError:
			t.Fatalf("unexpected error event: %v", events[i].Err)
		}
	}
	if len(tokens) != 3 {
		t.Fatalf("token events = %d, want 3", len(tokens))
	}
	if done == nil {
		t.Fatal("missing done event")
	}
	if done.UserText != "hi there" {
		t.Errorf("done.UserText = %q", done.UserText)
	}
	if done.SessionID != sess.ID() {
		t.Errorf("done.SessionID = %q, want %q", done.SessionID, sess.ID())
	}

	// Session holds the exchange: user entry then the accumulated reply.
	if sess.Len() != 2 {
		t.Fatalf("session len = %d, want 2", sess.Len())
	}
	reply, _ := sess.EntryAt(1)
	if reply.ResponseText != "Hello!" {
		t.Errorf("reply = %q, want %q", reply.ResponseText, "Hello!")
	}

	// The rendered context includes the system turn and the new question.
	if len(eng.gotMessages) != 2 {
		t.Fatalf("rendered messages = %d, want 2", len(eng.gotMessages))
	}
	if eng.gotMessages[0].Role != engine.RoleSystem {
		t.Errorf("first message role = %q", eng.gotMessages[0].Role)
	}
}

func TestGenerateRejectsConcurrent(t *testing.T) {
	eng := &fakeEngine{tokens: []string{"a", "b", "c"}, delay: 50 * time.Millisecond}
	g := New(eng, 64, 0.7)
	sess := chat.NewSession()

	updates, err := g.Generate(context.Background(), sess, "one", "")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if _, err := g.Generate(context.Background(), sess, "two", ""); !errors.Is(err, ErrGenerationActive) {
		t.Errorf("second Generate = %v, want ErrGenerationActive", err)
	}

	collect(t, updates)

	// After the stream ends a new generation is accepted.
	updates, err = g.Generate(context.Background(), sess, "three", "")
	if err != nil {
		t.Fatalf("Generate after completion: %v", err)
	}
	collect(t, updates)
}

func TestGenerateErrorKeepsPartialText(t *testing.T) {
	streamErr := errors.New("connection reset")
	eng := &fakeEngine{tokens: []string{"par", "tial"}, err: streamErr}
	g := New(eng, 64, 0.7)
	sess := chat.NewSession()

	updates, err := g.Generate(context.Background(), sess, "q", "")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	events := collect(t, updates)
	last := events[len(events)-1]
	if last.Kind != KindError {
		t.Fatalf("last event kind = %v, want KindError", last.Kind)
	}
	if !errors.Is(last.Err, streamErr) {
		t.Errorf("err = %v, want %v", last.Err, streamErr)
	}

	// No rollback: the partial text stays in the session.
	reply, _ := sess.EntryAt(1)
	if reply.ResponseText != "partial" {
		t.Errorf("reply = %q, want %q", reply.ResponseText, "partial")
	}
}

func TestCancelSilentTermination(t *testing.T) {
	eng := &fakeEngine{tokens: []string{"a", "b", "c", "d", "e"}, delay: 30 * time.Millisecond}
	g := New(eng, 64, 0.7)
	sess := chat.NewSession()

	updates, err := g.Generate(context.Background(), sess, "q", "")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	// Let a token or two through, then cancel.
	time.Sleep(50 * time.Millisecond)
	g.Cancel()

	events := collect(t, updates)
	for _, e := range events {
		if e.Kind == KindDone || e.Kind == KindError {
			t.Errorf("cancelled stream emitted terminal event %v", e.Kind)
		}
	}
	if g.Active() {
		t.Error("generator still active after cancel")
	}
}

func TestCancelWithoutGeneration(t *testing.T) {
	g := New(&fakeEngine{}, 64, 0.7)
	g.Cancel() // must not panic
}
