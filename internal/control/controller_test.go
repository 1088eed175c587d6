// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package control

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shuklaaditya846/local-lm/internal/chat"
	"github.com/shuklaaditya846/local-lm/internal/engine"
	"github.com/shuklaaditya846/local-lm/internal/settings"
)

// =============================================================================
// TEST DOUBLES
// =============================================================================

// script is one canned GenerateChat response.
type script struct {
	tokens []string
	err    error
	delay  time.Duration
}

// fakeEngine pops one script per GenerateChat call, chat and title streams
// alike, in call order.
type fakeEngine struct {
	mu       sync.Mutex
	scripts  []script
	calls    int
	budgets  []int // maxTokens of each GenerateChat call, in call order
	loads    int
	disposes int
	loadErr  error
}

func (f *fakeEngine) LoadModel(ctx context.Context, path string, threads, contextSize int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	return f.loadErr
}

func (f *fakeEngine) Dispose() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disposes++
	return nil
}

func (f *fakeEngine) GenerateChat(ctx context.Context, messages []engine.Message, maxTokens int, temperature float64, fn engine.StreamFunc) error {
	f.mu.Lock()
	f.calls++
	f.budgets = append(f.budgets, maxTokens)
	var s script
	if len(f.scripts) > 0 {
		s = f.scripts[0]
		f.scripts = f.scripts[1:]
	} else {
		s = script{tokens: []string{"ok"}}
	}
	f.mu.Unlock()

	for _, tok := range s.tokens {
		if s.delay > 0 {
			select {
			case <-time.After(s.delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fn(engine.Chunk{Content: tok})
	}
	if s.err != nil {
		return s.err
	}
	fn(engine.Chunk{Done: true})
	return nil
}

func (f *fakeEngine) chatCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// memStore is an in-memory Store recording every Save.
type memStore struct {
	mu       sync.Mutex
	sessions []*chat.Session
	saves    int
	saveErr  error
}

func (m *memStore) Load() ([]*chat.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*chat.Session, len(m.sessions))
	copy(out, m.sessions)
	return out, nil
}

func (m *memStore) Save(sessions []*chat.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.sessions = make([]*chat.Session, len(sessions))
	copy(m.sessions, sessions)
	m.saves++
	return nil
}

func (m *memStore) saved() ([]*chat.Session, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*chat.Session, len(m.sessions))
	copy(out, m.sessions)
	return out, m.saves
}

// recorder collects controller events and exposes waits on terminals.
type recorder struct {
	mu     sync.Mutex
	events []Event
	done   chan Event
}

func newRecorder() *recorder {
	return &recorder{done: make(chan Event, 16)}
}

func (r *recorder) notify(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	if ev.Kind == EventDone || ev.Kind == EventError {
		r.done <- ev
	}
}

func (r *recorder) waitDone(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-r.done:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for terminal event")
		return Event{}
	}
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// newTestController wires a controller over the doubles with fast title
// timeout and the watchdog disabled.
func newTestController(t *testing.T, eng *fakeEngine, store *memStore) (*Controller, *recorder) {
	t.Helper()
	cfg := settings.Default()
	cfg.AutoSaveMinutes = 0
	cfg.SystemPrompt = "sys"
	rec := newRecorder()
	ctrl, err := New(eng, store, cfg, rec.notify)
	require.NoError(t, err)
	t.Cleanup(func() { ctrl.Close() })
	return ctrl, rec
}

// =============================================================================
// MODEL LIFECYCLE
// =============================================================================

func TestLoadModelTransitions(t *testing.T) {
	eng := &fakeEngine{}
	ctrl, rec := newTestController(t, eng, &memStore{})

	require.Equal(t, StateNoModel, ctrl.State())
	require.NoError(t, ctrl.LoadModel(context.Background()))
	assert.Equal(t, StateReady, ctrl.State())

	var states []State
	for _, ev := range rec.all() {
		if ev.Kind == EventState {
			states = append(states, ev.State)
		}
	}
	assert.Equal(t, []State{StateModelLoading, StateReady}, states)
}

func TestLoadModelFailureStaysUnloaded(t *testing.T) {
	eng := &fakeEngine{loadErr: errors.New("no such model")}
	ctrl, _ := newTestController(t, eng, &memStore{})

	require.Error(t, ctrl.LoadModel(context.Background()))
	assert.Equal(t, StateNoModel, ctrl.State())

	// Send is rejected without a resident model.
	err := ctrl.Send(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrNoModel)
}

func TestUnloadModelDisposesAndPersists(t *testing.T) {
	eng := &fakeEngine{}
	store := &memStore{}
	ctrl, rec := newTestController(t, eng, store)

	require.NoError(t, ctrl.LoadModel(context.Background()))
	require.NoError(t, ctrl.Send(context.Background(), "question"))
	rec.waitDone(t)

	prior := ctrl.Active().ID()
	require.NoError(t, ctrl.UnloadModel())
	assert.Equal(t, StateNoModel, ctrl.State())

	// Unloading leaves a fresh empty session active.
	assert.NotEqual(t, prior, ctrl.Active().ID())
	assert.True(t, ctrl.Active().IsEmpty())

	saved, _ := store.saved()
	require.Len(t, saved, 1)

	eng.mu.Lock()
	disposes := eng.disposes
	eng.mu.Unlock()
	assert.GreaterOrEqual(t, disposes, 1)
}

// =============================================================================
// GENERATION
// =============================================================================

func TestSendStreamsAndPersists(t *testing.T) {
	eng := &fakeEngine{scripts: []script{
		{tokens: []string{"Hel", "lo"}}, // chat reply
		{tokens: []string{"Greeting"}},  // title stream
	}}
	store := &memStore{}
	ctrl, rec := newTestController(t, eng, store)

	require.NoError(t, ctrl.LoadModel(context.Background()))
	require.NoError(t, ctrl.Send(context.Background(), "hi"))

	ev := rec.waitDone(t)
	assert.Equal(t, EventDone, ev.Kind)

	sess := ctrl.Active()
	require.Equal(t, 2, sess.Len())
	reply, _ := sess.EntryAt(1)
	assert.Equal(t, "Hello", reply.ResponseText)

	// The completed exchange was persisted with the session at the front.
	saved, saves := store.saved()
	require.GreaterOrEqual(t, saves, 1)
	require.NotEmpty(t, saved)
	assert.Equal(t, sess.ID(), saved[0].ID())

	// Token events carry the owning session's id.
	for _, e := range rec.all() {
		if e.Kind == EventToken {
			assert.Equal(t, sess.ID(), e.SessionID)
		}
	}
}

func TestSendRejectedWhileGenerating(t *testing.T) {
	eng := &fakeEngine{scripts: []script{
		{tokens: []string{"a", "b", "c"}, delay: 40 * time.Millisecond},
	}}
	ctrl, rec := newTestController(t, eng, &memStore{})

	require.NoError(t, ctrl.LoadModel(context.Background()))
	require.NoError(t, ctrl.Send(context.Background(), "one"))

	err := ctrl.Send(context.Background(), "two")
	assert.ErrorIs(t, err, ErrBusy)

	rec.waitDone(t)
}

func TestGenerationErrorSurfacedAndStateRecovers(t *testing.T) {
	eng := &fakeEngine{scripts: []script{
		{tokens: []string{"par"}, err: errors.New("stream broke")},
	}}
	ctrl, rec := newTestController(t, eng, &memStore{})

	require.NoError(t, ctrl.LoadModel(context.Background()))
	require.NoError(t, ctrl.Send(context.Background(), "q"))

	ev := rec.waitDone(t)
	require.Equal(t, EventError, ev.Kind)
	assert.Error(t, ev.Err)
	assert.Equal(t, StateReady, ctrl.State())

	// Partial text stays in the session.
	reply, _ := ctrl.Active().EntryAt(1)
	assert.Equal(t, "par", reply.ResponseText)
}

func TestStopCancelsWithoutTerminalEvent(t *testing.T) {
	eng := &fakeEngine{scripts: []script{
		{tokens: []string{"a", "b", "c", "d"}, delay: 40 * time.Millisecond},
	}}
	ctrl, rec := newTestController(t, eng, &memStore{})

	require.NoError(t, ctrl.LoadModel(context.Background()))
	require.NoError(t, ctrl.Send(context.Background(), "q"))

	time.Sleep(60 * time.Millisecond)
	ctrl.Stop()

	// The state machine returns to Ready without a Done or Error event.
	assert.Eventually(t, func() bool {
		return ctrl.State() == StateReady
	}, 2*time.Second, 10*time.Millisecond)

	select {
	case ev := <-rec.done:
		t.Fatalf("cancelled stream emitted terminal event %v", ev.Kind)
	case <-time.After(150 * time.Millisecond):
	}
}

// =============================================================================
// TITLE PROTOCOL
// =============================================================================

func TestTitleTriggeredExactlyOnce(t *testing.T) {
	eng := &fakeEngine{scripts: []script{
		{tokens: []string{"first reply"}},  // exchange 1
		{tokens: []string{"Short Title"}},  // title stream
		{tokens: []string{"second reply"}}, // exchange 2
	}}
	ctrl, rec := newTestController(t, eng, &memStore{})

	require.NoError(t, ctrl.LoadModel(context.Background()))
	require.NoError(t, ctrl.Send(context.Background(), "what is love"))
	rec.waitDone(t)

	assert.Eventually(t, func() bool {
		return ctrl.Active().Title() == "Short Title"
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, ctrl.Send(context.Background(), "tell me more"))
	rec.waitDone(t)

	// Two chat streams plus exactly one title stream.
	assert.Eventually(t, func() bool {
		return eng.chatCalls() == 3
	}, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 3, eng.chatCalls())
}

func TestManualRenameSuppressesGeneratedTitle(t *testing.T) {
	eng := &fakeEngine{scripts: []script{
		{tokens: []string{"reply"}},
	}}
	ctrl, rec := newTestController(t, eng, &memStore{})

	require.NoError(t, ctrl.LoadModel(context.Background()))
	ctrl.Active().AppendUser("seed")
	ctrl.Active().ExtendAssistant("seeded") // keeps the session non-empty
	ctrl.RenameSession("My Pinned Title")

	require.NoError(t, ctrl.Send(context.Background(), "q"))
	rec.waitDone(t)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, "My Pinned Title", ctrl.Active().Title())
	// Only the chat stream ran; no title stream followed.
	assert.Equal(t, 1, eng.chatCalls())
}

// =============================================================================
// SESSION MANAGEMENT
// =============================================================================

func TestEmptySessionNeverPersisted(t *testing.T) {
	store := &memStore{}
	ctrl, _ := newTestController(t, &fakeEngine{}, store)

	ctrl.StartNewSession()
	ctrl.StartNewSession()
	require.NoError(t, ctrl.UnloadModel())

	_, saves := store.saved()
	assert.Zero(t, saves)
}

func TestStartNewSessionPersistsPrior(t *testing.T) {
	eng := &fakeEngine{}
	store := &memStore{}
	ctrl, rec := newTestController(t, eng, store)

	require.NoError(t, ctrl.LoadModel(context.Background()))
	require.NoError(t, ctrl.Send(context.Background(), "q"))
	rec.waitDone(t)

	prior := ctrl.Active().ID()
	ctrl.StartNewSession()

	assert.NotEqual(t, prior, ctrl.Active().ID())
	assert.True(t, ctrl.Active().IsEmpty())

	saved, _ := store.saved()
	require.NotEmpty(t, saved)
	assert.Equal(t, prior, saved[0].ID())
}

func TestLoadSessionSwitchesActive(t *testing.T) {
	stored := chat.NewSession()
	stored.SetTitle("Archived")
	stored.AppendUser("old question")
	stored.ExtendAssistant("old answer")

	store := &memStore{sessions: []*chat.Session{stored}}
	ctrl, _ := newTestController(t, &fakeEngine{}, store)

	require.NoError(t, ctrl.LoadSession(stored.ID()))
	assert.Equal(t, stored.ID(), ctrl.Active().ID())
	assert.Equal(t, "Archived", ctrl.Active().Title())
}

func TestLoadSessionUnknownID(t *testing.T) {
	ctrl, _ := newTestController(t, &fakeEngine{}, &memStore{})
	err := ctrl.LoadSession("sess_missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRecencyOrderOnPersist(t *testing.T) {
	older := chat.NewSession()
	older.AppendUser("old")
	older.ExtendAssistant("old reply")

	store := &memStore{sessions: []*chat.Session{older}}
	eng := &fakeEngine{scripts: []script{
		{tokens: []string{"new reply"}},
		{tokens: []string{"A Title"}},
	}}
	ctrl, rec := newTestController(t, eng, store)

	require.NoError(t, ctrl.LoadModel(context.Background()))
	require.NoError(t, ctrl.Send(context.Background(), "fresh question"))
	rec.waitDone(t)

	saved, _ := store.saved()
	require.Len(t, saved, 2)
	assert.Equal(t, ctrl.Active().ID(), saved[0].ID())
	assert.Equal(t, older.ID(), saved[1].ID())
}

func TestDeleteSession(t *testing.T) {
	stored := chat.NewSession()
	stored.AppendUser("q")
	stored.ExtendAssistant("a")

	store := &memStore{sessions: []*chat.Session{stored}}
	ctrl, _ := newTestController(t, &fakeEngine{}, store)

	require.NoError(t, ctrl.DeleteSession(stored.ID()))
	assert.Empty(t, ctrl.Sessions())

	err := ctrl.DeleteSession(stored.ID())
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestDeleteActiveSessionReplacesIt(t *testing.T) {
	eng := &fakeEngine{}
	store := &memStore{}
	ctrl, rec := newTestController(t, eng, store)

	require.NoError(t, ctrl.LoadModel(context.Background()))
	require.NoError(t, ctrl.Send(context.Background(), "q"))
	rec.waitDone(t)

	id := ctrl.Active().ID()
	require.NoError(t, ctrl.DeleteSession(id))
	assert.NotEqual(t, id, ctrl.Active().ID())
	assert.True(t, ctrl.Active().IsEmpty())
}

func TestSessionSwitchOrphansInFlightGeneration(t *testing.T) {
	stored := chat.NewSession()
	stored.SetTitle("Other")
	stored.AppendUser("other question")
	stored.ExtendAssistant("other answer")

	store := &memStore{sessions: []*chat.Session{stored}}
	eng := &fakeEngine{scripts: []script{
		{tokens: []string{"a", "b", "c", "d", "e"}, delay: 40 * time.Millisecond},
	}}
	ctrl, rec := newTestController(t, eng, store)

	require.NoError(t, ctrl.LoadModel(context.Background()))
	require.NoError(t, ctrl.Send(context.Background(), "slow question"))
	first := ctrl.Active().ID()

	time.Sleep(60 * time.Millisecond)
	require.NoError(t, ctrl.LoadSession(stored.ID()))

	assert.Eventually(t, func() bool {
		return ctrl.State() == StateReady
	}, 2*time.Second, 10*time.Millisecond)

	// The switched-to session was never touched by the orphaned stream.
	assert.Equal(t, 2, ctrl.Active().Len())

	// Any token events after the switch still name the first session, so
	// observers can discard them by identity.
	for _, ev := range rec.all() {
		if ev.Kind == EventToken {
			assert.Equal(t, first, ev.SessionID)
		}
	}
}

// =============================================================================
// EDIT AND REGENERATE
// =============================================================================

func TestEditMessage(t *testing.T) {
	eng := &fakeEngine{}
	ctrl, rec := newTestController(t, eng, &memStore{})

	require.NoError(t, ctrl.LoadModel(context.Background()))
	require.NoError(t, ctrl.Send(context.Background(), "original"))
	rec.waitDone(t)

	require.NoError(t, ctrl.EditMessage(0, "edited"))
	entry, _ := ctrl.Active().EntryAt(0)
	assert.Equal(t, "edited", entry.UserText)

	assert.ErrorIs(t, ctrl.EditMessage(1, "x"), chat.ErrNotUserEntry)
}

func TestRegenerate(t *testing.T) {
	eng := &fakeEngine{scripts: []script{
		{tokens: []string{"first answer"}},
		{tokens: []string{"Title"}},
		{tokens: []string{"second answer"}},
	}}
	ctrl, rec := newTestController(t, eng, &memStore{})

	require.NoError(t, ctrl.LoadModel(context.Background()))
	require.NoError(t, ctrl.Send(context.Background(), "question"))
	rec.waitDone(t)

	// Let the title stream drain before re-sending so the scripted
	// responses stay in order.
	require.Eventually(t, func() bool {
		return eng.chatCalls() == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, ctrl.Regenerate(context.Background(), 1))
	rec.waitDone(t)

	sess := ctrl.Active()
	require.Equal(t, 2, sess.Len())
	user, _ := sess.EntryAt(0)
	reply, _ := sess.EntryAt(1)
	assert.Equal(t, "question", user.UserText)
	assert.Equal(t, "second answer", reply.ResponseText)
}

// =============================================================================
// INACTIVITY EXPIRY
// =============================================================================

func TestInactivityExpirySavesAndUnloads(t *testing.T) {
	eng := &fakeEngine{}
	store := &memStore{}
	ctrl, rec := newTestController(t, eng, store)

	require.NoError(t, ctrl.LoadModel(context.Background()))
	// Pin the title so the only saves are the exchange and the expiry.
	ctrl.RenameSession("Pinned")
	require.NoError(t, ctrl.Send(context.Background(), "q"))
	rec.waitDone(t)

	_, before := store.saved()
	eng.mu.Lock()
	disposesBefore := eng.disposes
	eng.mu.Unlock()
	prior := ctrl.Active().ID()

	ctrl.onInactivity()

	// Exactly one more save, with the expired session at the front.
	saved, after := store.saved()
	assert.Equal(t, before+1, after)
	require.NotEmpty(t, saved)
	assert.Equal(t, prior, saved[0].ID())

	// Exactly one dispose, and the model is gone.
	eng.mu.Lock()
	disposes := eng.disposes
	eng.mu.Unlock()
	assert.Equal(t, disposesBefore+1, disposes)
	assert.Equal(t, StateNoModel, ctrl.State())

	// A fresh empty session is active.
	assert.NotEqual(t, prior, ctrl.Active().ID())
	assert.True(t, ctrl.Active().IsEmpty())

	// The unload surfaced as a notice.
	found := false
	for _, ev := range rec.all() {
		if ev.Kind == EventNotice && strings.Contains(ev.Notice, "inactive") {
			found = true
		}
	}
	assert.True(t, found, "expected an inactivity notice")
}

func TestInactivityDuringGenerationDefers(t *testing.T) {
	eng := &fakeEngine{scripts: []script{
		{tokens: []string{"a", "b", "c"}, delay: 40 * time.Millisecond},
		{tokens: []string{"Title"}},
	}}
	store := &memStore{}
	ctrl, rec := newTestController(t, eng, store)

	require.NoError(t, ctrl.LoadModel(context.Background()))
	require.NoError(t, ctrl.Send(context.Background(), "slow"))

	time.Sleep(60 * time.Millisecond)
	ctrl.onInactivity()

	// A stream in flight counts as activity: no unload, no save.
	assert.Equal(t, StateGenerating, ctrl.State())
	eng.mu.Lock()
	disposes := eng.disposes
	eng.mu.Unlock()
	assert.Zero(t, disposes)

	rec.waitDone(t)
}

// =============================================================================
// SETTINGS
// =============================================================================

func TestTitleBudgetFollowsSettings(t *testing.T) {
	eng := &fakeEngine{scripts: []script{
		{tokens: []string{"reply"}},
		{tokens: []string{"A Title"}},
	}}
	cfg := settings.Default()
	cfg.AutoSaveMinutes = 0
	cfg.Title.MaxTokens = 24
	rec := newRecorder()
	ctrl, err := New(eng, &memStore{}, cfg, rec.notify)
	require.NoError(t, err)
	defer ctrl.Close()

	require.NoError(t, ctrl.LoadModel(context.Background()))
	require.NoError(t, ctrl.Send(context.Background(), "question"))
	rec.waitDone(t)

	require.Eventually(t, func() bool {
		return eng.chatCalls() == 2
	}, 2*time.Second, 10*time.Millisecond)

	eng.mu.Lock()
	budgets := append([]int(nil), eng.budgets...)
	eng.mu.Unlock()
	require.Len(t, budgets, 2)
	assert.Equal(t, cfg.Engine.MaxTokens, budgets[0])
	assert.Equal(t, 24, budgets[1])
}

func TestStopDuringSettingsReload(t *testing.T) {
	eng := &fakeEngine{}
	ctrl, _ := newTestController(t, eng, &memStore{})
	require.NoError(t, ctrl.LoadModel(context.Background()))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			ctrl.Stop()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			next := settings.Default()
			next.AutoSaveMinutes = 0
			ctrl.ApplySettings(next)
		}
	}()
	wg.Wait()
}

// =============================================================================
// SAVE FAILURES AND SHUTDOWN
// =============================================================================

func TestSaveFailureIsNonFatal(t *testing.T) {
	store := &memStore{saveErr: errors.New("disk full")}
	eng := &fakeEngine{scripts: []script{
		{tokens: []string{"reply"}},
		{tokens: []string{"Title"}},
	}}
	ctrl, rec := newTestController(t, eng, store)

	require.NoError(t, ctrl.LoadModel(context.Background()))
	require.NoError(t, ctrl.Send(context.Background(), "q"))
	ev := rec.waitDone(t)

	// The exchange completed despite the failed save, and a notice
	// surfaced.
	assert.Equal(t, EventDone, ev.Kind)
	assert.Eventually(t, func() bool {
		for _, e := range rec.all() {
			if e.Kind == EventNotice {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestClosePreventsLateTitlePersistence(t *testing.T) {
	eng := &fakeEngine{scripts: []script{
		{tokens: []string{"reply"}},
		{tokens: []string{"Slow", "Title"}, delay: 200 * time.Millisecond},
	}}
	store := &memStore{}
	ctrl, rec := newTestController(t, eng, store)

	require.NoError(t, ctrl.LoadModel(context.Background()))
	require.NoError(t, ctrl.Send(context.Background(), "q"))
	rec.waitDone(t)

	// Close while the title stream is still mid-flight.
	require.NoError(t, ctrl.Close())
	_, after := store.saved()

	// The cancelled title resolves without touching the store or emitting.
	time.Sleep(400 * time.Millisecond)
	_, final := store.saved()
	assert.Equal(t, after, final)
	for _, ev := range rec.all() {
		assert.NotEqual(t, EventTitle, ev.Kind)
	}
}

func TestCloseRejectsFurtherOperations(t *testing.T) {
	eng := &fakeEngine{}
	ctrl, _ := newTestController(t, eng, &memStore{})

	require.NoError(t, ctrl.Close())
	assert.ErrorIs(t, ctrl.Send(context.Background(), "q"), ErrClosed)
	assert.ErrorIs(t, ctrl.LoadModel(context.Background()), ErrClosed)
	assert.NoError(t, ctrl.Close()) // idempotent
}
