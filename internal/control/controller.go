// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package control

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shuklaaditya846/local-lm/internal/chat"
	"github.com/shuklaaditya846/local-lm/internal/engine"
	"github.com/shuklaaditya846/local-lm/internal/generate"
	"github.com/shuklaaditya846/local-lm/internal/history"
	"github.com/shuklaaditya846/local-lm/internal/settings"
	"github.com/shuklaaditya846/local-lm/internal/title"
	"github.com/shuklaaditya846/local-lm/internal/watchdog"
)

// =============================================================================
// STATES AND EVENTS
// =============================================================================

// State is the controller's lifecycle state.
type State int

const (
	// StateNoModel: no model resident; Send is rejected.
	StateNoModel State = iota
	// StateModelLoading: LoadModel in progress.
	StateModelLoading
	// StateReady: model resident, no generation in flight.
	StateReady
	// StateGenerating: primary stream in flight; Send is rejected.
	StateGenerating
)

// String returns a display name for the state.
func (s State) String() string {
	switch s {
	case StateNoModel:
		return "no model"
	case StateModelLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateGenerating:
		return "generating"
	default:
		return "unknown"
	}
}

// EventKind tags an Event variant.
type EventKind int

const (
	// EventState: the controller state changed; State carries the new value.
	EventState EventKind = iota
	// EventToken: a token was appended to the active session's reply.
	EventToken
	// EventDone: the current generation completed.
	EventDone
	// EventError: a generation or engine operation failed.
	EventError
	// EventTitle: the session's title changed.
	EventTitle
	// EventSession: the active session changed (new, loaded, deleted).
	EventSession
	// EventNotice: an informational message for the user (non-fatal).
	EventNotice
)

// Event is one observable controller occurrence. SessionID identifies the
// session the event belongs to so observers can discard events that
// outlive a session switch.
type Event struct {
	Kind      EventKind
	State     State
	SessionID string
	Token     string
	Err       error
	Notice    string
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrBusy is returned when an operation is rejected because a
	// generation is in flight.
	ErrBusy = errors.New("generation in flight")
	// ErrNoModel is returned when Send is called without a resident model.
	ErrNoModel = errors.New("no model loaded")
	// ErrSessionNotFound is returned when a session id is not in the
	// collection.
	ErrSessionNotFound = errors.New("session not found")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("controller closed")
)

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller sequences the engine, the session collection, generation,
// titles and the inactivity watchdog.
//
// The notify callback is invoked from controller and stream goroutines,
// sometimes with internal locks held: it must return quickly and must not
// call back into the Controller. Forwarding into a channel or a tea
// program's Send satisfies both.
type Controller struct {
	mu sync.Mutex

	engine engine.Engine
	store  history.Store
	gen    *generate.Generator
	titles *title.Generator
	dog    *watchdog.Watchdog
	cfg    *settings.Settings
	notify func(Event)

	// titleCtx bounds every title stream; Close cancels it so no title
	// resolution outlives the controller.
	titleCtx    context.Context
	titleCancel context.CancelFunc

	state     State
	active    *chat.Session
	sessions  []*chat.Session // recency order, most recent first
	titleDone map[string]bool // session id -> title generation triggered
	closed    bool
}

// New creates a Controller over the given engine and store, loading the
// persisted session collection. A fresh empty session is active; no model
// is loaded yet.
func New(e engine.Engine, store history.Store, cfg *settings.Settings, notify func(Event)) (*Controller, error) {
	sessions, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load chat history: %w", err)
	}

	c := &Controller{
		engine:    e,
		store:     store,
		cfg:       cfg,
		notify:    notify,
		state:     StateNoModel,
		active:    chat.NewSession(),
		sessions:  sessions,
		titleDone: make(map[string]bool),
	}
	c.gen = generate.New(e, cfg.Engine.MaxTokens, cfg.Engine.Temperature)
	c.titles = title.New(e)
	c.titles.SetTimeout(cfg.TitleTimeout())
	c.titles.SetBudget(cfg.Title.MaxTokens)
	c.titleCtx, c.titleCancel = context.WithCancel(context.Background())
	c.dog = watchdog.New(c.onInactivity)

	return c, nil
}

// emit delivers an event to the observer, if any.
func (c *Controller) emit(ev Event) {
	if c.notify != nil {
		c.notify(ev)
	}
}

// setStateLocked changes state and emits the transition.
func (c *Controller) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	c.emit(Event{Kind: EventState, State: s})
}

// =============================================================================
// MODEL LIFECYCLE
// =============================================================================

// LoadModel loads the configured model into the engine. Blocks until the
// model is resident or the load fails; callers wanting a responsive UI
// run it in a goroutine and watch for the state events.
func (c *Controller) LoadModel(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state == StateGenerating || c.state == StateModelLoading {
		c.mu.Unlock()
		return ErrBusy
	}
	model := c.cfg.Engine.Model
	threads := c.cfg.Engine.Threads
	ctxSize := c.cfg.Engine.ContextSize
	c.setStateLocked(StateModelLoading)
	c.mu.Unlock()

	err := c.engine.LoadModel(ctx, model, threads, ctxSize)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.setStateLocked(StateNoModel)
		c.emit(Event{Kind: EventError, Err: err})
		return err
	}
	c.setStateLocked(StateReady)
	c.armWatchdogLocked()
	return nil
}

// UnloadModel saves the active session and releases the model. Idempotent.
func (c *Controller) UnloadModel() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.gen.Cancel()
	c.persistActiveLocked()
	c.dog.Cancel()
	err := c.engine.Dispose()
	c.active = chat.NewSession()
	c.setStateLocked(StateNoModel)
	return err
}

// onInactivity is the watchdog callback: save, then unload. A generation
// in flight counts as activity, so the timer is simply rearmed.
func (c *Controller) onInactivity() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.state == StateGenerating || c.state == StateModelLoading {
		c.armWatchdogLocked()
		return
	}
	if c.state == StateNoModel {
		return
	}
	c.persistActiveLocked()
	_ = c.engine.Dispose()
	c.active = chat.NewSession()
	c.setStateLocked(StateNoModel)
	c.emit(Event{Kind: EventNotice, Notice: "inactive: session saved, model unloaded"})
}

// armWatchdogLocked starts or rearms the inactivity timer per settings.
// No-op without a resident model; there is nothing left to reclaim.
func (c *Controller) armWatchdogLocked() {
	if c.state == StateNoModel {
		return
	}
	if d := c.cfg.AutoSaveInterval(); d > 0 {
		c.dog.Reset(d)
	} else {
		c.dog.Cancel()
	}
}

// =============================================================================
// GENERATION
// =============================================================================

// Send submits userText as the next user turn of the active session and
// starts streaming the reply. Rejected while a generation is in flight or
// without a resident model.
func (c *Controller) Send(ctx context.Context, userText string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	switch c.state {
	case StateGenerating:
		c.mu.Unlock()
		return ErrBusy
	case StateNoModel, StateModelLoading:
		c.mu.Unlock()
		return ErrNoModel
	}
	sess := c.active
	prompt := c.cfg.SystemPrompt
	// ApplySettings may swap c.gen; hold the handle captured here.
	gen := c.gen
	c.setStateLocked(StateGenerating)
	c.armWatchdogLocked()
	c.mu.Unlock()

	updates, err := gen.Generate(ctx, sess, userText, prompt)
	if err != nil {
		c.mu.Lock()
		c.setStateLocked(StateReady)
		c.mu.Unlock()
		if errors.Is(err, generate.ErrGenerationActive) {
			return ErrBusy
		}
		return err
	}

	go c.pump(sess, updates)
	return nil
}

// Stop cancels the in-flight generation, if any. Tokens already streamed
// stay in the session.
func (c *Controller) Stop() {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	gen.Cancel()
}

// pump forwards generation updates into events. Updates bound to a
// session that is no longer active are discarded rather than surfaced.
func (c *Controller) pump(sess *chat.Session, updates <-chan generate.Update) {
	for u := range updates {
		c.mu.Lock()
		current := c.active != nil && c.active.ID() == u.SessionID

		switch u.Kind {
		case generate.KindToken:
			if current {
				c.armWatchdogLocked()
				c.emit(Event{Kind: EventToken, SessionID: u.SessionID, Token: u.Token})
			}

		case generate.KindDone:
			if c.state == StateGenerating {
				c.setStateLocked(StateReady)
			}
			c.maybeTitleLocked(sess, u.UserText)
			c.persistLocked(sess)
			c.armWatchdogLocked()
			if current {
				c.emit(Event{Kind: EventDone, SessionID: u.SessionID})
			}

		case generate.KindError:
			if c.state == StateGenerating {
				c.setStateLocked(StateReady)
			}
			c.armWatchdogLocked()
			if current {
				c.emit(Event{Kind: EventError, SessionID: u.SessionID, Err: u.Err})
			}
		}
		c.mu.Unlock()
	}

	// Cancelled streams close without a terminal update.
	c.mu.Lock()
	if c.state == StateGenerating {
		c.setStateLocked(StateReady)
	}
	c.mu.Unlock()
}

// maybeTitleLocked triggers title generation exactly once per session,
// after its first completed exchange. A manually renamed session is left
// alone.
func (c *Controller) maybeTitleLocked(sess *chat.Session, userText string) {
	id := sess.ID()
	if c.titleDone[id] {
		return
	}
	if sess.CompletedExchanges() != 1 {
		return
	}
	c.titleDone[id] = true
	if sess.Title() != chat.DefaultTitle {
		return
	}
	c.titles.MaybeGenerate(c.titleCtx, sess, userText, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			return
		}
		c.emit(Event{Kind: EventTitle, SessionID: id})
		c.persistLocked(sess)
	})
}

// =============================================================================
// SESSION OPERATIONS
// =============================================================================

// StartNewSession saves the current session and activates a fresh empty
// one. A generation in flight is cancelled; its tokens stay with the old
// session.
func (c *Controller) StartNewSession() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.gen.Cancel()
	c.persistActiveLocked()
	c.active = chat.NewSession()
	if c.state == StateGenerating {
		c.setStateLocked(StateReady)
	}
	c.armWatchdogLocked()
	c.emit(Event{Kind: EventSession, SessionID: c.active.ID()})
}

// LoadSession saves the current session and activates the stored session
// with the given id.
func (c *Controller) LoadSession(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	var found *chat.Session
	for _, s := range c.sessions {
		if s.ID() == id {
			found = s
			break
		}
	}
	if found == nil {
		return ErrSessionNotFound
	}

	c.gen.Cancel()
	c.persistActiveLocked()
	c.active = found
	// A restored session already had its chance at a generated title.
	c.titleDone[id] = true
	if c.state == StateGenerating {
		c.setStateLocked(StateReady)
	}
	c.armWatchdogLocked()
	c.emit(Event{Kind: EventSession, SessionID: id})
	return nil
}

// DeleteSession removes a session from the collection. Deleting the
// active session replaces it with a fresh empty one.
func (c *Controller) DeleteSession(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	idx := -1
	for i, s := range c.sessions {
		if s.ID() == id {
			idx = i
			break
		}
	}
	if idx < 0 && (c.active == nil || c.active.ID() != id) {
		return ErrSessionNotFound
	}
	if idx >= 0 {
		c.sessions = append(c.sessions[:idx], c.sessions[idx+1:]...)
	}
	if c.active != nil && c.active.ID() == id {
		c.gen.Cancel()
		c.active = chat.NewSession()
		if c.state == StateGenerating {
			c.setStateLocked(StateReady)
		}
		c.emit(Event{Kind: EventSession, SessionID: c.active.ID()})
	}
	if err := c.store.Save(c.sessions); err != nil {
		c.emit(Event{Kind: EventNotice, Notice: fmt.Sprintf("failed to save history: %v", err)})
	}
	return nil
}

// RenameSession sets the active session's title by hand and pins it
// against later automatic generation.
func (c *Controller) RenameSession(title string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.active == nil {
		return
	}
	c.active.SetTitle(title)
	c.titleDone[c.active.ID()] = true
	c.persistActiveLocked()
	c.emit(Event{Kind: EventTitle, SessionID: c.active.ID()})
}

// EditMessage replaces the text of the i-th entry, which must be a user
// entry, in the active session. Rejected while generating.
func (c *Controller) EditMessage(i int, newText string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.state == StateGenerating {
		return ErrBusy
	}
	return c.active.EditUser(i, newText)
}

// Regenerate discards the reply at index i and everything after it, then
// re-sends the originating user text.
func (c *Controller) Regenerate(ctx context.Context, i int) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state == StateGenerating {
		c.mu.Unlock()
		return ErrBusy
	}
	userText, err := c.active.CutForRegenerate(i)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.Send(ctx, userText)
}

// =============================================================================
// ACCESSORS
// =============================================================================

// State returns the current controller state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Active returns the active session.
func (c *Controller) Active() *chat.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Sessions returns a copy of the stored collection, most recent first.
func (c *Controller) Sessions() []*chat.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*chat.Session, len(c.sessions))
	copy(out, c.sessions)
	return out
}

// SearchSessions returns stored sessions matching query in title or
// content.
func (c *Controller) SearchSessions(query string) []*chat.Session {
	return history.Search(c.Sessions(), query)
}

// =============================================================================
// SETTINGS AND SHUTDOWN
// =============================================================================

// ApplySettings swaps in new settings at runtime. The generation budget
// only changes between generations; a stream in flight keeps the budget
// it started with.
func (c *Controller) ApplySettings(s *settings.Settings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.cfg = s
	c.titles.SetTimeout(s.TitleTimeout())
	c.titles.SetBudget(s.Title.MaxTokens)
	if !c.gen.Active() {
		c.gen = generate.New(c.engine, s.Engine.MaxTokens, s.Engine.Temperature)
	}
	if c.state == StateReady {
		c.armWatchdogLocked()
	}
	c.emit(Event{Kind: EventNotice, Notice: "settings reloaded"})
}

// Close saves the active session, releases the model and stops the
// watchdog. The controller accepts no operations afterwards.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.gen.Cancel()
	c.titleCancel()
	c.dog.Close()
	c.persistActiveLocked()
	return c.engine.Dispose()
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// persistActiveLocked saves the collection with the active session moved
// to the front. Empty sessions never reach the store.
func (c *Controller) persistActiveLocked() {
	if c.active == nil || c.active.IsEmpty() {
		return
	}
	c.persistLocked(c.active)
}

// persistLocked moves sess to the front of the collection and writes the
// whole collection out. Save failures are surfaced as a notice, never as
// an operation failure.
func (c *Controller) persistLocked(sess *chat.Session) {
	if sess == nil || sess.IsEmpty() {
		return
	}
	id := sess.ID()
	for i, s := range c.sessions {
		if s.ID() == id {
			c.sessions = append(c.sessions[:i], c.sessions[i+1:]...)
			break
		}
	}
	c.sessions = append([]*chat.Session{sess}, c.sessions...)

	if err := c.store.Save(c.sessions); err != nil {
		c.emit(Event{Kind: EventNotice, Notice: fmt.Sprintf("failed to save history: %v", err)})
	}
}
