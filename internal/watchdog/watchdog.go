// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package watchdog

import (
	"sync"
	"time"
)

// =============================================================================
// WATCHDOG
// =============================================================================

// Watchdog is a resettable single-shot inactivity timer.
//
// Reset schedules (or reschedules) a firing; on expiry the callback runs
// exactly once and the watchdog is inert until the next Reset. All methods
// are safe for concurrent use and safe to call in any state.
type Watchdog struct {
	mu       sync.Mutex
	timer    *time.Timer
	seq      uint64 // bumped on every Reset/Cancel so a stale firing is a no-op
	onExpire func()
	closed   bool
}

// New creates a Watchdog with nothing scheduled.
func New(onExpire func()) *Watchdog {
	return &Watchdog{onExpire: onExpire}
}

// Reset schedules the watchdog to fire d from now, cancelling any pending
// firing. A non-positive duration just cancels.
func (w *Watchdog) Reset(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.stopLocked()
	if d <= 0 {
		return
	}
	seq := w.seq
	w.timer = time.AfterFunc(d, func() { w.fire(seq) })
}

// Cancel clears any pending firing. Always safe, including when nothing is
// pending.
func (w *Watchdog) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
}

// Pending reports whether a firing is scheduled.
func (w *Watchdog) Pending() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.timer != nil
}

// Close cancels any pending firing and makes the watchdog permanently
// inert. Safe to call more than once; required on all teardown paths so the
// timer never outlives its owner.
func (w *Watchdog) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	w.stopLocked()
}

// fire runs the expiry callback unless the watchdog was reset, cancelled or
// closed between scheduling and firing.
func (w *Watchdog) fire(seq uint64) {
	w.mu.Lock()
	if w.closed || w.timer == nil || seq != w.seq {
		w.mu.Unlock()
		return
	}
	w.timer = nil
	fn := w.onExpire
	w.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// stopLocked stops and clears the timer and invalidates any in-flight
// firing. Caller must hold w.mu.
func (w *Watchdog) stopLocked() {
	w.seq++
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}
