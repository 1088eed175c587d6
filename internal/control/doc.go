// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package control coordinates the chat application's moving parts behind
// a single Controller: the inference engine, the active session, the
// session collection, streaming generation, title generation and the
// inactivity watchdog.
//
// Front-ends (terminal REPL, TUI) drive the Controller through its
// operation methods and observe it through an event callback. The
// Controller owns all cross-component sequencing; front-ends never talk
// to the engine or the store directly.
package control
