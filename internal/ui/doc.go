// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ui implements the full-screen terminal UI for localm.
//
// The UI is a single Bubble Tea model: a viewport holding the rendered
// conversation, a text input for the next message and a status bar.
// Controller events arrive over a channel and are re-delivered to the
// update loop as Bubble Tea messages, one at a time.
package ui
