// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the localm command line interface.
//
// Commands:
//   - tui       Full-screen terminal UI (default)
//   - chat      Line-oriented interactive chat (REPL)
//   - sessions  List stored sessions
//   - version   Print version
//   - help      Print usage
//
// The chat REPL uses liner for readline-style input history and glamour
// for markdown rendering of completed replies on a TTY.
package cli
