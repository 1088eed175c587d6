// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package title generates a short display title for a session from its
// first user message.
//
// A secondary, time-bounded token stream races a fixed timeout. Each
// streamed candidate is cleaned and, when valid, written to the session
// title immediately, so the title may visibly update several times. If the
// race ends without a valid candidate, a deterministic fallback built from
// the first words of the user message is used. Title generation never
// surfaces an error: the worst case is the fallback.
package title
