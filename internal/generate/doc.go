// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package generate drives the primary token stream for one user turn.
//
// The Generator appends the user entry, renders the full prompt context,
// opens a single engine stream and folds each token into the session's
// trailing assistant entry, emitting a tagged Update after every token so
// observers can re-render and re-persist incrementally.
//
// At most one generation is in flight per Generator; a second call while
// active returns ErrGenerationActive. Cancel unsubscribes from the stream
// and keeps whatever text accumulated.
package generate
