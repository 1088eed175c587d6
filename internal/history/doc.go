// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package history persists the session collection.
//
// The Store contract is deliberately coarse: Load returns the full
// recency-ordered collection (tolerating missing or corrupt data by
// returning an empty collection), Save replaces it atomically from the
// caller's perspective. Two backends are provided: a JSON file written with
// an atomic rename, and a SQLite database.
package history
