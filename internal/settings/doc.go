// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package settings provides configuration loading and management for localm.
//
// Settings live in a single TOML file under ~/.localm, with sensible
// defaults, environment variable overrides, and value clamping so a
// hand-edited file cannot put the application into an unusable state.
//
// Settings file location:
//   - ~/.localm/settings.toml
//   - Built-in defaults when the file is absent
package settings
