// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package watchdog provides the inactivity timer that drives automatic
// save-then-unload.
//
// Every user-visible activity reschedules the timer; on expiry with no
// further activity the watchdog fires its callback exactly once and stays
// inert until the next Reset. Close releases the timer on all teardown
// paths.
package watchdog
