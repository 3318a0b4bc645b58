// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package session owns the in-memory registry of client sessions: login
// orchestration, account resolution and provisioning, presence, and expiry.
//
// There is no background timer. Expired sessions are swept at the start of
// every registry operation, so no session is guaranteed to be evicted until
// something touches the registry.
package session
