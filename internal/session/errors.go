// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package session

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/samber/oops"
)

// Registry errors. Use errors.Is to classify.
var (
	// ErrPlayerNotFound covers every authentication and authorization
	// failure of a login, and presence updates for unknown sessions.
	ErrPlayerNotFound = errors.New("the player doesn't exist")
	// ErrSessionNotFound is returned for operations on an absent session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExists is returned by Start for a duplicate id.
	ErrSessionExists = errors.New("session already exists")
	// ErrStorage marks account store failures. They are infrastructure
	// errors, not credential errors, and are never masked as
	// ErrPlayerNotFound.
	ErrStorage = errors.New("account store failed")
)

func playerNotFound(id uuid.UUID, reason string) error {
	return oops.Code("PLAYER_NOT_FOUND").
		With("session_id", id.String()).
		With("reason", reason).
		Wrap(ErrPlayerNotFound)
}

func sessionNotFound(id uuid.UUID) error {
	return oops.Code("SESSION_NOT_FOUND").
		With("session_id", id.String()).
		Wrap(ErrSessionNotFound)
}

func storeFailed(operation, username string, err error) error {
	return oops.Code("ACCOUNT_STORE_FAILED").
		With("operation", operation).
		With("username", username).
		Wrap(fmt.Errorf("%w: %w", ErrStorage, err))
}
