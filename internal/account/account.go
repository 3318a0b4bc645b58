// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package account defines the durable player account and the repository
// boundary the session layer reads and updates it through.
package account

import (
	"context"
	"errors"
	"time"
)

// DefaultQuota is the quota given to provisioned accounts.
const DefaultQuota = 30

// FirstID is the identifier assigned to the first provisioned account.
const FirstID int64 = 11

// Repository errors. Implementations wrap these so callers can use errors.Is.
var (
	ErrNotFound = errors.New("account not found")
	ErrConflict = errors.New("account conflicts with an existing account")
)

// Account is an application-level identity linked to at most one PSN and
// one RPCN identity. A zero platform id means that slot is unlinked.
type Account struct {
	ID                    int64
	Username              string
	PSNID                 uint64
	RPCNID                uint64
	IsBanned              bool
	AllowOppositePlatform bool
	Quota                 int
	PlayedCompanion       bool
	PolicyAccepted        bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Repository is the storage collaborator for accounts.
// Every method is a single atomic read or write.
type Repository interface {
	// GetByPSNID returns the account linked to a PSN user id.
	GetByPSNID(ctx context.Context, id uint64) (*Account, error)

	// GetByRPCNID returns the account linked to an RPCN user id.
	GetByRPCNID(ctx context.Context, id uint64) (*Account, error)

	// GetByUsername returns the account with the exact username.
	GetByUsername(ctx context.Context, username string) (*Account, error)

	// Create stores a new account and sets its ID.
	// Returns ErrConflict if the username or a platform id is taken.
	Create(ctx context.Context, a *Account) error

	// Update persists every mutable field of an existing account.
	Update(ctx context.Context, a *Account) error
}
