// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package account

import (
	"context"
	"sync"

	"github.com/samber/oops"
)

// MemoryRepository is an in-process Repository for development and tests.
// It is safe for concurrent use.
type MemoryRepository struct {
	mu       sync.Mutex
	accounts map[int64]*Account
	nextID   int64

	// FailWith, when set, is consulted before every operation. A non-nil
	// return is passed through as the operation's error.
	FailWith func(op string) error
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		accounts: make(map[int64]*Account),
		nextID:   FirstID,
	}
}

func (r *MemoryRepository) fail(op string) error {
	if r.FailWith == nil {
		return nil
	}
	return r.FailWith(op)
}

func (r *MemoryRepository) find(match func(*Account) bool) *Account {
	for _, a := range r.accounts {
		if match(a) {
			cp := *a
			return &cp
		}
	}
	return nil
}

// GetByPSNID returns the account linked to a PSN user id.
func (r *MemoryRepository) GetByPSNID(_ context.Context, id uint64) (*Account, error) {
	if err := r.fail("get_by_psn_id"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if a := r.find(func(a *Account) bool { return id != 0 && a.PSNID == id }); a != nil {
		return a, nil
	}
	return nil, oops.Code("ACCOUNT_NOT_FOUND").With("psn_id", id).Wrap(ErrNotFound)
}

// GetByRPCNID returns the account linked to an RPCN user id.
func (r *MemoryRepository) GetByRPCNID(_ context.Context, id uint64) (*Account, error) {
	if err := r.fail("get_by_rpcn_id"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if a := r.find(func(a *Account) bool { return id != 0 && a.RPCNID == id }); a != nil {
		return a, nil
	}
	return nil, oops.Code("ACCOUNT_NOT_FOUND").With("rpcn_id", id).Wrap(ErrNotFound)
}

// GetByUsername returns the account with the exact username.
func (r *MemoryRepository) GetByUsername(_ context.Context, username string) (*Account, error) {
	if err := r.fail("get_by_username"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if a := r.find(func(a *Account) bool { return a.Username == username }); a != nil {
		return a, nil
	}
	return nil, oops.Code("ACCOUNT_NOT_FOUND").With("username", username).Wrap(ErrNotFound)
}

// Create stores a new account and sets its ID.
func (r *MemoryRepository) Create(_ context.Context, a *Account) error {
	if err := r.fail("create"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkUnique(a, 0); err != nil {
		return err
	}
	a.ID = r.nextID
	r.nextID++
	cp := *a
	r.accounts[a.ID] = &cp
	return nil
}

// Update persists every mutable field of an existing account.
func (r *MemoryRepository) Update(_ context.Context, a *Account) error {
	if err := r.fail("update"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[a.ID]; !ok {
		return oops.Code("ACCOUNT_NOT_FOUND").With("id", a.ID).Wrap(ErrNotFound)
	}
	if err := r.checkUnique(a, a.ID); err != nil {
		return err
	}
	cp := *a
	r.accounts[a.ID] = &cp
	return nil
}

// Len returns the number of stored accounts.
func (r *MemoryRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.accounts)
}

// checkUnique mirrors the unique constraints of the accounts table.
// self is the id of the account being updated, or 0 on create.
func (r *MemoryRepository) checkUnique(a *Account, self int64) error {
	for id, other := range r.accounts {
		if id == self {
			continue
		}
		var field string
		switch {
		case other.Username == a.Username:
			field = "username"
		case a.PSNID != 0 && other.PSNID == a.PSNID:
			field = "psn_id"
		case a.RPCNID != 0 && other.RPCNID == a.RPCNID:
			field = "rpcn_id"
		default:
			continue
		}
		return oops.Code("ACCOUNT_CONFLICT").
			With("field", field).
			With("username", a.Username).
			Wrap(ErrConflict)
	}
	return nil
}

// Compile-time interface check.
var _ Repository = (*MemoryRepository)(nil)
