// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package postgres implements account.Repository on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/holomush/gamesession/internal/account"
)

// poolIface is the subset of pgxpool.Pool the repository uses.
// pgxmock.PgxPoolIface satisfies it in unit tests.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const selectAccount = `
	SELECT id, username, psn_id, rpcn_id, is_banned, allow_opposite_platform,
	       quota, played_companion, policy_accepted, created_at, updated_at
	FROM accounts`

// AccountRepository implements account.Repository using PostgreSQL.
type AccountRepository struct {
	pool poolIface
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(pool poolIface) *AccountRepository {
	return &AccountRepository{pool: pool}
}

// GetByPSNID returns the account linked to a PSN user id.
func (r *AccountRepository) GetByPSNID(ctx context.Context, id uint64) (*account.Account, error) {
	return r.getOne(ctx, "psn_id", platformID(id), selectAccount+` WHERE psn_id = $1`)
}

// GetByRPCNID returns the account linked to an RPCN user id.
func (r *AccountRepository) GetByRPCNID(ctx context.Context, id uint64) (*account.Account, error) {
	return r.getOne(ctx, "rpcn_id", platformID(id), selectAccount+` WHERE rpcn_id = $1`)
}

// GetByUsername returns the account with the exact username.
func (r *AccountRepository) GetByUsername(ctx context.Context, username string) (*account.Account, error) {
	return r.getOne(ctx, "username", username, selectAccount+` WHERE username = $1`)
}

func (r *AccountRepository) getOne(ctx context.Context, field string, value any, query string) (*account.Account, error) {
	a, err := scanAccount(r.pool.QueryRow(ctx, query, value))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With(field, value).
			Wrap(account.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_FAILED").
			With("operation", "get account by "+field).
			With(field, value).
			Wrap(err)
	}
	return a, nil
}

// Create stores a new account and sets its ID from the table's identity.
func (r *AccountRepository) Create(ctx context.Context, a *account.Account) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO accounts (
			username, psn_id, rpcn_id, is_banned, allow_opposite_platform,
			quota, played_companion, policy_accepted, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`,
		a.Username,
		platformID(a.PSNID),
		platformID(a.RPCNID),
		a.IsBanned,
		a.AllowOppositePlatform,
		a.Quota,
		a.PlayedCompanion,
		a.PolicyAccepted,
		a.CreatedAt,
		a.UpdatedAt,
	).Scan(&a.ID)
	if err != nil {
		return wrapWriteErr(err, "insert account", a)
	}
	return nil
}

// Update persists every mutable field of an existing account.
func (r *AccountRepository) Update(ctx context.Context, a *account.Account) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE accounts SET
			username = $2,
			psn_id = $3,
			rpcn_id = $4,
			is_banned = $5,
			allow_opposite_platform = $6,
			quota = $7,
			played_companion = $8,
			policy_accepted = $9,
			updated_at = $10
		WHERE id = $1
	`,
		a.ID,
		a.Username,
		platformID(a.PSNID),
		platformID(a.RPCNID),
		a.IsBanned,
		a.AllowOppositePlatform,
		a.Quota,
		a.PlayedCompanion,
		a.PolicyAccepted,
		a.UpdatedAt,
	)
	if err != nil {
		return wrapWriteErr(err, "update account", a)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("id", a.ID).
			Wrap(account.ErrNotFound)
	}
	return nil
}

func wrapWriteErr(err error, operation string, a *account.Account) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return oops.Code("ACCOUNT_CONFLICT").
			With("operation", operation).
			With("constraint", pgErr.ConstraintName).
			With("username", a.Username).
			Wrap(account.ErrConflict)
	}
	return oops.Code("ACCOUNT_WRITE_FAILED").
		With("operation", operation).
		With("id", a.ID).
		With("username", a.Username).
		Wrap(err)
}

// platformID maps an unsigned platform user id onto the BIGINT column.
// Zero means unlinked and is stored as NULL so the partial unique
// indexes ignore it.
func platformID(id uint64) *int64 {
	if id == 0 {
		return nil
	}
	v := int64(id) //nolint:gosec // bit pattern round-trips through fromPlatformID
	return &v
}

func fromPlatformID(v *int64) uint64 {
	if v == nil {
		return 0
	}
	return uint64(*v) //nolint:gosec // inverse of platformID
}

// scanAccount scans a single row into an Account.
// Callers are responsible for handling pgx.ErrNoRows.
func scanAccount(row pgx.Row) (*account.Account, error) {
	var (
		a       account.Account
		psnID   *int64
		rpcnID  *int64
		created time.Time
		updated time.Time
	)
	err := row.Scan(
		&a.ID,
		&a.Username,
		&psnID,
		&rpcnID,
		&a.IsBanned,
		&a.AllowOppositePlatform,
		&a.Quota,
		&a.PlayedCompanion,
		&a.PolicyAccepted,
		&created,
		&updated,
	)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with lookup context
	}
	a.PSNID = fromPlatformID(psnID)
	a.RPCNID = fromPlatformID(rpcnID)
	a.CreatedAt = created
	a.UpdatedAt = updated
	return &a, nil
}

// Compile-time interface check.
var _ account.Repository = (*AccountRepository)(nil)
