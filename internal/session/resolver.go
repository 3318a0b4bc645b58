// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/holomush/gamesession/internal/account"
	"github.com/holomush/gamesession/internal/ticket"
	"github.com/holomush/gamesession/pkg/errutil"
)

// Whitelist is the allow-list consulted when whitelisting is enabled.
type Whitelist interface {
	Contains(name string) (bool, error)
	Rename(oldName, newName string) error
}

// resolver maps verified claims to a durable account, linking and
// provisioning as the identity rules allow. It never holds the registry
// lock; every method may block on storage.
type resolver struct {
	accounts  account.Repository
	whitelist Whitelist
	policy    Policy
	clock     func() time.Time
	logger    *slog.Logger
}

// loginSession is the state resolve reads from the session being logged
// in. known is false when the registry has no such session.
type loginSession struct {
	known          bool
	policyAccepted bool
}

// resolve returns the account claims map to, or nil when no account may
// be used. Renames and links are committed whether or not the session is
// known; provisioning needs a known session to copy its policy flag from.
// Only storage failures are returned as errors.
func (r *resolver) resolve(ctx context.Context, claims *ticket.Claims, sess loginSession) (*account.Account, error) {
	acct, err := r.byIdentity(ctx, claims.Issuer, claims.UserID)
	if err != nil {
		return nil, err
	}
	if acct != nil {
		if claims.Issuer == ticket.IssuerPSN && acct.Username != claims.Username {
			if err := r.rename(ctx, acct, claims.Username); err != nil {
				return nil, err
			}
		}
		return acct, nil
	}

	byName, err := r.accounts.GetByUsername(ctx, claims.Username)
	switch {
	case err == nil:
		return r.link(ctx, byName, claims)
	case !errors.Is(err, account.ErrNotFound):
		return nil, storeFailed("get account by username", claims.Username, err)
	}

	if !sess.known {
		return nil, nil
	}
	allowed, err := r.whitelisted(claims.Username)
	if err != nil || !allowed {
		return nil, err
	}
	return r.provision(ctx, claims, sess.policyAccepted)
}

// byIdentity looks the account up by the platform id slot matching issuer.
func (r *resolver) byIdentity(ctx context.Context, issuer ticket.Issuer, userID uint64) (*account.Account, error) {
	var (
		acct *account.Account
		err  error
	)
	switch issuer {
	case ticket.IssuerPSN:
		acct, err = r.accounts.GetByPSNID(ctx, userID)
	case ticket.IssuerRPCN:
		acct, err = r.accounts.GetByRPCNID(ctx, userID)
	default:
		return nil, nil
	}
	if errors.Is(err, account.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeFailed("get account by "+issuer.String()+" id", "", err)
	}
	return acct, nil
}

// rename follows an upstream display name change.
func (r *resolver) rename(ctx context.Context, acct *account.Account, newName string) error {
	oldName := acct.Username
	acct.Username = newName
	acct.UpdatedAt = r.clock()
	if err := r.accounts.Update(ctx, acct); err != nil {
		return storeFailed("rename account", oldName, err)
	}
	r.logger.InfoContext(ctx, "account renamed",
		"account_id", acct.ID, "old_name", oldName, "new_name", newName)

	if r.policy.WhitelistEnabled {
		if err := r.whitelist.Rename(oldName, newName); err != nil {
			errutil.LogErrorContext(ctx, r.logger, "whitelist rename failed", err)
		}
	}
	return nil
}

// link binds the incoming identity to an account found by username when
// its slot is free and the other slot is free or re-linking is allowed.
// The allow flag is consumed whenever it is set, even if nothing linked.
func (r *resolver) link(ctx context.Context, acct *account.Account, claims *ticket.Claims) (*account.Account, error) {
	linked := false
	switch claims.Issuer {
	case ticket.IssuerPSN:
		if acct.PSNID == 0 && (acct.RPCNID == 0 || acct.AllowOppositePlatform) {
			acct.PSNID = claims.UserID
			linked = true
		}
	case ticket.IssuerRPCN:
		if acct.RPCNID == 0 && (acct.PSNID == 0 || acct.AllowOppositePlatform) {
			acct.RPCNID = claims.UserID
			linked = true
		}
	}
	consumed := acct.AllowOppositePlatform
	acct.AllowOppositePlatform = false

	if linked || consumed {
		acct.UpdatedAt = r.clock()
		if err := r.accounts.Update(ctx, acct); err != nil {
			return nil, storeFailed("link account", acct.Username, err)
		}
	}
	if !linked {
		r.logger.WarnContext(ctx, "username owned by another identity",
			"username", claims.Username, "issuer", claims.Issuer.String(), "account_id", acct.ID)
		return nil, nil
	}
	r.logger.InfoContext(ctx, "identity linked to account",
		"account_id", acct.ID, "username", acct.Username, "issuer", claims.Issuer.String())
	return acct, nil
}

// provision creates a fresh account for claims.
func (r *resolver) provision(ctx context.Context, claims *ticket.Claims, policyAccepted bool) (*account.Account, error) {
	now := r.clock()
	acct := &account.Account{
		Username:       claims.Username,
		Quota:          account.DefaultQuota,
		PolicyAccepted: policyAccepted,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	switch claims.Issuer {
	case ticket.IssuerPSN:
		acct.PSNID = claims.UserID
	case ticket.IssuerRPCN:
		acct.RPCNID = claims.UserID
	}

	err := r.accounts.Create(ctx, acct)
	if errors.Is(err, account.ErrConflict) {
		// A concurrent login for the same identity won the insert.
		return r.byIdentity(ctx, claims.Issuer, claims.UserID)
	}
	if err != nil {
		return nil, storeFailed("create account", claims.Username, err)
	}
	r.logger.InfoContext(ctx, "account provisioned",
		"account_id", acct.ID, "username", acct.Username, "issuer", claims.Issuer.String())
	return acct, nil
}

// whitelisted reports whether name may log in under the current policy.
func (r *resolver) whitelisted(name string) (bool, error) {
	if !r.policy.WhitelistEnabled {
		return true, nil
	}
	ok, err := r.whitelist.Contains(name)
	if err != nil {
		return false, storeFailed("read whitelist", name, err)
	}
	return ok, nil
}
