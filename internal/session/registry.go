// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package session

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/holomush/gamesession/internal/account"
	"github.com/holomush/gamesession/internal/ticket"
)

// TicketVerifier authenticates raw ticket bytes.
type TicketVerifier interface {
	Verify(raw []byte) (*ticket.Claims, error)
}

// Notifier receives session lifecycle events. The registry calls it while
// holding its lock so events for one session keep their order;
// implementations must not block.
type Notifier interface {
	NotifySessionCreated(sessionID uuid.UUID, accountID int64, username string, issuerID uint32, platform string)
	NotifySessionDestroyed(sessionID uuid.UUID)
}

// LoginRequest is one login attempt for a pre-started session.
type LoginRequest struct {
	SessionID uuid.UUID
	SourceIP  string
	Platform  Platform
	// Ticket is the base64 ticket as sent by the client, padding included.
	Ticket    string
	ConsoleID string
}

// LoginResult is the payload of a successful login.
type LoginResult struct {
	SourceIP  string
	LoginTime time.Time
	Platform  Platform
	AccountID int64
	Username  string
	Presence  Presence
}

// Options configure a Registry. Zero values select production defaults.
type Options struct {
	Policy    Policy
	Whitelist Whitelist
	Clock     func() time.Time
	Seed      func() int32
	Logger    *slog.Logger
}

// Registry owns every session of this process. All state is guarded by one
// mutex; storage and ticket verification run outside it.
type Registry struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*Session

	verifier TicketVerifier
	notifier Notifier
	resolver *resolver
	policy   Policy
	clock    func() time.Time
	seed     func() int32
	logger   *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(verifier TicketVerifier, accounts account.Repository, notifier Notifier, opts Options) (*Registry, error) {
	if verifier == nil {
		return nil, oops.Code("REGISTRY_INVALID_CONFIG").Errorf("ticket verifier is required")
	}
	if accounts == nil {
		return nil, oops.Code("REGISTRY_INVALID_CONFIG").Errorf("account repository is required")
	}
	if notifier == nil {
		return nil, oops.Code("REGISTRY_INVALID_CONFIG").Errorf("notifier is required")
	}
	if opts.Policy.WhitelistEnabled && opts.Whitelist == nil {
		return nil, oops.Code("REGISTRY_INVALID_CONFIG").Errorf("whitelist is enabled but no whitelist was provided")
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Seed == nil {
		opts.Seed = rand.Int32
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	return &Registry{
		sessions: make(map[uuid.UUID]*Session),
		verifier: verifier,
		notifier: notifier,
		resolver: &resolver{
			accounts:  accounts,
			whitelist: opts.Whitelist,
			policy:    opts.Policy,
			clock:     opts.Clock,
			logger:    opts.Logger,
		},
		policy: opts.Policy,
		clock:  opts.Clock,
		seed:   opts.Seed,
		logger: opts.Logger,
	}, nil
}

// sweep removes idle sessions. Callers must hold r.mu.
func (r *Registry) sweep() {
	now := r.clock()
	for id, s := range r.sessions {
		if s.expired(now) {
			r.logger.Debug("session expired",
				"session_id", id.String(), "authenticated", s.Authenticated, "username", s.Username)
			r.destroyLocked(id, reasonExpired)
		}
	}
}

// destroyLocked removes a session and notifies peers. Callers must hold r.mu.
func (r *Registry) destroyLocked(id uuid.UUID, reason string) {
	delete(r.sessions, id)
	r.notifier.NotifySessionDestroyed(id)
	recordDestroyed(reason)
}

// Start registers a new unauthenticated session.
func (r *Registry) Start(id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweep()

	if _, exists := r.sessions[id]; exists {
		return oops.Code("SESSION_EXISTS").With("session_id", id.String()).Wrap(ErrSessionExists)
	}
	r.sessions[id] = &Session{
		ID:       id,
		Presence: PresenceOffline,
		LastPing: r.clock(),
	}
	return nil
}

// Ping refreshes a session's activity time.
func (r *Registry) Ping(id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.pingLocked(id) {
		return sessionNotFound(id)
	}
	return nil
}

// pingLocked sweeps, then refreshes id. Callers must hold r.mu.
func (r *Registry) pingLocked(id uuid.UUID) bool {
	r.sweep()
	s, ok := r.sessions[id]
	if ok {
		s.LastPing = r.clock()
	}
	return ok
}

// Login authenticates the session named in req. Every authentication or
// authorization failure is ErrPlayerNotFound with the cause logged only.
// Account mutations made while resolving are committed even when the
// session turns out to be unknown or a block rule rejects the login; the
// session itself is only bound once every check has passed.
func (r *Registry) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	policyAccepted, known := r.policyAccepted(req.SessionID)

	raw, err := ticket.DecodeTicket(req.Ticket)
	if err != nil {
		return nil, r.reject(ctx, req, ticket.FailureKindOf(err).String(), "")
	}
	claims, err := r.verifier.Verify(raw)
	if err != nil {
		return nil, r.reject(ctx, req, ticket.FailureKindOf(err).String(), "")
	}

	acct, err := r.resolver.resolve(ctx, claims, loginSession{known: known, policyAccepted: policyAccepted})
	if err != nil {
		recordLogin(outcomeError)
		return nil, err
	}
	if !known {
		return nil, r.reject(ctx, req, "unknown_session", claims.Username)
	}
	if acct == nil {
		return nil, r.reject(ctx, req, "no_account", claims.Username)
	}
	if acct.IsBanned {
		return nil, r.reject(ctx, req, "banned", acct.Username)
	}
	allowed, err := r.resolver.whitelisted(acct.Username)
	if err != nil {
		recordLogin(outcomeError)
		return nil, err
	}
	if !allowed {
		return nil, r.reject(ctx, req, "not_whitelisted", acct.Username)
	}

	companion := IsCompanion(req.Platform, claims.TitleID)
	if companion && !acct.PlayedCompanion {
		acct.PlayedCompanion = true
		acct.UpdatedAt = r.clock()
		if err := r.resolver.accounts.Update(ctx, acct); err != nil {
			recordLogin(outcomeError)
			return nil, storeFailed("record companion play", acct.Username, err)
		}
	}

	if rule := r.policy.Blocked(req.Platform, companion); rule != "" {
		return nil, r.reject(ctx, req, "blocked:"+rule, acct.Username)
	}

	result, ok := r.bind(req, acct, claims, companion)
	if !ok {
		return nil, r.reject(ctx, req, "unknown_session", acct.Username)
	}
	recordLogin(outcomeSuccess)
	r.logger.InfoContext(ctx, "login succeeded",
		"session_id", req.SessionID.String(),
		"account_id", acct.ID,
		"username", acct.Username,
		"platform", req.Platform.String(),
		"companion", companion,
		"issuer", claims.Issuer.String(),
		"source_ip", req.SourceIP)
	return result, nil
}

// policyAccepted sweeps and returns the session's policy flag.
func (r *Registry) policyAccepted(id uuid.UUID) (accepted, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweep()
	s, ok := r.sessions[id]
	if !ok {
		return false, false
	}
	return s.PolicyAccepted, true
}

// bind evicts the account's other sessions on the same platform and
// promotes id to authenticated, all in one critical section.
func (r *Registry) bind(req LoginRequest, acct *account.Account, claims *ticket.Claims, companion bool) (*LoginResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweep()

	s, ok := r.sessions[req.SessionID]
	if !ok {
		return nil, false
	}

	for id, other := range r.sessions {
		if id != req.SessionID && other.Authenticated &&
			other.AccountID == acct.ID && other.Platform == req.Platform {
			r.logger.Info("evicting duplicate session",
				"session_id", id.String(), "account_id", acct.ID, "platform", req.Platform.String())
			r.destroyLocked(id, reasonEvicted)
		}
	}

	now := r.clock()
	s.Authenticated = true
	s.AccountID = acct.ID
	s.Username = acct.Username
	s.Platform = req.Platform
	s.Companion = companion
	s.IssuerID = claims.IssuerID
	s.TitleID = claims.TitleID
	s.LastPing = now

	r.notifier.NotifySessionCreated(s.ID, acct.ID, acct.Username, claims.IssuerID, req.Platform.String())
	s.RandomSeed = r.seed()

	return &LoginResult{
		SourceIP:  req.SourceIP,
		LoginTime: now,
		Platform:  req.Platform,
		AccountID: acct.ID,
		Username:  acct.Username,
		Presence:  s.Presence,
	}, true
}

func (r *Registry) reject(ctx context.Context, req LoginRequest, reason, username string) error {
	recordLogin(outcomeRejected)
	r.logger.WarnContext(ctx, "login rejected",
		"session_id", req.SessionID.String(),
		"reason", reason,
		"username", username,
		"platform", req.Platform.String(),
		"source_ip", req.SourceIP)
	return playerNotFound(req.SessionID, reason)
}

// SetPresence pings the session, then sets its presence. An unknown
// session or unrecognized value is ErrPlayerNotFound and leaves the
// presence unchanged.
func (r *Registry) SetPresence(id uuid.UUID, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.pingLocked(id) {
		return playerNotFound(id, "unknown_session")
	}
	p, ok := ParsePresence(value)
	if !ok {
		return oops.Code("PLAYER_NOT_FOUND").
			With("session_id", id.String()).
			With("presence", value).
			Wrap(ErrPlayerNotFound)
	}
	r.sessions[id].Presence = p
	return nil
}

// GetPresence returns the presence of the session logged in as username,
// or PresenceOffline if there is none.
func (r *Registry) GetPresence(username string) Presence {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweep()
	for _, s := range r.sessions {
		if s.Authenticated && s.Username == username {
			return s.Presence
		}
	}
	return PresenceOffline
}

// AcceptPolicy marks the session's policy as accepted. Unknown sessions
// are ignored.
func (r *Registry) AcceptPolicy(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweep()
	if s, ok := r.sessions[id]; ok {
		s.PolicyAccepted = true
	}
}

// Get pings the session and returns a copy of it. A missing session yields
// the zero Session, which is unauthenticated.
func (r *Registry) Get(id uuid.UUID) Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.pingLocked(id) {
		return Session{}
	}
	return *r.sessions[id]
}

// Lookup returns a copy of the session without refreshing it.
func (r *Registry) Lookup(id uuid.UUID) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweep()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Logout destroys the session.
func (r *Registry) Logout(id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweep()
	if _, ok := r.sessions[id]; !ok {
		return sessionNotFound(id)
	}
	r.destroyLocked(id, reasonLogout)
	return nil
}

// DestroyAll removes every session, notifying peers of each. It returns
// how many sessions were destroyed.
func (r *Registry) DestroyAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.sessions)
	for id := range r.sessions {
		r.destroyLocked(id, reasonShutdown)
	}
	return n
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweep()
	return len(r.sessions)
}

// AuthenticatedCount returns the number of logged in sessions.
func (r *Registry) AuthenticatedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweep()
	n := 0
	for _, s := range r.sessions {
		if s.Authenticated {
			n++
		}
	}
	return n
}

// List returns copies of every live session, most recently active first.
func (r *Registry) List() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweep()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	slices.SortFunc(out, func(a, b Session) int { return b.LastPing.Compare(a.LastPing) })
	return out
}
