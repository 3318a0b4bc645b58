// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/holomush/gamesession/internal/account"
	"github.com/holomush/gamesession/internal/session"
	"github.com/holomush/gamesession/internal/ticket"
	"github.com/holomush/gamesession/internal/ticket/tickettest"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type event struct {
	kind      string
	sessionID uuid.UUID
	accountID int64
	username  string
	issuerID  uint32
	platform  string
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []event
}

func (n *recordingNotifier) NotifySessionCreated(id uuid.UUID, accountID int64, username string, issuerID uint32, platform string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event{"created", id, accountID, username, issuerID, platform})
}

func (n *recordingNotifier) NotifySessionDestroyed(id uuid.UUID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event{kind: "destroyed", sessionID: id})
}

func (n *recordingNotifier) Events() []event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]event(nil), n.events...)
}

func (n *recordingNotifier) Count(kind string, id uuid.UUID) int {
	c := 0
	for _, e := range n.Events() {
		if e.kind == kind && e.sessionID == id {
			c++
		}
	}
	return c
}

type harness struct {
	t        *testing.T
	keys     *tickettest.Keyring
	accounts *account.MemoryRepository
	notifier *recordingNotifier
	clock    *fakeClock
	registry *session.Registry
}

func newHarness(t *testing.T, opts session.Options) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		keys:     tickettest.NewKeyring(t),
		accounts: account.NewMemoryRepository(),
		notifier: &recordingNotifier{},
		clock:    newFakeClock(),
	}
	opts.Clock = h.clock.Now
	if opts.Seed == nil {
		opts.Seed = func() int32 { return 42 }
	}
	reg, err := session.NewRegistry(h.keys.Verifier, h.accounts, h.notifier, opts)
	require.NoError(t, err)
	h.registry = reg
	return h
}

// start begins a new session and returns its id.
func (h *harness) start() uuid.UUID {
	h.t.Helper()
	id := uuid.New()
	require.NoError(h.t, h.registry.Start(id))
	return id
}

// login logs id in with a ticket from issuer built from b.
func (h *harness) login(id uuid.UUID, platform session.Platform, issuer ticket.Issuer, b tickettest.Builder) (*session.LoginResult, error) {
	h.t.Helper()
	return h.registry.Login(context.Background(), session.LoginRequest{
		SessionID: id,
		SourceIP:  "203.0.113.7",
		Platform:  platform,
		Ticket:    h.keys.Encoded(h.t, issuer, b),
		ConsoleID: "console-1",
	})
}

func (h *harness) account(name string) *account.Account {
	h.t.Helper()
	a, err := h.accounts.GetByUsername(context.Background(), name)
	require.NoError(h.t, err)
	return a
}

func alice() tickettest.Builder {
	return tickettest.Builder{UserID: 1001, Username: "Alice", IssuerID: 0x100}
}
