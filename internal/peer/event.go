// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package peer

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Event kinds.
const (
	EventCreated   = "created"
	EventDestroyed = "destroyed"
)

// Event is a session lifecycle notification as sent to peers.
type Event struct {
	Event       string    `json:"event"`
	SessionID   uuid.UUID `json:"sessionId"`
	AccountID   int64     `json:"accountId,omitempty"`
	DisplayName string    `json:"displayName,omitempty"`
	IssuerID    uint32    `json:"issuerId,omitempty"`
	Platform    string    `json:"platform,omitempty"`
}

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// newConnID returns a sortable id for one accepted transport.
func newConnID(now time.Time) ulid.ULID {
	entropyLock.Lock()
	defer entropyLock.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), entropy)
}
