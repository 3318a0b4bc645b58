// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package session

import (
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"
)

// Platform is the console family a session logs in from.
type Platform int

// Supported platforms. PlatformPS3 is the primary title's platform.
const (
	PlatformPS3 Platform = iota
	PlatformPSP
	PlatformPSV
)

var platformNames = []string{"PS3", "PSP", "PSV"}

// String returns the wire name of the platform.
func (p Platform) String() string {
	if p < 0 || int(p) >= len(platformNames) {
		return "UNKNOWN"
	}
	return platformNames[p]
}

// ParsePlatform maps a wire name ("PS3", "PSP", "PSV") to a Platform.
func ParsePlatform(name string) (Platform, error) {
	for i, n := range platformNames {
		if n == name {
			return Platform(i), nil
		}
	}
	return 0, oops.Code("INVALID_PLATFORM").With("platform", name).Errorf("unknown platform %q", name)
}

// Presence is a player's advertised status.
type Presence int

// Presence values.
const (
	PresenceOffline Presence = iota
	PresenceOnline
	PresenceAway
	PresenceBusy
	PresenceInGame
)

var presenceNames = []string{"OFFLINE", "ONLINE", "AWAY", "BUSY", "IN_GAME"}

// String returns the wire name of the presence.
func (p Presence) String() string {
	if p < 0 || int(p) >= len(presenceNames) {
		return "OFFLINE"
	}
	return presenceNames[p]
}

// ParsePresence maps an exact wire name to a Presence.
func ParsePresence(name string) (Presence, bool) {
	for i, n := range presenceNames {
		if n == name {
			return Presence(i), true
		}
	}
	return PresenceOffline, false
}

// Session is the transient state of one connected client.
// Values returned by the Registry are copies.
type Session struct {
	ID             uuid.UUID
	Authenticated  bool
	AccountID      int64
	Username       string
	Platform       Platform
	Companion      bool
	Presence       Presence
	LastPing       time.Time
	RandomSeed     int32
	PolicyAccepted bool
	IssuerID       uint32
	TitleID        string
}

// expired reports whether the session has been idle past its TTL.
func (s *Session) expired(now time.Time) bool {
	ttl := UnauthenticatedTTL
	if s.Authenticated {
		ttl = AuthenticatedTTL
	}
	return now.Sub(s.LastPing) > ttl
}

// Session idle limits.
const (
	AuthenticatedTTL   = 60 * time.Minute
	UnauthenticatedTTL = 3 * time.Hour
)
