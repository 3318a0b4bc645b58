// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package ticket

import (
	"encoding/base64"
	"strings"
	"time"

	"github.com/samber/oops"
)

// ReservedUsername is the system account name no ticket may claim.
const ReservedUsername = "ufg"

// Claims are the verified identity claims extracted from a ticket.
type Claims struct {
	Issuer    Issuer
	UserID    uint64
	Username  string
	IssuerID  uint32
	TitleID   string
	ServiceID string
	Domain    string
	Country   string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Version   Version
}

// Verifier authenticates tickets against a fixed set of issuer keys.
// It holds no mutable state and is safe for concurrent use.
type Verifier struct {
	keys     map[[SignatureIDSize]byte]IssuerKey
	reserved map[string]struct{}
}

// NewVerifier creates a Verifier trusting exactly the given issuer keys.
// Each issuer may appear at most once.
func NewVerifier(keys ...IssuerKey) (*Verifier, error) {
	v := &Verifier{
		keys:     make(map[[SignatureIDSize]byte]IssuerKey, len(keys)),
		reserved: map[string]struct{}{ReservedUsername: {}},
	}
	for _, k := range keys {
		if err := k.validate(); err != nil {
			return nil, err
		}
		id, _ := k.Issuer.SignatureID()
		if _, dup := v.keys[id]; dup {
			return nil, oops.Code("TICKET_DUPLICATE_ISSUER").
				With("issuer", k.Issuer.String()).
				Errorf("issuer %s configured more than once", k.Issuer)
		}
		v.keys[id] = k
	}
	return v, nil
}

// Trusts reports whether the verifier has a key for issuer.
func (v *Verifier) Trusts(issuer Issuer) bool {
	id, ok := issuer.SignatureID()
	if !ok {
		return false
	}
	_, ok = v.keys[id]
	return ok
}

// Verify parses raw and checks its signature against the issuer selected by
// the ticket's signature identifier.
func (v *Verifier) Verify(raw []byte) (*Claims, error) {
	t, err := Parse(raw)
	if err != nil {
		return nil, err
	}

	key, ok := v.keys[t.SignatureID]
	if !ok {
		return nil, fail(FailureUntrustedIssuer, nil,
			"signature_id", base64.StdEncoding.EncodeToString(t.SignatureID[:]),
			"username", t.Username)
	}

	if err := key.verify(t.SignedBytes(), t.Signature); err != nil {
		return nil, fail(FailureSignatureInvalid, err,
			"issuer", key.Issuer.String(),
			"username", t.Username)
	}

	if _, reserved := v.reserved[t.Username]; reserved {
		return nil, fail(FailureReservedIdentity, nil,
			"issuer", key.Issuer.String(),
			"username", t.Username)
	}

	return &Claims{
		Issuer:    key.Issuer,
		UserID:    t.UserID,
		Username:  t.Username,
		IssuerID:  t.IssuerID,
		TitleID:   t.TitleID,
		ServiceID: t.ServiceID,
		Domain:    t.Domain,
		Country:   t.Country,
		IssuedAt:  t.IssuedAt,
		ExpiresAt: t.ExpiresAt,
		Version:   t.Version,
	}, nil
}

// DecodeTicket trims the newline and NUL padding clients append and decodes
// the base64 payload.
func DecodeTicket(encoded string) ([]byte, error) {
	trimmed := strings.Trim(encoded, "\n\x00\r ")
	if trimmed == "" {
		return nil, fail(FailureMalformed, errUnexpectedEOF, "operation", "decode base64")
	}
	raw, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, fail(FailureMalformed, err, "operation", "decode base64")
	}
	return raw, nil
}
