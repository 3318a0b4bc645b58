// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package ticket

import (
	"errors"

	"github.com/samber/oops"
)

// Verification failure sentinels. Use errors.Is to classify a failure.
var (
	ErrMalformed         = errors.New("malformed ticket")
	ErrUntrustedIssuer   = errors.New("untrusted ticket issuer")
	ErrSignatureInvalid  = errors.New("invalid ticket signature")
	ErrReservedIdentity  = errors.New("reserved ticket identity")
	errUnexpectedEOF     = errors.New("unexpected end of ticket")
	errLengthOverrun     = errors.New("length field overruns buffer")
	errUnexpectedSection = errors.New("unexpected section")
)

// FailureKind classifies why a ticket was rejected.
type FailureKind int

// Failure kinds, in the order checks are performed.
const (
	FailureNone FailureKind = iota
	FailureMalformed
	FailureUntrustedIssuer
	FailureSignatureInvalid
	FailureReservedIdentity
)

var failureKinds = []struct {
	kind     FailureKind
	name     string
	code     string
	sentinel error
}{
	{FailureMalformed, "malformed", "TICKET_MALFORMED", ErrMalformed},
	{FailureUntrustedIssuer, "untrusted_issuer", "TICKET_UNTRUSTED_ISSUER", ErrUntrustedIssuer},
	{FailureSignatureInvalid, "signature_invalid", "TICKET_SIGNATURE_INVALID", ErrSignatureInvalid},
	{FailureReservedIdentity, "reserved_identity", "TICKET_RESERVED_IDENTITY", ErrReservedIdentity},
}

// String returns a stable, log friendly name for the kind.
func (k FailureKind) String() string {
	for _, fk := range failureKinds {
		if fk.kind == k {
			return fk.name
		}
	}
	return "none"
}

// FailureKindOf reports which verification failure err represents.
// Returns FailureNone for nil or unrelated errors.
func FailureKindOf(err error) FailureKind {
	if err == nil {
		return FailureNone
	}
	for _, fk := range failureKinds {
		if errors.Is(err, fk.sentinel) {
			return fk.kind
		}
	}
	return FailureNone
}

// fail builds a typed verification error of the given kind.
// cause, when non-nil, is recorded as context only; the returned error
// always unwraps to the kind's sentinel.
func fail(kind FailureKind, cause error, kv ...any) error {
	for _, fk := range failureKinds {
		if fk.kind != kind {
			continue
		}
		b := oops.Code(fk.code)
		if len(kv) > 0 {
			b = b.With(kv...)
		}
		if cause != nil {
			return b.With("cause", cause.Error()).Wrap(fk.sentinel)
		}
		return b.Wrap(fk.sentinel)
	}
	return oops.Code("TICKET_MALFORMED").With("cause", "unknown failure kind").Wrap(ErrMalformed)
}
