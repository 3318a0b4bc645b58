// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package ticket

import (
	"crypto/ecdsa"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"
)

// Issuer identifies a ticket signing authority.
type Issuer int

// Known issuers.
const (
	IssuerUnknown Issuer = iota
	IssuerPSN
	IssuerRPCN
)

// issuerInfo is the static description of a trusted issuer.
type issuerInfo struct {
	issuer      Issuer
	name        string
	signatureID [SignatureIDSize]byte
}

var issuers = []issuerInfo{
	{IssuerPSN, "psn", [SignatureIDSize]byte{0x71, 0x9F, 0x1D, 0x4A}},
	{IssuerRPCN, "rpcn", [SignatureIDSize]byte{'R', 'P', 'C', 'N'}},
}

func (i Issuer) info() (issuerInfo, bool) {
	for _, info := range issuers {
		if info.issuer == i {
			return info, true
		}
	}
	return issuerInfo{}, false
}

// String returns the issuer's short name.
func (i Issuer) String() string {
	if info, ok := i.info(); ok {
		return info.name
	}
	return "unknown"
}

// SignatureID returns the footer signature identifier this issuer signs with.
func (i Issuer) SignatureID() ([SignatureIDSize]byte, bool) {
	info, ok := i.info()
	return info.signatureID, ok
}

// ParseIssuer maps a short name ("psn", "rpcn") to an Issuer.
func ParseIssuer(name string) (Issuer, error) {
	for _, info := range issuers {
		if info.name == name {
			return info.issuer, nil
		}
	}
	return IssuerUnknown, oops.Code("TICKET_UNKNOWN_ISSUER").
		With("issuer", name).
		Errorf("unknown ticket issuer %q", name)
}

// IssuerKey is the verification material for one trusted issuer.
type IssuerKey struct {
	Issuer    Issuer
	Method    *jwt.SigningMethodECDSA
	PublicKey *ecdsa.PublicKey
}

// ParseIssuerKey builds an IssuerKey from a PEM encoded ECDSA public key.
// alg is a JWS algorithm name (ES256, ES384 or ES512) and must match the
// key's curve.
func ParseIssuerKey(issuer Issuer, alg string, pemData []byte) (IssuerKey, error) {
	if _, ok := issuer.info(); !ok {
		return IssuerKey{}, oops.Code("TICKET_UNKNOWN_ISSUER").
			With("issuer", int(issuer)).
			Errorf("unknown ticket issuer")
	}

	method, ok := jwt.GetSigningMethod(alg).(*jwt.SigningMethodECDSA)
	if !ok {
		return IssuerKey{}, oops.Code("TICKET_KEY_INVALID").
			With("issuer", issuer.String()).
			With("alg", alg).
			Errorf("algorithm %q is not an ECDSA signing method", alg)
	}

	pub, err := jwt.ParseECPublicKeyFromPEM(pemData)
	if err != nil {
		return IssuerKey{}, oops.Code("TICKET_KEY_INVALID").
			With("issuer", issuer.String()).
			With("operation", "parse public key").
			Wrap(err)
	}

	key := IssuerKey{Issuer: issuer, Method: method, PublicKey: pub}
	if err := key.validate(); err != nil {
		return IssuerKey{}, err
	}
	return key, nil
}

func (k IssuerKey) validate() error {
	if _, ok := k.Issuer.info(); !ok {
		return oops.Code("TICKET_UNKNOWN_ISSUER").
			With("issuer", int(k.Issuer)).
			Errorf("unknown ticket issuer")
	}
	if k.Method == nil || k.PublicKey == nil || k.PublicKey.Curve == nil {
		return oops.Code("TICKET_KEY_INVALID").
			With("issuer", k.Issuer.String()).
			Errorf("issuer key requires a signing method and public key")
	}
	if bits := k.PublicKey.Curve.Params().BitSize; bits != k.Method.CurveBits {
		return oops.Code("TICKET_KEY_INVALID").
			With("issuer", k.Issuer.String()).
			With("alg", k.Method.Alg()).
			With("curve_bits", bits).
			Errorf("key curve does not match %s", k.Method.Alg())
	}
	return nil
}

// verify checks sig over signed with this issuer's key.
func (k IssuerKey) verify(signed, sig []byte) error {
	//nolint:wrapcheck // caller converts to a typed failure
	return k.Method.Verify(string(signed), sig, k.PublicKey)
}
