// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package tickettest builds signed tickets with throwaway issuer keys for tests.
package tickettest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/binary"
	"encoding/pem"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/holomush/gamesession/internal/ticket"
)

// DefaultServiceID is the service id of the primary title.
const DefaultServiceID = "UP9000-BCUS98245_00"

// Builder describes a ticket to encode. Zero fields get sensible defaults.
type Builder struct {
	Major       uint8
	Minor       uint8
	SerialID    []byte
	IssuerID    uint32
	IssuedAt    time.Time
	ExpiresAt   time.Time
	UserID      uint64
	Username    string
	Country     string
	Domain      string
	ServiceID   string
	Status      uint32
	SignatureID [ticket.SignatureIDSize]byte
	// Extra is appended to the body after the status item.
	Extra []byte
}

// Item encodes a single typed item.
func Item(typ uint16, payload []byte) []byte {
	out := make([]byte, 4, 4+len(payload))
	binary.BigEndian.PutUint16(out[0:2], typ)
	binary.BigEndian.PutUint16(out[2:4], uint16(len(payload))) //nolint:gosec // test payloads are small
	return append(out, payload...)
}

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func u64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func (b Builder) withDefaults() Builder {
	if b.Major == 0 {
		b.Major = 2
		b.Minor = 1
	}
	if b.SerialID == nil {
		b.SerialID = []byte("serial-0001\x00\x00\x00\x00\x00\x00\x00\x00\x00")
	}
	if b.IssuedAt.IsZero() {
		b.IssuedAt = time.Now().UTC().Truncate(time.Millisecond)
	}
	if b.ExpiresAt.IsZero() {
		b.ExpiresAt = b.IssuedAt.Add(10 * time.Minute)
	}
	if b.Country == "" {
		b.Country = "us"
	}
	if b.Domain == "" {
		b.Domain = "un"
	}
	if b.ServiceID == "" {
		b.ServiceID = DefaultServiceID
	}
	return b
}

func (b Builder) body() []byte {
	name := append([]byte(b.Username), make([]byte, 32-len(b.Username)%32)...)
	var body []byte
	body = append(body, Item(8, b.SerialID)...)
	body = append(body, Item(1, u32(b.IssuerID))...)
	body = append(body, Item(7, u64(uint64(b.IssuedAt.UnixMilli())))...)  //nolint:gosec // test timestamps are positive
	body = append(body, Item(7, u64(uint64(b.ExpiresAt.UnixMilli())))...) //nolint:gosec // test timestamps are positive
	body = append(body, Item(2, u64(b.UserID))...)
	body = append(body, Item(4, name)...)
	body = append(body, Item(8, append([]byte(b.Country), 0, 0))...)
	body = append(body, Item(4, append([]byte(b.Domain), 0, 0))...)
	body = append(body, Item(8, append([]byte(b.ServiceID), 0, 0, 0, 0, 0))...)
	body = append(body, Item(1, u32(b.Status))...)
	return append(body, b.Extra...)
}

// Encode lays out header, body and footer around sig. The returned signed
// length is the number of leading bytes the signature covers.
func (b Builder) Encode(sig []byte) (raw []byte, signedLen int) {
	b = b.withDefaults()
	body := Item(0x3000, b.body())
	footer := Item(0x3002, append(Item(8, b.SignatureID[:]), Item(8, sig)...))

	header := make([]byte, ticket.HeaderSize)
	header[0] = b.Major << 4
	header[1] = b.Minor
	binary.BigEndian.PutUint16(header[6:], uint16(len(body)+len(footer))) //nolint:gosec // test tickets are small

	raw = append(append(header, body...), footer...)
	return raw, len(header) + len(body)
}

// Sign encodes the ticket and signs it with key using method.
func (b Builder) Sign(t testing.TB, key *ecdsa.PrivateKey, method *jwt.SigningMethodECDSA) []byte {
	t.Helper()
	raw, signedLen := b.Encode(make([]byte, 2*method.KeySize))
	sig, err := method.Sign(string(raw[:signedLen]), key)
	require.NoError(t, err)
	require.Len(t, sig, 2*method.KeySize)
	copy(raw[len(raw)-len(sig):], sig)
	return raw
}

// NewIssuerKey generates a key pair for issuer and returns the private key
// with the matching ticket.IssuerKey, parsed back from PEM.
func NewIssuerKey(t testing.TB, issuer ticket.Issuer, method *jwt.SigningMethodECDSA) (*ecdsa.PrivateKey, ticket.IssuerKey) {
	t.Helper()
	var curve elliptic.Curve
	switch method.CurveBits {
	case 384:
		curve = elliptic.P384()
	case 521:
		curve = elliptic.P521()
	default:
		curve = elliptic.P256()
	}
	priv, err := ecdsa.GenerateKey(curve, rand.Reader)
	require.NoError(t, err)

	key, err := ticket.ParseIssuerKey(issuer, method.Alg(), PublicKeyPEM(t, &priv.PublicKey))
	require.NoError(t, err)
	return priv, key
}

// PublicKeyPEM encodes pub as a PKIX PEM block.
func PublicKeyPEM(t testing.TB, pub *ecdsa.PublicKey) []byte {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

// Keyring holds one throwaway key per trusted issuer and a Verifier that
// trusts both.
type Keyring struct {
	PSN      *ecdsa.PrivateKey
	RPCN     *ecdsa.PrivateKey
	Verifier *ticket.Verifier
}

// PSNMethod and RPCNMethod are the signing methods NewKeyring uses.
var (
	PSNMethod  = jwt.SigningMethodES256
	RPCNMethod = jwt.SigningMethodES384
)

// NewKeyring generates keys for both issuers.
func NewKeyring(t testing.TB) *Keyring {
	t.Helper()
	psn, psnKey := NewIssuerKey(t, ticket.IssuerPSN, PSNMethod)
	rpcn, rpcnKey := NewIssuerKey(t, ticket.IssuerRPCN, RPCNMethod)
	v, err := ticket.NewVerifier(psnKey, rpcnKey)
	require.NoError(t, err)
	return &Keyring{PSN: psn, RPCN: rpcn, Verifier: v}
}

// Raw returns a ticket for issuer signed with that issuer's key.
func (k *Keyring) Raw(t testing.TB, issuer ticket.Issuer, b Builder) []byte {
	t.Helper()
	id, ok := issuer.SignatureID()
	require.True(t, ok, "unknown issuer %v", issuer)
	b.SignatureID = id
	if issuer == ticket.IssuerRPCN {
		return b.Sign(t, k.RPCN, RPCNMethod)
	}
	return b.Sign(t, k.PSN, PSNMethod)
}

// Encoded returns Raw base64 encoded with the trailing padding clients send.
func (k *Keyring) Encoded(t testing.TB, issuer ticket.Issuer, b Builder) string {
	t.Helper()
	return EncodeRaw(k.Raw(t, issuer, b))
}

// EncodeRaw base64 encodes an arbitrary ticket the way clients send it.
func EncodeRaw(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw) + "\n\x00"
}
