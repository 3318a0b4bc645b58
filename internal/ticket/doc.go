// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package ticket parses and verifies signed platform authentication tickets.
//
// # Wire Format
//
// A ticket is big-endian throughout:
//   - an 8 byte header: version (major in the high nibble), minor version,
//     4 reserved bytes and a u16 length of everything that follows
//   - a body section (tag 0x3000) holding typed items
//   - a footer section (tag 0x3002) holding the signature identifier and
//     the signature itself
//
// Sections and items both start with a u16 tag/type and a u16 length.
// The signature covers the header and body, never the footer.
//
// # Verification
//
// The 4 byte signature identifier selects the issuer. Each trusted issuer
// has its own ECDSA key and signing method; a signature from one issuer
// never verifies under another issuer's key.
//
// All failures are returned as errors wrapping one of ErrMalformed,
// ErrUntrustedIssuer, ErrSignatureInvalid or ErrReservedIdentity. Parsing
// never panics on hostile input.
package ticket
