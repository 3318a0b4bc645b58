// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package ticket

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

// Section tags.
const (
	sectionBody   uint16 = 0x3000
	sectionFooter uint16 = 0x3002
)

// Item types inside a section. Types at or above sectionBody are nested
// sections and are skipped as opaque blocks.
const (
	itemEmpty  uint16 = 0
	itemUint32 uint16 = 1
	itemUint64 uint16 = 2
	itemString uint16 = 4
	itemTime   uint16 = 7
	itemBinary uint16 = 8
)

// HeaderSize is the fixed size of the ticket header in bytes.
const HeaderSize = 8

// SignatureIDSize is the size of the footer's signature identifier.
const SignatureIDSize = 4

// Supported major versions.
const (
	minMajorVersion = 2
	maxMajorVersion = 4
)

// Version is a ticket format version.
type Version struct {
	Major uint8
	Minor uint8
}

// String returns the version as "major.minor".
func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Ticket is a parsed but not yet verified ticket.
type Ticket struct {
	Version     Version
	SerialID    []byte
	IssuerID    uint32
	IssuedAt    time.Time
	ExpiresAt   time.Time
	UserID      uint64
	Username    string
	Country     string
	Domain      string
	ServiceID   string
	TitleID     string
	Status      uint32
	SignatureID [SignatureIDSize]byte
	Signature   []byte

	// signed is the byte range covered by Signature (header + body).
	signed []byte
}

// SignedBytes returns the header and body bytes the signature covers.
func (t *Ticket) SignedBytes() []byte {
	return t.signed
}

// Parse decodes a raw ticket. It never verifies the signature.
// Any structural problem is reported as an error wrapping ErrMalformed.
func Parse(raw []byte) (*Ticket, error) {
	if len(raw) < HeaderSize {
		return nil, fail(FailureMalformed, errUnexpectedEOF, "size", len(raw))
	}

	t := &Ticket{
		Version: Version{Major: raw[0] >> 4, Minor: raw[1]},
	}
	if t.Version.Major < minMajorVersion || t.Version.Major > maxMajorVersion {
		return nil, fail(FailureMalformed, nil, "version", t.Version.String())
	}

	declared := int(binary.BigEndian.Uint16(raw[6:HeaderSize]))
	if declared > len(raw)-HeaderSize {
		return nil, fail(FailureMalformed, errLengthOverrun,
			"declared_length", declared, "available", len(raw)-HeaderSize)
	}

	r := &reader{buf: raw[:HeaderSize+declared], off: HeaderSize}
	var sawBody, sawFooter bool
	footerStart := 0

	for r.remaining() > 0 {
		start := r.off
		tag, length, err := r.header()
		if err != nil {
			return nil, fail(FailureMalformed, err, "offset", start)
		}
		payload, _ := r.take(length) // length already checked by header
		section := &reader{buf: payload}

		switch {
		case tag == sectionBody && !sawBody && !sawFooter:
			if err := t.parseBody(section); err != nil {
				return nil, fail(FailureMalformed, err, "section", "body")
			}
			sawBody = true
		case tag == sectionFooter && sawBody && !sawFooter:
			if err := t.parseFooter(section); err != nil {
				return nil, fail(FailureMalformed, err, "section", "footer")
			}
			footerStart = start
			sawFooter = true
		default:
			return nil, fail(FailureMalformed, errUnexpectedSection,
				"tag", fmt.Sprintf("0x%04x", tag), "offset", start)
		}
	}

	if !sawBody || !sawFooter {
		return nil, fail(FailureMalformed, errUnexpectedEOF,
			"body", sawBody, "footer", sawFooter)
	}

	t.signed = raw[:footerStart]
	t.TitleID = titleIDFromService(t.ServiceID)
	return t, nil
}

func (t *Ticket) parseBody(r *reader) error {
	var err error
	if t.SerialID, err = readBinary(r); err != nil {
		return err
	}
	if t.IssuerID, err = readUint32(r); err != nil {
		return err
	}
	if t.IssuedAt, err = readTime(r); err != nil {
		return err
	}
	if t.ExpiresAt, err = readTime(r); err != nil {
		return err
	}
	if t.UserID, err = readUint64(r); err != nil {
		return err
	}
	if t.Username, err = readString(r); err != nil {
		return err
	}
	country, err := readBinary(r)
	if err != nil {
		return err
	}
	t.Country = trimPadding(country)
	if t.Domain, err = readString(r); err != nil {
		return err
	}
	service, err := readBinary(r)
	if err != nil {
		return err
	}
	t.ServiceID = trimPadding(service)
	if t.Status, err = readUint32(r); err != nil {
		return err
	}

	// Later versions append cookies, date-of-birth and age sections.
	// They must still be well formed but their content is not used.
	for r.remaining() > 0 {
		typ, length, err := r.header()
		if err != nil {
			return err
		}
		if _, err := r.take(length); err != nil {
			return err
		}
		if typ >= sectionBody {
			continue
		}
		switch typ {
		case itemEmpty, itemUint32, itemUint64, itemString, itemTime, itemBinary:
		default:
			return fmt.Errorf("unknown item type 0x%04x: %w", typ, errUnexpectedSection)
		}
	}
	return nil
}

func (t *Ticket) parseFooter(r *reader) error {
	id, err := readBinary(r)
	if err != nil {
		return err
	}
	if len(id) != SignatureIDSize {
		return fmt.Errorf("signature identifier is %d bytes: %w", len(id), errLengthOverrun)
	}
	copy(t.SignatureID[:], id)

	sig, err := readBinary(r)
	if err != nil {
		return err
	}
	if len(sig) == 0 {
		return fmt.Errorf("empty signature: %w", errUnexpectedEOF)
	}
	t.Signature = sig
	return nil
}

// readItem reads one item and checks its type.
func readItem(r *reader, want uint16) ([]byte, error) {
	typ, length, err := r.header()
	if err != nil {
		return nil, err
	}
	if typ != want {
		return nil, fmt.Errorf("item type 0x%04x, want 0x%04x: %w", typ, want, errUnexpectedSection)
	}
	return r.take(length)
}

func readFixed(r *reader, want uint16, size int) ([]byte, error) {
	b, err := readItem(r, want)
	if err != nil {
		return nil, err
	}
	if len(b) != size {
		return nil, fmt.Errorf("item type 0x%04x has %d bytes, want %d: %w", want, len(b), size, errLengthOverrun)
	}
	return b, nil
}

func readUint32(r *reader) (uint32, error) {
	b, err := readFixed(r, itemUint32, 4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func readUint64(r *reader) (uint64, error) {
	b, err := readFixed(r, itemUint64, 8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func readTime(r *reader) (time.Time, error) {
	b, err := readFixed(r, itemTime, 8)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(int64(binary.BigEndian.Uint64(b))).UTC(), nil //nolint:gosec // ms timestamps fit in int64
}

func readString(r *reader) (string, error) {
	b, err := readItem(r, itemString)
	if err != nil {
		return "", err
	}
	return trimPadding(b), nil
}

func readBinary(r *reader) ([]byte, error) {
	b, err := readItem(r, itemBinary)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func trimPadding(b []byte) string {
	return strings.TrimRight(string(b), "\x00")
}

// titleIDFromService extracts the title id from a service id such as
// "UP9000-BCUS98167_00".
func titleIDFromService(service string) string {
	if len(service) < 16 {
		return ""
	}
	return service[7:16]
}
