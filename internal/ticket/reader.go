// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package ticket

import "encoding/binary"

// reader is a bounds-checked big-endian cursor over a byte slice.
// Every read either returns the requested bytes or errUnexpectedEOF;
// the cursor never indexes past the end of buf.
type reader struct {
	buf []byte
	off int
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

func (r *reader) take(n int) ([]byte, error) {
	if n < 0 || n > r.remaining() {
		return nil, errUnexpectedEOF
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) u16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// header reads a u16 tag followed by a u16 length and checks that the
// declared length fits in what is left of the buffer.
func (r *reader) header() (tag uint16, length int, err error) {
	if tag, err = r.u16(); err != nil {
		return 0, 0, err
	}
	l, err := r.u16()
	if err != nil {
		return 0, 0, err
	}
	if int(l) > r.remaining() {
		return 0, 0, errLengthOverrun
	}
	return tag, int(l), nil
}
