// Copyright (c) 2026 Certmaster Team
// Certmaster - SSH certificate authority control plane
// This source code is licensed under the MIT license found in the LICENSE file.

// RFC 4251 section 5 wire-format primitives. These are deliberately kept
// as flat free functions: the certificate builder concatenates their
// output directly, and nesting encodeString output inside another
// encodeString is how the format self-describes.

package sshca

import (
	"encoding/binary"
	"fmt"
)

// encodeString prefixes payload with its length as a 4-byte big-endian
// unsigned integer. The payload may be UTF-8 text, an opaque blob, or an
// already-encoded nested structure; the encoding is identical for all.
// A zero-length payload is valid and encodes as four zero bytes.
func encodeString(payload []byte) []byte {
	out := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(out, uint32(len(payload)))
	copy(out[4:], payload)
	return out
}

// encodeUint32 returns n as 4 bytes big-endian.
func encodeUint32(n uint32) []byte {
	out := make([]byte, 4)
	binary.BigEndian.PutUint32(out, n)
	return out
}

// encodeUint64 returns n as 8 bytes big-endian. Serials derived from
// millisecond timestamps and far-future validity bounds need the full
// 64-bit range, which is why the engine never carries these values in
// anything narrower than uint64.
func encodeUint64(n uint64) []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, n)
	return out
}

// decodeString reads a length-prefixed string field from buf at off and
// returns the field's bytes together with the offset of the byte
// immediately after it. It fails with ErrMalformedWireData when the
// declared length would read past the end of the buffer.
func decodeString(buf []byte, off int) (val []byte, next int, err error) {
	if off < 0 || off+4 > len(buf) {
		return nil, 0, fmt.Errorf("%w: truncated length prefix at offset %d", ErrMalformedWireData, off)
	}
	n := int(binary.BigEndian.Uint32(buf[off : off+4]))
	next = off + 4 + n
	if n < 0 || next > len(buf) {
		return nil, 0, fmt.Errorf("%w: field of %d bytes at offset %d exceeds buffer of %d bytes", ErrMalformedWireData, n, off, len(buf))
	}
	return buf[off+4 : next], next, nil
}
