// Copyright (c) 2026 Certmaster Team
// Certmaster - SSH certificate authority control plane
// This source code is licensed under the MIT license found in the LICENSE file.

package sshca

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeString_RoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		payload []byte
	}{
		{"text", []byte("ssh-ed25519")},
		{"binary", []byte{0x00, 0xff, 0x10, 0x00}},
		{"empty", nil},
		{"nested", encodeString([]byte("inner"))},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			enc := encodeString(c.payload)
			if len(enc) != 4+len(c.payload) {
				t.Fatalf("encoded length = %d, want %d", len(enc), 4+len(c.payload))
			}
			val, next, err := decodeString(enc, 0)
			if err != nil {
				t.Fatalf("decodeString: %v", err)
			}
			if !bytes.Equal(val, c.payload) {
				t.Fatalf("round trip mismatch: got %x, want %x", val, c.payload)
			}
			if next != len(enc) {
				t.Fatalf("next offset = %d, want %d", next, len(enc))
			}
		})
	}
}

func TestEncodeString_ZeroLength(t *testing.T) {
	enc := encodeString(nil)
	if !bytes.Equal(enc, []byte{0, 0, 0, 0}) {
		t.Fatalf("zero-length string encoded as %x, want 00000000", enc)
	}
	val, next, err := decodeString(enc, 0)
	if err != nil {
		t.Fatalf("decodeString: %v", err)
	}
	if len(val) != 0 || next != 4 {
		t.Fatalf("got val=%x next=%d, want empty val and next=4", val, next)
	}
}

func TestEncodeUint32(t *testing.T) {
	if got := encodeUint32(1); !bytes.Equal(got, []byte{0, 0, 0, 1}) {
		t.Fatalf("encodeUint32(1) = %x", got)
	}
	if got := encodeUint32(0xdeadbeef); !bytes.Equal(got, []byte{0xde, 0xad, 0xbe, 0xef}) {
		t.Fatalf("encodeUint32(0xdeadbeef) = %x", got)
	}
}

func TestEncodeUint64_FullRange(t *testing.T) {
	// Values above 2^53 must survive intact; a float64 intermediate
	// would corrupt them.
	const big = uint64(1)<<63 + 12345
	got := encodeUint64(big)
	want := []byte{0x80, 0x00, 0x00, 0x00, 0x00, 0x00, 0x30, 0x39}
	if !bytes.Equal(got, want) {
		t.Fatalf("encodeUint64(2^63+12345) = %x, want %x", got, want)
	}
}

func TestDecodeString_Malformed(t *testing.T) {
	cases := []struct {
		name string
		buf  []byte
		off  int
	}{
		{"truncated length prefix", []byte{0, 0, 1}, 0},
		{"length past buffer end", append([]byte{0, 0, 0, 10}, []byte("short")...), 0},
		{"offset past buffer", []byte{0, 0, 0, 0}, 8},
		{"negative offset", []byte{0, 0, 0, 0}, -1},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, _, err := decodeString(c.buf, c.off)
			if !errors.Is(err, ErrMalformedWireData) {
				t.Fatalf("got %v, want ErrMalformedWireData", err)
			}
		})
	}
}

func TestDecodeString_SequentialFields(t *testing.T) {
	var blob []byte
	blob = append(blob, encodeString([]byte("first"))...)
	blob = append(blob, encodeString(nil)...)
	blob = append(blob, encodeString([]byte("third"))...)

	first, off, err := decodeString(blob, 0)
	if err != nil || string(first) != "first" {
		t.Fatalf("first field: %q, %v", first, err)
	}
	second, off, err := decodeString(blob, off)
	if err != nil || len(second) != 0 {
		t.Fatalf("second field: %q, %v", second, err)
	}
	third, off, err := decodeString(blob, off)
	if err != nil || string(third) != "third" {
		t.Fatalf("third field: %q, %v", third, err)
	}
	if off != len(blob) {
		t.Fatalf("final offset %d, want %d", off, len(blob))
	}
}
