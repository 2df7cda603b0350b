// Copyright (c) 2026 Certmaster Team
// Certmaster - SSH certificate authority control plane
// This source code is licensed under the MIT license found in the LICENSE file.

package sshca

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func testRawKey(t *testing.T) ed25519.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return pub
}

func TestPublicKeyLine_RoundTrip(t *testing.T) {
	raw := testRawKey(t)

	cases := []struct {
		name    string
		comment string
	}{
		{"plain comment", "admin@example.org"},
		{"comment with spaces", "build agent (ci pool 2)"},
		{"empty comment", ""},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			blob := EncodeEd25519PublicKey(raw)
			line, err := FormatPublicKeyLine(blob, c.comment)
			if err != nil {
				t.Fatalf("FormatPublicKeyLine: %v", err)
			}

			pk, err := ParsePublicKeyLine(line)
			if err != nil {
				t.Fatalf("ParsePublicKeyLine: %v", err)
			}
			if pk.KeyType != "ssh-ed25519" {
				t.Errorf("key type = %q", pk.KeyType)
			}
			if pk.Comment != c.comment {
				t.Errorf("comment = %q, want %q", pk.Comment, c.comment)
			}
			got, err := ExtractEd25519RawKey(pk.Blob)
			if err != nil {
				t.Fatalf("ExtractEd25519RawKey: %v", err)
			}
			if !bytes.Equal(got, raw) {
				t.Errorf("raw key did not survive the round trip")
			}
		})
	}
}

func TestFormatPublicKeyLine_EmptyCommentNoTrailingSpace(t *testing.T) {
	line, err := FormatPublicKeyLine(EncodeEd25519PublicKey(testRawKey(t)), "")
	if err != nil {
		t.Fatalf("FormatPublicKeyLine: %v", err)
	}
	if strings.HasSuffix(line, " ") {
		t.Fatalf("line has trailing space: %q", line)
	}
	if got := len(strings.Fields(line)); got != 2 {
		t.Fatalf("line has %d tokens, want 2", got)
	}
}

func TestParsePublicKeyLine_Rejections(t *testing.T) {
	mismatched := append(encodeString([]byte("ssh-rsa")), encodeString(testRawKey(t))...)

	cases := []struct {
		name string
		line string
		want error
	}{
		{"single token", "ssh-ed25519", ErrInvalidKeyFormat},
		{"empty line", "", ErrInvalidKeyFormat},
		{"bad base64", "ssh-ed25519 not-base64!!!", ErrInvalidKeyFormat},
		{"type mismatch", "ssh-ed25519 " + base64.StdEncoding.EncodeToString(mismatched), ErrKeyTypeMismatch},
		{"truncated blob", "ssh-ed25519 " + base64.StdEncoding.EncodeToString([]byte{0, 0, 0, 99, 'x'}), ErrMalformedWireData},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := ParsePublicKeyLine(c.line)
			if !errors.Is(err, c.want) {
				t.Fatalf("got %v, want %v", err, c.want)
			}
		})
	}
}

func TestEncodeEd25519PublicKey_Layout(t *testing.T) {
	raw := testRawKey(t)
	blob := EncodeEd25519PublicKey(raw)

	typ, off, err := decodeString(blob, 0)
	if err != nil || string(typ) != "ssh-ed25519" {
		t.Fatalf("embedded type = %q, err %v", typ, err)
	}
	key, off, err := decodeString(blob, off)
	if err != nil || !bytes.Equal(key, raw) {
		t.Fatalf("embedded key mismatch, err %v", err)
	}
	if off != len(blob) {
		t.Fatalf("trailing bytes after key field")
	}
}
