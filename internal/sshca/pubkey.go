// Copyright (c) 2026 Certmaster Team
// Certmaster - SSH certificate authority control plane
// This source code is licensed under the MIT license found in the LICENSE file.

package sshca

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"
)

// PublicKey is a parsed OpenSSH public-key line.
type PublicKey struct {
	// KeyType is the algorithm token from the line, e.g. "ssh-ed25519".
	KeyType string
	// Blob is the decoded wire-format key blob. Its first field is the
	// embedded type string, which always matches KeyType.
	Blob []byte
	// Comment is the trailing free-text comment, "" when absent.
	Comment string
}

// ParsePublicKeyLine parses a single authorized_keys-style line of the
// form "<algorithm> <base64-blob> [comment]". The comment may contain
// spaces and is rejoined verbatim. The embedded type string of the blob
// must textually match the declared algorithm token.
func ParsePublicKeyLine(line string) (*PublicKey, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return nil, fmt.Errorf("%w: expected \"<type> <base64> [comment]\", got %d token(s)", ErrInvalidKeyFormat, len(fields))
	}

	blob, err := base64.StdEncoding.DecodeString(fields[1])
	if err != nil {
		return nil, fmt.Errorf("%w: bad base64 key data: %v", ErrInvalidKeyFormat, err)
	}

	embedded, _, err := decodeString(blob, 0)
	if err != nil {
		return nil, err
	}
	if string(embedded) != fields[0] {
		return nil, fmt.Errorf("%w: line declares %q but blob embeds %q", ErrKeyTypeMismatch, fields[0], string(embedded))
	}

	pk := &PublicKey{KeyType: fields[0], Blob: blob}
	if len(fields) > 2 {
		pk.Comment = strings.Join(fields[2:], " ")
	}
	return pk, nil
}

// EncodeEd25519PublicKey builds the wire-format blob for a raw 32-byte
// Ed25519 public key: string("ssh-ed25519") || string(raw).
func EncodeEd25519PublicKey(raw []byte) []byte {
	var buf bytes.Buffer
	buf.Write(encodeString([]byte(algoEd25519)))
	buf.Write(encodeString(raw))
	return buf.Bytes()
}

// FormatPublicKeyLine renders a wire-format key blob as an OpenSSH
// public-key line. The human-readable algorithm prefix is taken from the
// blob's embedded type string. An empty comment produces a line with no
// trailing space.
func FormatPublicKeyLine(blob []byte, comment string) (string, error) {
	keyType, _, err := decodeString(blob, 0)
	if err != nil {
		return "", err
	}
	line := string(keyType) + " " + base64.StdEncoding.EncodeToString(blob)
	if comment != "" {
		line += " " + comment
	}
	return line, nil
}

// ExtractEd25519RawKey returns the raw 32-byte public-key material from
// an ssh-ed25519 key blob: the string field following the type string.
// This is the same material embedded as the "user key portion" of a
// certificate body.
func ExtractEd25519RawKey(blob []byte) ([]byte, error) {
	_, off, err := decodeString(blob, 0)
	if err != nil {
		return nil, err
	}
	raw, _, err := decodeString(blob, off)
	if err != nil {
		return nil, err
	}
	return raw, nil
}
