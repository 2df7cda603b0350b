// Copyright (c) 2026 Certmaster Team
// Certmaster - SSH certificate authority control plane
// This source code is licensed under the MIT license found in the LICENSE file.

package sshca

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func testCA(t *testing.T) *CAKeyPair {
	t.Helper()
	ca, err := GenerateCA("test-ca@certmaster")
	require.NoError(t, err)
	return ca
}

func testSubjectLine(t *testing.T, comment string) string {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	line, err := FormatPublicKeyLine(EncodeEd25519PublicKey(pub), comment)
	require.NoError(t, err)
	return line
}

// parseCert runs our certificate line through the reference OpenSSH
// implementation; any deviation from the wire format fails here.
func parseCert(t *testing.T, line string) *ssh.Certificate {
	t.Helper()
	pk, _, _, _, err := ssh.ParseAuthorizedKey([]byte(line))
	require.NoError(t, err, "OpenSSH parser rejected our certificate")
	cert, ok := pk.(*ssh.Certificate)
	require.True(t, ok, "parsed key is %T, not a certificate", pk)
	return cert
}

func TestSignPublicKey_VerifiesWithOpenSSH(t *testing.T) {
	ca := testCA(t)
	signed, err := SignPublicKey(ca.PrivateKey, testSubjectLine(t, "alice@laptop"), CertOptions{
		KeyID:           "alice@web-01",
		ValidPrincipals: []string{"alice", "res-web-01"},
	})
	require.NoError(t, err)

	cert := parseCert(t, signed.Line)

	caPub, err := ssh.NewPublicKey(ca.PublicKey)
	require.NoError(t, err)

	checker := ssh.CertChecker{
		IsUserAuthority: func(auth ssh.PublicKey) bool {
			return bytes.Equal(auth.Marshal(), caPub.Marshal())
		},
	}
	require.NoError(t, checker.CheckCert("alice", cert))
	require.NoError(t, checker.CheckCert("res-web-01", cert))
	require.Error(t, checker.CheckCert("mallory", cert), "unlisted principal must not validate")

	require.Equal(t, "alice@web-01", cert.KeyId)
	require.Equal(t, uint32(ssh.UserCert), cert.CertType)
	require.Equal(t, []string{"alice", "res-web-01"}, cert.ValidPrincipals)
}

func TestSignPublicKey_Defaults(t *testing.T) {
	ca := testCA(t)
	before := time.Now()
	signed, err := SignPublicKey(ca.PrivateKey, testSubjectLine(t, ""), CertOptions{
		KeyID:           "bob@db-02",
		ValidPrincipals: []string{"bob"},
	})
	require.NoError(t, err)
	after := time.Now()

	// validAfter defaults to exactly 60s before the wall clock at call
	// time; allow a few seconds for execution latency.
	require.GreaterOrEqual(t, signed.ValidAfter, uint64(before.Add(-61*time.Second).Unix()))
	require.LessOrEqual(t, signed.ValidAfter, uint64(after.Add(-59*time.Second).Unix()))

	wantBefore := uint64(before.Add(365 * 24 * time.Hour).Unix())
	require.InDelta(t, wantBefore, signed.ValidBefore, 5)

	// Serial defaults to current Unix milliseconds.
	require.GreaterOrEqual(t, signed.Serial, uint64(before.UnixMilli()))
	require.LessOrEqual(t, signed.Serial, uint64(after.UnixMilli()))

	cert := parseCert(t, signed.Line)
	require.Equal(t, signed.ValidAfter, cert.ValidAfter)
	require.Equal(t, signed.ValidBefore, cert.ValidBefore)
	require.Equal(t, signed.Serial, cert.Serial)

	wantExt := map[string]string{
		"permit-X11-forwarding":   "",
		"permit-agent-forwarding": "",
		"permit-port-forwarding":  "",
		"permit-pty":              "",
		"permit-user-rc":          "",
	}
	require.Equal(t, wantExt, cert.Permissions.Extensions)
}

func TestSignPublicKey_DeterministicModuloNonce(t *testing.T) {
	ca := testCA(t)
	subject := testSubjectLine(t, "carol")
	opts := CertOptions{
		KeyID:           "carol@bastion",
		ValidPrincipals: []string{"carol"},
		ValidAfter:      1700000000,
		ValidBefore:     1700003600,
		Serial:          42,
	}

	first, err := SignPublicKey(ca.PrivateKey, subject, opts)
	require.NoError(t, err)
	second, err := SignPublicKey(ca.PrivateKey, subject, opts)
	require.NoError(t, err)

	a := parseCert(t, first.Line)
	b := parseCert(t, second.Line)

	require.NotEqual(t, a.Nonce, b.Nonce, "nonce must be fresh per signing call")

	require.Equal(t, a.Key.Marshal(), b.Key.Marshal())
	require.Equal(t, a.Serial, b.Serial)
	require.Equal(t, a.CertType, b.CertType)
	require.Equal(t, a.KeyId, b.KeyId)
	require.Equal(t, a.ValidPrincipals, b.ValidPrincipals)
	require.Equal(t, a.ValidAfter, b.ValidAfter)
	require.Equal(t, a.ValidBefore, b.ValidBefore)
	require.Equal(t, a.Permissions, b.Permissions)
	require.Equal(t, a.SignatureKey.Marshal(), b.SignatureKey.Marshal())
}

func TestSignPublicKey_ExtensionSortInvariant(t *testing.T) {
	ca := testCA(t)
	signed, err := SignPublicKey(ca.PrivateKey, testSubjectLine(t, ""), CertOptions{
		KeyID:           "dave@box",
		ValidPrincipals: []string{"dave"},
		Extensions:      []string{"permit-pty", "permit-agent-forwarding"},
	})
	require.NoError(t, err)

	// Walk the exact bytes we emitted to the extensions field; the
	// parsed map cannot show ordering, and re-marshalling would hide it.
	pk, err := ParsePublicKeyLine(signed.Line)
	require.NoError(t, err)
	blob := pk.Blob

	off := 0
	var field []byte
	// certTypeString, nonce, raw key material (one string for ed25519,
	// the type prefix having been stripped from the user key portion).
	for i := 0; i < 3; i++ {
		_, off, err = decodeString(blob, off)
		require.NoError(t, err)
	}
	off += 8 + 4 // serial, cert type
	_, off, err = decodeString(blob, off)
	require.NoError(t, err) // key id
	_, off, err = decodeString(blob, off)
	require.NoError(t, err) // principals
	off += 8 + 8             // validity window
	_, off, err = decodeString(blob, off)
	require.NoError(t, err) // critical options
	field, _, err = decodeString(blob, off)
	require.NoError(t, err) // extensions section

	first, extOff, err := decodeString(field, 0)
	require.NoError(t, err)
	require.Equal(t, "permit-agent-forwarding", string(first),
		"extensions must be encoded in lexicographic order")
	_, extOff, err = decodeString(field, extOff)
	require.NoError(t, err) // empty value marker
	second, _, err := decodeString(field, extOff)
	require.NoError(t, err)
	require.Equal(t, "permit-pty", string(second))
}

func TestSignPublicKey_CriticalOptions(t *testing.T) {
	ca := testCA(t)
	signed, err := SignPublicKey(ca.PrivateKey, testSubjectLine(t, ""), CertOptions{
		KeyID:           "erin@jump",
		ValidPrincipals: []string{"erin"},
		CriticalOptions: []CriticalOption{
			{Name: "source-address", Value: "10.0.0.0/8"},
			{Name: "force-command", Value: "/usr/bin/true"},
		},
		Extensions: []string{},
	})
	require.NoError(t, err)

	cert := parseCert(t, signed.Line)
	require.Equal(t, map[string]string{
		"force-command":  "/usr/bin/true",
		"source-address": "10.0.0.0/8",
	}, cert.Permissions.CriticalOptions)
	require.Empty(t, cert.Permissions.Extensions)
}

func TestSignPublicKey_HostCert(t *testing.T) {
	ca := testCA(t)
	signed, err := SignPublicKey(ca.PrivateKey, testSubjectLine(t, "host key"), CertOptions{
		KeyID:           "web-01.example.org",
		ValidPrincipals: []string{"web-01.example.org"},
		CertType:        HostCert,
		Extensions:      []string{},
	})
	require.NoError(t, err)

	cert := parseCert(t, signed.Line)
	require.Equal(t, uint32(ssh.HostCert), cert.CertType)
}

func TestSignPublicKey_UnsupportedKeyType(t *testing.T) {
	ca := testCA(t)

	// A well-formed line whose algorithm is outside the supported set.
	blob := append(encodeString([]byte("ssh-dss")), encodeString(make([]byte, 16))...)
	line, err := FormatPublicKeyLine(blob, "legacy")
	require.NoError(t, err)

	signed, err := SignPublicKey(ca.PrivateKey, line, CertOptions{KeyID: "x", ValidPrincipals: []string{"x"}})
	require.Nil(t, signed)
	require.ErrorIs(t, err, ErrUnsupportedKeyType)
	for _, algo := range SupportedKeyTypes() {
		require.Contains(t, err.Error(), algo, "error should list the supported set")
	}
}

func TestSignPublicKey_MalformedSubject(t *testing.T) {
	ca := testCA(t)

	cases := []struct {
		name string
		line string
		want error
	}{
		{"single token", "ssh-ed25519", ErrInvalidKeyFormat},
		{"garbage", "not a key at all or anything", ErrInvalidKeyFormat},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := SignPublicKey(ca.PrivateKey, c.line, CertOptions{})
			if !errors.Is(err, c.want) {
				t.Fatalf("got %v, want %v", err, c.want)
			}
		})
	}
}

func TestSignPublicKey_LineShape(t *testing.T) {
	ca := testCA(t)
	signed, err := SignPublicKey(ca.PrivateKey, testSubjectLine(t, ""), CertOptions{
		KeyID:           "frank@edge",
		ValidPrincipals: []string{"frank"},
	})
	require.NoError(t, err)

	fields := strings.SplitN(signed.Line, " ", 3)
	require.Len(t, fields, 3)
	require.Equal(t, "ssh-ed25519-cert-v01@openssh.com", fields[0])
	require.Equal(t, "frank@edge", fields[2])
}
