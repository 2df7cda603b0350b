// Copyright (c) 2026 Certmaster Team
// Certmaster - SSH certificate authority control plane
// This source code is licensed under the MIT license found in the LICENSE file.

package sshca

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Certificate types per the OpenSSH certificate format.
const (
	UserCert uint32 = 1
	HostCert uint32 = 2
)

const (
	algoEd25519 = "ssh-ed25519"

	nonceSize = 32

	// Default validity window: backdate a minute for clock skew, one
	// year lifetime.
	defaultBackdate = 60 * time.Second
	defaultLifetime = 365 * 24 * time.Hour
)

// certTypeForAlgo maps a subject key's base algorithm to its certificate
// algorithm name. Keys outside this table cannot be certified.
var certTypeForAlgo = map[string]string{
	"ssh-ed25519":         "ssh-ed25519-cert-v01@openssh.com",
	"ssh-rsa":             "ssh-rsa-cert-v01@openssh.com",
	"ecdsa-sha2-nistp256": "ecdsa-sha2-nistp256-cert-v01@openssh.com",
	"ecdsa-sha2-nistp384": "ecdsa-sha2-nistp384-cert-v01@openssh.com",
	"ecdsa-sha2-nistp521": "ecdsa-sha2-nistp521-cert-v01@openssh.com",
}

// defaultExtensions are the five standard boolean capabilities OpenSSH
// grants user certificates unless the caller narrows them.
var defaultExtensions = []string{
	"permit-X11-forwarding",
	"permit-agent-forwarding",
	"permit-port-forwarding",
	"permit-pty",
	"permit-user-rc",
}

// SupportedKeyTypes returns the base algorithms this CA can certify,
// sorted, for use in error messages and documentation.
func SupportedKeyTypes() []string {
	out := make([]string, 0, len(certTypeForAlgo))
	for k := range certTypeForAlgo {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// CriticalOption is one name/value constraint. Critical options are
// carried as an ordered association list rather than a map so that the
// mandatory sort-before-encode step never depends on map iteration order.
type CriticalOption struct {
	Name  string
	Value string
}

// CertOptions are the caller-controlled fields of a signing request.
// Zero values select the documented defaults.
type CertOptions struct {
	// KeyID is a free-text identifier recorded in the certificate,
	// typically "user@resource". Not used for authorization.
	KeyID string

	// ValidPrincipals lists the principals the certificate authorizes,
	// in caller order. Order is preserved byte-for-byte.
	ValidPrincipals []string

	// ValidAfter and ValidBefore bound the validity window in Unix
	// seconds. When zero, ValidAfter defaults to now minus 60 seconds
	// (clock-skew tolerance) and ValidBefore to now plus 365 days.
	ValidAfter  uint64
	ValidBefore uint64

	// Serial defaults to the current Unix time in milliseconds.
	Serial uint64

	// CertType is UserCert or HostCert; zero means UserCert.
	CertType uint32

	// CriticalOptions default to none.
	CriticalOptions []CriticalOption

	// Extensions default to the five standard permit-* capabilities.
	// Use an empty non-nil slice for a certificate with no extensions.
	Extensions []string
}

// SignedCertificate is the result of a signing call. The engine keeps no
// copy; delivery and audit are the caller's concern.
type SignedCertificate struct {
	// Line is the full OpenSSH certificate text:
	// "<cert-algorithm> <base64> <key-id>".
	Line string

	// Echoes of the resolved request fields, so callers can record the
	// effective window and serial without re-parsing the certificate.
	CertType        uint32
	Serial          uint64
	KeyID           string
	ValidPrincipals []string
	ValidAfter      uint64
	ValidBefore     uint64
}

// SignPublicKey certifies the subject public key with the CA's Ed25519
// private key and returns the signed certificate. The subject may be any
// algorithm in the supported set; the CA key is always Ed25519 here.
//
// The operation is deterministic except for the per-call random nonce.
// It performs no authorization checks and no I/O.
func SignPublicKey(caKey ed25519.PrivateKey, subjectLine string, opts CertOptions) (*SignedCertificate, error) {
	subject, err := ParsePublicKeyLine(subjectLine)
	if err != nil {
		return nil, err
	}

	certAlgo, ok := certTypeForAlgo[subject.KeyType]
	if !ok {
		return nil, fmt.Errorf("%w: %q (supported: %s)",
			ErrUnsupportedKeyType, subject.KeyType, strings.Join(SupportedKeyTypes(), ", "))
	}

	resolved := opts
	now := time.Now()
	if resolved.Serial == 0 {
		resolved.Serial = uint64(now.UnixMilli())
	}
	if resolved.CertType == 0 {
		resolved.CertType = UserCert
	}
	if resolved.ValidAfter == 0 {
		resolved.ValidAfter = uint64(now.Add(-defaultBackdate).Unix())
	}
	if resolved.ValidBefore == 0 {
		resolved.ValidBefore = uint64(now.Add(defaultLifetime).Unix())
	}
	if resolved.Extensions == nil {
		resolved.Extensions = defaultExtensions
	}

	caBlob := EncodeEd25519PublicKey(caKey.Public().(ed25519.PublicKey))

	body, err := buildCertBody(certAlgo, subject.Blob, caBlob, resolved)
	if err != nil {
		return nil, err
	}

	// Ed25519 signs the whole body directly, no pre-hash.
	sig := ed25519.Sign(caKey, body)
	sigBlob := append(encodeString([]byte(algoEd25519)), encodeString(sig)...)

	final := append(body, encodeString(sigBlob)...)

	return &SignedCertificate{
		Line:            certAlgo + " " + base64.StdEncoding.EncodeToString(final) + " " + resolved.KeyID,
		CertType:        resolved.CertType,
		Serial:          resolved.Serial,
		KeyID:           resolved.KeyID,
		ValidPrincipals: resolved.ValidPrincipals,
		ValidAfter:      resolved.ValidAfter,
		ValidBefore:     resolved.ValidBefore,
	}, nil
}

// buildCertBody assembles the to-be-signed certificate body in the exact
// field order of the *-cert-v01@openssh.com formats. Reordering or
// re-encoding any field produces an unverifiable certificate.
func buildCertBody(certAlgo string, subjectBlob, caBlob []byte, opts CertOptions) ([]byte, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		// Entropy exhaustion is unrecoverable; surface it, never retry.
		return nil, fmt.Errorf("failed to read certificate nonce: %w", err)
	}

	// The user key portion is the subject blob with the leading type
	// string stripped: the remaining fields are already wire-encoded.
	_, off, err := decodeString(subjectBlob, 0)
	if err != nil {
		return nil, err
	}
	userKeyPortion := subjectBlob[off:]

	var body bytes.Buffer
	body.Write(encodeString([]byte(certAlgo)))
	body.Write(encodeString(nonce))
	body.Write(userKeyPortion)
	body.Write(encodeUint64(opts.Serial))
	body.Write(encodeUint32(opts.CertType))
	body.Write(encodeString([]byte(opts.KeyID)))

	var principals bytes.Buffer
	for _, p := range opts.ValidPrincipals {
		principals.Write(encodeString([]byte(p)))
	}
	body.Write(encodeString(principals.Bytes()))

	body.Write(encodeUint64(opts.ValidAfter))
	body.Write(encodeUint64(opts.ValidBefore))
	body.Write(encodeString(encodeCriticalOptions(opts.CriticalOptions)))
	body.Write(encodeString(encodeExtensions(opts.Extensions)))
	body.Write(encodeString(nil)) // reserved
	body.Write(encodeString(caBlob))

	return body.Bytes(), nil
}

// encodeCriticalOptions renders the critical-options section. OpenSSH
// requires the entries sorted lexicographically by name; each value is
// wrapped in an extra string envelope per the option-value convention.
// Duplicate names survive the sort untouched.
func encodeCriticalOptions(options []CriticalOption) []byte {
	sorted := make([]CriticalOption, len(options))
	copy(sorted, options)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var buf bytes.Buffer
	for _, opt := range sorted {
		buf.Write(encodeString([]byte(opt.Name)))
		buf.Write(encodeString(encodeString([]byte(opt.Value))))
	}
	return buf.Bytes()
}

// encodeExtensions renders the extensions section: sorted names, each
// with an empty value as the boolean-present marker.
func encodeExtensions(extensions []string) []byte {
	sorted := make([]string, len(extensions))
	copy(sorted, extensions)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var buf bytes.Buffer
	for _, name := range sorted {
		buf.Write(encodeString([]byte(name)))
		buf.Write(encodeString(nil))
	}
	return buf.Bytes()
}
