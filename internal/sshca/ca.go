// Copyright (c) 2026 Certmaster Team
// Certmaster - SSH certificate authority control plane
// This source code is licensed under the MIT license found in the LICENSE file.

// CA key-pair generation and private-key (de)serialization. The PEM
// round-trip leans on golang.org/x/crypto/ssh because the OpenSSH
// private-key container is a storage concern, not part of the
// hand-built certificate path.

package sshca

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"

	"golang.org/x/crypto/ssh"
)

// CAKeyPair is a freshly generated Ed25519 certificate-authority
// identity. The pair is generated together and never mutated; rotating a
// CA means generating a brand-new pair.
type CAKeyPair struct {
	// PrivateKey is the raw Ed25519 private key. Callers own
	// persistence and encryption at rest.
	PrivateKey ed25519.PrivateKey

	// PublicKey is the raw 32-byte Ed25519 public key, always derivable
	// from PrivateKey.
	PublicKey ed25519.PublicKey

	// PublicKeyLine is the OpenSSH public-key text line, suitable for a
	// TrustedUserCAKeys file.
	PublicKeyLine string

	// PrivateKeyPEM is the private key in OpenSSH PEM format, the
	// representation handed to the caller's secret storage.
	PrivateKeyPEM string
}

// GenerateCA creates a new Ed25519 CA key pair with the given comment on
// its public line. The only failure mode is entropy-source exhaustion,
// which is fatal and never retried.
func GenerateCA(comment string) (*CAKeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 CA key pair: %w", err)
	}

	line, err := FormatPublicKeyLine(EncodeEd25519PublicKey(pub), comment)
	if err != nil {
		return nil, err
	}

	pemBlock, err := ssh.MarshalPrivateKey(priv, comment)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal CA private key: %w", err)
	}

	return &CAKeyPair{
		PrivateKey:    priv,
		PublicKey:     pub,
		PublicKeyLine: line,
		PrivateKeyPEM: string(pem.EncodeToMemory(pemBlock)),
	}, nil
}

// ParseCAPrivateKey reads an Ed25519 private key back from its OpenSSH
// PEM representation, the inverse of the marshalling in GenerateCA.
func ParseCAPrivateKey(pemData string) (ed25519.PrivateKey, error) {
	raw, err := ssh.ParseRawPrivateKey([]byte(pemData))
	if err != nil {
		return nil, fmt.Errorf("failed to parse CA private key: %w", err)
	}
	switch key := raw.(type) {
	case ed25519.PrivateKey:
		return key, nil
	case *ed25519.PrivateKey:
		return *key, nil
	default:
		return nil, fmt.Errorf("CA private key is %T, expected ed25519", raw)
	}
}
