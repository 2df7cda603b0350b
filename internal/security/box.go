// Copyright (c) 2026 Certmaster Team
// Certmaster - SSH certificate authority control plane
// This source code is licensed under the MIT license found in the LICENSE file.

// Sealing of CA private keys at rest. The store only ever sees the
// sealed form; the passphrase never leaves memory.

package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
)

// ErrWrongPassphrase is returned when a sealed blob fails authentication,
// which in practice means the passphrase does not match.
var ErrWrongPassphrase = errors.New("wrong passphrase or corrupted key material")

// deriveKey maps an operator passphrase to a fixed-size AES key.
func deriveKey(passphrase Secret) [32]byte {
	return sha256.Sum256([]byte(passphrase))
}

// Seal encrypts plaintext with AES-256-GCM under a key derived from the
// passphrase. The random nonce is prepended to the ciphertext.
func Seal(passphrase Secret, plaintext []byte) ([]byte, error) {
	key := deriveKey(passphrase)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to init GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to read nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a blob produced by Seal. An authentication failure maps
// to ErrWrongPassphrase.
func Open(passphrase Secret, sealed []byte) ([]byte, error) {
	key := deriveKey(passphrase)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to init GCM: %w", err)
	}

	if len(sealed) < gcm.NonceSize() {
		return nil, ErrWrongPassphrase
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return plaintext, nil
}
