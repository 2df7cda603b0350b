// Copyright (c) 2026 Certmaster Team
// Certmaster - SSH certificate authority control plane
// This source code is licensed under the MIT license found in the LICENSE file.

package sshca

import "errors"

// Sentinel errors for the four failure classes of the engine. They are
// wrapped with context at the failure site; callers match with errors.Is
// and translate them into user-facing errors (typically 400/422).
var (
	// ErrInvalidKeyFormat reports a malformed public-key line: too few
	// tokens or undecodable base64.
	ErrInvalidKeyFormat = errors.New("invalid public key format")

	// ErrKeyTypeMismatch reports that the declared algorithm token of a
	// public-key line does not match the type string embedded in its blob.
	ErrKeyTypeMismatch = errors.New("key type mismatch between line and blob")

	// ErrUnsupportedKeyType reports a syntactically valid key whose
	// algorithm is outside the supported signing set.
	ErrUnsupportedKeyType = errors.New("unsupported key type")

	// ErrMalformedWireData reports a length-prefixed field that claims
	// more bytes than remain in the buffer.
	ErrMalformedWireData = errors.New("malformed wire data")
)
