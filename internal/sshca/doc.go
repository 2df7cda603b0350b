// Copyright (c) 2026 Certmaster Team
// Certmaster - SSH certificate authority control plane
// This source code is licensed under the MIT license found in the LICENSE file.

// Package sshca implements the SSH certificate authority engine: the
// RFC 4251 wire-format primitives, OpenSSH public-key line handling, and
// construction and signing of *-cert-v01@openssh.com certificates.
//
// The certificate path is built from scratch on purpose. The signature
// covers the exact byte sequence of the certificate body, so this package
// owns every byte it emits instead of delegating to an SSH library.
// golang.org/x/crypto/ssh appears only at the edges: marshalling private
// keys to the OpenSSH PEM format for storage, and verifying our output in
// tests.
//
// Everything in this package is pure computation. There is no I/O beyond
// reading the process CSPRNG, no shared mutable state, and every function
// is safe for concurrent use.
package sshca // import "github.com/dreilach/certmaster/internal/sshca"
