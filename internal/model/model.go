// Copyright (c) 2026 Certmaster Team
// Certmaster - SSH certificate authority control plane
// This source code is licensed under the MIT license found in the LICENSE file.

// Package model defines the core domain types shared across the store,
// the CLI and the HTTP API.
package model // import "github.com/dreilach/certmaster/internal/model"

import (
	"fmt"
	"strings"
	"time"
)

// Org is a tenant owning exactly one active certificate authority at a
// time.
type Org struct {
	ID   int
	Slug string
	Name string
}

// String returns the slug, the identifier used in CLI flags and URLs.
func (o Org) String() string { return o.Slug }

// CAKey is one generation of an organization's certificate authority.
// Rotation inserts a new active row and deactivates the old one; rows
// are never edited in place, so past certificates stay attributable.
type CAKey struct {
	ID            int
	OrgID         int
	Serial        int
	PublicKeyLine string
	// PrivateKeyEnc is the AES-GCM sealed OpenSSH PEM of the private
	// key. Only internal/security can open it.
	PrivateKeyEnc []byte
	IsActive      bool
	CreatedAt     time.Time
}

// IssuedCert is the audit record of one signing operation. The
// certificate itself is returned to the requester and not retained.
type IssuedCert struct {
	ID          int
	OrgID       int
	CASerial    int
	KeyID       string
	Principals  []string
	CertSerial  uint64
	ValidAfter  time.Time
	ValidBefore time.Time
	IssuedAt    time.Time
}

// PrincipalList renders the principals for storage and display.
func (c IssuedCert) PrincipalList() string { return strings.Join(c.Principals, ",") }

// Host is a managed server that should trust an organization's CA.
type Host struct {
	ID         int
	OrgID      int
	Hostname   string
	DeployUser string
	// HostKey is the pinned SSH host public key in authorized_keys
	// format, empty until trust-host has run.
	HostKey string
}

// String returns the user@host representation used in deploy logs.
func (h Host) String() string { return fmt.Sprintf("%s@%s", h.DeployUser, h.Hostname) }

// AuditLogEntry records a control-plane action (CA generated, cert
// signed, trust deployed).
type AuditLogEntry struct {
	ID        int
	Timestamp string
	Action    string
	Details   string
}
