// Copyright (c) 2026 Certmaster Team
// Certmaster - SSH certificate authority control plane
// This source code is licensed under the MIT license found in the LICENSE file.

package model

// BackupData is the portable snapshot format used by backup and
// restore. It contains every table, including encrypted CA private
// keys; the on-disk form is zstd-compressed JSON.
type BackupData struct {
	Version     int             `json:"version"`
	Orgs        []Org           `json:"orgs"`
	CAKeys      []CAKey         `json:"ca_keys"`
	IssuedCerts []IssuedCert    `json:"issued_certs"`
	Hosts       []Host          `json:"hosts"`
	AuditLog    []AuditLogEntry `json:"audit_log"`
}

// BackupVersion is the current snapshot format version.
const BackupVersion = 1
