// Copyright (c) 2026 Certmaster Team
// Certmaster - SSH certificate authority control plane
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"github.com/dreilach/certmaster/internal/model"
)

// Store defines the interface for all database operations in Certmaster.
// This allows for multiple database backends to be implemented.
type Store interface {
	// Organization methods
	AddOrg(slug, name string) (int, error)
	GetOrgBySlug(slug string) (*model.Org, error)
	GetAllOrgs() ([]model.Org, error)

	// CA key methods. CreateCAKey deactivates any previous key for the
	// org and inserts a new active one with the next serial; rows are
	// never updated in place.
	CreateCAKey(orgID int, publicKeyLine string, privateKeyEnc []byte) (int, error)
	GetActiveCAKey(orgID int) (*model.CAKey, error)
	GetCAKeyBySerial(orgID, serial int) (*model.CAKey, error)
	HasCAKeys(orgID int) (bool, error)

	// Issued-certificate audit trail
	RecordIssuedCert(cert model.IssuedCert) error
	GetIssuedCerts(orgID int) ([]model.IssuedCert, error)

	// Managed host methods
	AddHost(orgID int, hostname, deployUser string) (int, error)
	GetHost(orgID int, hostname string) (*model.Host, error)
	GetHostsForOrg(orgID int) ([]model.Host, error)
	SetHostKey(orgID int, hostname, hostKey string) error

	// Audit log methods
	LogAction(action, details string) error
	GetAllAuditLogEntries() ([]model.AuditLogEntry, error)

	// Backup/restore
	ExportAll() (*model.BackupData, error)
	ImportAll(data *model.BackupData, full bool) error
}

// GetStore returns the package-level store. It is nil until InitDB has
// run; callers outside tests go through InitDB during CLI setup.
func GetStore() Store { return store }

// SetStore overrides the package-level store. Intended for tests.
func SetStore(s Store) { store = s }
