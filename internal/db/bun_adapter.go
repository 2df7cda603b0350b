// Copyright (c) 2026 Certmaster Team
// Certmaster - SSH certificate authority control plane
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dreilach/certmaster/internal/model"
	"github.com/uptrace/bun"
)

// OrgModel maps the `orgs` table for Bun queries.
type OrgModel struct {
	bun.BaseModel `bun:"table:orgs"`
	ID            int    `bun:"id,pk,autoincrement"`
	Slug          string `bun:"slug"`
	Name          string `bun:"name"`
}

// CAKeyModel maps the `ca_keys` table.
type CAKeyModel struct {
	bun.BaseModel `bun:"table:ca_keys"`
	ID            int       `bun:"id,pk,autoincrement"`
	OrgID         int       `bun:"org_id"`
	Serial        int       `bun:"serial"`
	PublicKeyLine string    `bun:"public_key_line"`
	PrivateKeyEnc []byte    `bun:"private_key_enc"`
	IsActive      bool      `bun:"is_active"`
	CreatedAt     time.Time `bun:"created_at,nullzero"`
}

// IssuedCertModel maps the `issued_certs` table.
type IssuedCertModel struct {
	bun.BaseModel `bun:"table:issued_certs"`
	ID            int       `bun:"id,pk,autoincrement"`
	OrgID         int       `bun:"org_id"`
	CASerial      int       `bun:"ca_serial"`
	KeyID         string    `bun:"key_id"`
	Principals    string    `bun:"principals"`
	CertSerial    int64     `bun:"cert_serial"`
	ValidAfter    time.Time `bun:"valid_after"`
	ValidBefore   time.Time `bun:"valid_before"`
	IssuedAt      time.Time `bun:"issued_at,nullzero"`
}

// HostModel maps the `hosts` table.
type HostModel struct {
	bun.BaseModel `bun:"table:hosts"`
	ID            int    `bun:"id,pk,autoincrement"`
	OrgID         int    `bun:"org_id"`
	Hostname      string `bun:"hostname"`
	DeployUser    string `bun:"deploy_user"`
	HostKey       string `bun:"host_key"`
}

// AuditLogModel maps the `audit_log` table.
type AuditLogModel struct {
	bun.BaseModel `bun:"table:audit_log"`
	ID            int    `bun:"id,pk,autoincrement"`
	Timestamp     string `bun:"timestamp"`
	Action        string `bun:"action"`
	Details       string `bun:"details"`
}

// --- Mapping helpers (centralized conversions) ---

func orgModelToModel(o OrgModel) model.Org {
	return model.Org{ID: o.ID, Slug: o.Slug, Name: o.Name}
}

func caKeyModelToModel(k CAKeyModel) model.CAKey {
	return model.CAKey{
		ID:            k.ID,
		OrgID:         k.OrgID,
		Serial:        k.Serial,
		PublicKeyLine: k.PublicKeyLine,
		PrivateKeyEnc: k.PrivateKeyEnc,
		IsActive:      k.IsActive,
		CreatedAt:     k.CreatedAt,
	}
}

func issuedCertModelToModel(c IssuedCertModel) model.IssuedCert {
	out := model.IssuedCert{
		ID:          c.ID,
		OrgID:       c.OrgID,
		CASerial:    c.CASerial,
		KeyID:       c.KeyID,
		CertSerial:  uint64(c.CertSerial),
		ValidAfter:  c.ValidAfter,
		ValidBefore: c.ValidBefore,
		IssuedAt:    c.IssuedAt,
	}
	if c.Principals != "" {
		out.Principals = strings.Split(c.Principals, ",")
	}
	return out
}

func hostModelToModel(h HostModel) model.Host {
	return model.Host{ID: h.ID, OrgID: h.OrgID, Hostname: h.Hostname, DeployUser: h.DeployUser, HostKey: h.HostKey}
}

// bunStore is the shared Bun-backed implementation of Store. The
// per-backend wrapper types exist so backend-specific overrides have an
// obvious home, mirroring how the migrations are organized.
type bunStore struct {
	bun *bun.DB
}

// SqliteStore is the SQLite implementation of the Store interface.
type SqliteStore struct{ bunStore }

// PostgresStore is the PostgreSQL implementation of the Store interface.
type PostgresStore struct{ bunStore }

// MySQLStore is the MySQL/MariaDB implementation of the Store interface.
type MySQLStore struct{ bunStore }

func (s *bunStore) AddOrg(slug, name string) (int, error) {
	ctx := context.Background()
	m := &OrgModel{Slug: slug, Name: name}
	if _, err := s.bun.NewInsert().Model(m).Exec(ctx); err != nil {
		return 0, MapDBError(err)
	}
	return m.ID, nil
}

func (s *bunStore) GetOrgBySlug(slug string) (*model.Org, error) {
	ctx := context.Background()
	var o OrgModel
	err := s.bun.NewSelect().Model(&o).Where("slug = ?", slug).Limit(1).Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	m := orgModelToModel(o)
	return &m, nil
}

func (s *bunStore) GetAllOrgs() ([]model.Org, error) {
	ctx := context.Background()
	var rows []OrgModel
	if err := s.bun.NewSelect().Model(&rows).Order("slug ASC").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]model.Org, 0, len(rows))
	for _, r := range rows {
		out = append(out, orgModelToModel(r))
	}
	return out, nil
}

// CreateCAKey deactivates existing keys for the org and inserts a new
// active key within a single transaction. The new serial is max+1.
func (s *bunStore) CreateCAKey(orgID int, publicKeyLine string, privateKeyEnc []byte) (int, error) {
	ctx := context.Background()

	tx, err := s.bun.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	// Deactivate existing keys. Raw UPDATE because Bun requires a WHERE
	// clause on Update/Delete to prevent accidental full-table updates.
	if _, err := tx.ExecContext(ctx, "UPDATE ca_keys SET is_active = FALSE WHERE org_id = ?", orgID); err != nil {
		return 0, fmt.Errorf("failed to deactivate old CA keys: %w", err)
	}

	var max sql.NullInt64
	if err := tx.QueryRowContext(ctx, "SELECT MAX(serial) FROM ca_keys WHERE org_id = ?", orgID).Scan(&max); err != nil {
		return 0, err
	}
	newSerial := 1
	if max.Valid {
		newSerial = int(max.Int64) + 1
	}

	if _, err := tx.NewInsert().Model(&CAKeyModel{
		OrgID:         orgID,
		Serial:        newSerial,
		PublicKeyLine: publicKeyLine,
		PrivateKeyEnc: privateKeyEnc,
		IsActive:      true,
		CreatedAt:     time.Now().UTC(),
	}).Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to insert new CA key: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return newSerial, nil
}

func (s *bunStore) GetActiveCAKey(orgID int) (*model.CAKey, error) {
	ctx := context.Background()
	var k CAKeyModel
	err := s.bun.NewSelect().Model(&k).Where("org_id = ?", orgID).Where("is_active = ?", true).Limit(1).Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	m := caKeyModelToModel(k)
	return &m, nil
}

func (s *bunStore) GetCAKeyBySerial(orgID, serial int) (*model.CAKey, error) {
	ctx := context.Background()
	var k CAKeyModel
	err := s.bun.NewSelect().Model(&k).Where("org_id = ?", orgID).Where("serial = ?", serial).Limit(1).Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	m := caKeyModelToModel(k)
	return &m, nil
}

func (s *bunStore) HasCAKeys(orgID int) (bool, error) {
	ctx := context.Background()
	n, err := s.bun.NewSelect().Model((*CAKeyModel)(nil)).Where("org_id = ?", orgID).Count(ctx)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *bunStore) RecordIssuedCert(cert model.IssuedCert) error {
	ctx := context.Background()
	issuedAt := cert.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = time.Now().UTC()
	}
	_, err := s.bun.NewInsert().Model(&IssuedCertModel{
		OrgID:       cert.OrgID,
		CASerial:    cert.CASerial,
		KeyID:       cert.KeyID,
		Principals:  cert.PrincipalList(),
		CertSerial:  int64(cert.CertSerial),
		ValidAfter:  cert.ValidAfter,
		ValidBefore: cert.ValidBefore,
		IssuedAt:    issuedAt,
	}).Exec(ctx)
	return MapDBError(err)
}

func (s *bunStore) GetIssuedCerts(orgID int) ([]model.IssuedCert, error) {
	ctx := context.Background()
	var rows []IssuedCertModel
	if err := s.bun.NewSelect().Model(&rows).Where("org_id = ?", orgID).Order("id DESC").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]model.IssuedCert, 0, len(rows))
	for _, r := range rows {
		out = append(out, issuedCertModelToModel(r))
	}
	return out, nil
}

func (s *bunStore) AddHost(orgID int, hostname, deployUser string) (int, error) {
	ctx := context.Background()
	m := &HostModel{OrgID: orgID, Hostname: hostname, DeployUser: deployUser}
	if _, err := s.bun.NewInsert().Model(m).Exec(ctx); err != nil {
		return 0, MapDBError(err)
	}
	return m.ID, nil
}

func (s *bunStore) GetHost(orgID int, hostname string) (*model.Host, error) {
	ctx := context.Background()
	var h HostModel
	err := s.bun.NewSelect().Model(&h).Where("org_id = ?", orgID).Where("hostname = ?", hostname).Limit(1).Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	m := hostModelToModel(h)
	return &m, nil
}

func (s *bunStore) GetHostsForOrg(orgID int) ([]model.Host, error) {
	ctx := context.Background()
	var rows []HostModel
	if err := s.bun.NewSelect().Model(&rows).Where("org_id = ?", orgID).Order("hostname ASC").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]model.Host, 0, len(rows))
	for _, r := range rows {
		out = append(out, hostModelToModel(r))
	}
	return out, nil
}

func (s *bunStore) SetHostKey(orgID int, hostname, hostKey string) error {
	ctx := context.Background()
	res, err := s.bun.NewUpdate().Model((*HostModel)(nil)).
		Set("host_key = ?", hostKey).
		Where("org_id = ?", orgID).
		Where("hostname = ?", hostname).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *bunStore) LogAction(action, details string) error {
	ctx := context.Background()
	_, err := s.bun.NewInsert().Model(&AuditLogModel{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Action:    action,
		Details:   details,
	}).Exec(ctx)
	return err
}

func (s *bunStore) GetAllAuditLogEntries() ([]model.AuditLogEntry, error) {
	ctx := context.Background()
	var rows []AuditLogModel
	if err := s.bun.NewSelect().Model(&rows).Order("id DESC").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]model.AuditLogEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.AuditLogEntry{ID: r.ID, Timestamp: r.Timestamp, Action: r.Action, Details: r.Details})
	}
	return out, nil
}

// ExportAll dumps every table into a BackupData snapshot.
func (s *bunStore) ExportAll() (*model.BackupData, error) {
	data := &model.BackupData{}

	orgs, err := s.GetAllOrgs()
	if err != nil {
		return nil, fmt.Errorf("failed to export orgs: %w", err)
	}
	data.Orgs = orgs

	ctx := context.Background()
	var caRows []CAKeyModel
	if err := s.bun.NewSelect().Model(&caRows).Order("id ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to export CA keys: %w", err)
	}
	for _, r := range caRows {
		data.CAKeys = append(data.CAKeys, caKeyModelToModel(r))
	}

	var certRows []IssuedCertModel
	if err := s.bun.NewSelect().Model(&certRows).Order("id ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to export issued certs: %w", err)
	}
	for _, r := range certRows {
		data.IssuedCerts = append(data.IssuedCerts, issuedCertModelToModel(r))
	}

	var hostRows []HostModel
	if err := s.bun.NewSelect().Model(&hostRows).Order("id ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to export hosts: %w", err)
	}
	for _, r := range hostRows {
		data.Hosts = append(data.Hosts, hostModelToModel(r))
	}

	audit, err := s.GetAllAuditLogEntries()
	if err != nil {
		return nil, fmt.Errorf("failed to export audit log: %w", err)
	}
	data.AuditLog = audit

	return data, nil
}

// ImportAll loads a BackupData snapshot. With full=true all existing
// rows are wiped first; otherwise rows that collide on unique keys are
// skipped (integration restore).
func (s *bunStore) ImportAll(data *model.BackupData, full bool) error {
	ctx := context.Background()

	tx, err := s.bun.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if full {
		for _, table := range []string{"issued_certs", "ca_keys", "hosts", "audit_log", "orgs"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("failed to wipe %s: %w", table, err)
			}
		}
	}

	// Orgs first; remap IDs for dependent rows.
	idMap := make(map[int]int, len(data.Orgs))
	for _, o := range data.Orgs {
		m := &OrgModel{Slug: o.Slug, Name: o.Name}
		if _, err := tx.NewInsert().Model(m).Exec(ctx); err != nil {
			if MapDBError(err) == ErrDuplicate {
				var existing OrgModel
				if err := tx.NewSelect().Model(&existing).Where("slug = ?", o.Slug).Limit(1).Scan(ctx); err != nil {
					return err
				}
				idMap[o.ID] = existing.ID
				continue
			}
			return fmt.Errorf("failed to import org %s: %w", o.Slug, err)
		}
		idMap[o.ID] = m.ID
	}

	for _, k := range data.CAKeys {
		m := &CAKeyModel{
			OrgID:         idMap[k.OrgID],
			Serial:        k.Serial,
			PublicKeyLine: k.PublicKeyLine,
			PrivateKeyEnc: k.PrivateKeyEnc,
			IsActive:      k.IsActive,
			CreatedAt:     k.CreatedAt,
		}
		if _, err := tx.NewInsert().Model(m).Exec(ctx); err != nil {
			if MapDBError(err) == ErrDuplicate {
				continue
			}
			return fmt.Errorf("failed to import CA key serial %d: %w", k.Serial, err)
		}
	}

	for _, c := range data.IssuedCerts {
		m := &IssuedCertModel{
			OrgID:       idMap[c.OrgID],
			CASerial:    c.CASerial,
			KeyID:       c.KeyID,
			Principals:  c.PrincipalList(),
			CertSerial:  int64(c.CertSerial),
			ValidAfter:  c.ValidAfter,
			ValidBefore: c.ValidBefore,
			IssuedAt:    c.IssuedAt,
		}
		if _, err := tx.NewInsert().Model(m).Exec(ctx); err != nil {
			return fmt.Errorf("failed to import issued cert %q: %w", c.KeyID, err)
		}
	}

	for _, h := range data.Hosts {
		m := &HostModel{OrgID: idMap[h.OrgID], Hostname: h.Hostname, DeployUser: h.DeployUser, HostKey: h.HostKey}
		if _, err := tx.NewInsert().Model(m).Exec(ctx); err != nil {
			if MapDBError(err) == ErrDuplicate {
				continue
			}
			return fmt.Errorf("failed to import host %s: %w", h.Hostname, err)
		}
	}

	for _, a := range data.AuditLog {
		m := &AuditLogModel{Timestamp: a.Timestamp, Action: a.Action, Details: a.Details}
		if _, err := tx.NewInsert().Model(m).Exec(ctx); err != nil {
			return fmt.Errorf("failed to import audit entry: %w", err)
		}
	}

	return tx.Commit()
}
