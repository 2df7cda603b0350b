// Copyright (c) 2026 Certmaster Team
// Certmaster - SSH certificate authority control plane
// This source code is licensed under the MIT license found in the LICENSE file.

package server

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	gocache "github.com/patrickmn/go-cache"

	"github.com/dreilach/certmaster/internal/db"
	"github.com/dreilach/certmaster/internal/logging"
	"github.com/dreilach/certmaster/internal/model"
	"github.com/dreilach/certmaster/internal/security"
	"github.com/dreilach/certmaster/internal/sshca"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// lookupOrg resolves the {org} URL parameter, writing a 404 on miss.
func (s *Server) lookupOrg(w http.ResponseWriter, r *http.Request) (*model.Org, bool) {
	slug := chi.URLParam(r, "org")
	org, err := s.store.GetOrgBySlug(slug)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("unknown org: %s", slug))
		} else {
			writeError(w, http.StatusInternalServerError, "store error")
		}
		return nil, false
	}
	return org, true
}

type caResponse struct {
	Org       string `json:"org"`
	Serial    int    `json:"serial"`
	PublicKey string `json:"public_key"`
	CreatedAt string `json:"created_at,omitempty"`
}

func (s *Server) handleGetCA(w http.ResponseWriter, r *http.Request) {
	org, ok := s.lookupOrg(w, r)
	if !ok {
		return
	}

	key, err := s.store.GetActiveCAKey(org.ID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("org %s has no CA yet", org.Slug))
		} else {
			writeError(w, http.StatusInternalServerError, "store error")
		}
		return
	}

	resp := caResponse{Org: org.Slug, Serial: key.Serial, PublicKey: key.PublicKeyLine}
	if !key.CreatedAt.IsZero() {
		resp.CreatedAt = key.CreatedAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

type issuedCertResponse struct {
	KeyID       string   `json:"key_id"`
	Principals  []string `json:"principals"`
	CASerial    int      `json:"ca_serial"`
	CertSerial  uint64   `json:"cert_serial"`
	ValidAfter  string   `json:"valid_after"`
	ValidBefore string   `json:"valid_before"`
	IssuedAt    string   `json:"issued_at,omitempty"`
}

func (s *Server) handleListCertificates(w http.ResponseWriter, r *http.Request) {
	org, ok := s.lookupOrg(w, r)
	if !ok {
		return
	}

	certs, err := s.store.GetIssuedCerts(org.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store error")
		return
	}

	out := make([]issuedCertResponse, 0, len(certs))
	for _, c := range certs {
		item := issuedCertResponse{
			KeyID:       c.KeyID,
			Principals:  c.Principals,
			CASerial:    c.CASerial,
			CertSerial:  c.CertSerial,
			ValidAfter:  c.ValidAfter.UTC().Format(time.RFC3339),
			ValidBefore: c.ValidBefore.UTC().Format(time.RFC3339),
		}
		if !c.IssuedAt.IsZero() {
			item.IssuedAt = c.IssuedAt.UTC().Format(time.RFC3339)
		}
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, out)
}

type signRequest struct {
	PublicKey       string            `json:"public_key"`
	KeyID           string            `json:"key_id"`
	Principals      []string          `json:"principals"`
	TTLSeconds      uint64            `json:"ttl_seconds,omitempty"`
	CertType        string            `json:"cert_type,omitempty"`
	Extensions      []string          `json:"extensions,omitempty"`
	CriticalOptions map[string]string `json:"critical_options,omitempty"`
}

type signResponse struct {
	Certificate string   `json:"certificate"`
	KeyID       string   `json:"key_id"`
	Serial      uint64   `json:"serial"`
	Principals  []string `json:"principals"`
	ValidAfter  string   `json:"valid_after"`
	ValidBefore string   `json:"valid_before"`
	CASerial    int      `json:"ca_serial"`
}

func (s *Server) handleSignCertificate(w http.ResponseWriter, r *http.Request) {
	org, ok := s.lookupOrg(w, r)
	if !ok {
		return
	}

	var req signRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.PublicKey == "" || req.KeyID == "" || len(req.Principals) == 0 {
		writeError(w, http.StatusBadRequest, "public_key, key_id and principals are required")
		return
	}

	opts := sshca.CertOptions{
		KeyID:           req.KeyID,
		ValidPrincipals: req.Principals,
		Extensions:      req.Extensions,
	}
	switch req.CertType {
	case "", "user":
		opts.CertType = sshca.UserCert
	case "host":
		opts.CertType = sshca.HostCert
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown cert_type: %s", req.CertType))
		return
	}
	if req.TTLSeconds > 0 {
		now := uint64(time.Now().Unix())
		opts.ValidAfter = now - 60
		opts.ValidBefore = now + req.TTLSeconds
	}
	for name, value := range req.CriticalOptions {
		opts.CriticalOptions = append(opts.CriticalOptions, sshca.CriticalOption{Name: name, Value: value})
	}
	sort.Slice(opts.CriticalOptions, func(i, j int) bool {
		return opts.CriticalOptions[i].Name < opts.CriticalOptions[j].Name
	})

	caKey, err := s.store.GetActiveCAKey(org.ID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, http.StatusConflict, fmt.Sprintf("org %s has no CA yet", org.Slug))
		} else {
			writeError(w, http.StatusInternalServerError, "store error")
		}
		return
	}

	signer, err := s.signerForKey(org, caKey)
	if err != nil {
		if errors.Is(err, errCALocked) {
			writeError(w, http.StatusServiceUnavailable, "CA is locked; unlock the server with the passphrase")
			return
		}
		logging.L.Error("failed to unseal CA key", "org", org.Slug, "serial", caKey.Serial, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to unseal CA key")
		return
	}

	cert, err := sshca.SignPublicKey(signer, req.PublicKey, opts)
	if err != nil {
		switch {
		case errors.Is(err, sshca.ErrUnsupportedKeyType):
			recordCertSigned(org.Slug, "rejected")
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, sshca.ErrInvalidKeyFormat),
			errors.Is(err, sshca.ErrKeyTypeMismatch),
			errors.Is(err, sshca.ErrMalformedWireData):
			recordCertSigned(org.Slug, "rejected")
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			recordCertSigned(org.Slug, "error")
			logging.L.Error("signing failed", "org", org.Slug, "key_id", req.KeyID, "err", err)
			writeError(w, http.StatusInternalServerError, "signing failed")
		}
		return
	}

	record := model.IssuedCert{
		OrgID:       org.ID,
		CASerial:    caKey.Serial,
		KeyID:       cert.KeyID,
		Principals:  cert.ValidPrincipals,
		CertSerial:  cert.Serial,
		ValidAfter:  time.Unix(int64(cert.ValidAfter), 0).UTC(),
		ValidBefore: time.Unix(int64(cert.ValidBefore), 0).UTC(),
	}
	if err := s.store.RecordIssuedCert(record); err != nil {
		// The certificate exists either way; losing the audit row is
		// worse than a retried request seeing a 500.
		logging.L.Error("failed to record issued cert", "org", org.Slug, "key_id", cert.KeyID, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to record issued certificate")
		return
	}
	_ = s.store.LogAction("cert.sign", fmt.Sprintf("org=%s key_id=%s principals=%s", org.Slug, cert.KeyID, record.PrincipalList()))

	recordCertSigned(org.Slug, "ok")
	writeJSON(w, http.StatusCreated, signResponse{
		Certificate: cert.Line,
		KeyID:       cert.KeyID,
		Serial:      cert.Serial,
		Principals:  cert.ValidPrincipals,
		ValidAfter:  record.ValidAfter.Format(time.RFC3339),
		ValidBefore: record.ValidBefore.Format(time.RFC3339),
		CASerial:    caKey.Serial,
	})
}

var errCALocked = errors.New("ca passphrase not available")

// signerForKey returns the unsealed signing key for a CA generation,
// consulting the in-memory cache first.
func (s *Server) signerForKey(org *model.Org, caKey *model.CAKey) (ed25519.PrivateKey, error) {
	cacheKey := fmt.Sprintf("signer:%d:%d", org.ID, caKey.Serial)
	if v, found := s.signers.Get(cacheKey); found {
		if signer, ok := v.(ed25519.PrivateKey); ok {
			return signer, nil
		}
	}

	pass := s.passphrase()
	if pass == nil {
		return nil, errCALocked
	}
	secret := security.FromBytes(pass)
	defer secret.Zero()

	pemData, err := security.Open(secret, caKey.PrivateKeyEnc)
	if err != nil {
		return nil, err
	}
	signer, err := sshca.ParseCAPrivateKey(string(pemData))
	if err != nil {
		return nil, err
	}

	s.signers.Set(cacheKey, signer, gocache.DefaultExpiration)
	return signer, nil
}
