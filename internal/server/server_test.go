// Copyright (c) 2026 Certmaster Team
// Certmaster - SSH certificate authority control plane
// This source code is licensed under the MIT license found in the LICENSE file.

package server

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/dreilach/certmaster/internal/db"
	"github.com/dreilach/certmaster/internal/security"
	"github.com/dreilach/certmaster/internal/sshca"
)

const testToken = "test-token"

var testPassphrase = []byte("correct horse battery staple")

// newTestServer builds a server over a fresh in-memory store with one
// org ("acme") that already has a generated CA.
func newTestServer(t *testing.T) (http.Handler, db.Store, *sshca.CAKeyPair) {
	t.Helper()

	store, err := db.NewStoreFromDSN("sqlite", "file:server_"+strings.ReplaceAll(t.Name(), "/", "_")+"?mode=memory&cache=shared")
	require.NoError(t, err)

	orgID, err := store.AddOrg("acme", "Acme Corp")
	require.NoError(t, err)

	ca, err := sshca.GenerateCA("acme-ca")
	require.NoError(t, err)
	sealed, err := security.Seal(security.FromBytes(testPassphrase), []byte(ca.PrivateKeyPEM))
	require.NoError(t, err)
	_, err = store.CreateCAKey(orgID, ca.PublicKeyLine, sealed)
	require.NoError(t, err)

	srv := New(store, testToken, func() []byte { return testPassphrase })
	router, err := srv.Router()
	require.NoError(t, err)
	return router, store, ca
}

func doJSON(t *testing.T, router http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func subjectKeyLine(t *testing.T) (string, ed25519.PublicKey) {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	line, err := sshca.FormatPublicKeyLine(sshca.EncodeEd25519PublicKey(pub), "alice@laptop")
	require.NoError(t, err)
	return line, pub
}

func TestHealthzNeedsNoAuth(t *testing.T) {
	router, _, _ := newTestServer(t)
	rec := doJSON(t, router, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIRequiresBearerToken(t *testing.T) {
	router, _, _ := newTestServer(t)

	rec := doJSON(t, router, http.MethodGet, "/v1/orgs/acme/ca", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/v1/orgs/acme/ca", "wrong-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/v1/orgs/acme/ca", testToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetCA(t *testing.T) {
	router, _, ca := newTestServer(t)

	rec := doJSON(t, router, http.MethodGet, "/v1/orgs/acme/ca", testToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp caResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "acme", resp.Org)
	assert.Equal(t, 1, resp.Serial)
	assert.Equal(t, ca.PublicKeyLine, resp.PublicKey)

	rec = doJSON(t, router, http.MethodGet, "/v1/orgs/ghost/ca", testToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSignCertificate(t *testing.T) {
	router, store, ca := newTestServer(t)
	line, _ := subjectKeyLine(t)

	rec := doJSON(t, router, http.MethodPost, "/v1/orgs/acme/certificates", testToken, signRequest{
		PublicKey:  line,
		KeyID:      "alice@laptop",
		Principals: []string{"alice", "admin"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp signResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "alice@laptop", resp.KeyID)
	assert.Equal(t, 1, resp.CASerial)

	// The emitted line must verify against the CA with OpenSSH's own
	// machinery.
	pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(resp.Certificate))
	require.NoError(t, err)
	cert, ok := pub.(*ssh.Certificate)
	require.True(t, ok)
	assert.Equal(t, []string{"alice", "admin"}, cert.ValidPrincipals)

	caPub, err := ssh.NewPublicKey(ca.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, caPub.Marshal(), cert.SignatureKey.Marshal())

	// Signing leaves an audit trail.
	org, err := store.GetOrgBySlug("acme")
	require.NoError(t, err)
	issued, err := store.GetIssuedCerts(org.ID)
	require.NoError(t, err)
	require.Len(t, issued, 1)
	assert.Equal(t, "alice@laptop", issued[0].KeyID)
}

func TestSignCertificateWithTTL(t *testing.T) {
	router, _, _ := newTestServer(t)
	line, _ := subjectKeyLine(t)

	rec := doJSON(t, router, http.MethodPost, "/v1/orgs/acme/certificates", testToken, signRequest{
		PublicKey:  line,
		KeyID:      "ci-job",
		Principals: []string{"deploy"},
		TTLSeconds: 300,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp signResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(resp.Certificate))
	require.NoError(t, err)
	cert := pub.(*ssh.Certificate)
	assert.InDelta(t, 300+60, cert.ValidBefore-cert.ValidAfter, 5)
}

func TestSignCertificateValidation(t *testing.T) {
	router, _, _ := newTestServer(t)
	line, _ := subjectKeyLine(t)

	// Missing fields.
	rec := doJSON(t, router, http.MethodPost, "/v1/orgs/acme/certificates", testToken, signRequest{
		PublicKey: line,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Garbage public key.
	rec = doJSON(t, router, http.MethodPost, "/v1/orgs/acme/certificates", testToken, signRequest{
		PublicKey:  "not an ssh key",
		KeyID:      "x",
		Principals: []string{"x"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unsupported key type gets a 422.
	rec = doJSON(t, router, http.MethodPost, "/v1/orgs/acme/certificates", testToken, signRequest{
		PublicKey:  dssKeyLine(),
		KeyID:      "x",
		Principals: []string{"x"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// Unknown org.
	rec = doJSON(t, router, http.MethodPost, "/v1/orgs/ghost/certificates", testToken, signRequest{
		PublicKey:  line,
		KeyID:      "x",
		Principals: []string{"x"},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSignCertificateLockedCA(t *testing.T) {
	store, err := db.NewStoreFromDSN("sqlite", "file:server_locked?mode=memory&cache=shared")
	require.NoError(t, err)
	orgID, err := store.AddOrg("acme", "Acme Corp")
	require.NoError(t, err)
	ca, err := sshca.GenerateCA("acme-ca")
	require.NoError(t, err)
	sealed, err := security.Seal(security.FromBytes(testPassphrase), []byte(ca.PrivateKeyPEM))
	require.NoError(t, err)
	_, err = store.CreateCAKey(orgID, ca.PublicKeyLine, sealed)
	require.NoError(t, err)

	srv := New(store, testToken, func() []byte { return nil })
	router, err := srv.Router()
	require.NoError(t, err)

	line, _ := subjectKeyLine(t)
	rec := doJSON(t, router, http.MethodPost, "/v1/orgs/acme/certificates", testToken, signRequest{
		PublicKey:  line,
		KeyID:      "x",
		Principals: []string{"x"},
	})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListCertificates(t *testing.T) {
	router, _, _ := newTestServer(t)
	line, _ := subjectKeyLine(t)

	rec := doJSON(t, router, http.MethodGet, "/v1/orgs/acme/certificates", testToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())

	doJSON(t, router, http.MethodPost, "/v1/orgs/acme/certificates", testToken, signRequest{
		PublicKey:  line,
		KeyID:      "alice@laptop",
		Principals: []string{"alice"},
	})

	rec = doJSON(t, router, http.MethodGet, "/v1/orgs/acme/certificates", testToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []issuedCertResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "alice@laptop", list[0].KeyID)
}

func TestRequestIDHeader(t *testing.T) {
	router, _, _ := newTestServer(t)
	rec := doJSON(t, router, http.MethodGet, "/healthz", "", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "fixed-id")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "fixed-id", rec.Header().Get("X-Request-Id"))
}

// dssKeyLine builds a syntactically valid authorized_keys line for a
// key type the signer does not support.
func dssKeyLine() string {
	var blob bytes.Buffer
	var len4 [4]byte
	binary.BigEndian.PutUint32(len4[:], uint32(len("ssh-dss")))
	blob.Write(len4[:])
	blob.WriteString("ssh-dss")
	blob.Write(make([]byte, 16))
	return "ssh-dss " + base64.StdEncoding.EncodeToString(blob.Bytes()) + " legacy-key"
}
