// Copyright (c) 2026 Certmaster Team
// Certmaster - SSH certificate authority control plane
// This source code is licensed under the MIT license found in the LICENSE file.

// Package server exposes the signing API over HTTP. The CLI is the
// admin surface; this is the machine surface that CI pipelines and
// short-lived-credential helpers talk to.
package server // import "github.com/dreilach/certmaster/internal/server"

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dreilach/certmaster/internal/db"
	"github.com/dreilach/certmaster/internal/logging"
)

type ctxKey int

const requestIDKey ctxKey = 0

// Server wires the store and the signing engine into an HTTP API.
type Server struct {
	store    db.Store
	apiToken string
	// signers caches unsealed CA signing keys so each request does not
	// pay the AES-GCM and PEM parse cost again.
	signers *gocache.Cache
	// passphrase returns the CA unlock passphrase, nil when locked.
	passphrase func() []byte
}

// New builds a Server around the given store. passphrase is called per
// signing request; returning nil makes signing endpoints respond 503.
func New(store db.Store, apiToken string, passphrase func() []byte) *Server {
	return &Server{
		store:      store,
		apiToken:   apiToken,
		signers:    gocache.New(10*time.Minute, 15*time.Minute),
		passphrase: passphrase,
	}
}

// Router assembles the chi router with logging, metrics and auth.
func (s *Server) Router() (http.Handler, error) {
	metricsHandler, err := registerMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(withRequestID)
	r.Use(withMetrics)
	r.Use(logRequests)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.requireToken)
		r.Route("/orgs/{org}", func(r chi.Router) {
			r.Get("/ca", s.handleGetCA)
			r.Get("/certificates", s.handleListCertificates)
			r.Post("/certificates", s.handleSignCertificate)
		})
	})

	return r, nil
}

// ListenAndServe runs the API on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	router, err := s.Router()
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// withRequestID tags every request with a UUID, echoed in the
// X-Request-Id header and attached to log lines.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func requestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next.ServeHTTP(rec, r)
		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		logging.L.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration", time.Since(start),
			"request_id", requestID(r.Context()),
		)
	})
}

// requireToken enforces bearer-token auth on the API surface. An empty
// configured token disables the API entirely rather than leaving it
// open.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiToken == "" {
			writeError(w, http.StatusServiceUnavailable, "api token not configured")
			return
		}
		auth := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.apiToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
