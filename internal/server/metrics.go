// Copyright (c) 2026 Certmaster Team
// Certmaster - SSH certificate authority control plane
// This source code is licensed under the MIT license found in the LICENSE file.

package server

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	metricsOnce sync.Once
	metricsErr  error

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpInflight        *prometheus.GaugeVec
	certsSignedTotal    *prometheus.CounterVec
)

// registerMetrics initializes the HTTP and signing metrics and returns
// the /metrics handler. Registration happens once per process; repeat
// calls reuse the same collectors.
func registerMetrics(registry prometheus.Registerer) (http.Handler, error) {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	metricsOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "certmaster_http_requests_total",
			Help: "Total HTTP requests processed",
		}, []string{"method", "path", "status"})

		httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "certmaster_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"})

		httpInflight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "certmaster_http_inflight_requests",
			Help: "In-flight requests by method",
		}, []string{"method"})

		certsSignedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "certmaster_certificates_signed_total",
			Help: "Certificates signed via the API, by org and result",
		}, []string{"org", "result"})

		for _, c := range []prometheus.Collector{httpRequestsTotal, httpRequestDuration, httpInflight, certsSignedTotal} {
			if err := registerCollector(registry, c); err != nil {
				metricsErr = err
				return
			}
		}
	})
	if metricsErr != nil {
		return nil, metricsErr
	}

	return promhttp.Handler(), nil
}

// withMetrics instruments requests with counters, latency and inflight
// gauges. The path label uses the chi route pattern so IDs and slugs do
// not explode cardinality.
func withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if httpRequestsTotal == nil {
			next.ServeHTTP(w, r)
			return
		}

		method := strings.ToUpper(r.Method)
		rec := &statusRecorder{ResponseWriter: w}
		start := time.Now()

		httpInflight.WithLabelValues(method).Inc()
		next.ServeHTTP(rec, r)
		httpInflight.WithLabelValues(method).Dec()

		pathLabel := chi.RouteContext(r.Context()).RoutePattern()
		if pathLabel == "" {
			pathLabel = "unmatched"
		}

		httpRequestDuration.WithLabelValues(method, pathLabel).Observe(time.Since(start).Seconds())
		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		httpRequestsTotal.WithLabelValues(method, pathLabel, strconv.Itoa(status)).Inc()
	})
}

// recordCertSigned bumps the signing counter; result is ok, rejected or
// error.
func recordCertSigned(org, result string) {
	if certsSignedTotal != nil {
		certsSignedTotal.WithLabelValues(org, result).Inc()
	}
}

// registerCollector registers on the given registry, ignoring duplicate
// registrations so tests can build multiple servers.
func registerCollector(reg prometheus.Registerer, collector prometheus.Collector) error {
	if err := reg.Register(collector); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return nil
		}
		return err
	}
	return nil
}

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}
