package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Resolution metrics
	PermissionChecksTotal *prometheus.CounterVec
	StoreFallthroughTotal *prometheus.CounterVec
	RoleCacheTotal        *prometheus.CounterVec
	GrantCacheTotal       *prometheus.CounterVec

	// Enforcement metrics
	DenialsTotal            *prometheus.CounterVec
	AuditWriteFailuresTotal prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		PermissionChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_permission_checks_total",
				Help: "Permission checks by deciding source and result",
			},
			[]string{"source", "result"},
		),
		StoreFallthroughTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_store_fallthroughs_total",
				Help: "Dynamic store failures that forced a fallback to the static catalog",
			},
			[]string{"stage"},
		),
		RoleCacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_role_cache_total",
				Help: "Role id cache lookups by result",
			},
			[]string{"result"},
		),
		GrantCacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_grant_cache_total",
				Help: "Grant lookup cache hits and misses",
			},
			[]string{"result"},
		),
		DenialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_denials_total",
				Help: "Requests denied by the enforcement gate",
			},
			[]string{"reason"},
		),
		AuditWriteFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatekeeper_audit_write_failures_total",
				Help: "Denial audit records that could not be persisted",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.PermissionChecksTotal,
		m.StoreFallthroughTotal,
		m.RoleCacheTotal,
		m.GrantCacheTotal,
		m.DenialsTotal,
		m.AuditWriteFailuresTotal,
	)

	return m
}

// The Record* helpers are nil-safe so components can run without metrics.

// RecordPermissionCheck counts one resolved permission check.
func (m *Metrics) RecordPermissionCheck(source string, allowed bool) {
	if m == nil {
		return
	}
	result := "deny"
	if allowed {
		result = "allow"
	}
	m.PermissionChecksTotal.WithLabelValues(source, result).Inc()
}

// RecordFallthrough counts a store failure at the given resolution stage.
func (m *Metrics) RecordFallthrough(stage string) {
	if m == nil {
		return
	}
	m.StoreFallthroughTotal.WithLabelValues(stage).Inc()
}

// RecordRoleCache counts a role id cache hit or miss.
func (m *Metrics) RecordRoleCache(hit bool) {
	if m == nil {
		return
	}
	m.RoleCacheTotal.WithLabelValues(hitLabel(hit)).Inc()
}

// RecordGrantCache counts a grant cache hit or miss.
func (m *Metrics) RecordGrantCache(hit bool) {
	if m == nil {
		return
	}
	m.GrantCacheTotal.WithLabelValues(hitLabel(hit)).Inc()
}

// RecordDenial counts a denial by reason code.
func (m *Metrics) RecordDenial(reason string) {
	if m == nil {
		return
	}
	m.DenialsTotal.WithLabelValues(reason).Inc()
}

// RecordAuditFailure counts an audit write that failed.
func (m *Metrics) RecordAuditFailure() {
	if m == nil {
		return
	}
	m.AuditWriteFailuresTotal.Inc()
}

func hitLabel(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// pathLabel maps a request to a low-cardinality label (usually the route template).
func HTTPMetricsMiddleware(metrics *Metrics, pathLabel func(*http.Request) string) func(http.Handler) http.Handler {
	if pathLabel == nil {
		pathLabel = func(r *http.Request) string { return r.URL.Path }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			path := pathLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format.
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
