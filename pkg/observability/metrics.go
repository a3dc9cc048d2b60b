package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. Recording methods are safe to call
// on a nil *Metrics so packages can run without instrumentation in tests.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Authorization metrics
	PolicyDecisionsTotal    *prometheus.CounterVec
	ScopeResolutionsTotal   *prometheus.CounterVec
	ScopeSize               prometheus.Histogram
	ScopeResolutionDuration prometheus.Histogram

	// Task metrics
	TaskQueriesTotal   *prometheus.CounterVec
	TaskQueryDuration  prometheus.Histogram
	TaskMutationsTotal *prometheus.CounterVec

	// Audit metrics
	AuditWritesTotal   *prometheus.CounterVec
	AuditArchivesTotal *prometheus.CounterVec

	// Cache metrics
	CacheLookupsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskguard_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskguard_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskguard_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "route"},
		),

		PolicyDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskguard_policy_decisions_total",
				Help: "Total number of access policy decisions",
			},
			[]string{"check", "allowed", "reason"},
		),
		ScopeResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskguard_scope_resolutions_total",
				Help: "Total number of organization scope resolutions",
			},
			[]string{"expanded"},
		),
		ScopeSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "taskguard_scope_size",
				Help:    "Number of organizations in a resolved scope",
				Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
			},
		),
		ScopeResolutionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "taskguard_scope_resolution_duration_seconds",
				Help:    "Organization scope resolution duration in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25},
			},
		),

		TaskQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskguard_task_queries_total",
				Help: "Total number of scoped task queries",
			},
			[]string{"status"},
		),
		TaskQueryDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "taskguard_task_query_duration_seconds",
				Help:    "Scoped task query duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		TaskMutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskguard_task_mutations_total",
				Help: "Total number of task mutations",
			},
			[]string{"operation", "status"},
		),

		AuditWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskguard_audit_writes_total",
				Help: "Total number of audit entries written",
			},
			[]string{"action", "status"},
		),
		AuditArchivesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskguard_audit_archives_total",
				Help: "Total number of audit archive runs",
			},
			[]string{"status"},
		),

		CacheLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskguard_cache_lookups_total",
				Help: "Total number of organization cache lookups",
			},
			[]string{"kind", "layer", "result"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.PolicyDecisionsTotal,
		m.ScopeResolutionsTotal,
		m.ScopeSize,
		m.ScopeResolutionDuration,
		m.TaskQueriesTotal,
		m.TaskQueryDuration,
		m.TaskMutationsTotal,
		m.AuditWritesTotal,
		m.AuditArchivesTotal,
		m.CacheLookupsTotal,
	)

	return m
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordPolicyDecision counts an access policy decision.
func (m *Metrics) RecordPolicyDecision(check string, allowed bool, reason string) {
	if m == nil {
		return
	}
	m.PolicyDecisionsTotal.WithLabelValues(check, strconv.FormatBool(allowed), reason).Inc()
}

// RecordScopeResolution records one uncached scope resolution.
func (m *Metrics) RecordScopeResolution(expanded bool, size int, d time.Duration) {
	if m == nil {
		return
	}
	m.ScopeResolutionsTotal.WithLabelValues(strconv.FormatBool(expanded)).Inc()
	m.ScopeSize.Observe(float64(size))
	m.ScopeResolutionDuration.Observe(d.Seconds())
}

// RecordTaskQuery records a scoped task listing.
func (m *Metrics) RecordTaskQuery(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.TaskQueriesTotal.WithLabelValues(statusLabel(err)).Inc()
	m.TaskQueryDuration.Observe(d.Seconds())
}

// RecordTaskMutation counts a create, update or delete.
func (m *Metrics) RecordTaskMutation(operation string, err error) {
	if m == nil {
		return
	}
	m.TaskMutationsTotal.WithLabelValues(operation, statusLabel(err)).Inc()
}

// RecordAuditWrite counts an audit store write.
func (m *Metrics) RecordAuditWrite(action string, err error) {
	if m == nil {
		return
	}
	m.AuditWritesTotal.WithLabelValues(action, statusLabel(err)).Inc()
}

// RecordAuditArchive counts an archive run.
func (m *Metrics) RecordAuditArchive(err error) {
	if m == nil {
		return
	}
	m.AuditArchivesTotal.WithLabelValues(statusLabel(err)).Inc()
}

// RecordCacheLookup counts a cache lookup at the layer that answered it.
func (m *Metrics) RecordCacheLookup(kind, layer string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookupsTotal.WithLabelValues(kind, layer, result).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// routeLabel uses the mux route template so path ids do not explode cardinality.
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			metrics.HTTPResponseSize.WithLabelValues(r.Method, route).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, gatherer prometheus.Gatherer) {
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}
