package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/maxiofs/storehub/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "storehub"

// Manager records storehub metrics and exposes them for scraping
type Manager interface {
	// HTTP Metrics
	RecordHTTPRequest(method, path, status string, duration time.Duration)

	// Routing Metrics
	RecordRoutingDecision(providerID string, stage string)

	// Provider Metrics
	RecordConnectionTest(providerID string, ok bool, duration time.Duration)
	RecordUpload(providerID string, encrypted bool, bytes int64, duration time.Duration, err error)
	RecordKeyGenerated(providerID string, algorithm string)

	// Export
	GetMetricsHandler() http.Handler
	Middleware() func(http.Handler) http.Handler
}

// metricsManager implements Manager with its own Prometheus registry
type metricsManager struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	routingDecisionsTotal *prometheus.CounterVec

	connectionTestsTotal   *prometheus.CounterVec
	connectionTestDuration *prometheus.HistogramVec

	uploadsTotal   *prometheus.CounterVec
	uploadBytes    *prometheus.CounterVec
	uploadDuration *prometheus.HistogramVec

	keysGeneratedTotal *prometheus.CounterVec
}

// NewManager creates a metrics manager; a disabled config yields a no-op manager
func NewManager(cfg config.MetricsConfig) Manager {
	if !cfg.Enable {
		return &noopManager{}
	}

	m := &metricsManager{registry: prometheus.NewRegistry()}
	m.initializeMetrics()
	return m
}

func (m *metricsManager) initializeMetrics() {
	m.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	m.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	m.routingDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "routing",
			Name:      "decisions_total",
			Help:      "Routing decisions by selected provider and selection stage",
		},
		[]string{"provider", "stage"},
	)

	m.connectionTestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "connection_tests_total",
			Help:      "Provider connection tests by outcome",
		},
		[]string{"provider", "status"},
	)

	m.connectionTestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "connection_test_duration_seconds",
			Help:      "Provider connection test latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	m.uploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "total",
			Help:      "Uploads dispatched to providers by outcome",
		},
		[]string{"provider", "encrypted", "status"},
	)

	m.uploadBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "bytes_total",
			Help:      "Plaintext bytes stored per provider",
		},
		[]string{"provider"},
	)

	m.uploadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "duration_seconds",
			Help:      "Upload dispatch duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~40s
		},
		[]string{"provider"},
	)

	m.keysGeneratedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "encryption",
			Name:      "keys_generated_total",
			Help:      "Encryption keys generated per provider",
		},
		[]string{"provider", "algorithm"},
	)

	m.registry.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.routingDecisionsTotal,
		m.connectionTestsTotal,
		m.connectionTestDuration,
		m.uploadsTotal,
		m.uploadBytes,
		m.uploadDuration,
		m.keysGeneratedTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

func statusLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func (m *metricsManager) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func (m *metricsManager) RecordRoutingDecision(providerID string, stage string) {
	m.routingDecisionsTotal.WithLabelValues(providerID, stage).Inc()
}

func (m *metricsManager) RecordConnectionTest(providerID string, ok bool, duration time.Duration) {
	m.connectionTestsTotal.WithLabelValues(providerID, statusLabel(ok)).Inc()
	m.connectionTestDuration.WithLabelValues(providerID).Observe(duration.Seconds())
}

func (m *metricsManager) RecordUpload(providerID string, encrypted bool, bytes int64, duration time.Duration, err error) {
	m.uploadsTotal.WithLabelValues(providerID, strconv.FormatBool(encrypted), statusLabel(err == nil)).Inc()
	m.uploadDuration.WithLabelValues(providerID).Observe(duration.Seconds())
	if err == nil && bytes > 0 {
		m.uploadBytes.WithLabelValues(providerID).Add(float64(bytes))
	}
}

func (m *metricsManager) RecordKeyGenerated(providerID string, algorithm string) {
	m.keysGeneratedTotal.WithLabelValues(providerID, algorithm).Inc()
}

func (m *metricsManager) GetMetricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency labelled by route template,
// so /api/admin/storage/{id} is one series regardless of the id
func (m *metricsManager) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriterWrapper{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(wrapped, r)

			m.RecordHTTPRequest(r.Method, routeTemplate(r), strconv.Itoa(wrapped.statusCode), time.Since(start))
		})
	}
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// noopManager is used when metrics are disabled
type noopManager struct{}

func (n *noopManager) RecordHTTPRequest(method, path, status string, duration time.Duration) {}

func (n *noopManager) RecordRoutingDecision(providerID string, stage string) {}

func (n *noopManager) RecordConnectionTest(providerID string, ok bool, duration time.Duration) {}

func (n *noopManager) RecordUpload(providerID string, encrypted bool, bytes int64, duration time.Duration, err error) {}

func (n *noopManager) RecordKeyGenerated(providerID string, algorithm string) {}

func (n *noopManager) GetMetricsHandler() http.Handler { return http.NotFoundHandler() }

func (n *noopManager) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler { return next }
}
