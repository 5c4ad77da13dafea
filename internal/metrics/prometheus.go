// Package metrics provides Prometheus metrics for the log inspector.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight prometheus.Gauge
	responseSize     *prometheus.HistogramVec

	recordsIngested  *prometheus.CounterVec
	ingestFailures   *prometheus.CounterVec
	queryDuration    *prometheus.HistogramVec
	idempotentReplay prometheus.Counter
	provisioning     *prometheus.CounterVec
	healthStatus     prometheus.Gauge
}

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

var latencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// NewMetrics creates and registers Prometheus metrics. Collectors are
// registered once per process; later calls return the same instance.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			requestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "loginspector_http_requests_total",
					Help: "Total number of HTTP requests",
				},
				[]string{"method", "path", "status"},
			),
			requestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "loginspector_http_request_duration_seconds",
					Help:    "HTTP request duration in seconds",
					Buckets: latencyBuckets,
				},
				[]string{"method", "path", "status"},
			),
			requestsInFlight: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "loginspector_http_requests_in_flight",
					Help: "Number of HTTP requests currently being processed",
				},
			),
			responseSize: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "loginspector_http_response_size_bytes",
					Help:    "HTTP response size in bytes",
					Buckets: []float64{100, 500, 1000, 5000, 10000, 50000, 100000},
				},
				[]string{"method", "path"},
			),
			recordsIngested: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "loginspector_records_ingested_total",
					Help: "Total number of log records written, by level",
				},
				[]string{"level"},
			),
			ingestFailures: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "loginspector_ingest_failures_total",
					Help: "Total number of rejected or failed log reports",
				},
				[]string{"level", "code"},
			),
			queryDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "loginspector_query_duration_seconds",
					Help:    "Duration of record and inspector queries",
					Buckets: latencyBuckets,
				},
				[]string{"operation", "status"},
			),
			idempotentReplay: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "loginspector_idempotent_replays_total",
					Help: "Total number of reports acknowledged from the idempotency store",
				},
			),
			provisioning: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "loginspector_index_provisioning_total",
					Help: "Index provisioning attempts by collection and outcome",
				},
				[]string{"collection", "result"},
			),
			healthStatus: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "loginspector_health_status",
					Help: "Health status of the backend (1 = healthy, 0 = unhealthy)",
				},
			),
		}
	})

	return globalMetrics
}

// RecordHTTPRequest records metrics for an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	status := strconv.Itoa(statusCode)
	m.requestsTotal.WithLabelValues(method, path, status).Inc()
	m.requestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordResponseSize records the response size.
func (m *Metrics) RecordResponseSize(method, path string, size int) {
	m.responseSize.WithLabelValues(method, path).Observe(float64(size))
}

// IncRequestsInFlight increments the in-flight requests counter.
func (m *Metrics) IncRequestsInFlight() {
	m.requestsInFlight.Inc()
}

// DecRequestsInFlight decrements the in-flight requests counter.
func (m *Metrics) DecRequestsInFlight() {
	m.requestsInFlight.Dec()
}

// RecordIngest counts a written record.
func (m *Metrics) RecordIngest(level string) {
	m.recordsIngested.WithLabelValues(level).Inc()
}

// RecordIngestFailure counts a report that was not written.
func (m *Metrics) RecordIngestFailure(level, code string) {
	m.ingestFailures.WithLabelValues(level, code).Inc()
}

// RecordQuery records the duration of a query operation.
func (m *Metrics) RecordQuery(operation string, err error, duration time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.queryDuration.WithLabelValues(operation, status).Observe(duration.Seconds())
}

// RecordIdempotentReplay counts a replayed acknowledgment.
func (m *Metrics) RecordIdempotentReplay() {
	m.idempotentReplay.Inc()
}

// RecordProvisioning records an index provisioning outcome.
func (m *Metrics) RecordProvisioning(collection string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.provisioning.WithLabelValues(collection, result).Inc()
}

// SetHealthStatus sets the health status.
func (m *Metrics) SetHealthStatus(healthy bool) {
	if healthy {
		m.healthStatus.Set(1)
	} else {
		m.healthStatus.Set(0)
	}
}

// MetricsServer provides a separate HTTP server for Prometheus metrics.
type MetricsServer struct {
	server *http.Server
	logger *zap.Logger
}

// NewMetricsServer creates a new metrics server.
func NewMetricsServer(port int, path string, logger *zap.Logger) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	return &MetricsServer{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Start starts the metrics server. It blocks until the server stops.
func (ms *MetricsServer) Start() error {
	ms.logger.Info("starting metrics server", zap.String("addr", ms.server.Addr))
	if err := ms.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the metrics server.
func (ms *MetricsServer) Shutdown(ctx context.Context) error {
	return ms.server.Shutdown(ctx)
}
