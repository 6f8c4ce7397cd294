package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
)

// PrometheusMetrics provides metrics collection for the batch runner and API
type PrometheusMetrics struct {
	// Scheduler metrics
	workersActive prometheus.Gauge
	queueDepth    prometheus.Gauge

	// Measurement metrics
	testsTotal   *prometheus.CounterVec
	testDuration prometheus.Histogram

	// Ingest metrics
	ingestFailures prometheus.Counter

	// HTTP metrics
	httpRequests *prometheus.CounterVec

	logger      *zap.Logger
	httpHandler func(*fasthttp.RequestCtx)
}

// NewPrometheusMetrics creates a Prometheus-based metrics collector
func NewPrometheusMetrics(namespace string, logger *zap.Logger) *PrometheusMetrics {
	return NewPrometheusMetricsWithRegistry(namespace, prometheus.DefaultRegisterer, logger)
}

// NewPrometheusMetricsWithRegistry creates a collector against a custom registry
func NewPrometheusMetricsWithRegistry(namespace string, registerer prometheus.Registerer, logger *zap.Logger) *PrometheusMetrics {
	pm := &PrometheusMetrics{
		logger: logger,
	}

	pm.workersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "batch",
		Name:      "workers_active",
		Help:      "Number of workers currently driving a browser session",
	})

	pm.queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "batch",
		Name:      "queue_depth",
		Help:      "Number of URL jobs not yet dispatched",
	})

	pm.testsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "batch",
		Name:      "tests_total",
		Help:      "Total URL measurements by final status",
	}, []string{"status"}) // status: PASSED, FAILED, TIMEOUT, ERROR

	pm.testDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "batch",
		Name:      "test_duration_seconds",
		Help:      "Wall-clock time per URL measurement",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 9), // 0.5s to ~128s
	})

	pm.ingestFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "batch",
		Name:      "ingest_failures_total",
		Help:      "Measurements that could not be persisted",
	})

	pm.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by endpoint and status",
	}, []string{"endpoint", "status"})

	registerer.MustRegister(
		pm.workersActive,
		pm.queueDepth,
		pm.testsTotal,
		pm.testDuration,
		pm.ingestFailures,
		pm.httpRequests,
	)

	gatherer, ok := registerer.(prometheus.Gatherer)
	if !ok {
		gatherer = prometheus.DefaultGatherer
	}
	pm.httpHandler = fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	logger.Info("Prometheus metrics initialized")
	return pm
}

// SetWorkersActive updates the active worker gauge
func (pm *PrometheusMetrics) SetWorkersActive(n float64) {
	pm.workersActive.Set(n)
}

// SetQueueDepth updates the pending job gauge
func (pm *PrometheusMetrics) SetQueueDepth(n float64) {
	pm.queueDepth.Set(n)
}

// RecordTest records one finished measurement
func (pm *PrometheusMetrics) RecordTest(status string) {
	pm.testsTotal.WithLabelValues(status).Inc()
}

// RecordTestDuration records a measurement duration
func (pm *PrometheusMetrics) RecordTestDuration(seconds float64) {
	pm.testDuration.Observe(seconds)
}

// RecordIngestFailure records a persistence failure
func (pm *PrometheusMetrics) RecordIngestFailure() {
	pm.ingestFailures.Inc()
}

// RecordHTTPRequest records an API request
func (pm *PrometheusMetrics) RecordHTTPRequest(endpoint, status string) {
	pm.httpRequests.WithLabelValues(endpoint, status).Inc()
}

// ServeHTTP serves Prometheus metrics via HTTP
func (pm *PrometheusMetrics) ServeHTTP(ctx *fasthttp.RequestCtx) {
	pm.httpHandler(ctx)
}
