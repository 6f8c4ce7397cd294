// Package metrics centralizes Prometheus metrics for the batch runner and
// the API server. A nil *Collector is valid and records nothing, so callers
// never need to branch on whether metrics are enabled.
package metrics

import (
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/projectpumpkin/pumpkin/pkg/types"
)

// Collector is the recording facade used by the scheduler and API.
type Collector struct {
	prometheus *PrometheusMetrics
	logger     *zap.Logger
}

// NewCollector creates a Collector registered against the default registry.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return &Collector{
		prometheus: NewPrometheusMetrics(namespace, logger),
		logger:     logger,
	}
}

// SetWorkersActive updates the active worker gauge.
func (mc *Collector) SetWorkersActive(n int) {
	if mc == nil {
		return
	}
	mc.prometheus.SetWorkersActive(float64(n))
}

// SetQueueDepth updates the pending job gauge.
func (mc *Collector) SetQueueDepth(n int) {
	if mc == nil {
		return
	}
	mc.prometheus.SetQueueDepth(float64(n))
}

// RecordTest records one finished measurement with its duration.
func (mc *Collector) RecordTest(status types.TestStatus, durationSeconds float64) {
	if mc == nil {
		return
	}
	mc.prometheus.RecordTest(string(status))
	mc.prometheus.RecordTestDuration(durationSeconds)
}

// RecordIngestFailure records a measurement that could not be persisted.
func (mc *Collector) RecordIngestFailure() {
	if mc == nil {
		return
	}
	mc.prometheus.RecordIngestFailure()
}

// RecordHTTPRequest records an API request outcome.
func (mc *Collector) RecordHTTPRequest(endpoint, status string) {
	if mc == nil {
		return
	}
	mc.prometheus.RecordHTTPRequest(endpoint, status)
}

// ServeHTTP serves the Prometheus exposition endpoint.
func (mc *Collector) ServeHTTP(ctx *fasthttp.RequestCtx) {
	if mc == nil {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return
	}
	mc.prometheus.ServeHTTP(ctx)
}
