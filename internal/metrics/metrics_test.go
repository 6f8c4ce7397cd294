package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/projectpumpkin/pumpkin/pkg/types"
)

func gatherFamilies(t *testing.T, registry *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)

	out := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		out[f.GetName()] = f
	}
	return out
}

func TestPrometheusMetricsRecording(t *testing.T) {
	registry := prometheus.NewRegistry()
	pm := NewPrometheusMetricsWithRegistry("pumpkin", registry, zap.NewNop())

	pm.SetWorkersActive(3)
	pm.SetQueueDepth(7)
	pm.RecordTest(string(types.TestStatusPassed))
	pm.RecordTest(string(types.TestStatusPassed))
	pm.RecordTest(string(types.TestStatusTimeout))
	pm.RecordTestDuration(1.5)
	pm.RecordIngestFailure()
	pm.RecordHTTPRequest("/api/runs", "200")

	families := gatherFamilies(t, registry)

	workers := families["pumpkin_batch_workers_active"]
	require.NotNil(t, workers)
	assert.Equal(t, 3.0, workers.GetMetric()[0].GetGauge().GetValue())

	queue := families["pumpkin_batch_queue_depth"]
	require.NotNil(t, queue)
	assert.Equal(t, 7.0, queue.GetMetric()[0].GetGauge().GetValue())

	tests := families["pumpkin_batch_tests_total"]
	require.NotNil(t, tests)
	byStatus := map[string]float64{}
	for _, m := range tests.GetMetric() {
		for _, l := range m.GetLabel() {
			if l.GetName() == "status" {
				byStatus[l.GetValue()] = m.GetCounter().GetValue()
			}
		}
	}
	assert.Equal(t, 2.0, byStatus["PASSED"])
	assert.Equal(t, 1.0, byStatus["TIMEOUT"])

	duration := families["pumpkin_batch_test_duration_seconds"]
	require.NotNil(t, duration)
	assert.Equal(t, uint64(1), duration.GetMetric()[0].GetHistogram().GetSampleCount())

	failures := families["pumpkin_batch_ingest_failures_total"]
	require.NotNil(t, failures)
	assert.Equal(t, 1.0, failures.GetMetric()[0].GetCounter().GetValue())

	http := families["pumpkin_api_http_requests_total"]
	require.NotNil(t, http)
	assert.Equal(t, 1.0, http.GetMetric()[0].GetCounter().GetValue())
}

func TestNilCollectorRecordsNothing(t *testing.T) {
	var mc *Collector

	// Every recording method must be safe on a nil collector
	mc.SetWorkersActive(1)
	mc.SetQueueDepth(2)
	mc.RecordTest(types.TestStatusPassed, 0.5)
	mc.RecordIngestFailure()
	mc.RecordHTTPRequest("/health", "200")
}
