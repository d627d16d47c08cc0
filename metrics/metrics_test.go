package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scireview/extractcore/errkind"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func newTestPrometheus(t *testing.T) *Prometheus {
	t.Helper()
	p, err := NewPrometheus(prometheus.NewRegistry())
	require.NoError(t, err)
	return p
}

func TestNewPrometheusRegistersEveryCollector(t *testing.T) {
	registry := prometheus.NewRegistry()
	p, err := NewPrometheus(registry)
	require.NoError(t, err)
	require.NotNil(t, p)

	families, err := registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNewPrometheusDuplicateRegistrationFails(t *testing.T) {
	registry := prometheus.NewRegistry()
	_, err := NewPrometheus(registry)
	require.NoError(t, err)

	_, err = NewPrometheus(registry)
	assert.Error(t, err)
}

func TestRecordDocumentUpdatesStatusAndScoreHistograms(t *testing.T) {
	p := newTestPrometheus(t)
	p.RecordDocument("paper.pdf", 2, 0.91, true)
	p.RecordDocument("other.pdf", 1, 0.40, false)

	assert.Equal(t, float64(1), counterValue(t, p.documentsTotal.WithLabelValues("passed")))
	assert.Equal(t, float64(1), counterValue(t, p.documentsTotal.WithLabelValues("failed")))
}

func TestRecordFilterStatsAccumulates(t *testing.T) {
	p := newTestPrometheus(t)
	p.RecordFilterStats(10, 6, 4, 120)
	p.RecordFilterStats(5, 5, 0, 0)

	assert.Equal(t, float64(15), counterValue(t, p.filterOriginal))
	assert.Equal(t, float64(4), counterValue(t, p.filterRemoved))
	assert.Equal(t, float64(120), counterValue(t, p.filterTokensSaved))
}

func TestRecordTierUsedLabelsByFieldAndTier(t *testing.T) {
	p := newTestPrometheus(t)
	p.RecordTierUsed("doi", "regex")
	p.RecordTierUsed("doi", "regex")
	p.RecordTierUsed("sample_size", "cloud_cheap")

	assert.Equal(t, float64(2), counterValue(t, p.tierUsedTotal.WithLabelValues("doi", "regex")))
	assert.Equal(t, float64(1), counterValue(t, p.tierUsedTotal.WithLabelValues("sample_size", "cloud_cheap")))
}

func TestRecordCacheAccessSplitsHitAndMiss(t *testing.T) {
	p := newTestPrometheus(t)
	p.RecordCacheAccess("pipeline_result", true)
	p.RecordCacheAccess("pipeline_result", false)
	p.RecordCacheAccess("pipeline_result", false)

	assert.Equal(t, float64(1), counterValue(t, p.cacheAccessTotal.WithLabelValues("pipeline_result", "hit")))
	assert.Equal(t, float64(2), counterValue(t, p.cacheAccessTotal.WithLabelValues("pipeline_result", "miss")))
}

func TestRecordFailureLabelsByKind(t *testing.T) {
	p := newTestPrometheus(t)
	p.RecordFailure(errkind.EmptyContext)
	p.RecordFailure(errkind.EmptyContext)
	p.RecordFailure(errkind.BatchCircuitOpen)

	assert.Equal(t, float64(2), counterValue(t, p.failuresTotal.WithLabelValues(string(errkind.EmptyContext))))
	assert.Equal(t, float64(1), counterValue(t, p.failuresTotal.WithLabelValues(string(errkind.BatchCircuitOpen))))
}

func TestRecordCircuitBreakerStateTogglesGauge(t *testing.T) {
	p := newTestPrometheus(t)
	p.RecordCircuitBreakerState(true)
	assert.Equal(t, float64(1), gaugeValue(t, p.circuitBreakerState))

	p.RecordCircuitBreakerState(false)
	assert.Equal(t, float64(0), gaugeValue(t, p.circuitBreakerState))
}

func TestRecordWorkersSetsGauge(t *testing.T) {
	p := newTestPrometheus(t)
	p.RecordWorkers(4)
	assert.Equal(t, float64(4), gaugeValue(t, p.workersGauge))
}

func TestRecordLLMUsageAccumulatesTokensAndCost(t *testing.T) {
	p := newTestPrometheus(t)
	p.RecordLLMUsage("cloud_cheap", 100, 40, 0.002)
	p.RecordLLMUsage("cloud_cheap", 50, 10, 0.001)

	assert.Equal(t, float64(150), counterValue(t, p.llmTokensTotal.WithLabelValues("cloud_cheap", "prompt")))
	assert.Equal(t, float64(50), counterValue(t, p.llmTokensTotal.WithLabelValues("cloud_cheap", "completion")))
	assert.InDelta(t, 0.003, counterValue(t, p.llmCostTotal.WithLabelValues("cloud_cheap")), 1e-9)
}

func TestNoopSatisfiesRecorderWithoutPanicking(t *testing.T) {
	var r Recorder = Noop{}
	r.RecordDocument("paper.pdf", 1, 0.9, true)
	r.RecordFilterStats(1, 1, 0, 0)
	r.RecordTierUsed("doi", "regex")
	r.RecordCacheAccess("pipeline_result", true)
	r.RecordFailure(errkind.Unknown)
	r.RecordCircuitBreakerState(true)
	r.RecordWorkers(2)
	r.RecordLLMUsage("local_light", 1, 1, 0)
}
