// Package metrics exposes the engine's observability surface as Prometheus
// collectors: per-document pass/fail counts with the final overall score and
// iteration count, Content Filter stats, tier used per field, cache hits and
// misses, failure kind, circuit-breaker state, worker count, and LLM
// token/cost counters, following the prefixed-metric convention used across
// the corpus this engine was grown from. It records no document fingerprint
// (the filename passed to RecordDocument is not used as a label), no
// per-iteration scores, no relevance-classifier stats, and no timings.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/scireview/extractcore/errkind"
)

const metricsPrefix = "extractcore_"

// Recorder is the metrics capability the controller and batch executor
// depend on. Implementations are swappable: Prometheus for production, Noop
// for tests and CLIs that don't want a registry dependency.
type Recorder interface {
	RecordDocument(filename string, iterationCount int, overallScore float64, passed bool)
	RecordFilterStats(original, filtered, removed, tokensSaved int)
	RecordTierUsed(field, tier string)
	RecordCacheAccess(namespace string, hit bool)
	RecordFailure(kind errkind.Kind)
	RecordCircuitBreakerState(open bool)
	RecordWorkers(n int)
	RecordLLMUsage(tier string, promptTokens, completionTokens int, costUSD float64)
}

// Prometheus is the production Recorder: every method updates one or more
// registered collectors.
type Prometheus struct {
	documentsTotal      *prometheus.CounterVec
	overallScore        prometheus.Histogram
	iterationCount      prometheus.Histogram
	filterOriginal      prometheus.Counter
	filterRemoved       prometheus.Counter
	filterTokensSaved   prometheus.Counter
	tierUsedTotal       *prometheus.CounterVec
	cacheAccessTotal    *prometheus.CounterVec
	failuresTotal       *prometheus.CounterVec
	circuitBreakerState prometheus.Gauge
	workersGauge        prometheus.Gauge
	llmTokensTotal      *prometheus.CounterVec
	llmCostTotal        *prometheus.CounterVec
}

// NewPrometheus builds a Prometheus Recorder and registers every collector
// with registerer. A nil registerer registers against the default registry.
func NewPrometheus(registerer prometheus.Registerer) (*Prometheus, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	p := &Prometheus{
		documentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricsPrefix + "documents_total",
			Help: "Total number of documents processed, by pass/fail verdict.",
		}, []string{"status"}),
		overallScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    metricsPrefix + "overall_score",
			Help:    "Distribution of PipelineResult overall_score.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		iterationCount: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    metricsPrefix + "iteration_count",
			Help:    "Distribution of revision-loop iteration counts per document.",
			Buckets: []float64{1, 2, 3, 4, 5},
		}),
		filterOriginal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricsPrefix + "filter_chunks_original_total",
			Help: "Total chunks seen by the Content Filter before any drop.",
		}),
		filterRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricsPrefix + "filter_chunks_removed_total",
			Help: "Total chunks dropped by the Content Filter.",
		}),
		filterTokensSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricsPrefix + "filter_tokens_saved_total",
			Help: "Estimated tokens saved by the Content Filter.",
		}),
		tierUsedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricsPrefix + "tier_used_total",
			Help: "Total fields accepted, by field and tier.",
		}, []string{"field", "tier"}),
		cacheAccessTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricsPrefix + "cache_access_total",
			Help: "Total cache accesses, by namespace and hit/miss.",
		}, []string{"namespace", "result"}),
		failuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricsPrefix + "failures_total",
			Help: "Total document failures, by failure kind.",
		}, []string{"kind"}),
		circuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricsPrefix + "circuit_breaker_open",
			Help: "1 if the batch circuit breaker is open, 0 otherwise.",
		}),
		workersGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricsPrefix + "workers",
			Help: "Current worker count recommended by the Resource Monitor.",
		}),
		llmTokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricsPrefix + "llm_tokens_total",
			Help: "Total prompt/completion tokens consumed, by tier and kind.",
		}, []string{"tier", "kind"}),
		llmCostTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricsPrefix + "llm_cost_usd_total",
			Help: "Total estimated USD cost, by tier.",
		}, []string{"tier"}),
	}

	collectors := []prometheus.Collector{
		p.documentsTotal, p.overallScore, p.iterationCount,
		p.filterOriginal, p.filterRemoved, p.filterTokensSaved,
		p.tierUsedTotal, p.cacheAccessTotal, p.failuresTotal,
		p.circuitBreakerState, p.workersGauge, p.llmTokensTotal, p.llmCostTotal,
	}
	for _, c := range collectors {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Prometheus) RecordDocument(_ string, iterationCount int, overallScore float64, passed bool) {
	status := "failed"
	if passed {
		status = "passed"
	}
	p.documentsTotal.WithLabelValues(status).Inc()
	p.overallScore.Observe(overallScore)
	p.iterationCount.Observe(float64(iterationCount))
}

func (p *Prometheus) RecordFilterStats(original, _, removed, tokensSaved int) {
	p.filterOriginal.Add(float64(original))
	p.filterRemoved.Add(float64(removed))
	p.filterTokensSaved.Add(float64(tokensSaved))
}

func (p *Prometheus) RecordTierUsed(field, tier string) {
	p.tierUsedTotal.WithLabelValues(field, tier).Inc()
}

func (p *Prometheus) RecordCacheAccess(namespace string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	p.cacheAccessTotal.WithLabelValues(namespace, result).Inc()
}

func (p *Prometheus) RecordFailure(kind errkind.Kind) {
	p.failuresTotal.WithLabelValues(string(kind)).Inc()
}

func (p *Prometheus) RecordCircuitBreakerState(open bool) {
	if open {
		p.circuitBreakerState.Set(1)
	} else {
		p.circuitBreakerState.Set(0)
	}
}

func (p *Prometheus) RecordWorkers(n int) {
	p.workersGauge.Set(float64(n))
}

func (p *Prometheus) RecordLLMUsage(tier string, promptTokens, completionTokens int, costUSD float64) {
	p.llmTokensTotal.WithLabelValues(tier, "prompt").Add(float64(promptTokens))
	p.llmTokensTotal.WithLabelValues(tier, "completion").Add(float64(completionTokens))
	p.llmCostTotal.WithLabelValues(tier).Add(costUSD)
}

// Noop discards every recorded metric. Useful for tests and CLI invocations
// that don't want a Prometheus registry dependency.
type Noop struct{}

func (Noop) RecordDocument(string, int, float64, bool)      {}
func (Noop) RecordFilterStats(int, int, int, int)           {}
func (Noop) RecordTierUsed(string, string)                  {}
func (Noop) RecordCacheAccess(string, bool)                 {}
func (Noop) RecordFailure(errkind.Kind)                     {}
func (Noop) RecordCircuitBreakerState(bool)                 {}
func (Noop) RecordWorkers(int)                               {}
func (Noop) RecordLLMUsage(string, int, int, float64)       {}

var (
	_ Recorder = (*Prometheus)(nil)
	_ Recorder = Noop{}
)
