// Package config holds the configuration surface shared by every component
// of the extraction engine. Loading configuration from files, flags, or
// environment variables is explicitly out of scope; callers construct a
// Config and pass it in.
package config

import "time"

// Config is the single configuration surface enumerated in the engine's
// external interfaces: thresholds, iteration bounds, worker counts, and
// store locations.
type Config struct {
	// ScoreThreshold is the overall_score a PipelineResult must clear to be
	// considered passed.
	ScoreThreshold float64

	// MaxIterations bounds the revision loop.
	MaxIterations int

	// Workers is the requested (not necessarily granted) worker count for
	// the batch executor; the Resource Monitor may recommend fewer.
	Workers int

	// ConfidenceThresholdMid is the minimum calibrated confidence a Tier 0
	// regex match needs to be accepted outright.
	ConfidenceThresholdMid float64

	// TierThresholds maps a field key to its per-tier minimum acceptance
	// confidence. Index 0 is the regex tier, 4 is cloud-premium.
	TierThresholds map[string][5]float64

	// MaxContextChars bounds the concatenated relevant-chunk context passed
	// to the extractor.
	MaxContextChars int

	// FilterSimilarityThreshold is the near-duplicate token-Jaccard cutoff;
	// chunks at or above this value (relative to an earlier kept chunk) are
	// dropped.
	FilterSimilarityThreshold float64

	// BoilerplateSections names chunk sections dropped outright by the
	// Content Filter. Extendable by the caller (spec Open Question c).
	BoilerplateSections []string

	// CircuitBreakerThreshold is the number of consecutive document
	// failures that trips the batch circuit breaker.
	CircuitBreakerThreshold int

	// ResourceRAMThrottleGB and ResourceRAMCeilingGB gate the Resource
	// Monitor's {normal, throttle, critical} verdicts.
	ResourceRAMThrottleGB float64
	ResourceRAMCeilingGB  float64

	// CachePath, StatePath, ReviewPath are sqlite database paths. They may
	// all point at the same file; tables are namespaced independently.
	CachePath  string
	StatePath  string
	ReviewPath string

	// TransportDeadline bounds a single LLM call (classifier, extractor,
	// validator, auditor).
	TransportDeadline time.Duration

	// MaxLLMRetries bounds retry attempts on a transport/timeout failure:
	// 3 for the synchronous path, 2 for the cooperative-async path.
	MaxLLMRetriesSync  int
	MaxLLMRetriesAsync int

	// AuditPenalty is the additive overall_score penalty applied per
	// high-severity audit failure (spec Open Question a).
	AuditPenalty float64

	// RecallBoostIncludesInferred controls whether fields with policy
	// can_be_inferred are named in the revision loop's recall-boost
	// instruction (spec Open Question b). Default false.
	RecallBoostIncludesInferred bool
}

// Default returns a Config populated with the spec's stated defaults.
func Default() *Config {
	return &Config{
		ScoreThreshold:            0.8,
		MaxIterations:             3,
		Workers:                   1,
		ConfidenceThresholdMid:    0.5,
		TierThresholds:            map[string][5]float64{},
		MaxContextChars:           24000,
		FilterSimilarityThreshold: 0.90,
		BoilerplateSections: []string{
			"references", "acknowledgements", "funding", "conflicts", "author contributions",
		},
		CircuitBreakerThreshold: 3,
		ResourceRAMThrottleGB:   4,
		ResourceRAMCeilingGB:    8,
		TransportDeadline:       30 * time.Second,
		MaxLLMRetriesSync:       3,
		MaxLLMRetriesAsync:      2,
		AuditPenalty:            0.15,
	}
}

// ThresholdsFor returns the per-tier threshold row for a field, falling
// back to a flat ConfidenceThresholdMid-derived row when the schema didn't
// declare one.
func (c *Config) ThresholdsFor(field string) [5]float64 {
	if row, ok := c.TierThresholds[field]; ok {
		return row
	}
	return [5]float64{c.ConfidenceThresholdMid, 0.7, 0.8, 0.85, 0.9}
}
