// Package pipeline holds the result types produced by one document's
// staged extraction: the validator/auditor's CheckerResult and the
// controller's overall PipelineResult.
package pipeline

import (
	"time"

	"github.com/scireview/extractcore/evidence"
)

// Severity classifies a validator/auditor issue.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Issue is one validator/auditor finding against an extraction.
type Issue struct {
	Field          string
	IssueType      string
	Severity       Severity
	Detail         string
	SuggestedFix   string
}

// CheckerResult is the combined output of the Structured Validator and
// Field Auditor for one iteration.
type CheckerResult struct {
	AccuracyScore    float64
	ConsistencyScore float64
	OverallScore     float64
	Passed           bool
	Issues           []Issue
	Suggestions      []string
}

// IterationSummary records one revision-loop iteration's audit outcome.
type IterationSummary struct {
	Iteration    int
	OverallScore float64
	Suggestions  []string
}

// Result is the controller's final output for one document: the
// extraction, its checker verdict, and bookkeeping.
type Result struct {
	Filename            string
	Data                map[string]any
	Evidence            []evidence.EvidenceItem
	ExtractionMetadata  map[string]any
	CheckerResult       CheckerResult
	IterationCount      int
	IterationHistory    []IterationSummary
	RelevantChunksCount int
	Timestamp           time.Time
}
