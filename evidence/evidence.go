// Package evidence holds the extracted-value types returned by the tiered
// cascade: evidence-grounded field values, the tri-state Finding sum type,
// and the model-boundary coercions that keep both well-formed regardless of
// what shape an LLM transport actually returned.
package evidence

import (
	"fmt"

	"github.com/spf13/cast"

	"github.com/scireview/extractcore/schema"
)

// Status is a tri-state answer for an enumerated finding.
type Status string

const (
	StatusPresent     Status = "present"
	StatusAbsent      Status = "absent"
	StatusNotReported Status = "not_reported"
	StatusUnclear     Status = "unclear"
)

// Finding is the sealed variant behind DataTypeEnumeratedFinding: a tri-state
// status optionally quantified by n/N and scoped by aggregation unit. The
// n <= N invariant is enforced at construction, not left to callers.
type Finding struct {
	Status          Status
	N               *int
	NTotal          *int
	AggregationUnit schema.AggregationUnit
}

// NewFinding constructs a Finding, rejecting n > N.
func NewFinding(status Status, n, nTotal *int, unit schema.AggregationUnit) (Finding, error) {
	if n != nil && nTotal != nil && *n > *nTotal {
		return Finding{}, fmt.Errorf("finding n (%d) exceeds N (%d)", *n, *nTotal)
	}
	return Finding{Status: status, N: n, NTotal: nTotal, AggregationUnit: unit}, nil
}

// EvidenceItem grounds one extracted field value in source text.
type EvidenceItem struct {
	FieldName     string
	ExtractedValue any
	ExactQuote    string
	PageNumber    *int
	ChunkIndex    *int
	StartChar     *int
	EndChar       *int
	Confidence    float64
}

// NewEvidenceItem builds an EvidenceItem, applying the model-boundary
// coercions the spec requires: exact_quote is always a string even if the
// transport returned null, a number, or something else entirely, and
// confidence is clamped to [0,1].
func NewEvidenceItem(field string, value any, rawQuote any, confidence float64) EvidenceItem {
	return EvidenceItem{
		FieldName:      field,
		ExtractedValue: value,
		ExactQuote:     CoerceQuote(rawQuote),
		Confidence:     ClampUnit(confidence),
	}
}

// CoerceQuote turns any transport-returned shape into a string, per the
// required model-parsing contract: null becomes "", numbers are
// stringified, and anything else falls back to cast's best effort.
func CoerceQuote(raw any) string {
	if raw == nil {
		return ""
	}
	return cast.ToString(raw)
}

// ClampUnit bounds a score to [0,1]; NaN or unparsable input coerces to 0.
func ClampUnit(v float64) float64 {
	if v != v { // NaN
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Extraction is the tiered cascade's output for one document: a value per
// schema key (schema.Schema.Keys()), the evidence backing each non-null
// value, and free-form metadata (e.g. tier_used per field).
type Extraction struct {
	Data     map[string]any
	Evidence []EvidenceItem
	Metadata map[string]any
}

// NewExtraction returns an Extraction pre-populated with a null entry for
// every schema key, satisfying the invariant that data keys are exactly the
// schema's keys even before any tier has run.
func NewExtraction(s *schema.Schema) *Extraction {
	data := make(map[string]any, len(s.Fields))
	for _, k := range s.Keys() {
		data[k] = nil
	}
	return &Extraction{
		Data:     data,
		Metadata: map[string]any{"tier_used": map[string]string{}},
	}
}

// SetTierUsed records which tier accepted a field's value.
func (e *Extraction) SetTierUsed(field, tier string) {
	m, _ := e.Metadata["tier_used"].(map[string]string)
	if m == nil {
		m = map[string]string{}
	}
	m[field] = tier
	e.Metadata["tier_used"] = m
}

// TierUsed returns which tier accepted a field's value, if recorded.
func (e *Extraction) TierUsed(field string) (string, bool) {
	m, _ := e.Metadata["tier_used"].(map[string]string)
	tier, ok := m[field]
	return tier, ok
}
