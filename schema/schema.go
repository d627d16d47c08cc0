// Package schema declares the user-supplied target shape for extraction: an
// ordered set of field specifications plus the closed enums that drive
// routing (extraction policy) and quantification (aggregation unit).
package schema

// DataType is the semantic datatype of a field's value.
type DataType string

const (
	DataTypeScalar            DataType = "scalar"
	DataTypeEnumeratedFinding DataType = "enumerated_finding"
	DataTypeMeasurement       DataType = "measurement"
	DataTypeCount             DataType = "count"
)

// ExtractionPolicy is a closed enum driving how a field may be extracted.
// It routes via a total match; there is no open-ended subclassing.
type ExtractionPolicy string

const (
	PolicyMetadata       ExtractionPolicy = "metadata"
	PolicyCanBeInferred  ExtractionPolicy = "can_be_inferred"
	PolicyMustBeExplicit ExtractionPolicy = "must_be_explicit"
	PolicyDerived        ExtractionPolicy = "derived"
	PolicyHumanReview    ExtractionPolicy = "human_review"
)

// AggregationUnit scopes an enumerated finding's n/N quantification.
// Supplemented from the original source's enum of clinical units.
type AggregationUnit string

const (
	AggregationPatient      AggregationUnit = "patient"
	AggregationLesion       AggregationUnit = "lesion"
	AggregationSpecimen     AggregationUnit = "specimen"
	AggregationBiopsy       AggregationUnit = "biopsy"
	AggregationImagingSeries AggregationUnit = "imaging_series"
)

// Priority is a tri-level used by the revision loop's recall-boost step to
// decide whether a still-null field is worth naming even when its policy
// isn't must_be_explicit.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// NumericBounds optionally constrains a scalar/measurement/count field.
type NumericBounds struct {
	Min *float64
	Max *float64
}

// FieldSpec declares one field of a Schema.
type FieldSpec struct {
	Key                  string
	DataType             DataType
	Policy               ExtractionPolicy
	Priority             Priority
	AggregationUnit      AggregationUnit
	SourceNarrativeHint  string
	HighConfidenceKeywords []string
	RequiresEvidenceQuote bool
	Bounds               *NumericBounds
	// RegexPatterns are attempted, in order, by the Tier 0 extractor.
	RegexPatterns []string
}

// Schema is an ordered, hashable set of field specifications.
type Schema struct {
	Fields  []FieldSpec
	Version string
}

// Keys returns the schema's field keys in declaration order.
func (s *Schema) Keys() []string {
	keys := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		keys[i] = f.Key
	}
	return keys
}

// Field looks up a FieldSpec by key.
func (s *Schema) Field(key string) (FieldSpec, bool) {
	for _, f := range s.Fields {
		if f.Key == key {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// MustBeExplicitKeys returns the keys of every field whose policy is
// must_be_explicit, used by the revision loop's recall-boost step.
func (s *Schema) MustBeExplicitKeys() []string {
	var keys []string
	for _, f := range s.Fields {
		if f.Policy == PolicyMustBeExplicit {
			keys = append(keys, f.Key)
		}
	}
	return keys
}

// RecallBoostKeys returns keys eligible for the recall-boost instruction:
// every must_be_explicit field, every high-priority field regardless of its
// policy, plus can_be_inferred fields when includeInferred is set (spec
// Open Question b). A field can match more than one rule; it still appears
// only once, in declaration order.
func (s *Schema) RecallBoostKeys(includeInferred bool) []string {
	var keys []string
	seen := make(map[string]bool, len(s.Fields))
	add := func(key string) {
		if seen[key] {
			return
		}
		seen[key] = true
		keys = append(keys, key)
	}
	for _, f := range s.Fields {
		switch f.Policy {
		case PolicyMustBeExplicit:
			add(f.Key)
		case PolicyCanBeInferred:
			if includeInferred {
				add(f.Key)
			}
		}
		if f.Priority == PriorityHigh {
			add(f.Key)
		}
	}
	return keys
}
