// regex.go implements Tier 0: well-patterned field extraction via
// lookaround-capable regular expressions, calibrated to a confidence in
// [0,1].
package tiered

import (
	"strings"

	"github.com/dlclark/regexp2"

	"github.com/scireview/extractcore/schema"
)

// RegexMatch is one Tier 0 acceptance candidate for a field.
type RegexMatch struct {
	Field      string
	Value      string
	Confidence float64
}

// RegexExtractor runs each field's declared patterns against context text.
type RegexExtractor struct {
	// compiled caches regexp2 programs per pattern so repeated extractions
	// against many documents don't recompile the same schema's patterns.
	compiled map[string]*regexp2.Regexp
}

// NewRegexExtractor creates an extractor with an empty pattern cache.
func NewRegexExtractor() *RegexExtractor {
	return &RegexExtractor{compiled: map[string]*regexp2.Regexp{}}
}

func (r *RegexExtractor) compile(pattern string) (*regexp2.Regexp, error) {
	if re, ok := r.compiled[pattern]; ok {
		return re, nil
	}
	re, err := regexp2.Compile(pattern, regexp2.IgnoreCase)
	if err != nil {
		return nil, err
	}
	r.compiled[pattern] = re
	return re, nil
}

// Extract runs every field's regex patterns against context, in schema
// order, returning the first pattern match per field with a calibrated
// confidence. A field with no patterns, or whose patterns all miss,
// produces no entry.
func (r *RegexExtractor) Extract(context string, s *schema.Schema) ([]RegexMatch, error) {
	var matches []RegexMatch
	for _, field := range s.Fields {
		match, ok, err := r.extractField(context, field)
		if err != nil {
			return nil, err
		}
		if ok {
			matches = append(matches, match)
		}
	}
	return matches, nil
}

func (r *RegexExtractor) extractField(context string, field schema.FieldSpec) (RegexMatch, bool, error) {
	for _, pattern := range field.RegexPatterns {
		re, err := r.compile(pattern)
		if err != nil {
			return RegexMatch{}, false, err
		}
		m, err := re.FindStringMatch(context)
		if err != nil {
			return RegexMatch{}, false, err
		}
		if m == nil {
			continue
		}
		value := m.String()
		if groups := m.Groups(); len(groups) > 1 {
			value = groups[1].String()
		}
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		return RegexMatch{
			Field:      field.Key,
			Value:      value,
			Confidence: calibrate(value, field),
		}, true, nil
	}
	return RegexMatch{}, false, nil
}

// calibrate scores a raw regex match. A tight, plausible, non-placeholder
// value gets a high score; very short or suspiciously generic values are
// penalized.
func calibrate(value string, field schema.FieldSpec) float64 {
	score := 0.9
	lower := strings.ToLower(value)
	if lower == "n/a" || lower == "unknown" || lower == "none" {
		return 0.1
	}
	if len(value) < 2 {
		score -= 0.2
	}
	for _, kw := range field.HighConfidenceKeywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			score += 0.05
		}
	}
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}
