// Package filter implements the Content Filter: dropping boilerplate
// chunks and near-duplicates, and stripping lone page numbers, watermark
// lines, and numeric citation brackets, before relevance classification
// sees them. Repeated journal headers/footers are not detected: a header
// line that recurs across chunks is kept unless it is a lone page number or
// a watermark token.
package filter

import (
	"regexp"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

var defaultEncoding *tiktoken.Tiktoken

func init() {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err == nil {
		defaultEncoding = enc
	}
}

// Stats summarizes one filtering pass.
type Stats struct {
	Original          int
	Filtered          int
	Removed           int
	EstimatedTokensSaved int
}

// Chunk is the minimal shape the filter needs; it mirrors document.Chunk's
// fields without importing the document package, keeping filter reusable
// against anything chunk-shaped.
type Chunk struct {
	Text       string
	Section    string
	ChunkIndex int
}

var watermarkTokens = []string{"DRAFT", "CONFIDENTIAL"}

var lonePageNumber = regexp.MustCompile(`^\s*\d{1,4}\s*$`)

var citationBracket = regexp.MustCompile(`\[\d+(?:\s*,\s*\d+)*\]`)

var blankLineRun = regexp.MustCompile(`\n{3,}`)

// Filter holds configuration for one filtering pass.
type Filter struct {
	BoilerplateSections []string
	SimilarityThreshold float64
}

// New builds a Filter with the given boilerplate section set and
// near-duplicate Jaccard threshold.
func New(boilerplateSections []string, similarityThreshold float64) *Filter {
	sections := make(map[string]struct{}, len(boilerplateSections))
	for _, s := range boilerplateSections {
		sections[strings.ToLower(s)] = struct{}{}
	}
	return &Filter{
		BoilerplateSections: boilerplateSections,
		SimilarityThreshold: similarityThreshold,
	}
}

// Apply filters chunks and returns the surviving set plus statistics. Apply
// is idempotent: filtering an already-filtered slice returns it unchanged.
func (f *Filter) Apply(chunks []Chunk) ([]Chunk, Stats) {
	boilerplate := make(map[string]struct{}, len(f.BoilerplateSections))
	for _, s := range f.BoilerplateSections {
		boilerplate[strings.ToLower(s)] = struct{}{}
	}

	var kept []Chunk
	var keptTokenSets []map[string]struct{}

	originalTokens := 0
	keptTokens := 0

	for _, c := range chunks {
		originalTokens += countTokens(c.Text)

		if _, drop := boilerplate[strings.ToLower(c.Section)]; drop {
			continue
		}

		cleaned := stripHeaderNoise(c.Text)
		if strings.TrimSpace(cleaned) == "" {
			continue
		}

		tokens := tokenize(cleaned)
		if isNearDuplicate(tokens, keptTokenSets, f.SimilarityThreshold) {
			continue
		}

		keptTokenSets = append(keptTokenSets, tokens)
		kept = append(kept, Chunk{Text: cleaned, Section: c.Section, ChunkIndex: c.ChunkIndex})
		keptTokens += countTokens(cleaned)
	}

	stats := Stats{
		Original:             len(chunks),
		Filtered:             len(kept),
		Removed:              len(chunks) - len(kept),
		EstimatedTokensSaved: originalTokens - keptTokens,
	}
	return kept, stats
}

// stripHeaderNoise removes lone page numbers, watermark tokens, citation
// brackets, and collapses runs of more than two blank lines.
func stripHeaderNoise(text string) string {
	lines := strings.Split(text, "\n")
	var kept []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if lonePageNumber.MatchString(trimmed) {
			continue
		}
		if isWatermarkOnly(trimmed) {
			continue
		}
		kept = append(kept, line)
	}
	joined := strings.Join(kept, "\n")
	joined = citationBracket.ReplaceAllString(joined, "")
	joined = blankLineRun.ReplaceAllString(joined, "\n\n")
	return joined
}

func isWatermarkOnly(line string) bool {
	upper := strings.ToUpper(line)
	for _, w := range watermarkTokens {
		if upper == w {
			return true
		}
	}
	return false
}

// tokenize lowercases and splits on runs of anything other than ASCII
// letters and digits, for Jaccard comparison; it only needs to detect
// near-duplication.
func tokenize(text string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// jaccard computes |a∩b| / |a∪b|.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	intersection := 0
	for t := range a {
		if _, ok := b[t]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// isNearDuplicate reports whether tokens is at or above threshold Jaccard
// similarity to any already-kept chunk's token set, preserving first
// occurrence (strict >= drops, so an exact threshold match is dropped).
func isNearDuplicate(tokens map[string]struct{}, kept []map[string]struct{}, threshold float64) bool {
	for _, k := range kept {
		if jaccard(tokens, k) >= threshold {
			return true
		}
	}
	return false
}

// countTokens estimates a token count for cost/savings accounting. Falls
// back to a word-count heuristic if the encoder failed to initialize.
func countTokens(text string) int {
	if defaultEncoding == nil {
		return len(strings.Fields(text))
	}
	return len(defaultEncoding.Encode(text, nil, nil))
}
