// Package classify implements the Relevance Classifier: per-chunk
// relevance judgments against a theme and schema field names, tolerant of
// the "simple list" shape some LLM transports return instead of structured
// records.
package classify

import (
	"context"
	"fmt"

	"github.com/spf13/cast"
)

// Verdict is one chunk's relevance judgment.
type Verdict struct {
	Index    int
	Relevant bool
	Reason   string
}

// Summary aggregates verdicts across a classification pass.
type Summary struct {
	Verdicts            []Verdict
	AvgConfidence        float64
	RelevantChunksCount  int
}

// Transport is the capability classify needs from an LLM: a single call
// returning some parsed shape (a []Verdict, a simple []int/[]bool list, or
// a near-shape that Coerce can normalize) plus a self-reported confidence.
type Transport interface {
	Classify(ctx context.Context, theme string, fieldNames []string, chunkPreviews []string) (raw any, confidence float64, err error)
}

// Classifier runs the Relevance Classifier over a batch of chunk previews.
type Classifier struct {
	transport    Transport
	previewChars int
}

// New builds a Classifier with a bounded per-chunk preview length.
func New(transport Transport, previewChars int) *Classifier {
	if previewChars <= 0 {
		previewChars = 500
	}
	return &Classifier{transport: transport, previewChars: previewChars}
}

// Classify judges relevance for the given chunk texts. On transport error,
// callers are expected to warn and treat every chunk as relevant (spec
// edge case); Classify itself only reports the error so the controller can
// apply that policy.
func (c *Classifier) Classify(ctx context.Context, theme string, fieldNames []string, chunkTexts []string) (Summary, error) {
	previews := make([]string, len(chunkTexts))
	for i, t := range chunkTexts {
		previews[i] = preview(t, c.previewChars)
	}

	raw, confidence, err := c.transport.Classify(ctx, theme, fieldNames, previews)
	if err != nil {
		return Summary{}, fmt.Errorf("classify chunks: %w", err)
	}

	verdicts, err := Coerce(raw)
	if err != nil {
		return Summary{}, fmt.Errorf("coerce classifier output: %w", err)
	}

	relevant := 0
	for _, v := range verdicts {
		if v.Relevant {
			relevant++
		}
	}
	return Summary{
		Verdicts:            verdicts,
		AvgConfidence:       confidence,
		RelevantChunksCount: relevant,
	}, nil
}

func preview(text string, maxChars int) string {
	if len(text) <= maxChars {
		return text
	}
	return text[:maxChars]
}

// Coerce normalizes the classifier's near-shapes into []Verdict. A simple
// list of 0/1 (or true/false) values is coerced into records with an
// inferred reason; a list of already-structured maps/records passes
// through with field coercion; anything else is an error.
func Coerce(raw any) ([]Verdict, error) {
	switch v := raw.(type) {
	case []Verdict:
		return v, nil
	case []any:
		return coerceList(v)
	case []int:
		items := make([]any, len(v))
		for i, x := range v {
			items[i] = x
		}
		return coerceList(items)
	case []bool:
		items := make([]any, len(v))
		for i, x := range v {
			items[i] = x
		}
		return coerceList(items)
	default:
		return nil, fmt.Errorf("unsupported classifier output shape %T", raw)
	}
}

func coerceList(items []any) ([]Verdict, error) {
	verdicts := make([]Verdict, 0, len(items))
	for i, item := range items {
		switch t := item.(type) {
		case map[string]any:
			verdicts = append(verdicts, Verdict{
				Index:    coerceIndex(t, i),
				Relevant: cast.ToBool(t["relevant"]),
				Reason:   cast.ToString(t["reason"]),
			})
		default:
			verdicts = append(verdicts, Verdict{
				Index:    i,
				Relevant: cast.ToBool(t),
				Reason:   "inferred",
			})
		}
	}
	return verdicts, nil
}

func coerceIndex(m map[string]any, fallback int) int {
	if raw, ok := m["index"]; ok {
		return cast.ToInt(raw)
	}
	return fallback
}
