// cascade.go drives the per-field escalation across the LLM tiers: for
// each field not already accepted, attempt the next tier until one accepts
// or the terminal tier is reached.
package tiered

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/scireview/extractcore/evidence"
	"github.com/scireview/extractcore/metrics"
	"github.com/scireview/extractcore/schema"
)

// retryBackoff is the base delay between retry attempts for a single
// tier call; attempt n waits (n+1) * retryBackoff before retrying.
const retryBackoff = 200 * time.Millisecond

// FieldConfidence combines an LLM's self-reported confidence (when
// available) with calibration heuristics: a penalty for "not reported"
// text, a bonus for evidence-quote presence and length.
func FieldConfidence(selfReported float64, value string, quote string) float64 {
	score := selfReported
	lower := strings.ToLower(strings.TrimSpace(value))
	if lower == "" || lower == "not reported" || lower == "n/a" {
		score -= 0.3
	}
	if quote != "" {
		score += 0.05
		if len(quote) > 40 {
			score += 0.05
		}
	}
	return evidence.ClampUnit(score)
}

// fieldOutput is what a single tier call returns for one field.
type fieldOutput struct {
	Value      string
	Quote      string
	Confidence float64
}

// tierCaller abstracts "ask this tier about these still-open fields."
type tierCaller func(ctx context.Context, tier Tier, context string, fields []schema.FieldSpec, theme string, deadline time.Time) (map[string]fieldOutput, *Usage, error)

// Cascade escalates unaccepted fields through the LLM tiers.
type Cascade struct {
	call       tierCaller
	thresholds func(field string) [5]float64
	deadline   time.Duration

	// Metrics receives per-tier token/cost usage. Nil is valid; Extract
	// nil-checks before recording, matching Controller/Executor's optional
	// dependency pattern.
	Metrics metrics.Recorder
}

func (c *Cascade) recorder() metrics.Recorder {
	if c.Metrics == nil {
		return metrics.Noop{}
	}
	return c.Metrics
}

// NewCascade builds a Cascade. local and cloud provide the two Transport
// streams; thresholds supplies the per-field-tier acceptance table.
func NewCascade(local, cloud Transport, thresholds func(field string) [5]float64, deadline time.Duration) *Cascade {
	c := &Cascade{thresholds: thresholds, deadline: deadline}
	c.call = func(ctx context.Context, tier Tier, contextText string, fields []schema.FieldSpec, theme string, dl time.Time) (map[string]fieldOutput, *Usage, error) {
		transport := local
		if tier.IsCloud() {
			transport = cloud
		}
		if transport == nil {
			return nil, nil, fmt.Errorf("no transport configured for tier %s", tier)
		}
		raw, usage, err := transport.Chat(ctx, tier.String(), buildMessages(contextText, fields, theme), SchemaFor(map[string]fieldOutput{}), dl)
		if err != nil {
			return nil, usage, err
		}
		out, err := coerceFieldOutputs(raw)
		return out, usage, err
	}
	return c
}

func buildMessages(contextText string, fields []schema.FieldSpec, theme string) []Message {
	keys := make([]string, len(fields))
	for i, f := range fields {
		keys[i] = f.Key
	}
	return []Message{
		{Role: "system", Content: fmt.Sprintf("Extract the following fields related to %q: %s", theme, strings.Join(keys, ", "))},
		{Role: "user", Content: contextText},
	}
}

func coerceFieldOutputs(raw any) (map[string]fieldOutput, error) {
	m, ok := raw.(map[string]fieldOutput)
	if ok {
		return m, nil
	}
	generic, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unsupported tier response shape %T", raw)
	}
	result := make(map[string]fieldOutput, len(generic))
	for k, v := range generic {
		entry, ok := v.(map[string]any)
		if !ok {
			continue
		}
		result[k] = fieldOutput{
			Value:      fmt.Sprint(entry["value"]),
			Quote:      fmt.Sprint(entry["quote"]),
			Confidence: toFloat(entry["confidence"]),
		}
	}
	return result, nil
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	default:
		return 0
	}
}

// Extract escalates every schema field not already present (non-nil) in
// preFilled through the LLM tiers, returning an Extraction that covers
// every schema key. preFilled values are carried forward and never
// overwritten with null. A tier call that errors is retried up to
// maxRetries times with backoff before the cascade gives up on that tier
// and escalates to the next one (spec.md §7); maxRetries <= 0 means a
// single attempt, no retry.
func (c *Cascade) Extract(ctx context.Context, contextText string, s *schema.Schema, preFilled map[string]any, theme string, maxRetries int) (*evidence.Extraction, error) {
	ext := evidence.NewExtraction(s)
	for k, v := range preFilled {
		if v != nil {
			ext.Data[k] = v
			ext.SetTierUsed(k, TierRegex.String())
		}
	}

	pending := make([]schema.FieldSpec, 0, len(s.Fields))
	for _, f := range s.Fields {
		if ext.Data[f.Key] == nil {
			pending = append(pending, f)
		}
	}

	for tier := TierLocalLight; tier < tierCount && len(pending) > 0; tier++ {
		deadline := time.Now().Add(c.deadline)
		outputs, err := c.callWithRetry(ctx, tier, contextText, pending, theme, deadline, maxRetries)
		if err != nil {
			// Every retry for this tier failed; escalate to the next tier
			// rather than aborting the whole cascade.
			continue
		}

		var stillPending []schema.FieldSpec
		for _, f := range pending {
			out, ok := outputs[f.Key]
			if !ok {
				stillPending = append(stillPending, f)
				continue
			}
			confidence := FieldConfidence(out.Confidence, out.Value, out.Quote)
			threshold := c.thresholds(f.Key)[tier]
			if confidence >= threshold {
				ext.Data[f.Key] = out.Value
				ext.SetTierUsed(f.Key, tier.String())
				ext.Evidence = append(ext.Evidence, evidence.NewEvidenceItem(f.Key, out.Value, out.Quote, confidence))
			} else {
				stillPending = append(stillPending, f)
			}
		}
		pending = stillPending
	}

	for _, f := range pending {
		ext.SetTierUsed(f.Key, "manual_review")
	}
	return ext, nil
}

// callWithRetry calls one tier up to maxRetries+1 times, waiting
// (attempt+1)*retryBackoff between attempts, and reports every attempt's
// usage (successful or not; a failed call can still have consumed tokens)
// before returning the first successful response or the last error.
func (c *Cascade) callWithRetry(ctx context.Context, tier Tier, contextText string, fields []schema.FieldSpec, theme string, deadline time.Time, maxRetries int) (map[string]fieldOutput, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		outputs, usage, err := c.call(ctx, tier, contextText, fields, theme, deadline)
		if usage != nil {
			c.recorder().RecordLLMUsage(tier.String(), usage.PromptTokens, usage.CompletionTokens, usage.CostUSD)
		}
		if err == nil {
			return outputs, nil
		}
		lastErr = err
		if attempt < maxRetries {
			if waitErr := waitBackoff(ctx, attempt); waitErr != nil {
				return nil, waitErr
			}
		}
	}
	return nil, lastErr
}

// waitBackoff pauses for the attempt's backoff interval, returning early
// with ctx's error if ctx is canceled or expires first.
func waitBackoff(ctx context.Context, attempt int) error {
	timer := time.NewTimer(time.Duration(attempt+1) * retryBackoff)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
