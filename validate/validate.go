// Package validate holds the Structured Validator and Field Auditor: the
// two checks the controller runs after every extraction attempt, and the
// coercions that keep their output well-typed regardless of what shape a
// transport actually returned.
package validate

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cast"

	"github.com/scireview/extractcore/document"
	"github.com/scireview/extractcore/evidence"
	"github.com/scireview/extractcore/flow"
	"github.com/scireview/extractcore/pipeline"
)

// auditConcurrency bounds how many per-field audit calls run at once. A
// schema's field count is usually small and transports are often
// rate-limited, so this stays modest rather than tracking the batch
// executor's worker count.
const auditConcurrency = 4

// Transport is the capability the validator and auditor need from an LLM
// provider: a chat call returning some near-shape response.
type Transport interface {
	Chat(ctx context.Context, prompt string) (any, error)
}

// Weights controls how accuracy_score and consistency_score combine into
// overall_score.
type Weights struct {
	Accuracy    float64
	Consistency float64
}

// DefaultWeights returns an even split between accuracy and consistency.
func DefaultWeights() Weights {
	return Weights{Accuracy: 0.5, Consistency: 0.5}
}

// Validator scores an extraction's (data, evidence) against the source
// chunks it was drawn from.
type Validator struct {
	transport Transport
	weights   Weights
}

// NewValidator builds a Validator. weights controls the overall_score
// combination; a zero value falls back to DefaultWeights.
func NewValidator(transport Transport, weights Weights) *Validator {
	if weights.Accuracy == 0 && weights.Consistency == 0 {
		weights = DefaultWeights()
	}
	return &Validator{transport: transport, weights: weights}
}

// publicData strips private "_…" keys and their paired "…_quote" companions
// before a transport sees the extraction, per the validator's input
// contract.
func publicData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		if strings.HasPrefix(k, "_") || strings.HasSuffix(k, "_quote") {
			continue
		}
		out[k] = v
	}
	return out
}

func buildValidatorPrompt(chunks []document.Chunk, data map[string]any, ev []evidence.EvidenceItem, theme string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Score this extraction for theme %q against the source text.\n", theme)
	sb.WriteString("Source:\n")
	for _, c := range chunks {
		sb.WriteString(c.Text)
		sb.WriteString("\n")
	}
	sb.WriteString("Extracted data:\n")
	for k, v := range publicData(data) {
		fmt.Fprintf(&sb, "%s = %v\n", k, v)
	}
	sb.WriteString("Evidence quotes:\n")
	for _, e := range ev {
		fmt.Fprintf(&sb, "%s: %q\n", e.FieldName, e.ExactQuote)
	}
	return sb.String()
}

// Validate scores an extraction. Any transport error is reported through
// the CheckerResult itself (accuracy/consistency 0, a validator_error
// issue) rather than returned, matching the controller's "failed iteration,
// not a crash" handling.
func (v *Validator) Validate(ctx context.Context, chunks []document.Chunk, data map[string]any, ev []evidence.EvidenceItem, theme string) pipeline.CheckerResult {
	raw, err := v.transport.Chat(ctx, buildValidatorPrompt(chunks, data, ev, theme))
	if err != nil {
		return pipeline.CheckerResult{
			Issues: []pipeline.Issue{
				{IssueType: "validator_error", Severity: pipeline.SeverityHigh, Detail: err.Error()},
			},
		}
	}
	return coerceCheckerResult(raw, v.weights)
}

// RevisionPrompt formats the suggestions from a CheckerResult into a prompt
// fragment the controller appends before re-invoking the extractor.
func (v *Validator) RevisionPrompt(cr pipeline.CheckerResult) string {
	if len(cr.Suggestions) == 0 {
		return ""
	}
	return "Address the following before re-extracting: " + strings.Join(cr.Suggestions, "; ")
}

func coerceCheckerResult(raw any, w Weights) pipeline.CheckerResult {
	m, ok := raw.(map[string]any)
	if !ok {
		return pipeline.CheckerResult{
			Issues: []pipeline.Issue{{IssueType: "schema_parse", Severity: pipeline.SeverityHigh, Detail: fmt.Sprintf("unsupported validator response shape %T", raw)}},
		}
	}

	accuracy := evidence.ClampUnit(cast.ToFloat64(m["accuracy_score"]))
	consistency := evidence.ClampUnit(cast.ToFloat64(m["consistency_score"]))
	overall := evidence.ClampUnit(accuracy*w.Accuracy + consistency*w.Consistency)

	return pipeline.CheckerResult{
		AccuracyScore:    accuracy,
		ConsistencyScore: consistency,
		OverallScore:     overall,
		Issues:           coerceIssues(m["issues"]),
		Suggestions:      coerceStrings(m["suggestions"]),
	}
}

func coerceIssues(raw any) []pipeline.Issue {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	issues := make([]pipeline.Issue, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			issues = append(issues, pipeline.Issue{IssueType: "unknown", Severity: pipeline.SeverityLow, Detail: cast.ToString(item)})
			continue
		}
		issues = append(issues, pipeline.Issue{
			Field:        cast.ToString(m["field"]),
			IssueType:    cast.ToString(m["issue_type"]),
			Severity:     coerceSeverity(m["severity"]),
			Detail:       cast.ToString(m["detail"]),
			SuggestedFix: cast.ToString(m["suggested_fix"]),
		})
	}
	return issues
}

func coerceSeverity(raw any) pipeline.Severity {
	switch strings.ToLower(cast.ToString(raw)) {
	case "high":
		return pipeline.SeverityHigh
	case "medium":
		return pipeline.SeverityMedium
	default:
		return pipeline.SeverityLow
	}
}

// coerceStrings turns a "dict-shaped suggestion" list into plain strings:
// every element is stringified, never silently dropped.
func coerceStrings(raw any) []string {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			parts := make([]string, 0, len(m))
			for k, v := range m {
				parts = append(parts, fmt.Sprintf("%s: %v", k, v))
			}
			out = append(out, strings.Join(parts, ", "))
			continue
		}
		out = append(out, cast.ToString(item))
	}
	return out
}

// AuditVerdict is one field's adversarial check result.
type AuditVerdict struct {
	Field       string
	IsCorrect   bool
	Confidence  float64
	Explanation string
	Severity    pipeline.Severity
}

// Auditor performs a per-field adversarial check: given the extracted value
// and its evidence quote, does the source actually support it.
type Auditor struct {
	transport Transport
	penalty   float64
	fanout    *flow.Batch[auditInput, []AuditVerdict, auditField, AuditVerdict]
}

// auditInput is what the Batch fan-out segments: the extraction's data and
// the quote each field's evidence item carries.
type auditInput struct {
	data   map[string]any
	quotes map[string]string
}

// auditField is one segment: a single non-null field awaiting its check.
type auditField struct {
	field string
	value any
	quote string
}

// NewAuditor builds an Auditor. penalty is the additive overall_score
// deduction applied per high-severity audit failure. Per-field checks fan
// out through a flow.Batch bounded by auditConcurrency, since each field's
// check is independent of every other field's.
func NewAuditor(transport Transport, penalty float64) *Auditor {
	a := &Auditor{transport: transport, penalty: penalty}

	fanout, err := flow.NewBatch(&flow.BatchConfig[auditInput, []AuditVerdict, auditField, AuditVerdict]{
		Node: flow.Processor[auditField, AuditVerdict](a.checkField),
		Segmenter: func(_ context.Context, in auditInput) ([]auditField, error) {
			fields := make([]auditField, 0, len(in.data))
			for field, value := range in.data {
				if value == nil {
					continue
				}
				fields = append(fields, auditField{field: field, value: value, quote: in.quotes[field]})
			}
			return fields, nil
		},
		Aggregator: func(_ context.Context, verdicts []AuditVerdict) ([]AuditVerdict, error) {
			return verdicts, nil
		},
		ConcurrencyLimit: auditConcurrency,
		ContinueOnError:  true,
	})
	if err != nil {
		// Only reachable if Node/Segmenter/Aggregator were nil, which they
		// never are above; kept as a panic rather than silently degrading
		// to a sequential loop an operator wouldn't notice.
		panic(err)
	}
	a.fanout = fanout
	return a
}

func buildAuditPrompt(field string, value any, quote string) string {
	return fmt.Sprintf("Does the quote %q actually support the value %v for field %q? Answer is_correct, confidence, explanation, severity.", quote, value, field)
}

// checkField runs one field's adversarial check. A transport error becomes
// an in-band high-severity verdict rather than a Go error, so the fan-out
// never aborts partway through a document over one field's transport hiccup.
func (a *Auditor) checkField(ctx context.Context, f auditField) (AuditVerdict, error) {
	raw, err := a.transport.Chat(ctx, buildAuditPrompt(f.field, f.value, f.quote))
	if err != nil {
		return AuditVerdict{Field: f.field, Severity: pipeline.SeverityHigh, Explanation: err.Error()}, nil
	}
	return coerceAuditVerdict(f.field, raw), nil
}

// Audit checks every non-null field in data, returning a verdict per field
// checked (fields with a null value are skipped, matching the contract that
// only extracted fields are audited).
func (a *Auditor) Audit(ctx context.Context, data map[string]any, ev []evidence.EvidenceItem) []AuditVerdict {
	quotes := make(map[string]string, len(ev))
	for _, e := range ev {
		quotes[e.FieldName] = e.ExactQuote
	}
	verdicts, err := a.fanout.Run(ctx, auditInput{data: data, quotes: quotes})
	if err != nil {
		return nil
	}
	return verdicts
}

func coerceAuditVerdict(field string, raw any) AuditVerdict {
	m, ok := raw.(map[string]any)
	if !ok {
		return AuditVerdict{Field: field, Severity: pipeline.SeverityHigh, Explanation: fmt.Sprintf("unsupported audit response shape %T", raw)}
	}
	return AuditVerdict{
		Field:       field,
		IsCorrect:   cast.ToBool(m["is_correct"]),
		Confidence:  evidence.ClampUnit(cast.ToFloat64(m["confidence"])),
		Explanation: cast.ToString(m["explanation"]),
		Severity:    coerceSeverity(m["severity"]),
	}
}

// ApplyPenalty folds audit verdicts into a CheckerResult: every high-severity
// failure (is_correct false, severity high) demotes overall_score by the
// configured penalty, clamped to [0,1], and appends an issue for the field.
func (a *Auditor) ApplyPenalty(cr pipeline.CheckerResult, verdicts []AuditVerdict) pipeline.CheckerResult {
	for _, v := range verdicts {
		if v.IsCorrect || v.Severity != pipeline.SeverityHigh {
			continue
		}
		cr.OverallScore = evidence.ClampUnit(cr.OverallScore - a.penalty)
		cr.Issues = append(cr.Issues, pipeline.Issue{
			Field:     v.Field,
			IssueType: "audit_failure",
			Severity:  pipeline.SeverityHigh,
			Detail:    v.Explanation,
		})
	}
	return cr
}
