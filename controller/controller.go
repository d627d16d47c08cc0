// Package controller implements the staged extraction controller: the
// sequence that takes one parsed document and a target schema through
// filtering, relevance classification, tiered extraction, validation,
// auditing, and a bounded revision loop, producing a PipelineResult.
package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/scireview/extractcore/cache"
	"github.com/scireview/extractcore/classify"
	"github.com/scireview/extractcore/config"
	"github.com/scireview/extractcore/document"
	"github.com/scireview/extractcore/errkind"
	"github.com/scireview/extractcore/evidence"
	"github.com/scireview/extractcore/filter"
	"github.com/scireview/extractcore/fingerprint"
	"github.com/scireview/extractcore/flow"
	"github.com/scireview/extractcore/metrics"
	"github.com/scireview/extractcore/pipeline"
	"github.com/scireview/extractcore/review"
	"github.com/scireview/extractcore/schema"
	"github.com/scireview/extractcore/tiered"
	"github.com/scireview/extractcore/validate"
)

// Controller wires every stage component together. Each dependency is a
// capability, substitutable in tests; the Controller owns no globals.
type Controller struct {
	Cache      *cache.Store
	Review     *review.Queue
	Filter     *filter.Filter
	Classifier *classify.Classifier
	Regex      *tiered.RegexExtractor
	Cascade    *tiered.Cascade
	Validator  *validate.Validator
	Auditor    *validate.Auditor
	Config     *config.Config

	// Metrics receives per-document observability events. Nil is valid:
	// every call site nil-checks before recording.
	Metrics metrics.Recorder
}

func (c *Controller) recorder() metrics.Recorder {
	if c.Metrics == nil {
		return metrics.Noop{}
	}
	return c.Metrics
}

// revisionState threads through the bounded revision loop: each iteration
// takes the previous iteration's accepted data/evidence/score and produces
// the next.
type revisionState struct {
	ext       *evidence.Extraction
	checker   pipeline.CheckerResult
	history   []pipeline.IterationSummary
	iteration int
}

// stageState is what flows through the first-pass staged pipeline: filter,
// classify, build context, tier 0, cascade, validate+audit. Each stage reads
// some fields and sets others; the sequence is genuinely linear (no early
// return except a fatal error), which is what makes it a fit for flow.Flow
// instead of the hand-threaded revision loop below.
type stageState struct {
	doc            *document.Document
	schema         *schema.Schema
	theme          string
	kept           []filter.Chunk
	relevant       []filter.Chunk
	contextText    string
	preFilled      map[string]any
	documentChunks []document.Chunk
	ext            *evidence.Extraction
	checker        pipeline.CheckerResult
	maxRetries     int
}

// stage adapts a *stageState mutator into the flow.Node[any, any] shape
// Flow requires, asserting the type back on the way in and out.
func (c *Controller) stage(fn func(context.Context, *stageState) error) flow.Processor[any, any] {
	return func(ctx context.Context, input any) (any, error) {
		st := input.(*stageState)
		if err := fn(ctx, st); err != nil {
			return nil, err
		}
		return st, nil
	}
}

func (c *Controller) buildStagedFlow() (*flow.Flow, error) {
	return flow.NewFlow(
		c.stage(c.filterStage),
		c.stage(c.classifyStage),
		c.stage(c.contextStage),
		c.stage(c.tier0Stage),
		c.stage(c.cascadeStage),
		c.stage(c.validateAuditStage),
	)
}

func (c *Controller) filterStage(_ context.Context, st *stageState) error {
	filterChunks := make([]filter.Chunk, len(st.doc.Chunks))
	for i, ch := range st.doc.Chunks {
		filterChunks[i] = filter.Chunk{Text: ch.Text, Section: ch.Section, ChunkIndex: ch.ChunkIndex}
	}
	kept, filterStats := c.Filter.Apply(filterChunks)
	c.recorder().RecordFilterStats(filterStats.Original, filterStats.Filtered, filterStats.Removed, filterStats.EstimatedTokensSaved)
	st.kept = kept
	st.relevant = kept
	return nil
}

func (c *Controller) classifyStage(ctx context.Context, st *stageState) error {
	if c.Classifier == nil || len(st.kept) == 0 {
		return nil
	}
	texts := make([]string, len(st.kept))
	for i, ch := range st.kept {
		texts[i] = ch.Text
	}
	summary, err := c.Classifier.Classify(ctx, st.theme, st.schema.Keys(), texts)
	if err != nil {
		// Classifier failure: warn and fall through with every kept chunk
		// treated as relevant.
		slog.Warn("relevance classifier failed; treating all kept chunks as relevant",
			"document", st.doc.Filename, "error", err)
		return nil
	}
	st.relevant = relevantChunks(st.kept, summary)
	return nil
}

func (c *Controller) contextStage(_ context.Context, st *stageState) error {
	contextText, err := buildContext(st.relevant, c.Config.MaxContextChars)
	if err != nil {
		c.recorder().RecordFailure(errkind.EmptyContext)
		return err
	}
	st.contextText = contextText
	return nil
}

func (c *Controller) tier0Stage(_ context.Context, st *stageState) error {
	st.preFilled = c.runTier0(st.contextText, st.schema)
	return nil
}

func (c *Controller) cascadeStage(ctx context.Context, st *stageState) error {
	ext, err := c.Cascade.Extract(ctx, st.contextText, st.schema, st.preFilled, st.theme, st.maxRetries)
	if err != nil {
		return fmt.Errorf("tiered extraction: %w", err)
	}
	st.ext = ext
	st.documentChunks = toDocumentChunks(st.relevant)
	return nil
}

func (c *Controller) validateAuditStage(ctx context.Context, st *stageState) error {
	st.checker = c.validateAndAudit(ctx, st.documentChunks, st.ext, st.theme)
	return nil
}

// Extract runs the full staged pipeline for one document against one
// schema, synchronously. A validator or classifier failure is not returned
// as an error; it is folded into the returned PipelineResult per the
// failure-handling contract. Errors are returned when there is no
// meaningful PipelineResult to emit: a fatal empty_context condition, or a
// failure of the tiered cascade (in the first pass or in a revision
// iteration). See ExtractAsync for the cooperative variant sharing these
// same steps.
func (c *Controller) Extract(ctx context.Context, doc *document.Document, s *schema.Schema, theme string) (pipeline.Result, error) {
	return c.extract(ctx, doc, s, theme, c.Config.MaxLLMRetriesSync)
}

func (c *Controller) extract(ctx context.Context, doc *document.Document, s *schema.Schema, theme string, maxRetries int) (pipeline.Result, error) {
	fullText := doc.FullText()
	fp := fingerprint.Of(fullText, s.Version)
	cacheKey := fp.String()

	if c.Cache != nil {
		entry, hit, err := c.Cache.Get(ctx, cache.NamespacePipelineResult, cacheKey)
		if err == nil && hit {
			var cached pipeline.Result
			if err := json.Unmarshal(entry.Value, &cached); err == nil {
				c.recorder().RecordCacheAccess(string(cache.NamespacePipelineResult), true)
				return cached, nil
			}
		}
		c.recorder().RecordCacheAccess(string(cache.NamespacePipelineResult), false)
	}

	c.Cascade.Metrics = c.Metrics

	staged, err := c.buildStagedFlow()
	if err != nil {
		return pipeline.Result{}, err
	}
	out, err := staged.Run(ctx, &stageState{doc: doc, schema: s, theme: theme, maxRetries: maxRetries})
	if err != nil {
		return pipeline.Result{}, err
	}
	st := out.(*stageState)

	state := revisionState{ext: st.ext, checker: st.checker, iteration: 0}
	state, err = c.runRevisionLoop(ctx, state, st.documentChunks, s, st.preFilled, theme, maxRetries)
	if err != nil {
		return pipeline.Result{}, err
	}

	state.checker.Passed = state.checker.OverallScore >= c.Config.ScoreThreshold

	c.enqueueManualReviews(ctx, doc.Filename, state.ext)
	c.recordFieldTiers(state.ext)
	c.recorder().RecordDocument(doc.Filename, state.iteration+1, state.checker.OverallScore, state.checker.Passed)

	result := pipeline.Result{
		Filename:            doc.Filename,
		Data:                state.ext.Data,
		Evidence:            state.ext.Evidence,
		ExtractionMetadata:  state.ext.Metadata,
		CheckerResult:       state.checker,
		IterationCount:      state.iteration + 1,
		IterationHistory:    state.history,
		RelevantChunksCount: len(st.relevant),
		Timestamp:           time.Now(),
	}

	c.writeCache(ctx, cacheKey, fp, result)
	return result, nil
}

// ExtractResult is what ExtractAsync delivers on its channel: exactly one
// of Result or Err is meaningful, matching Extract's own (Result, error)
// contract.
type ExtractResult struct {
	Result pipeline.Result
	Err    error
}

// ExtractAsync runs the same staged pipeline as Extract on a background
// goroutine and returns a receive-only channel carrying its single result.
// It is the cooperative-async variant spec.md's caller-facing contract
// names alongside the synchronous Extract: both run identical steps, the
// only differences are where the caller blocks and the retry budget
// (Config.MaxLLMRetriesAsync instead of MaxLLMRetriesSync, since an async
// caller is expected to retry the whole call rather than wait out a deep
// per-tier backoff). Canceling ctx stops the goroutine the same way it
// would stop a direct Extract call; the channel still receives exactly one
// ExtractResult (ctx.Err() wrapped) so callers can always range over it
// without a separate done channel.
func (c *Controller) ExtractAsync(ctx context.Context, doc *document.Document, s *schema.Schema, theme string) <-chan ExtractResult {
	out := make(chan ExtractResult, 1)
	go func() {
		defer close(out)
		result, err := c.extract(ctx, doc, s, theme, c.Config.MaxLLMRetriesAsync)
		out <- ExtractResult{Result: result, Err: err}
	}()
	return out
}

func relevantChunks(kept []filter.Chunk, summary classify.Summary) []filter.Chunk {
	relevantIdx := make(map[int]bool, len(summary.Verdicts))
	for _, v := range summary.Verdicts {
		if v.Relevant {
			relevantIdx[v.Index] = true
		}
	}
	var out []filter.Chunk
	for i, ch := range kept {
		if relevantIdx[i] {
			out = append(out, ch)
		}
	}
	return out
}

// buildContext concatenates chunk text in order, stopping before the chunk
// that would push the total past maxChars. An empty result is fatal.
func buildContext(chunks []filter.Chunk, maxChars int) (string, error) {
	var b strings.Builder
	for _, ch := range chunks {
		addition := ch.Text
		if b.Len() > 0 {
			addition = "\n" + addition
		}
		if maxChars > 0 && b.Len()+len(addition) > maxChars {
			break
		}
		b.WriteString(addition)
	}
	if b.Len() == 0 {
		return "", errkind.New(errkind.EmptyContext, "no relevant chunks survived filter and classification")
	}
	return b.String(), nil
}

func (c *Controller) runTier0(contextText string, s *schema.Schema) map[string]any {
	preFilled := map[string]any{}
	if c.Regex == nil {
		return preFilled
	}
	matches, err := c.Regex.Extract(contextText, s)
	if err != nil {
		return preFilled
	}
	for _, m := range matches {
		if m.Confidence >= c.Config.ConfidenceThresholdMid {
			preFilled[m.Field] = m.Value
		}
	}
	return preFilled
}

func toDocumentChunks(chunks []filter.Chunk) []document.Chunk {
	out := make([]document.Chunk, len(chunks))
	for i, ch := range chunks {
		out[i] = document.Chunk{Text: ch.Text, Section: ch.Section, ChunkIndex: ch.ChunkIndex}
	}
	return out
}

func (c *Controller) validateAndAudit(ctx context.Context, chunks []document.Chunk, ext *evidence.Extraction, theme string) pipeline.CheckerResult {
	checker := c.Validator.Validate(ctx, chunks, ext.Data, ext.Evidence, theme)
	if hasValidatorError(checker) {
		return checker
	}
	verdicts := c.Auditor.Audit(ctx, ext.Data, ext.Evidence)
	return c.Auditor.ApplyPenalty(checker, verdicts)
}

func hasValidatorError(cr pipeline.CheckerResult) bool {
	for _, i := range cr.Issues {
		if i.IssueType == "validator_error" {
			return true
		}
	}
	return false
}

// runRevisionLoop drives the bounded revision loop as a flow.Loop: each
// iteration re-invokes the cascade carrying forward accepted fields, then
// re-validates and re-audits, stopping once the score clears the
// threshold, no suggestions remain, or max_iterations is exhausted.
func (c *Controller) runRevisionLoop(ctx context.Context, initial revisionState, chunks []document.Chunk, s *schema.Schema, preFilled map[string]any, theme string, maxRetries int) (revisionState, error) {
	if initial.checker.OverallScore >= c.Config.ScoreThreshold || hasValidatorError(initial.checker) {
		return initial, nil
	}
	if c.Config.MaxIterations <= 1 {
		return initial, nil
	}

	// flow.Loop re-runs its node against the same input on every iteration
	// (it is built for retry-style nodes, not reducers), so the evolving
	// revision state is threaded through a captured variable instead of the
	// node's input parameter.
	current := initial
	node := flow.Processor[revisionState, revisionState](func(ctx context.Context, _ revisionState) (revisionState, error) {
		in := current
		prompt := c.Validator.RevisionPrompt(in.checker)
		missing := s.RecallBoostKeys(c.Config.RecallBoostIncludesInferred)
		var stillMissing []string
		for _, key := range missing {
			if in.ext.Data[key] == nil {
				stillMissing = append(stillMissing, key)
			}
		}
		if prompt != "" && len(stillMissing) > 0 {
			prompt += "; missing required fields: " + strings.Join(stillMissing, ", ")
		} else if len(stillMissing) > 0 {
			prompt = "missing required fields: " + strings.Join(stillMissing, ", ")
		}

		carried := map[string]any{}
		for k, v := range preFilled {
			carried[k] = v
		}
		for k, v := range in.ext.Data {
			if v != nil {
				carried[k] = v
			}
		}

		ext, err := c.Cascade.Extract(ctx, prompt, s, carried, theme, maxRetries)
		if err != nil {
			return in, err
		}
		checker := c.validateAndAudit(ctx, chunks, ext, theme)

		next := revisionState{
			ext:       ext,
			checker:   checker,
			iteration: in.iteration + 1,
			history:   append(append([]pipeline.IterationSummary{}, in.history...), pipeline.IterationSummary{Iteration: in.iteration, OverallScore: in.checker.OverallScore, Suggestions: in.checker.Suggestions}),
		}
		current = next
		return next, nil
	})

	loop, err := flow.NewLoop(&flow.LoopConfig[revisionState, revisionState]{
		Node:          node,
		MaxIterations: c.Config.MaxIterations - 1,
		Terminator: func(ctx context.Context, iteration int, in, out revisionState) (bool, error) {
			if out.checker.OverallScore >= c.Config.ScoreThreshold {
				return true, nil
			}
			if hasValidatorError(out.checker) {
				return true, nil
			}
			if len(out.checker.Suggestions) == 0 {
				return true, nil
			}
			return false, nil
		},
	})
	if err != nil {
		return initial, err
	}
	return loop.Run(ctx, initial)
}

func (c *Controller) enqueueManualReviews(ctx context.Context, filename string, ext *evidence.Extraction) {
	if c.Review == nil {
		return
	}
	for field, value := range ext.Data {
		if value != nil {
			continue
		}
		tier, ok := ext.TierUsed(field)
		if !ok || tier != "manual_review" {
			continue
		}
		_, _ = c.Review.Add(ctx, filename, string(errkind.CascadeExhausted), field)
	}
}

func (c *Controller) recordFieldTiers(ext *evidence.Extraction) {
	for field := range ext.Data {
		if tier, ok := ext.TierUsed(field); ok {
			c.recorder().RecordTierUsed(field, tier)
		}
	}
}

func (c *Controller) writeCache(ctx context.Context, key string, fp fingerprint.Fingerprint, result pipeline.Result) {
	if c.Cache == nil {
		return
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return
	}
	_ = c.Cache.Set(ctx, cache.NamespacePipelineResult, key, fp.String(), payload, "")
}
