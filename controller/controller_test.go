package controller

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scireview/extractcore/cache"
	"github.com/scireview/extractcore/config"
	"github.com/scireview/extractcore/document"
	"github.com/scireview/extractcore/errkind"
	"github.com/scireview/extractcore/filter"
	"github.com/scireview/extractcore/metrics"
	"github.com/scireview/extractcore/review"
	"github.com/scireview/extractcore/schema"
	"github.com/scireview/extractcore/tiered"
	"github.com/scireview/extractcore/validate"
)

// fakeRecorder captures calls instead of exporting to Prometheus, so tests
// can assert on the controller's observability wiring without a registry.
type fakeRecorder struct {
	documents int
	tierUsed  map[string]string
	cacheHits int
	cacheMiss int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{tierUsed: map[string]string{}}
}

func (f *fakeRecorder) RecordDocument(string, int, float64, bool) { f.documents++ }
func (f *fakeRecorder) RecordFilterStats(int, int, int, int)      {}
func (f *fakeRecorder) RecordTierUsed(field, tier string)         { f.tierUsed[field] = tier }
func (f *fakeRecorder) RecordCacheAccess(_ string, hit bool) {
	if hit {
		f.cacheHits++
	} else {
		f.cacheMiss++
	}
}
func (f *fakeRecorder) RecordFailure(errkind.Kind)             {}
func (f *fakeRecorder) RecordCircuitBreakerState(bool)          {}
func (f *fakeRecorder) RecordWorkers(int)                       {}
func (f *fakeRecorder) RecordLLMUsage(string, int, int, float64) {}

var _ metrics.Recorder = (*fakeRecorder)(nil)

type passingValidatorTransport struct{}

func (passingValidatorTransport) Chat(ctx context.Context, prompt string) (any, error) {
	return map[string]any{
		"accuracy_score":    0.95,
		"consistency_score": 0.9,
		"issues":            []any{},
		"suggestions":       []any{},
	}, nil
}

type correctAuditTransport struct{}

func (correctAuditTransport) Chat(ctx context.Context, prompt string) (any, error) {
	return map[string]any{"is_correct": true, "confidence": 0.9, "severity": "low"}, nil
}

func newTestController(t *testing.T) *Controller {
	t.Helper()
	cfg := config.Default()
	cfg.MaxContextChars = 10000

	cacheStore, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cacheStore.Close() })

	reviewQueue, err := review.Open(filepath.Join(t.TempDir(), "review.db"))
	require.NoError(t, err)
	t.Cleanup(func() { reviewQueue.Close() })

	return &Controller{
		Cache:     cacheStore,
		Review:    reviewQueue,
		Filter:    filter.New(cfg.BoilerplateSections, cfg.FilterSimilarityThreshold),
		Regex:     tiered.NewRegexExtractor(),
		Cascade:   tiered.NewCascade(nil, nil, cfg.ThresholdsFor, cfg.TransportDeadline),
		Validator: validate.NewValidator(passingValidatorTransport{}, validate.DefaultWeights()),
		Auditor:   validate.NewAuditor(correctAuditTransport{}, cfg.AuditPenalty),
		Config:    cfg,
	}
}

func s1Schema() *schema.Schema {
	return &schema.Schema{
		Version: "v1",
		Fields: []schema.FieldSpec{
			{Key: "doi", RegexPatterns: []string{`doi:\s*(\S+)`}},
			{Key: "publication_year", RegexPatterns: []string{`published\s+(\d{4})`}},
			{Key: "sample_size", RegexPatterns: []string{`enrolled\s+(\d+)\s+patients`}},
		},
	}
}

func TestExtractHappyPathAllFieldsFromTier0(t *testing.T) {
	c := newTestController(t)
	doc := &document.Document{
		Filename: "paper.pdf",
		Chunks: []document.Chunk{
			{Text: "DOI: 10.1234/test. Published 2024. We enrolled 50 patients.", Section: "results", ChunkIndex: 0},
		},
	}

	result, err := c.Extract(context.Background(), doc, s1Schema(), "clinical trial")
	require.NoError(t, err)

	assert.Equal(t, "10.1234/test.", result.Data["doi"])
	assert.Equal(t, "2024", result.Data["publication_year"])
	assert.Equal(t, "50", result.Data["sample_size"])
	assert.True(t, result.CheckerResult.Passed)
	assert.Equal(t, 1, result.IterationCount)
}

func TestExtractRecordsMetricsForDocumentAndFieldTiers(t *testing.T) {
	c := newTestController(t)
	rec := newFakeRecorder()
	c.Metrics = rec

	doc := &document.Document{
		Filename: "paper.pdf",
		Chunks: []document.Chunk{
			{Text: "DOI: 10.1234/test. Published 2024. We enrolled 50 patients.", Section: "results", ChunkIndex: 0},
		},
	}

	_, err := c.Extract(context.Background(), doc, s1Schema(), "clinical trial")
	require.NoError(t, err)

	assert.Equal(t, 1, rec.documents)
	assert.Equal(t, "regex", rec.tierUsed["doi"])
	assert.Equal(t, 0, rec.cacheHits)
	assert.Equal(t, 1, rec.cacheMiss)

	_, err = c.Extract(context.Background(), doc, s1Schema(), "clinical trial")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.cacheHits)
}

func TestExtractEmptyContextIsFatal(t *testing.T) {
	c := newTestController(t)
	doc := &document.Document{
		Filename: "paper.pdf",
		Chunks: []document.Chunk{
			{Text: "DRAFT", Section: "references", ChunkIndex: 0},
		},
	}

	_, err := c.Extract(context.Background(), doc, s1Schema(), "clinical trial")
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.EmptyContext))
}

func TestExtractCacheHitSkipsRecompute(t *testing.T) {
	c := newTestController(t)
	doc := &document.Document{
		Filename: "paper.pdf",
		Chunks: []document.Chunk{
			{Text: "DOI: 10.1234/test. Published 2024. We enrolled 50 patients.", Section: "results", ChunkIndex: 0},
		},
	}
	s := s1Schema()

	first, err := c.Extract(context.Background(), doc, s, "clinical trial")
	require.NoError(t, err)

	// A document with identical text but a different filename must still hit
	// the cache, since the cache is keyed by content fingerprint, not name.
	renamed := &document.Document{Filename: "other-name.pdf", Chunks: doc.Chunks}
	second, err := c.Extract(context.Background(), renamed, s, "clinical trial")
	require.NoError(t, err)

	assert.Equal(t, first.Data, second.Data)
	assert.Equal(t, "paper.pdf", second.Filename)
}

func TestExtractSchemaVersionChangeForcesCacheMiss(t *testing.T) {
	c := newTestController(t)
	doc := &document.Document{
		Filename: "paper.pdf",
		Chunks: []document.Chunk{
			{Text: "DOI: 10.1234/test. Published 2024. We enrolled 50 patients.", Section: "results", ChunkIndex: 0},
		},
	}
	s := s1Schema()

	_, err := c.Extract(context.Background(), doc, s, "clinical trial")
	require.NoError(t, err)

	s2 := s1Schema()
	s2.Version = "v2"
	result, err := c.Extract(context.Background(), doc, s2, "clinical trial")
	require.NoError(t, err)
	assert.Equal(t, "10.1234/test.", result.Data["doi"])
}

func TestExtractAsyncSharesExtractsSteps(t *testing.T) {
	c := newTestController(t)
	doc := &document.Document{
		Filename: "paper.pdf",
		Chunks: []document.Chunk{
			{Text: "DOI: 10.1234/test. Published 2024. We enrolled 50 patients.", Section: "results", ChunkIndex: 0},
		},
	}

	ch := c.ExtractAsync(context.Background(), doc, s1Schema(), "clinical trial")
	got := <-ch
	require.NoError(t, got.Err)
	assert.Equal(t, "10.1234/test.", got.Result.Data["doi"])
}

func TestExtractAsyncRespectsCancellation(t *testing.T) {
	c := newTestController(t)
	doc := &document.Document{
		Filename: "paper.pdf",
		Chunks: []document.Chunk{
			{Text: "DOI: 10.1234/test. Published 2024. We enrolled 50 patients.", Section: "results", ChunkIndex: 0},
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got := <-c.ExtractAsync(ctx, doc, s1Schema(), "clinical trial")
	require.Error(t, got.Err)
}

func TestExtractManualReviewEnqueuedForExhaustedField(t *testing.T) {
	cfg := config.Default()
	cfg.MaxContextChars = 10000
	cfg.MaxIterations = 1

	cacheStore, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cacheStore.Close() })
	reviewQueue, err := review.Open(filepath.Join(t.TempDir(), "review.db"))
	require.NoError(t, err)
	t.Cleanup(func() { reviewQueue.Close() })

	s := &schema.Schema{
		Version: "v1",
		Fields:  []schema.FieldSpec{{Key: "primary_outcome"}},
	}

	c := &Controller{
		Cache:     cacheStore,
		Review:    reviewQueue,
		Filter:    filter.New(cfg.BoilerplateSections, cfg.FilterSimilarityThreshold),
		Regex:     tiered.NewRegexExtractor(),
		Cascade:   tiered.NewCascade(nil, nil, func(string) [5]float64 { return [5]float64{0.9, 0.9, 0.9, 0.9, 0.9} }, time.Second),
		Validator: validate.NewValidator(passingValidatorTransport{}, validate.DefaultWeights()),
		Auditor:   validate.NewAuditor(correctAuditTransport{}, cfg.AuditPenalty),
		Config:    cfg,
	}

	doc := &document.Document{
		Filename: "paper.pdf",
		Chunks:   []document.Chunk{{Text: "no structured data present here at all.", Section: "results", ChunkIndex: 0}},
	}

	result, err := c.Extract(context.Background(), doc, s, "clinical trial")
	require.NoError(t, err)
	assert.Nil(t, result.Data["primary_outcome"])

	items, err := reviewQueue.List(context.Background(), review.StatusPending)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "primary_outcome", items[0].FieldName)
}
