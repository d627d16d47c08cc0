package state

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scireview/extractcore/pipeline"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpdateResultMarksProcessed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpdateResult(ctx, "a.pdf", pipeline.Result{Filename: "a.pdf"}))
	assert.True(t, s.IsProcessed("a.pdf"))
	assert.False(t, s.IsProcessed("b.pdf"))
}

func TestUpdateFailureMarksProcessed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpdateFailure(ctx, "bad.pdf", Failure{ErrorType: "transport", Message: "boom"}))
	assert.True(t, s.IsProcessed("bad.pdf"))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpdateResult(ctx, "a.pdf", pipeline.Result{Filename: "a.pdf"}))
	require.NoError(t, s.UpdateFailure(ctx, "b.pdf", Failure{ErrorType: "oom", Message: "out of memory"}))

	exportPath := filepath.Join(t.TempDir(), "checkpoint.json")
	require.NoError(t, s.Save(exportPath))

	cp, err := LoadExported(exportPath)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.pdf", "b.pdf"}, cp.ProcessedFiles)
	assert.Contains(t, cp.Results, "a.pdf")
	assert.Contains(t, cp.Failures, "b.pdf")
}

func TestUpdateSkipDoesNotMarkProcessed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpdateSkip(ctx, "open-breaker.pdf", Failure{ErrorType: "batch_circuit_open", Message: "not dispatched"}))
	assert.False(t, s.IsProcessed("open-breaker.pdf"))
	assert.Contains(t, s.Snapshot().Failures, "open-breaker.pdf")
}

func TestUpdateSkipSurvivesReloadStillUnprocessed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	s1, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s1.UpdateSkip(ctx, "skipped.pdf", Failure{ErrorType: "batch_circuit_open", Message: "not dispatched"}))
	require.NoError(t, s1.Close())

	s2, err := Open(ctx, path)
	require.NoError(t, err)
	defer s2.Close()
	assert.False(t, s2.IsProcessed("skipped.pdf"))
}

func TestUpdateResultAfterSkipMarksProcessed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpdateSkip(ctx, "doc.pdf", Failure{ErrorType: "batch_circuit_open", Message: "not dispatched"}))
	require.False(t, s.IsProcessed("doc.pdf"))

	require.NoError(t, s.UpdateResult(ctx, "doc.pdf", pipeline.Result{Filename: "doc.pdf"}))
	assert.True(t, s.IsProcessed("doc.pdf"))
}

func TestResumeSkipsProcessedFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	s1, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s1.UpdateResult(ctx, "a.pdf", pipeline.Result{Filename: "a.pdf"}))
	require.NoError(t, s1.Close())

	s2, err := Open(ctx, path)
	require.NoError(t, err)
	defer s2.Close()
	assert.True(t, s2.IsProcessed("a.pdf"))
}

func TestConcurrentUpdatesNeverRaceOnSnapshot(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = s.UpdateResult(ctx, filepathName(n), pipeline.Result{Filename: filepathName(n)})
		}(i)
	}

	done := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			_ = s.Snapshot()
		}
		close(done)
	}()

	wg.Wait()
	<-done

	cp := s.Snapshot()
	assert.Len(t, cp.ProcessedFiles, 50)
}

func filepathName(n int) string {
	return "doc" + string(rune('a'+n)) + ".pdf"
}
