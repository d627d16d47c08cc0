package review

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestQueue(t *testing.T) *Queue {
	t.Helper()
	path := filepath.Join(t.TempDir(), "review.db")
	q, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

func TestAddAndGet(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	id, err := q.Add(ctx, "paper.pdf", "cascade_exhausted", "sample_size")
	require.NoError(t, err)

	item, ok, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "paper.pdf", item.PaperPath)
	assert.Equal(t, StatusPending, item.Status)
}

func TestAddIsIdempotentByPaperAndField(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	id1, err := q.Add(ctx, "paper.pdf", "cascade_exhausted", "sample_size")
	require.NoError(t, err)
	id2, err := q.Add(ctx, "paper.pdf", "different_reason", "sample_size")
	require.NoError(t, err)

	assert.Equal(t, id1, id2)

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[StatusPending])
}

func TestListByStatus(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()
	id, err := q.Add(ctx, "a.pdf", "cascade_exhausted", "doi")
	require.NoError(t, err)
	_, err = q.Add(ctx, "b.pdf", "cascade_exhausted", "doi")
	require.NoError(t, err)

	require.NoError(t, q.Resolve(ctx, id, "manual_lookup", "10.1/x"))

	pending, err := q.List(ctx, StatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	resolved, err := q.List(ctx, StatusResolved)
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, "10.1/x", resolved[0].ResolvedValue)
}

func TestSkip(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()
	id, err := q.Add(ctx, "c.pdf", "cascade_exhausted", "doi")
	require.NoError(t, err)

	require.NoError(t, q.Skip(ctx, id, "not worth pursuing"))

	item, _, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, item.Status)
	assert.NotNil(t, item.ResolvedAt)
}

func TestResolveUnknownIDErrors(t *testing.T) {
	q := openTestQueue(t)
	err := q.Resolve(context.Background(), "does-not-exist", "x", "y")
	assert.Error(t, err)
}

func TestCounts(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()
	id1, _ := q.Add(ctx, "a.pdf", "r", "f1")
	id2, _ := q.Add(ctx, "b.pdf", "r", "f1")
	_, _ = q.Add(ctx, "c.pdf", "r", "f1")

	require.NoError(t, q.Resolve(ctx, id1, "x", "y"))
	require.NoError(t, q.Skip(ctx, id2, "x"))

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[StatusPending])
	assert.Equal(t, 1, counts[StatusResolved])
	assert.Equal(t, 1, counts[StatusSkipped])
}
