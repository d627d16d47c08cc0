package cache

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSetGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.Set(ctx, NamespacePipelineResult, "k1", "fp1", []byte("value"), "cloud")
	require.NoError(t, err)

	entry, ok, err := s.Get(ctx, NamespacePipelineResult, "k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("value"), entry.Value)
	assert.Equal(t, "cloud", entry.Tier)
}

func TestGetMiss(t *testing.T) {
	s := openTestStore(t)
	_, ok, err := s.Get(context.Background(), NamespacePipelineResult, "absent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetOverwrites(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, NamespaceFieldResult, "k", "fp", []byte("v1"), "regex"))
	require.NoError(t, s.Set(ctx, NamespaceFieldResult, "k", "fp", []byte("v2"), "local"))

	entry, ok, err := s.Get(ctx, NamespaceFieldResult, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v2"), entry.Value)
}

func TestNamespacesAreIndependent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, NamespaceDocumentText, "same-key", "fp", []byte("text"), ""))
	require.NoError(t, s.Set(ctx, NamespacePipelineResult, "same-key", "fp", []byte("result"), ""))

	a, _, _ := s.Get(ctx, NamespaceDocumentText, "same-key")
	b, _, _ := s.Get(ctx, NamespacePipelineResult, "same-key")
	assert.NotEqual(t, a.Value, b.Value)
}

func TestInvalidatePurgesAllNamespacesForFingerprint(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, NamespaceDocumentText, "a", "fp1", []byte("x"), ""))
	require.NoError(t, s.Set(ctx, NamespacePipelineResult, "b", "fp1", []byte("y"), ""))
	require.NoError(t, s.Set(ctx, NamespacePipelineResult, "c", "fp2", []byte("z"), ""))

	require.NoError(t, s.Invalidate(ctx, "fp1"))

	_, ok, _ := s.Get(ctx, NamespaceDocumentText, "a")
	assert.False(t, ok)
	_, ok, _ = s.Get(ctx, NamespacePipelineResult, "b")
	assert.False(t, ok)
	_, ok, _ = s.Get(ctx, NamespacePipelineResult, "c")
	assert.True(t, ok)
}
