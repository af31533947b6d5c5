package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddingCacheFile_LoadRestoresOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "embeddings.bolt")

	c, err := OpenEmbeddingCacheFile(path, "all-minilm")
	require.NoError(t, err)
	require.NoError(t, c.Put("first", []float32{1, 0}))
	require.NoError(t, c.Put("second", []float32{0, 1}))
	require.NoError(t, c.Put("first", []float32{1, 1}))
	require.NoError(t, c.Close())

	c, err = OpenEmbeddingCacheFile(path, "all-minilm")
	require.NoError(t, err)
	defer c.Close()

	entries, err := c.Load()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "second", entries[0].Query)
	assert.Equal(t, "first", entries[1].Query, "re-put entry is the most recent")
	assert.Equal(t, []float32{1, 1}, entries[1].Vector)

	require.NoError(t, c.Delete("second"))
	entries, err = c.Load()
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestEmbeddingCacheFile_BucketPerModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "embeddings.bolt")

	a, err := OpenEmbeddingCacheFile(path, "model-a")
	require.NoError(t, err)
	require.NoError(t, a.Put("q", []float32{1}))
	require.NoError(t, a.Close())

	b, err := OpenEmbeddingCacheFile(path, "model-b")
	require.NoError(t, err)
	defer b.Close()

	entries, err := b.Load()
	require.NoError(t, err)
	assert.Empty(t, entries)
}
