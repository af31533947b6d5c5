package store

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragcore/internal/types"
)

func openTestVectorStore(t *testing.T) *VectorStore {
	t.Helper()
	s, err := OpenVectorStore(filepath.Join(t.TempDir(), "vectors.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestVectorStore_TableCreatedLazily(t *testing.T) {
	s := openTestVectorStore(t)
	ctx := context.Background()

	exists, err := s.TableExists(ctx, "knowledge_base")
	require.NoError(t, err)
	assert.False(t, exists, "table should not exist before the first append")

	n, err := s.Count(ctx, "knowledge_base")
	require.NoError(t, err)
	assert.Zero(t, n)

	err = s.Append(ctx, "knowledge_base", []types.DocumentChunk{
		{ID: "a", Text: "first chunk of text", Vector: []float32{1, 0, 0}},
	})
	require.NoError(t, err)

	exists, err = s.TableExists(ctx, "knowledge_base")
	require.NoError(t, err)
	assert.True(t, exists)

	n, err = s.Count(ctx, "knowledge_base")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestVectorStore_SearchOrdersByDistance(t *testing.T) {
	s := openTestVectorStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, "kb", []types.DocumentChunk{
		{ID: "cat", Text: "cat", Vector: []float32{1, 0, 0, 0}},
		{ID: "dog", Text: "dog", Vector: []float32{0.9, 0.1, 0, 0}},
		{ID: "car", Text: "car", Vector: []float32{0, 0, 1, 0}},
	}))

	results, err := s.Search(ctx, "kb", []float32{1, 0, 0, 0}, nil, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "cat", results[0].Content)
	assert.Equal(t, "dog", results[1].Content)
	assert.Equal(t, "car", results[2].Content)
	assert.InDelta(t, 0, results[0].Distance, 1e-6)
	assert.InDelta(t, 1, results[2].Distance, 1e-6)

	limited, err := s.Search(ctx, "kb", []float32{1, 0, 0, 0}, nil, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "cat", limited[0].ID)
}

func TestVectorStore_EqualDistancesKeepInsertionOrder(t *testing.T) {
	s := openTestVectorStore(t)
	ctx := context.Background()

	same := []float32{0, 1, 0}
	require.NoError(t, s.Append(ctx, "kb", []types.DocumentChunk{
		{ID: "zulu", Text: "first", Vector: same},
		{ID: "alpha", Text: "second", Vector: same},
	}))
	require.NoError(t, s.Append(ctx, "kb", []types.DocumentChunk{
		{ID: "mike", Text: "third", Vector: same},
		{ID: "bravo", Text: "fourth", Vector: same},
	}))

	results, err := s.Search(ctx, "kb", same, nil, 10)
	require.NoError(t, err)
	var got []string
	for _, r := range results {
		got = append(got, r.Content)
	}
	assert.Equal(t, []string{"first", "second", "third", "fourth"}, got)
}

func TestVectorStore_FilterIsDisjunctive(t *testing.T) {
	s := openTestVectorStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, "kb", []types.DocumentChunk{
		{ID: "1", Text: "alpha", Metadata: "session:a", Vector: []float32{1, 0}},
		{ID: "2", Text: "beta", Metadata: "session:b", Vector: []float32{1, 0.1}},
		{ID: "3", Text: "gamma", Metadata: "session:c", Vector: []float32{1, 0.2}},
		{ID: "4", Text: "delta", Vector: []float32{1, 0.3}},
	}))

	results, err := s.Search(ctx, "kb", []float32{1, 0}, []string{"session:a", "session:c"}, 10)
	require.NoError(t, err)

	var got []string
	for _, r := range results {
		got = append(got, r.Content)
	}
	assert.Equal(t, []string{"alpha", "gamma"}, got)

	untagged, err := s.Search(ctx, "kb", []float32{1, 0}, []string{""}, 10)
	require.NoError(t, err)
	require.Len(t, untagged, 1)
	assert.Equal(t, "delta", untagged[0].Content)
}

func TestVectorStore_DeleteByMetadata(t *testing.T) {
	s := openTestVectorStore(t)
	ctx := context.Background()

	removed, err := s.DeleteByMetadata(ctx, "kb", "doc")
	require.NoError(t, err)
	assert.Zero(t, removed, "missing table removes nothing")

	require.NoError(t, s.Append(ctx, "kb", []types.DocumentChunk{
		{ID: "1", Text: "one", Metadata: "doc", Vector: []float32{1}},
		{ID: "2", Text: "two", Metadata: "doc", Vector: []float32{1}},
		{ID: "3", Text: "three", Metadata: "other", Vector: []float32{1}},
	}))

	removed, err = s.DeleteByMetadata(ctx, "kb", "doc")
	require.NoError(t, err)
	assert.EqualValues(t, 2, removed)

	n, err := s.Count(ctx, "kb")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestVectorStore_DuplicateIDRollsBack(t *testing.T) {
	s := openTestVectorStore(t)
	ctx := context.Background()

	err := s.Append(ctx, "kb", []types.DocumentChunk{
		{ID: "same", Text: "one", Vector: []float32{1}},
		{ID: "same", Text: "two", Vector: []float32{1}},
	})
	require.Error(t, err)

	n, err := s.Count(ctx, "kb")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestVectorStore_RejectsBadTableNames(t *testing.T) {
	s := openTestVectorStore(t)
	ctx := context.Background()

	for _, name := range []string{"", "kb; DROP TABLE x", "1abc", "a-b"} {
		_, err := s.TableExists(ctx, name)
		assert.Error(t, err, "table name %q", name)
	}
}

func TestVectorBlobRoundTrip(t *testing.T) {
	in := []float32{0, 1.5, -2.25, float32(math.Pi)}
	out, err := decodeFloat32SliceFromBlob(encodeFloat32SliceToBlob(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = decodeFloat32SliceFromBlob([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestCosineDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{name: "Identical", a: []float32{1, 0}, b: []float32{1, 0}, want: 0},
		{name: "Orthogonal", a: []float32{1, 0}, b: []float32{0, 1}, want: 1},
		{name: "Opposite", a: []float32{1, 0}, b: []float32{-1, 0}, want: 2},
		{name: "ZeroVector", a: []float32{0, 0}, b: []float32{1, 0}, want: 1},
		{name: "Empty", a: nil, b: []float32{1}, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := cosineDistance(tt.a, tt.b)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}

	_, err := cosineDistance([]float32{1}, []float32{1, 2})
	assert.Error(t, err)
}
