package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashEngineDeterministicAndNormalized(t *testing.T) {
	e := NewHashEngine(384)
	a, err := e.Embed(context.Background(), "This is a test document for the RAG system.")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "This is a test document for the RAG system.")
	require.NoError(t, err)

	assert.Len(t, a, 384)
	assert.Equal(t, a, b)

	assert.InDelta(t, 1.0, dot(a, b), 1e-5)
}

func TestHashEngineRanksOverlapHigher(t *testing.T) {
	e := NewHashEngine(384)
	ctx := context.Background()
	query, _ := e.Embed(ctx, "test document")
	docs, err := e.EmbedBatch(ctx, []string{
		"This is a test document for the RAG system.",
		"Completely unrelated sentence about gardening tomatoes.",
	})
	require.NoError(t, err)

	assert.Greater(t, dot(query, docs[0]), dot(query, docs[1]))
}

func TestHashEngineEmptyText(t *testing.T) {
	v, err := NewHashEngine(8).Embed(context.Background(), "   ")
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 8), v)
}

// dot is the cosine similarity of two unit vectors.
func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// fakeOllama answers /api/embed with a vector of dims components per input.
func fakeOllama(t *testing.T, dims int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/embed":
			var req ollamaEmbedRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "all-minilm", req.Model)
			resp := ollamaEmbedResponse{}
			for i := range req.Input {
				v := make([]float32, dims)
				v[0] = float32(i + 1)
				resp.Embeddings = append(resp.Embeddings, v)
			}
			json.NewEncoder(w).Encode(resp)
		case "/api/show":
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOllamaEngineBatch(t *testing.T) {
	srv := fakeOllama(t, 4)

	e, err := NewOllamaEngine(srv.URL, "", 4)
	require.NoError(t, err)
	require.NoError(t, e.HealthCheck(context.Background()))

	out, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, []float32{1, 0, 0, 0}, out[0])
	assert.Equal(t, []float32{2, 0, 0, 0}, out[1])
	assert.Equal(t, "ollama:all-minilm", e.Name())
}

func TestOllamaEngineRejectsWrongDimensions(t *testing.T) {
	srv := fakeOllama(t, 3)

	e, err := NewOllamaEngine(srv.URL, "", 4)
	require.NoError(t, err)
	_, err = e.EmbedBatch(context.Background(), []string{"a"})
	assert.ErrorContains(t, err, "has 3 dimensions, want 4")
}

func TestOllamaEngineErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	e, _ := NewOllamaEngine(srv.URL, "missing", 384)
	_, err := e.Embed(context.Background(), "x")
	assert.ErrorContains(t, err, "status 404")
	assert.Error(t, e.HealthCheck(context.Background()))
}

func TestModelHolderCachesUnavailableBackend(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.OllamaEndpoint = srv.URL
	holder := NewModelHolder(cfg)

	_, err1 := holder.Get()
	_, err2 := holder.Get()
	assert.Error(t, err1)
	assert.Equal(t, err1, err2)
	assert.Equal(t, int32(1), hits.Load())
}

func TestModelHolderRejectsDimensionMismatch(t *testing.T) {
	holder := NewModelHolder(Config{Provider: "hash", Dimensions: 128})
	_, err := holder.Get()
	assert.ErrorContains(t, err, "produces 128-dimensional vectors")

	holder = NewModelHolder(Config{Provider: "hash", Dimensions: 384})
	e, err := holder.Get()
	require.NoError(t, err)
	assert.Equal(t, 384, e.Dimensions())
}

func TestNewEngineUnknownProvider(t *testing.T) {
	_, err := NewEngine(Config{Provider: "cohere"})
	assert.ErrorContains(t, err, "unsupported embedding provider")

	e, err := NewEngine(Config{Provider: "hash"})
	require.NoError(t, err)
	assert.Equal(t, 384, e.Dimensions())
}
