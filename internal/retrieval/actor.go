// Package retrieval runs the retrieval actor. The actor goroutine exclusively
// owns the embedding engine, the query embedding cache and the vector store,
// so none of them needs a lock.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ragcore/internal/actor"
	"ragcore/internal/config"
	"ragcore/internal/embedding"
	"ragcore/internal/logging"
	"ragcore/internal/store"
	"ragcore/internal/types"
)

// NoChunksMessage is the confirmation returned when nothing survived chunking.
const NoChunksMessage = "No valid chunks to ingest (content might be too short or empty)"

type message interface {
	actor.Message
}

type ingestMsg struct {
	content  string
	metadata string
	reply    *actor.Reply[string]
}

func (m *ingestMsg) Abandon() { m.reply.Abandon() }

type searchMsg struct {
	query   string
	filters []string
	limit   int
	reply   *actor.Reply[[]string]
}

func (m *searchMsg) Abandon() { m.reply.Abandon() }

type deleteMsg struct {
	metadata string
	reply    *actor.Reply[int64]
}

func (m *deleteMsg) Abandon() { m.reply.Abandon() }

type statsMsg struct {
	reply *actor.Reply[types.RetrievalStats]
}

func (m *statsMsg) Abandon() { m.reply.Abandon() }

// Handle is the send side of the retrieval actor. It is safe for concurrent use.
type Handle struct {
	mb     *actor.Mailbox[message]
	cancel context.CancelFunc
	done   chan struct{}
}

var _ types.Retriever = (*Handle)(nil)

type retriever struct {
	cfg    config.RetrievalConfig
	models *embedding.ModelHolder
	ctx    context.Context

	engine  embedding.EmbeddingEngine
	vectors *store.VectorStore
	cache   *queryCache
	initErr error
}

// Start spawns the retrieval actor. The embedding model and the vector store
// are opened on the actor goroutine; a failure is logged and every later
// operation returns a configuration error wrapping types.ErrNotReady.
func Start(cfg config.RetrievalConfig, models *embedding.ModelHolder) *Handle {
	if cfg.Table == "" {
		cfg.Table = "knowledge_base"
	}
	if cfg.MinChunkLength <= 0 {
		cfg.MinChunkLength = DefaultMinChunkLength
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &retriever{cfg: cfg, models: models, ctx: ctx}
	h := &Handle{
		mb:     actor.NewMailbox[message](actor.DefaultCapacity),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(h.done)
		r.init()
		defer r.close()
		actor.Run(ctx, "retrieval", h.mb, r.handle)
	}()
	return h
}

func (r *retriever) init() {
	timer := logging.StartTimer(logging.CategoryRetrieval, "init")
	defer timer.Stop()

	engine, err := r.models.Get()
	if err != nil {
		r.initErr = fmt.Errorf("embedding model: %w", err)
		logging.Get(logging.CategoryRetrieval).Error("Retrieval actor not ready: %v", r.initErr)
		return
	}
	vectors, err := store.OpenVectorStore(r.cfg.DatabasePath)
	if err != nil {
		r.initErr = fmt.Errorf("vector store: %w", err)
		logging.Get(logging.CategoryRetrieval).Error("Retrieval actor not ready: %v", r.initErr)
		return
	}

	var file *store.EmbeddingCacheFile
	if r.cfg.CachePath != "" {
		file, err = store.OpenEmbeddingCacheFile(r.cfg.CachePath, engine.Name())
		if err != nil {
			// The cache is an optimisation; run without persistence.
			logging.Get(logging.CategoryRetrieval).Warn("Query cache not persisted: %v", err)
			file = nil
		}
	}

	r.engine = engine
	r.vectors = vectors
	r.cache = newQueryCache(r.cfg.CacheSize, file)
	logging.Retrieval("Retrieval actor ready: engine=%s table=%s", engine.Name(), r.cfg.Table)
}

func (r *retriever) close() {
	if r.cache != nil {
		if err := r.cache.close(); err != nil {
			logging.RetrievalDebug("Failed to close query cache: %v", err)
		}
	}
	if r.vectors != nil {
		if err := r.vectors.Close(); err != nil {
			logging.RetrievalDebug("Failed to close vector store: %v", err)
		}
	}
	logging.Retrieval("Retrieval actor stopped")
}

func (r *retriever) notReady(op string) error {
	return types.ConfigurationError(op, fmt.Errorf("%w: %v", types.ErrNotReady, r.initErr))
}

func (r *retriever) handle(msg message) {
	switch m := msg.(type) {
	case *ingestMsg:
		m.reply.Send(r.ingest(m.content, m.metadata))
	case *searchMsg:
		m.reply.Send(r.search(m.query, m.filters, m.limit))
	case *deleteMsg:
		m.reply.Send(r.delete(m.metadata))
	case *statsMsg:
		m.reply.Send(r.stats())
	}
}

func (r *retriever) ingest(content, metadata string) (string, error) {
	if r.initErr != nil {
		return "", r.notReady("ingest")
	}
	start := time.Now()

	texts := Chunk(content, r.cfg.MinChunkLength)
	if len(texts) == 0 {
		logging.RetrievalDebug("Ingest skipped: no chunk longer than %d characters", r.cfg.MinChunkLength)
		return NoChunksMessage, nil
	}

	n, err := r.embedAndAppend(texts, metadata)
	logging.Audit().Ingest(metadata, n, time.Since(start), err)
	if err != nil {
		return "", types.RetrievalError("ingest", err)
	}
	logging.Retrieval("Ingested %d chunks (metadata=%q) in %s", n, metadata, time.Since(start))
	return fmt.Sprintf("Ingested %d chunks", n), nil
}

func (r *retriever) embedAndAppend(texts []string, metadata string) (int, error) {
	vectors, err := r.engine.EmbedBatch(r.ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("failed to embed chunks: %w", err)
	}
	if len(vectors) != len(texts) {
		return 0, fmt.Errorf("embedding engine returned %d vectors for %d chunks", len(vectors), len(texts))
	}

	chunks := make([]types.DocumentChunk, len(texts))
	for i, text := range texts {
		chunks[i] = types.DocumentChunk{
			ID:       uuid.NewString(),
			Text:     text,
			Metadata: metadata,
			Vector:   vectors[i],
		}
	}
	if err := r.vectors.Append(r.ctx, r.cfg.Table, chunks); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

// queryVector returns the cached embedding for query, embedding and caching
// it on a miss.
func (r *retriever) queryVector(query string) ([]float32, bool, error) {
	if vec, ok := r.cache.get(query); ok {
		return vec, true, nil
	}
	vec, err := r.engine.Embed(r.ctx, query)
	if err != nil {
		return nil, false, fmt.Errorf("failed to embed query: %w", err)
	}
	r.cache.put(query, vec)
	return vec, false, nil
}

func (r *retriever) search(query string, filters []string, limit int) ([]string, error) {
	if r.initErr != nil {
		return nil, r.notReady("search")
	}
	start := time.Now()

	results, hit, err := r.searchResults(query, filters, limit)
	logging.Audit().Search(len(results), hit, time.Since(start), err)
	if err != nil {
		return nil, types.RetrievalError("search", err)
	}

	texts := make([]string, 0, len(results))
	for _, res := range results {
		texts = append(texts, res.Content)
	}
	logging.RetrievalDebug("Search returned %d results (cache_hit=%v) in %s", len(texts), hit, time.Since(start))
	return texts, nil
}

func (r *retriever) searchResults(query string, filters []string, limit int) ([]types.SearchResult, bool, error) {
	vec, hit, err := r.queryVector(query)
	if err != nil {
		return nil, false, err
	}
	exists, err := r.vectors.TableExists(r.ctx, r.cfg.Table)
	if err != nil {
		return nil, hit, err
	}
	if !exists {
		return nil, hit, nil
	}
	results, err := r.vectors.Search(r.ctx, r.cfg.Table, vec, filters, limit)
	return results, hit, err
}

func (r *retriever) delete(metadata string) (int64, error) {
	if r.initErr != nil {
		return 0, r.notReady("delete")
	}
	n, err := r.vectors.DeleteByMetadata(r.ctx, r.cfg.Table, metadata)
	if err != nil {
		return 0, types.RetrievalError("delete", err)
	}
	logging.Retrieval("Deleted %d chunks (metadata=%q)", n, metadata)
	return n, nil
}

func (r *retriever) stats() (types.RetrievalStats, error) {
	if r.initErr != nil {
		return types.RetrievalStats{}, nil
	}
	exists, err := r.vectors.TableExists(r.ctx, r.cfg.Table)
	if err != nil {
		return types.RetrievalStats{}, types.RetrievalError("stats", err)
	}
	count, err := r.vectors.Count(r.ctx, r.cfg.Table)
	if err != nil {
		return types.RetrievalStats{}, types.RetrievalError("stats", err)
	}
	return types.RetrievalStats{
		Ready:       true,
		Model:       r.engine.Name(),
		TableExists: exists,
		Chunks:      count,
		CacheSize:   r.cache.len(),
		CacheHits:   r.cache.hits,
		CacheMisses: r.cache.misses,
	}, nil
}

// Ingest chunks content, embeds the chunks and appends them tagged with
// metadata. It returns a human-readable confirmation.
func (h *Handle) Ingest(ctx context.Context, content, metadata string) (string, error) {
	return actor.Call(ctx, h.mb, "ingest", func(r *actor.Reply[string]) message {
		return &ingestMsg{content: content, metadata: metadata, reply: r}
	})
}

// Search returns up to limit chunk texts nearest to query, closest first. A
// non-empty filters restricts results to chunks whose metadata equals any of
// them.
func (h *Handle) Search(ctx context.Context, query string, filters []string, limit int) ([]string, error) {
	return actor.Call(ctx, h.mb, "search", func(r *actor.Reply[[]string]) message {
		return &searchMsg{query: query, filters: filters, limit: limit, reply: r}
	})
}

// Delete removes every chunk tagged with metadata.
func (h *Handle) Delete(ctx context.Context, metadata string) (int64, error) {
	return actor.Call(ctx, h.mb, "delete", func(r *actor.Reply[int64]) message {
		return &deleteMsg{metadata: metadata, reply: r}
	})
}

// Stats reports readiness, chunk count and cache counters. A retriever that
// failed to start reports Ready false rather than an error.
func (h *Handle) Stats(ctx context.Context) (types.RetrievalStats, error) {
	return actor.Call(ctx, h.mb, "stats", func(r *actor.Reply[types.RetrievalStats]) message {
		return &statsMsg{reply: r}
	})
}

// Done is closed once the actor has stopped and released its stores.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Close stops the actor and waits for it to release the vector store.
func (h *Handle) Close() {
	h.mb.Close()
	h.cancel()
	<-h.done
}

// IsNotReady reports whether err came from a retriever that failed to start.
func IsNotReady(err error) bool {
	return errors.Is(err, types.ErrNotReady)
}
