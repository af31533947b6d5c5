package retrieval

import (
	"github.com/golang/groupcache/lru"

	"ragcore/internal/logging"
	"ragcore/internal/store"
)

// DefaultCacheSize bounds the query embedding cache.
const DefaultCacheSize = 1000

// queryCache maps query text to its embedding with LRU eviction. It is not
// safe for concurrent use; the retrieval actor goroutine owns it.
type queryCache struct {
	lru    *lru.Cache
	file   *store.EmbeddingCacheFile // optional persistence
	hits   uint64
	misses uint64
}

func newQueryCache(size int, file *store.EmbeddingCacheFile) *queryCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c := &queryCache{lru: lru.New(size), file: file}
	if file == nil {
		return c
	}
	c.lru.OnEvicted = c.evicted

	entries, err := file.Load()
	if err != nil {
		logging.Get(logging.CategoryRetrieval).Warn("Ignoring persisted embedding cache: %v", err)
		return c
	}
	// Oldest first, so the most recently stored entries end up most recent.
	for _, e := range entries {
		c.lru.Add(e.Query, e.Vector)
	}
	logging.RetrievalDebug("Restored %d cached query embeddings", c.lru.Len())
	return c
}

func (c *queryCache) evicted(key lru.Key, _ interface{}) {
	if q, ok := key.(string); ok {
		if err := c.file.Delete(q); err != nil {
			logging.RetrievalDebug("Failed to drop evicted cache entry: %v", err)
		}
	}
}

func (c *queryCache) get(query string) ([]float32, bool) {
	v, ok := c.lru.Get(query)
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	return v.([]float32), true
}

func (c *queryCache) put(query string, vec []float32) {
	c.lru.Add(query, vec)
	if c.file != nil {
		if err := c.file.Put(query, vec); err != nil {
			logging.RetrievalDebug("Failed to persist cache entry: %v", err)
		}
	}
}

func (c *queryCache) len() int {
	return c.lru.Len()
}

func (c *queryCache) close() error {
	if c.file == nil {
		return nil
	}
	return c.file.Close()
}
