package store

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"ragcore/internal/logging"
)

// =============================================================================
// QUERY EMBEDDING CACHE FILE
// =============================================================================

// CachedEmbedding is one persisted query embedding. Seq grows with every Put,
// so sorting by it restores least-recently-stored order.
type CachedEmbedding struct {
	Query  string
	Vector []float32
	Seq    uint64
}

// EmbeddingCacheFile persists query embeddings in a bbolt bucket named after
// the embedding model, so switching models never serves stale vectors.
type EmbeddingCacheFile struct {
	db     *bbolt.DB
	bucket []byte
}

// OpenEmbeddingCacheFile opens (creating if needed) the cache at path for model.
func OpenEmbeddingCacheFile(path, model string) (*EmbeddingCacheFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open embedding cache %s: %w", path, err)
	}

	bucket := []byte("embeddings:" + model)
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache bucket: %w", err)
	}
	logging.StoreDebug("Embedding cache opened: path=%s bucket=%s", path, bucket)
	return &EmbeddingCacheFile{db: db, bucket: bucket}, nil
}

// Load returns every cached embedding ordered by Seq ascending.
func (c *EmbeddingCacheFile) Load() ([]CachedEmbedding, error) {
	var entries []CachedEmbedding
	err := c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(c.bucket)
		return b.ForEach(func(k, v []byte) error {
			if len(v) < 8 {
				return nil
			}
			vec, err := decodeFloat32SliceFromBlob(v[8:])
			if err != nil {
				logging.StoreDebug("Skipping corrupt cache entry %q: %v", k, err)
				return nil
			}
			entries = append(entries, CachedEmbedding{
				Query:  string(k),
				Vector: vec,
				Seq:    binary.BigEndian.Uint64(v[:8]),
			})
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load embedding cache: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })
	return entries, nil
}

// Put stores vec for query and stamps it with the next sequence number.
func (c *EmbeddingCacheFile) Put(query string, vec []float32) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(c.bucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		blob := encodeFloat32SliceToBlob(vec)
		val := make([]byte, 8+len(blob))
		binary.BigEndian.PutUint64(val[:8], seq)
		copy(val[8:], blob)
		return b.Put([]byte(query), val)
	})
}

// Delete removes query from the cache.
func (c *EmbeddingCacheFile) Delete(query string) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(c.bucket).Delete([]byte(query))
	})
}

// Close closes the bbolt database.
func (c *EmbeddingCacheFile) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}
