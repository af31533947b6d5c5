// Package embedding provides vector embedding generation for semantic search.
// Supports multiple backends: Ollama (local), Google GenAI (cloud) and an
// offline feature-hashing engine.
package embedding

import (
	"context"
	"fmt"

	"ragcore/internal/actor"
	"ragcore/internal/logging"
	"ragcore/internal/types"
)

// =============================================================================
// EMBEDDING ENGINE INTERFACE
// =============================================================================

// EmbeddingEngine generates vector embeddings for text.
type EmbeddingEngine interface {
	// Embed generates the embedding for a search query
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for documents being ingested
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of embeddings
	Dimensions() int

	// Name returns the engine name
	Name() string
}

// HealthChecker is an optional interface for embedding engines that support
// health checks. The model loader calls it once so an unreachable backend is
// reported as "not ready" instead of failing on every call.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// =============================================================================
// EMBEDDING CONFIGURATION
// =============================================================================

// Config holds embedding engine configuration.
type Config struct {
	// Provider: "ollama", "genai" or "hash"
	Provider string

	OllamaEndpoint string // Default: "http://localhost:11434"
	OllamaModel    string // Default: "all-minilm"

	GenAIAPIKey string
	GenAIModel  string // Default: "gemini-embedding-001"
	TaskType    string

	Dimensions int // Default: 384
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Provider:       "ollama",
		OllamaEndpoint: "http://localhost:11434",
		OllamaModel:    "all-minilm",
		GenAIModel:     "gemini-embedding-001",
		TaskType:       "RETRIEVAL_QUERY",
		Dimensions:     384,
	}
}

// =============================================================================
// FACTORY
// =============================================================================

// NewEngine creates an embedding engine based on configuration.
func NewEngine(cfg Config) (EmbeddingEngine, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "NewEngine")
	defer timer.Stop()

	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultConfig().Dimensions
	}

	logging.Embedding("Creating embedding engine with provider=%s", cfg.Provider)
	logging.EmbeddingDebug("Engine config: provider=%s, ollama_endpoint=%s, ollama_model=%s, genai_model=%s, task_type=%s, dims=%d",
		cfg.Provider, cfg.OllamaEndpoint, cfg.OllamaModel, cfg.GenAIModel, cfg.TaskType, cfg.Dimensions)

	var engine EmbeddingEngine
	var err error

	switch cfg.Provider {
	case "ollama":
		engine, err = NewOllamaEngine(cfg.OllamaEndpoint, cfg.OllamaModel, cfg.Dimensions)
	case "genai":
		engine, err = NewGenAIEngine(cfg.GenAIAPIKey, cfg.GenAIModel, cfg.TaskType, cfg.Dimensions)
	case "hash":
		engine = NewHashEngine(cfg.Dimensions)
	default:
		err = fmt.Errorf("unsupported embedding provider: %s (use 'ollama', 'genai' or 'hash')", cfg.Provider)
	}

	if err != nil {
		logging.Get(logging.CategoryEmbedding).Error("Failed to create embedding engine: %v", err)
		return nil, err
	}

	logging.Embedding("Embedding engine created: name=%s, dimensions=%d", engine.Name(), engine.Dimensions())
	return engine, nil
}

// =============================================================================
// MODEL LOADER
// =============================================================================

// ModelHolder loads an engine once and health-checks it. Every caller sees the
// same engine or the same load error; a failed load is not retried. Engines
// whose dimensionality differs from types.EmbeddingDimensions are rejected.
type ModelHolder = actor.Holder[EmbeddingEngine]

// NewModelHolder returns a holder that builds an engine from cfg on first use.
func NewModelHolder(cfg Config) *ModelHolder {
	return actor.NewHolder(func() (EmbeddingEngine, error) {
		engine, err := NewEngine(cfg)
		if err != nil {
			return nil, err
		}
		if engine.Dimensions() != types.EmbeddingDimensions {
			return nil, fmt.Errorf("embedding engine %s produces %d-dimensional vectors, the knowledge base stores %d",
				engine.Name(), engine.Dimensions(), types.EmbeddingDimensions)
		}
		if hc, ok := engine.(HealthChecker); ok {
			ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
			defer cancel()
			if err := hc.HealthCheck(ctx); err != nil {
				return nil, fmt.Errorf("embedding backend %s unavailable: %w", engine.Name(), err)
			}
		}
		return engine, nil
	})
}

// checkDimensions fails when any vector does not have exactly n components.
func checkDimensions(vectors [][]float32, n int) error {
	for i, v := range vectors {
		if len(v) != n {
			return fmt.Errorf("embedding %d has %d dimensions, want %d", i, len(v), n)
		}
	}
	return nil
}
