// Package system wires the actors, stores and engines into a running core.
package system

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"ragcore/internal/config"
	"ragcore/internal/embedding"
	"ragcore/internal/generation"
	"ragcore/internal/logging"
	"ragcore/internal/orchestrator"
	"ragcore/internal/retrieval"
	"ragcore/internal/store"
	"ragcore/internal/types"
	"ragcore/internal/usage"
)

// System holds every component started by Boot.
type System struct {
	Config *config.Config

	// Sessions is nil when the conversation store could not be opened;
	// StoreErr then says why and turns fail with a configuration error.
	Sessions types.SessionStore
	StoreErr error

	Models       *embedding.ModelHolder
	Retrieval    *retrieval.Handle
	Generation   *generation.Handle
	Orchestrator *orchestrator.Handle

	// Usage is nil unless orchestrator.usage_path is set.
	Usage *usage.Tracker
}

// BootOptions adjusts what Boot starts.
type BootOptions struct {
	// WithoutGeneration skips the generation actor. Turns then fail with a
	// configuration error while ingest and search keep working.
	WithoutGeneration bool

	// WarmEmbeddings loads the embedding model during boot instead of on the
	// retrieval actor's first message.
	WarmEmbeddings bool

	Notifier types.Notifier
}

// Boot validates cfg and starts the core. Only an invalid configuration is
// fatal: a store or model that fails to come up is logged and leaves the
// dependent operations answering with configuration errors.
func Boot(ctx context.Context, cfg *config.Config, opts BootOptions) (*System, error) {
	timer := logging.StartTimer(logging.CategoryBoot, "Boot")
	defer timer.Stop()

	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, types.ConfigurationError("boot", err)
	}
	logging.Boot("Booting %s (generation=%s, embedding=%s, store=%s)",
		cfg.Name, cfg.Generation.Backend, cfg.Embedding.Provider, cfg.Store.Backend)

	sys := &System{Config: cfg}

	sys.Sessions, sys.StoreErr = openSessionStore(ctx, cfg.Store)
	if sys.StoreErr != nil {
		logging.Get(logging.CategoryBoot).Error("Conversation store unavailable: %v", sys.StoreErr)
	}

	sys.Models = embedding.NewModelHolder(embeddingConfig(cfg.Embedding))
	if opts.WarmEmbeddings {
		if _, err := sys.Models.Get(); err != nil {
			logging.Get(logging.CategoryBoot).Warn("Embedding model failed to load: %v", err)
		}
	}
	if err := ensureParent(cfg.Retrieval.DatabasePath); err != nil {
		logging.Get(logging.CategoryBoot).Warn("Knowledge base directory: %v", err)
	}
	sys.Retrieval = retrieval.Start(cfg.Retrieval, sys.Models)

	deps := orchestrator.Deps{
		Retriever: sys.Retrieval,
		Notifier:  opts.Notifier,
	}
	// Interface fields stay nil rather than holding typed nil pointers.
	if sys.Sessions != nil {
		deps.Store = sys.Sessions
	}
	if !opts.WithoutGeneration {
		sys.Generation = generation.Start(cfg.Generation)
		deps.Generator = sys.Generation
	} else {
		logging.BootDebug("Generation actor disabled")
	}

	orchOpts := orchestrator.OptionsFrom(cfg)
	if path := cfg.Orchestrator.UsagePath; path != "" {
		tracker, err := usage.NewTracker(path)
		if err != nil {
			logging.Get(logging.CategoryBoot).Warn("Usage accounting disabled: %v", err)
		} else {
			sys.Usage = tracker
			orchOpts.Usage = tracker
		}
	}
	sys.Orchestrator = orchestrator.Start(deps, orchOpts)
	logging.Boot("Core ready")
	return sys, nil
}

func openSessionStore(ctx context.Context, cfg config.StoreConfig) (types.SessionStore, error) {
	switch cfg.Backend {
	case "redis":
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		s, err := store.NewRedisConversationStore(ctx, store.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case "", "sqlite":
		if err := ensureParent(cfg.DatabasePath); err != nil {
			return nil, err
		}
		s, err := store.NewSQLiteConversationStore(cfg.DatabasePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Backend)
	}
}

func embeddingConfig(c config.EmbeddingConfig) embedding.Config {
	return embedding.Config{
		Provider:       c.Provider,
		OllamaEndpoint: c.OllamaEndpoint,
		OllamaModel:    c.OllamaModel,
		GenAIAPIKey:    c.GenAIAPIKey,
		GenAIModel:     c.GenAIModel,
		TaskType:       c.TaskType,
		Dimensions:     c.Dimensions,
	}
}

func ensureParent(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}
