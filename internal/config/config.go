package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"

	"ragcore/internal/types"
)

// Config holds all ragcore configuration.
type Config struct {
	Name string `yaml:"name"`

	Generation   GenerationConfig   `yaml:"generation"`
	Embedding    EmbeddingConfig    `yaml:"embedding"`
	Retrieval    RetrievalConfig    `yaml:"retrieval"`
	Store        StoreConfig        `yaml:"store"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Server       ServerConfig       `yaml:"server"`
	Watcher      WatcherConfig      `yaml:"watcher"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// StoreConfig selects and configures the conversation store.
type StoreConfig struct {
	Backend      string `yaml:"backend" env:"RAGCORE_STORE"` // sqlite, redis
	DatabasePath string `yaml:"database_path" env:"RAGCORE_DB"`

	RedisAddr     string `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"REDIS_DB"`
	RedisPrefix   string `yaml:"redis_prefix"`
}

// OrchestratorConfig configures conversation turns.
type OrchestratorConfig struct {
	ProcessTimeout string `yaml:"process_timeout"` // caller-side wait for process_user_message
	IngestTimeout  string `yaml:"ingest_timeout"`  // caller-side wait for ingest_content
	TokenBuffer    int    `yaml:"token_buffer"`
	SearchLimit    int    `yaml:"search_limit"`
	// SessionScopedSearch restricts context search to chunks tagged session:<id>.
	SessionScopedSearch bool `yaml:"session_scoped_search"`
	// HistoryTokenBudget trims the oldest history when positive.
	HistoryTokenBudget int    `yaml:"history_token_budget"`
	TokenEncoding      string `yaml:"token_encoding"`
	// AnalyzeIntent adds a blocking intent-summary completion to every turn.
	AnalyzeIntent bool `yaml:"analyze_intent"`
	// UsagePath persists per-session token usage when set.
	UsagePath string `yaml:"usage_path" env:"RAGCORE_USAGE_FILE"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr           string `yaml:"addr" env:"RAGCORE_ADDR"`
	MaxConnections int    `yaml:"max_connections"`
	ReadTimeout    string `yaml:"read_timeout"`
	WriteTimeout   string `yaml:"write_timeout"`
}

// WatcherConfig configures directory auto-ingest.
type WatcherConfig struct {
	Dir        string   `yaml:"dir" env:"RAGCORE_WATCH_DIR"`
	Extensions []string `yaml:"extensions"`
	Debounce   string   `yaml:"debounce"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name: "ragcore",

		Generation: GenerationConfig{
			Backend:            "llama",
			Launch:             true,
			ServerBinary:       "llama-server",
			ModelPath:          "models/model.gguf",
			Host:               "127.0.0.1",
			Port:               8080,
			ContextSize:        8192,
			Parallel:           2,
			GPULayers:          99,
			PromptTemplate:     "chatml",
			SystemPrompt:       "You are a helpful assistant.",
			NPredict:           2048,
			Temperature:        0.7,
			GracePeriod:        "2s",
			StartupTimeout:     "60s",
			CompletionTimeout:  "120s",
			StreamChunkTimeout: "30s",
			IdleTimeout:        "5m",
			MaxRestarts:        3,
			RestartReset:       "60s",
			OpenAIModel:        "gpt-4o-mini",
		},

		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "all-minilm",
			GenAIModel:     "gemini-embedding-001",
			TaskType:       "RETRIEVAL_QUERY",
			Dimensions:     384,
		},

		Retrieval: RetrievalConfig{
			DatabasePath:   "data/knowledge.db",
			Table:          "knowledge_base",
			CacheSize:      1000,
			MinChunkLength: 20,
		},

		Store: StoreConfig{
			Backend:      "sqlite",
			DatabasePath: "data/ragcore.db",
			RedisAddr:    "localhost:6379",
			RedisPrefix:  "ragcore",
		},

		Orchestrator: OrchestratorConfig{
			ProcessTimeout: "30s",
			IngestTimeout:  "60s",
			TokenBuffer:    100,
			SearchLimit:    5,
			TokenEncoding:  "cl100k_base",
		},

		Server: ServerConfig{
			Addr:           "127.0.0.1:8787",
			MaxConnections: 64,
			ReadTimeout:    "15s",
			WriteTimeout:   "300s",
		},

		Watcher: WatcherConfig{
			Extensions: []string{".txt", ".md"},
			Debounce:   "500ms",
		},

		Logging: LoggingConfig{
			Dir:   "data/logs",
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file and applies environment overrides.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides copies every set environment variable named by an `env`
// tag into the config. Unset variables leave the loaded value untouched.
func (c *Config) applyEnvOverrides() error {
	if err := cleanenv.ReadEnv(c); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}
	return nil
}

var (
	// ValidGenerationBackends lists the supported completion backends.
	ValidGenerationBackends = []string{"llama", "openai"}
	// ValidPromptTemplates lists the supported prompt wrappers.
	ValidPromptTemplates = []string{"chatml", "raw"}
	// ValidEmbeddingProviders lists the supported embedding engines.
	ValidEmbeddingProviders = []string{"ollama", "genai", "hash"}
	// ValidStoreBackends lists the supported conversation stores.
	ValidStoreBackends = []string{"sqlite", "redis"}
)

// Validate validates the configuration.
func (c *Config) Validate() error {
	g := c.Generation
	if !slices.Contains(ValidGenerationBackends, g.Backend) {
		return fmt.Errorf("invalid generation backend: %s (valid: %v)", g.Backend, ValidGenerationBackends)
	}
	if g.Backend == "llama" {
		if !slices.Contains(ValidPromptTemplates, g.PromptTemplate) {
			return fmt.Errorf("invalid prompt template: %s (valid: %v)", g.PromptTemplate, ValidPromptTemplates)
		}
		if g.Launch && g.ModelPath == "" {
			return fmt.Errorf("generation.model_path is required when launch is enabled (or set LLAMA_MODEL_PATH)")
		}
		if g.Port <= 0 || g.Port > 65535 {
			return fmt.Errorf("invalid generation port: %d", g.Port)
		}
	}
	if g.Backend == "openai" && g.OpenAIAPIKey == "" && g.OpenAIBaseURL == "" {
		return fmt.Errorf("openai backend needs OPENAI_API_KEY or generation.openai_base_url")
	}

	if !slices.Contains(ValidEmbeddingProviders, c.Embedding.Provider) {
		return fmt.Errorf("invalid embedding provider: %s (valid: %v)", c.Embedding.Provider, ValidEmbeddingProviders)
	}
	if c.Embedding.Provider == "genai" && c.Embedding.GenAIAPIKey == "" {
		return fmt.Errorf("genai embeddings need GEMINI_API_KEY")
	}
	if c.Embedding.Dimensions != types.EmbeddingDimensions {
		return fmt.Errorf("embedding.dimensions must be %d, got %d", types.EmbeddingDimensions, c.Embedding.Dimensions)
	}

	if c.Retrieval.CacheSize <= 0 {
		return fmt.Errorf("retrieval.cache_size must be positive")
	}
	if c.Retrieval.Table == "" {
		return fmt.Errorf("retrieval.table is required")
	}

	if !slices.Contains(ValidStoreBackends, c.Store.Backend) {
		return fmt.Errorf("invalid store backend: %s (valid: %v)", c.Store.Backend, ValidStoreBackends)
	}
	if c.Store.Backend == "redis" && c.Store.RedisAddr == "" {
		return fmt.Errorf("redis store needs store.redis_addr or REDIS_ADDR")
	}
	return nil
}
