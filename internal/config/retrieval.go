package config

// EmbeddingConfig configures the embedding engine used by the retrieval actor.
type EmbeddingConfig struct {
	// Provider: "ollama", "genai" or "hash"
	Provider string `yaml:"provider" env:"RAGCORE_EMBEDDING_PROVIDER"`

	OllamaEndpoint string `yaml:"ollama_endpoint" env:"OLLAMA_HOST"`
	OllamaModel    string `yaml:"ollama_model" env:"OLLAMA_EMBED_MODEL"`

	GenAIAPIKey string `yaml:"genai_api_key" env:"GEMINI_API_KEY"`
	GenAIModel  string `yaml:"genai_model"`
	// TaskType for GenAI: "SEMANTIC_SIMILARITY", "RETRIEVAL_QUERY", "RETRIEVAL_DOCUMENT"
	TaskType string `yaml:"task_type"`

	Dimensions int `yaml:"dimensions"`
}

// RetrievalConfig configures the knowledge base.
type RetrievalConfig struct {
	DatabasePath string `yaml:"database_path" env:"RAGCORE_VECTOR_DB"`
	Table        string `yaml:"table"`
	CacheSize    int    `yaml:"cache_size"`
	// CachePath persists query embeddings across restarts when set.
	CachePath      string `yaml:"cache_path" env:"RAGCORE_QUERY_CACHE"`
	MinChunkLength int    `yaml:"min_chunk_length"`
}
