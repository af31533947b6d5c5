package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvOverrides(t *testing.T) {
	t.Run("set variables override file values", func(t *testing.T) {
		t.Setenv("LLAMA_MODEL_PATH", "/env/model.gguf")
		t.Setenv("LLAMA_PORT", "8181")
		t.Setenv("LLAMA_AUTH_TOKEN", "secret")
		t.Setenv("RAGCORE_DB", "/env/chat.db")

		cfg := DefaultConfig()
		require.NoError(t, cfg.applyEnvOverrides())

		assert.Equal(t, "/env/model.gguf", cfg.Generation.ModelPath)
		assert.Equal(t, 8181, cfg.Generation.Port)
		assert.Equal(t, "secret", cfg.Generation.AuthToken)
		assert.Equal(t, "/env/chat.db", cfg.Store.DatabasePath)
	})

	t.Run("unset variables keep loaded values", func(t *testing.T) {
		t.Setenv("OLLAMA_HOST", "")
		os.Unsetenv("OLLAMA_HOST")

		cfg := DefaultConfig()
		cfg.Embedding.OllamaEndpoint = "http://gpu-box:11434"
		require.NoError(t, cfg.applyEnvOverrides())

		assert.Equal(t, "http://gpu-box:11434", cfg.Embedding.OllamaEndpoint)
	})

	t.Run("provider keys", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "g-key")
		t.Setenv("OPENAI_API_KEY", "o-key")
		t.Setenv("RAGCORE_EMBEDDING_PROVIDER", "genai")

		cfg := DefaultConfig()
		require.NoError(t, cfg.applyEnvOverrides())

		assert.Equal(t, "g-key", cfg.Embedding.GenAIAPIKey)
		assert.Equal(t, "o-key", cfg.Generation.OpenAIAPIKey)
		assert.Equal(t, "genai", cfg.Embedding.Provider)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("redis address", func(t *testing.T) {
		t.Setenv("RAGCORE_STORE", "redis")
		t.Setenv("REDIS_ADDR", "cache:6380")

		cfg := DefaultConfig()
		require.NoError(t, cfg.applyEnvOverrides())

		assert.Equal(t, "redis", cfg.Store.Backend)
		assert.Equal(t, "cache:6380", cfg.Store.RedisAddr)
	})

	t.Run("malformed number fails", func(t *testing.T) {
		t.Setenv("LLAMA_PORT", "eighty")

		cfg := DefaultConfig()
		assert.Error(t, cfg.applyEnvOverrides())
	})
}
