package config

import (
	"fmt"
	"time"
)

// GenerationConfig configures the inference backend.
type GenerationConfig struct {
	// Backend selects llama (local llama-server) or openai (any OpenAI-compatible API).
	Backend string `yaml:"backend" env:"RAGCORE_GENERATION_BACKEND"`

	// Launch starts llama-server as a child process. When false the actor attaches
	// to a server already listening on Host:Port.
	Launch       bool   `yaml:"launch"`
	ServerBinary string `yaml:"server_binary" env:"LLAMA_SERVER_BIN"`
	ModelPath    string `yaml:"model_path" env:"LLAMA_MODEL_PATH"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port" env:"LLAMA_PORT"`
	ContextSize  int    `yaml:"context_size"`
	Parallel     int    `yaml:"parallel"`
	GPULayers    int    `yaml:"gpu_layers"`
	AuthToken    string `yaml:"auth_token" env:"LLAMA_AUTH_TOKEN"`

	// PromptTemplate is chatml (system prompt folded into the prompt) or raw
	// (system prompt sent as its own field).
	PromptTemplate string  `yaml:"prompt_template"`
	SystemPrompt   string  `yaml:"system_prompt"`
	NPredict       int     `yaml:"n_predict"`
	Temperature    float64 `yaml:"temperature"`

	GracePeriod        string `yaml:"grace_period"`
	StartupTimeout     string `yaml:"startup_timeout"`
	CompletionTimeout  string `yaml:"completion_timeout"`
	StreamChunkTimeout string `yaml:"stream_chunk_timeout"`

	// IdleTimeout stops a launched server after this long without requests;
	// the next request starts it again. "0" or "off" keeps it running.
	IdleTimeout string `yaml:"idle_timeout"`

	// Restart circuit breaker for an exited server process.
	MaxRestarts  int    `yaml:"max_restarts"`
	RestartReset string `yaml:"restart_reset"`

	OpenAIBaseURL string `yaml:"openai_base_url" env:"OPENAI_BASE_URL"`
	OpenAIAPIKey  string `yaml:"openai_api_key" env:"OPENAI_API_KEY"`
	OpenAIModel   string `yaml:"openai_model" env:"OPENAI_MODEL"`
}

// Endpoint returns the base URL of the inference server.
func (g GenerationConfig) Endpoint() string {
	return fmt.Sprintf("http://%s:%d", g.Host, g.Port)
}

// GetGracePeriod returns the post-launch wait before the first health check.
func (g GenerationConfig) GetGracePeriod() time.Duration {
	return parseDuration(g.GracePeriod, 2*time.Second)
}

// GetStartupTimeout returns how long to wait for the server to report healthy.
func (g GenerationConfig) GetStartupTimeout() time.Duration {
	return parseDuration(g.StartupTimeout, 60*time.Second)
}

// GetCompletionTimeout returns the per-request completion timeout.
func (g GenerationConfig) GetCompletionTimeout() time.Duration {
	return parseDuration(g.CompletionTimeout, 120*time.Second)
}

// GetStreamChunkTimeout returns the longest gap tolerated between stream events.
func (g GenerationConfig) GetStreamChunkTimeout() time.Duration {
	return parseDuration(g.StreamChunkTimeout, 30*time.Second)
}

// GetIdleTimeout returns the idle shutdown delay, zero when disabled.
func (g GenerationConfig) GetIdleTimeout() time.Duration {
	switch g.IdleTimeout {
	case "0", "off", "never":
		return 0
	}
	return parseDuration(g.IdleTimeout, 5*time.Minute)
}

// GetRestartReset returns the window after which the restart counter resets.
func (g GenerationConfig) GetRestartReset() time.Duration {
	return parseDuration(g.RestartReset, 60*time.Second)
}
