package generation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragcore/internal/config"
	"ragcore/internal/types"
)

func TestBreaker_OpensAfterMaxAttempts(t *testing.T) {
	b := breaker{max: 3, reset: time.Minute}
	now := time.Unix(1000, 0)

	for i := 0; i < 3; i++ {
		require.NoError(t, b.allow(now.Add(time.Duration(i)*time.Second)))
	}
	assert.Error(t, b.allow(now.Add(5*time.Second)))
	assert.Error(t, b.allow(now.Add(50*time.Second)))

	// More than the reset window after the last attempt closes the breaker again.
	require.NoError(t, b.allow(now.Add(2*time.Second+61*time.Second)))
	assert.Equal(t, 1, b.attempts)
}

func TestServerProcess_Args(t *testing.T) {
	cfg := config.DefaultConfig().Generation
	cfg.ModelPath = "/models/qwen.gguf"

	p := newServerProcess(cfg, "tok", nil)
	assert.Equal(t, []string{
		"-m", "/models/qwen.gguf",
		"--host", "127.0.0.1",
		"--port", "8080",
		"-c", "8192",
		"-np", "2",
		"-ngl", "99",
		"--api-key", "tok",
	}, p.args())

	assert.NotContains(t, newServerProcess(cfg, "", nil).args(), "--api-key")
}

func TestServerProcess_MissingBinaryIsConfigurationError(t *testing.T) {
	cfg := config.DefaultConfig().Generation
	cfg.ServerBinary = "ragcore-no-such-llama-server"

	p := newServerProcess(cfg, "", func(context.Context) error { return nil })
	err := p.ensure(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.KindConfiguration, types.KindOf(err))
	assert.False(t, p.running())
}

func TestFormatPrompt(t *testing.T) {
	text, sys := formatPrompt("chatml", "", "hi")
	assert.Equal(t, "<|im_start|>user\nhi<|im_end|>\n<|im_start|>assistant\n", text)
	assert.Empty(t, sys)

	text, sys = formatPrompt("raw", "rules", "hi")
	assert.Equal(t, "hi", text)
	assert.Equal(t, "rules", sys)
}

func TestLineLogger_BuffersPartialLines(t *testing.T) {
	l := &lineLogger{prefix: "test"}
	n, err := l.Write([]byte("first line\nsecond "))
	require.NoError(t, err)
	assert.Equal(t, 18, n)
	assert.Equal(t, "second ", l.buf.String())

	_, err = l.Write([]byte("half\n"))
	require.NoError(t, err)
	assert.Zero(t, l.buf.Len())
}
