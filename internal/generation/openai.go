package generation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sashabaranov/go-openai"

	"ragcore/internal/config"
	"ragcore/internal/logging"
	"ragcore/internal/types"
)

// =============================================================================
// OPENAI-COMPATIBLE BACKEND
// =============================================================================

// OpenAIBackend serves completions from any OpenAI-compatible chat API,
// including llama-server's /v1 routes and hosted providers.
type OpenAIBackend struct {
	client            *openai.Client
	model             string
	systemPrompt      string
	maxTokens         int
	temperature       float32
	completionTimeout time.Duration
}

// NewOpenAIBackend builds a backend from cfg.
func NewOpenAIBackend(cfg config.GenerationConfig) *OpenAIBackend {
	clientConfig := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		clientConfig.BaseURL = cfg.OpenAIBaseURL
	}
	temperature := float32(cfg.Temperature)
	if temperature <= 0 {
		temperature = 0.7
	}
	return &OpenAIBackend{
		client:            openai.NewClientWithConfig(clientConfig),
		model:             cfg.OpenAIModel,
		systemPrompt:      cfg.SystemPrompt,
		maxTokens:         cfg.NPredict,
		temperature:       temperature,
		completionTimeout: cfg.GetCompletionTimeout(),
	}
}

// Name identifies the backend in logs.
func (b *OpenAIBackend) Name() string {
	return "openai:" + b.model
}

func (b *OpenAIBackend) buildRequest(req types.GenerateRequest, stream bool) openai.ChatCompletionRequest {
	system := req.SystemPrompt
	if system == "" {
		system = b.systemPrompt
	}
	var messages []openai.ChatCompletionMessage
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	temperature := b.temperature
	if req.Temperature != nil {
		temperature = float32(*req.Temperature)
	}
	return openai.ChatCompletionRequest{
		Model:       b.model,
		Messages:    messages,
		MaxTokens:   b.maxTokens,
		Temperature: temperature,
		N:           1,
		Stream:      stream,
	}
}

// Complete runs a blocking chat completion.
func (b *OpenAIBackend) Complete(ctx context.Context, req types.GenerateRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.completionTimeout)
	defer cancel()

	resp, err := b.client.CreateChatCompletion(ctx, b.buildRequest(req, false))
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream runs a streaming chat completion and forwards each delta to sink.
func (b *OpenAIBackend) Stream(ctx context.Context, req types.GenerateRequest, sink *types.TokenSink) error {
	stream, err := b.client.CreateChatCompletionStream(ctx, b.buildRequest(req, true))
	if err != nil {
		return fmt.Errorf("chat completion stream failed: %w", err)
	}
	defer stream.Close()

	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("stream error: %w", err)
		}
		if len(response.Choices) == 0 {
			continue
		}
		if delta := response.Choices[0].Delta.Content; delta != "" {
			if !sink.Send(types.Token{Text: delta}) {
				logging.GenerationDebug("Stream consumer closed, stopping %s stream", b.Name())
				return nil
			}
		}
	}
}
