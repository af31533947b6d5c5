package generation

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"ragcore/internal/config"
	"ragcore/internal/logging"
	"ragcore/internal/types"
)

// Backend performs completions against one inference API.
type Backend interface {
	Complete(ctx context.Context, req types.GenerateRequest) (string, error)
	// Stream forwards fragments into sink and returns when the upstream stream
	// ends or the consumer closes sink.
	Stream(ctx context.Context, req types.GenerateRequest, sink *types.TokenSink) error
	Name() string
}

// =============================================================================
// LLAMA-SERVER CLIENT
// =============================================================================

// LlamaClient talks to llama-server's native /completion endpoint.
type LlamaClient struct {
	baseURL           string
	authToken         string
	template          string
	systemPrompt      string
	nPredict          int
	temperature       float64
	completionTimeout time.Duration
	chunkTimeout      time.Duration
	httpClient        *http.Client
}

// NewLlamaClient builds a client for the server described by cfg. authToken is
// sent as a bearer token when non-empty.
func NewLlamaClient(cfg config.GenerationConfig, authToken string) *LlamaClient {
	nPredict := cfg.NPredict
	if nPredict <= 0 {
		nPredict = 2048
	}
	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = 0.7
	}
	return &LlamaClient{
		baseURL:           strings.TrimRight(cfg.Endpoint(), "/"),
		authToken:         authToken,
		template:          cfg.PromptTemplate,
		systemPrompt:      cfg.SystemPrompt,
		nPredict:          nPredict,
		temperature:       temperature,
		completionTimeout: cfg.GetCompletionTimeout(),
		chunkTimeout:      cfg.GetStreamChunkTimeout(),
		// No client-wide timeout: streams are bounded by the chunk timer instead.
		httpClient: &http.Client{},
	}
}

// Name identifies the backend in logs.
func (c *LlamaClient) Name() string {
	return "llama:" + c.baseURL
}

// CloseIdleConnections releases pooled keep-alive connections.
func (c *LlamaClient) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

type completionRequest struct {
	Prompt        string   `json:"prompt"`
	Stream        bool     `json:"stream"`
	NPredict      int      `json:"n_predict"`
	TopK          int      `json:"top_k"`
	TopP          float64  `json:"top_p"`
	MinP          float64  `json:"min_p"`
	RepeatPenalty float64  `json:"repeat_penalty"`
	RepeatLastN   int      `json:"repeat_last_n"`
	Stop          []string `json:"stop,omitempty"`
	Temperature   float64  `json:"temperature"`
	SystemPrompt  string   `json:"system_prompt,omitempty"`
}

type completionResponse struct {
	Content string `json:"content"`
}

// streamEvent covers both llama-server's native events and OpenAI-style deltas.
type streamEvent struct {
	Content *string `json:"content"`
	Stop    bool    `json:"stop"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (e streamEvent) text() string {
	if e.Content != nil {
		return *e.Content
	}
	if len(e.Choices) > 0 {
		return e.Choices[0].Delta.Content
	}
	return ""
}

func (c *LlamaClient) buildRequest(req types.GenerateRequest, stream bool) completionRequest {
	system := req.SystemPrompt
	if system == "" {
		system = c.systemPrompt
	}
	prompt, systemField := formatPrompt(c.template, system, req.Prompt)

	temperature := c.temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	return completionRequest{
		Prompt:        prompt,
		Stream:        stream,
		NPredict:      c.nPredict,
		TopK:          40,
		TopP:          0.95,
		MinP:          0.05,
		RepeatPenalty: 1.1,
		RepeatLastN:   64,
		Stop:          chatMLStop,
		Temperature:   temperature,
		SystemPrompt:  systemField,
	}
}

func (c *LlamaClient) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("completion request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("completion request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return resp, nil
}

// Complete runs a blocking completion and returns the generated text, or ""
// when the response carries none.
func (c *LlamaClient) Complete(ctx context.Context, req types.GenerateRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.completionTimeout)
	defer cancel()

	logging.GenerationDebug("Completion: prompt_len=%d", len(req.Prompt))
	resp, err := c.post(ctx, "/completion", c.buildRequest(req, false))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode completion: %w", err)
	}
	return out.Content, nil
}

// Stream runs a streaming completion. Each "data: " line is decoded and its
// text forwarded to sink; "[DONE]" or a stop event ends the stream. A line that
// fails to decode is forwarded as a Token carrying the error and the stream
// continues. A gap longer than the chunk timeout aborts the request.
func (c *LlamaClient) Stream(ctx context.Context, req types.GenerateRequest, sink *types.TokenSink) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logging.GenerationDebug("Stream: prompt_len=%d", len(req.Prompt))

	headerTimer := time.AfterFunc(c.completionTimeout, cancel)
	resp, err := c.post(ctx, "/completion", c.buildRequest(req, true))
	headerTimer.Stop()
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var idleExpired atomic.Bool
	idle := time.AfterFunc(c.chunkTimeout, func() {
		idleExpired.Store(true)
		cancel()
	})
	defer idle.Stop()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	tokens := 0
	for scanner.Scan() {
		idle.Reset(c.chunkTimeout)

		data, ok := strings.CutPrefix(scanner.Text(), "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			break
		}

		var ev streamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			logging.GenerationWarn("Undecodable stream event: %v", err)
			if !sink.Send(types.Token{Err: fmt.Errorf("failed to decode stream event: %w", err)}) {
				return nil
			}
			continue
		}
		if text := ev.text(); text != "" {
			if !sink.Send(types.Token{Text: text}) {
				logging.GenerationDebug("Stream consumer closed after %d tokens", tokens)
				return nil
			}
			tokens++
		}
		if ev.Stop {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		if idleExpired.Load() {
			return fmt.Errorf("stream chunk timeout: no data for %s", c.chunkTimeout)
		}
		return fmt.Errorf("stream read failed: %w", err)
	}
	logging.GenerationDebug("Stream finished: tokens=%d", tokens)
	return nil
}

// Health reports nil once the server answers /health with 200.
func (c *LlamaClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}
