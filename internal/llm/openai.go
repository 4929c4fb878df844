package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"forllm/internal/domain"
)

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint,
// including Ollama's /v1 surface and llama.cpp servers.
type OpenAIClient struct {
	client       *openai.Client
	chunkTimeout time.Duration
}

// NewOpenAIClient returns a streaming chat client. baseURL may be empty to
// use api.openai.com.
func NewOpenAIClient(apiKey, baseURL string, chunkTimeout time.Duration) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if chunkTimeout <= 0 {
		chunkTimeout = defaultChunkTimeout
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg), chunkTimeout: chunkTimeout}
}

// Generate implements domain.ModelClient. The prompt is sent as a single
// user message.
func (c *OpenAIClient) Generate(ctx context.Context, model, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.client.CreateChatCompletionStream(streamCtx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: prompt}},
		Stream:   true,
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: openai stream: %w", ErrTransport, err)
	}
	defer stream.Close()

	var stalled atomic.Bool
	idle := time.AfterFunc(c.chunkTimeout, func() {
		stalled.Store(true)
		cancel()
	})
	defer idle.Stop()

	var out strings.Builder
	finished := false
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if stalled.Load() {
				return "", fmt.Errorf("%w: openai stream idle for %s", ErrTransport, c.chunkTimeout)
			}
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("%w: openai recv: %w", ErrTransport, err)
		}
		idle.Reset(c.chunkTimeout)
		for _, choice := range resp.Choices {
			out.WriteString(choice.Delta.Content)
			if choice.FinishReason != "" {
				finished = true
			}
		}
	}
	if !finished && out.Len() == 0 {
		return "", ErrEmptyStream
	}
	return out.String(), nil
}

var _ domain.ModelClient = (*OpenAIClient)(nil)
