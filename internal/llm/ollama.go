package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"forllm/internal/domain"
)

const (
	// DefaultOllamaURL is where a local Ollama listens.
	DefaultOllamaURL = "http://localhost:11434"

	defaultConnectTimeout = 300 * time.Second
	defaultChunkTimeout   = 300 * time.Second
	defaultShowTimeout    = 10 * time.Second
)

// jsonMarshal encodes request bodies; tests may replace it to force errors.
var jsonMarshal = json.Marshal

// OllamaClient talks to the Ollama HTTP API. Generate consumes the
// newline-delimited JSON stream; ShowModel returns model metadata.
type OllamaClient struct {
	baseURL        string
	client         *http.Client
	connectTimeout time.Duration
	chunkTimeout   time.Duration
	showTimeout    time.Duration
	logger         *zap.Logger
}

// OllamaOption configures an OllamaClient.
type OllamaOption func(*OllamaClient)

// WithTimeouts sets the initial-connection, inter-chunk and metadata
// timeouts. Zero values keep the defaults.
func WithTimeouts(connect, chunk, show time.Duration) OllamaOption {
	return func(c *OllamaClient) {
		if connect > 0 {
			c.connectTimeout = connect
		}
		if chunk > 0 {
			c.chunkTimeout = chunk
		}
		if show > 0 {
			c.showTimeout = show
		}
	}
}

// WithLogger sets the logger for stream warnings.
func WithLogger(l *zap.Logger) OllamaOption {
	return func(c *OllamaClient) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithHTTPClient replaces the transport built from the connect timeout.
func WithHTTPClient(hc *http.Client) OllamaOption {
	return func(c *OllamaClient) {
		if hc != nil {
			c.client = hc
		}
	}
}

// NewOllamaClient returns a client for the Ollama server at baseURL
// (DefaultOllamaURL when empty).
func NewOllamaClient(baseURL string, opts ...OllamaOption) *OllamaClient {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	c := &OllamaClient{
		baseURL:        strings.TrimRight(baseURL, "/"),
		connectTimeout: defaultConnectTimeout,
		chunkTimeout:   defaultChunkTimeout,
		showTimeout:    defaultShowTimeout,
		logger:         zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.client == nil {
		c.client = &http.Client{Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: c.connectTimeout}).DialContext,
			ResponseHeaderTimeout: c.connectTimeout,
		}}
	}
	return c
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// Generate implements domain.ModelClient. Non-JSON lines are skipped. A
// stream that ends without done is accepted if it produced content.
func (c *OllamaClient) Generate(ctx context.Context, model, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	raw, err := jsonMarshal(generateRequest{Model: model, Prompt: prompt, Stream: true})
	if err != nil {
		return "", fmt.Errorf("ollama marshal: %w", err)
	}

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: ollama connect: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: ollama api: %s %s", ErrTransport, resp.Status, strings.TrimSpace(string(body)))
	}

	var stalled atomic.Bool
	idle := time.AfterFunc(c.chunkTimeout, func() {
		stalled.Store(true)
		cancel()
	})
	defer idle.Stop()

	var out strings.Builder
	done := false
	reader := bufio.NewReader(resp.Body)
	for !done {
		line, readErr := reader.ReadBytes('\n')
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			idle.Reset(c.chunkTimeout)
			var chunk generateChunk
			if err := json.Unmarshal(trimmed, &chunk); err != nil {
				c.logger.Warn("skipping non-JSON stream line", zap.String("model", model), zap.ByteString("line", trimmed))
			} else if chunk.Error != "" {
				return "", fmt.Errorf("ollama stream: %s", chunk.Error)
			} else {
				out.WriteString(chunk.Response)
				done = chunk.Done
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			if stalled.Load() {
				return "", fmt.Errorf("%w: ollama stream idle for %s", ErrTransport, c.chunkTimeout)
			}
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("%w: ollama read: %w", ErrTransport, readErr)
		}
	}

	if !done {
		if out.Len() == 0 {
			return "", ErrEmptyStream
		}
		c.logger.Warn("stream ended without done flag, keeping partial content",
			zap.String("model", model), zap.Int("chars", out.Len()))
	}
	return out.String(), nil
}

type showRequest struct {
	Name  string `json:"name"`
	Model string `json:"model"`
}

// ShowModel implements domain.ModelInspector via POST /api/show.
func (c *OllamaClient) ShowModel(ctx context.Context, model string) (map[string]any, error) {
	raw, err := jsonMarshal(showRequest{Name: model, Model: model})
	if err != nil {
		return nil, fmt.Errorf("ollama marshal: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.showTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/show", bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: ollama show: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, model)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: ollama show: %s", ErrTransport, resp.Status)
	}
	var details map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&details); err != nil {
		return nil, fmt.Errorf("ollama show decode: %w", err)
	}
	return details, nil
}

var (
	_ domain.ModelClient    = (*OllamaClient)(nil)
	_ domain.ModelInspector = (*OllamaClient)(nil)
)
