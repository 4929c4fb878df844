package llm

import (
	"fmt"

	"go.uber.org/zap"

	"forllm/internal/domain"
	"forllm/internal/retry"
)

// stubPrefix marks answers written by the stub responder.
const stubPrefix = "[offline] "

// Clients is the set of model capabilities the pipeline is wired with.
type Clients struct {
	// Direct calls the configured provider (with retries) and surfaces every
	// failure. Persona generation uses it.
	Direct domain.ModelClient
	// Responder is Direct behind the breaker with the stub as fallback.
	// Post replies use it.
	Responder *Breaker
	// Inspector reads model metadata. Nil when the provider has none.
	Inspector domain.ModelInspector
}

// NewClients builds the model clients for cfg. Provider may be "ollama",
// "openai" or "local"; empty means "ollama".
func NewClients(cfg *domain.Config, logger *zap.Logger) (*Clients, error) {
	if cfg == nil {
		return nil, fmt.Errorf("llm: nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ollama := NewOllamaClient(cfg.Ollama.BaseURL,
		WithTimeouts(cfg.Ollama.ConnectTimeout, cfg.Ollama.ChunkTimeout, cfg.Ollama.ShowTimeout),
		WithLogger(logger.Named("ollama")),
	)

	var base domain.ModelClient
	var inspector domain.ModelInspector
	switch cfg.Model.Provider {
	case "", "ollama":
		base, inspector = ollama, ollama
	case "openai":
		base = NewOpenAIClient(cfg.Model.OpenAIAPIKey, cfg.Model.OpenAIBaseURL, cfg.Ollama.ChunkTimeout)
	case "local":
		base = NewStubClient("Local: ")
	default:
		return nil, fmt.Errorf("unknown model provider %q (use: ollama, openai, local)", cfg.Model.Provider)
	}

	direct := wrapWithRetry(base, cfg.Retry, logger)
	responder := NewBreaker(direct, NewStubClient(stubPrefix),
		WithThreshold(cfg.Breaker.FailureThreshold, cfg.Breaker.Cooldown),
		WithBreakerLogger(logger.Named("breaker")),
	)
	return &Clients{Direct: direct, Responder: responder, Inspector: inspector}, nil
}

// wrapWithRetry decorates a client with retry logic when retries are enabled.
func wrapWithRetry(client domain.ModelClient, rc domain.RetryConfig, logger *zap.Logger) domain.ModelClient {
	if rc.MaxRetries <= 0 {
		return client
	}
	cfg := retry.FromDomain(rc)
	if err := cfg.Validate(); err != nil {
		logger.Warn("invalid retry config, using defaults", zap.Error(err))
		cfg = retry.DefaultConfig()
	}
	return retry.NewRetryableClient(client, cfg, logger.Named("retry"))
}
