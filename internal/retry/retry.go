package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"

	"forllm/internal/domain"
)

// Config controls how often a model call is retried before the breaker
// sees the failure.
type Config struct {
	MaxRetries     int           // 0 disables retries
	InitialBackoff time.Duration // delay before the first retry
	MaxBackoff     time.Duration // cap on any single delay
	Multiplier     float64       // growth factor between delays
}

// DefaultConfig keeps retries short so a dead endpoint reaches the stub
// responder quickly.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     2,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2.0,
	}
}

// FromDomain converts the configuration file section.
func FromDomain(rc domain.RetryConfig) Config {
	return Config{
		MaxRetries:     rc.MaxRetries,
		InitialBackoff: rc.InitialBackoff,
		MaxBackoff:     rc.MaxBackoff,
		Multiplier:     rc.Multiplier,
	}
}

// Validate checks that all Config fields are within acceptable ranges.
func (c Config) Validate() error {
	switch {
	case c.MaxRetries < 0:
		return errors.New("retry: MaxRetries must be >= 0")
	case c.InitialBackoff <= 0:
		return errors.New("retry: InitialBackoff must be > 0")
	case c.MaxBackoff <= 0:
		return errors.New("retry: MaxBackoff must be > 0")
	case c.Multiplier < 1.0:
		return errors.New("retry: Multiplier must be >= 1.0")
	}
	return nil
}

// retryableStatusCodes are HTTP status codes that indicate a transient failure.
var retryableStatusCodes = []string{"429", "500", "502", "503", "504"}

// IsRetryable returns true when err represents a transient failure that may
// succeed on retry. Context errors are never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := err.Error()
	for _, code := range retryableStatusCodes {
		if strings.Contains(msg, code) {
			return true
		}
	}
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "EOF")
}

// RetryableClient wraps a ModelClient with retry-on-transient-error logic.
type RetryableClient struct {
	inner     domain.ModelClient
	config    Config
	logger    *zap.Logger
	sleepFunc func(time.Duration) // injectable for testing
}

// NewRetryableClient returns a decorator that retries Generate calls on
// transient errors. inner must not be nil.
func NewRetryableClient(inner domain.ModelClient, cfg Config, logger *zap.Logger) *RetryableClient {
	if inner == nil {
		panic("retry: inner client must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryableClient{
		inner:     inner,
		config:    cfg,
		logger:    logger,
		sleepFunc: time.Sleep,
	}
}

// Generate calls the inner client, backing off exponentially between
// attempts. The last error is wrapped so callers can still match it.
func (c *RetryableClient) Generate(ctx context.Context, model, prompt string) (string, error) {
	var lastErr error
	backoff := c.config.InitialBackoff

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		result, err := c.inner.Generate(ctx, model, prompt)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return "", err
		}
		if attempt == c.config.MaxRetries {
			break
		}

		c.logger.Debug("retrying model call",
			zap.String("model", model), zap.Int("attempt", attempt+1), zap.Duration("backoff", backoff), zap.Error(err))
		c.sleepFunc(backoff)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		next := time.Duration(float64(backoff) * c.config.Multiplier)
		if next > c.config.MaxBackoff {
			next = c.config.MaxBackoff
		}
		backoff = next
	}

	return "", fmt.Errorf("retries exhausted after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

var _ domain.ModelClient = (*RetryableClient)(nil)
