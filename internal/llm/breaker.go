package llm

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"forllm/internal/domain"
)

// Breaker states reported by State.
const (
	BreakerClosed   = "closed"
	BreakerOpen     = "open"
	BreakerHalfOpen = "half-open"
)

// Breaker routes Generate to a primary client and answers from a fallback
// client when the primary fails at the transport level. After threshold
// consecutive transport failures it stops calling the primary for the
// cooldown period. Protocol and model errors are returned unchanged.
type Breaker struct {
	primary   domain.ModelClient
	fallback  domain.ModelClient
	threshold int
	cooldown  time.Duration
	now       func() time.Time
	logger    *zap.Logger

	mu        sync.Mutex
	failures  int
	openUntil time.Time
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// WithBreakerLogger sets the logger for fallback decisions.
func WithBreakerLogger(l *zap.Logger) BreakerOption {
	return func(b *Breaker) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithThreshold sets the failure count that opens the breaker and how long
// it stays open.
func WithThreshold(failures int, cooldown time.Duration) BreakerOption {
	return func(b *Breaker) {
		if failures > 0 {
			b.threshold = failures
		}
		if cooldown > 0 {
			b.cooldown = cooldown
		}
	}
}

// NewBreaker wraps primary with fallback. Both must be non-nil.
func NewBreaker(primary, fallback domain.ModelClient, opts ...BreakerOption) *Breaker {
	if primary == nil {
		panic("llm: breaker primary must not be nil")
	}
	if fallback == nil {
		panic("llm: breaker fallback must not be nil")
	}
	b := &Breaker{
		primary:   primary,
		fallback:  fallback,
		threshold: 3,
		cooldown:  time.Minute,
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Generate implements domain.ModelClient.
func (b *Breaker) Generate(ctx context.Context, model, prompt string) (string, error) {
	if b.State() == BreakerOpen {
		b.logger.Info("breaker open, answering with fallback", zap.String("model", model))
		return b.fallback.Generate(ctx, model, prompt)
	}

	answer, err := b.primary.Generate(ctx, model, prompt)
	if err == nil {
		b.mu.Lock()
		b.failures = 0
		b.openUntil = time.Time{}
		b.mu.Unlock()
		return answer, nil
	}
	if !IsTransport(err) {
		return "", err
	}

	b.mu.Lock()
	b.failures++
	if b.failures >= b.threshold {
		b.openUntil = b.now().Add(b.cooldown)
	}
	failures := b.failures
	b.mu.Unlock()

	b.logger.Warn("model endpoint unavailable, answering with fallback",
		zap.String("model", model), zap.Int("consecutive_failures", failures), zap.Error(err))
	return b.fallback.Generate(ctx, model, prompt)
}

// State reports closed, open or half-open. Half-open means the cooldown
// elapsed and the next call probes the primary.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures < b.threshold {
		return BreakerClosed
	}
	if b.now().Before(b.openUntil) {
		return BreakerOpen
	}
	return BreakerHalfOpen
}

var _ domain.ModelClient = (*Breaker)(nil)
