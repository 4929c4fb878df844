package tokenizer

import (
	"fmt"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"forllm/internal/domain"
)

// DefaultEncoding is the encoding every budget in the pipeline is measured with.
const DefaultEncoding = "cl100k_base"

// TikToken wraps tiktoken-go to implement domain.Tokenizer.
type TikToken struct {
	encoding *tiktoken.Tiktoken
}

// NewTikToken creates a new TikToken tokenizer with the given encoding name.
// Returns an error if the encoding is not recognized.
func NewTikToken(encodingName string) (*TikToken, error) {
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: unknown encoding %q: %w", encodingName, err)
	}
	return &TikToken{encoding: enc}, nil
}

// CountTokens returns the number of tokens in the given text.
func (t *TikToken) CountTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	return len(t.encoding.Encode(text, nil, nil)), nil
}

var _ domain.Tokenizer = (*TikToken)(nil)

// newEncoder builds the underlying tokenizer; tests replace it to simulate
// an unavailable encoding.
var newEncoder = func(encodingName string) (domain.Tokenizer, error) {
	t, err := NewTikToken(encodingName)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Option configures a Counter.
type Option func(*Counter)

// WithLogger sets the logger used to report a tokenizer outage.
func WithLogger(l *zap.Logger) Option {
	return func(c *Counter) {
		if l != nil {
			c.logger = l
		}
	}
}

// Counter is the pipeline's domain.TokenCounter. The encoder is built on
// first use. If that fails, Count returns 0 for every input and the failure
// is logged exactly once.
type Counter struct {
	encodingName string
	logger       *zap.Logger

	once    sync.Once
	enc     domain.Tokenizer
	initErr error
}

// NewCounter returns a Counter for encodingName (DefaultEncoding when empty).
func NewCounter(encodingName string, opts ...Option) *Counter {
	if encodingName == "" {
		encodingName = DefaultEncoding
	}
	c := &Counter{encodingName: encodingName, logger: zap.NewNop()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Count returns the number of tokens in text. Empty text counts 0.
func (c *Counter) Count(text string) int {
	c.once.Do(c.init)
	if c.initErr != nil || text == "" {
		return 0
	}
	n, err := c.enc.CountTokens(text)
	if err != nil {
		c.logger.Error("token count failed", zap.Error(err))
		return 0
	}
	return n
}

// Available reports whether the encoder initialized.
func (c *Counter) Available() bool {
	c.once.Do(c.init)
	return c.initErr == nil
}

func (c *Counter) init() {
	enc, err := newEncoder(c.encodingName)
	if err != nil {
		c.initErr = err
		c.logger.Error("tokenizer unavailable, token counts degrade to 0",
			zap.String("encoding", c.encodingName), zap.Error(err))
		return
	}
	c.enc = enc
}

var _ domain.TokenCounter = (*Counter)(nil)
