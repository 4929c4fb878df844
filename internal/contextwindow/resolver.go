package contextwindow

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"forllm/internal/domain"
	"forllm/internal/settings"
)

// HardcodedDefaultContextWindow is the last-resort window when neither the
// model nor the operator supplied one.
const HardcodedDefaultContextWindow = 2048

// Source names where a resolved window came from.
type Source string

const (
	SourceModel     Source = "model"
	SourceSettings  Source = "settings"
	SourceHardcoded Source = "hardcoded"
)

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the resolver's logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock overrides the timestamp source for cache writes.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// Resolver finds a model's context window through the cache, then the
// model endpoint. Cache entries, including cached unknowns, are
// authoritative until a forced refresh rewrites them.
type Resolver struct {
	cache     domain.ContextCache
	inspector domain.ModelInspector
	settings  *settings.Reader
	logger    *zap.Logger
	now       func() time.Time
}

// NewResolver returns a Resolver. cache and reader must be non-nil;
// inspector may be nil when the provider publishes no metadata.
func NewResolver(cache domain.ContextCache, inspector domain.ModelInspector, reader *settings.Reader, opts ...Option) *Resolver {
	if cache == nil {
		panic("contextwindow: cache must not be nil")
	}
	if reader == nil {
		panic("contextwindow: settings reader must not be nil")
	}
	r := &Resolver{
		cache:     cache,
		inspector: inspector,
		settings:  reader,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve returns the model's declared context window. ok is false when it
// is unknown.
func (r *Resolver) Resolve(ctx context.Context, model string, forceRefresh bool) (window int, ok bool) {
	if model == "" {
		return 0, false
	}
	if !forceRefresh {
		cached, found, err := r.cache.GetContextWindow(ctx, model)
		if err != nil {
			r.logger.Warn("context cache read failed", zap.String("model", model), zap.Error(err))
		} else if found {
			if cached == nil {
				return 0, false
			}
			return *cached, true
		}
	}

	var result *int
	if r.inspector != nil {
		details, err := r.inspector.ShowModel(ctx, model)
		switch {
		case err != nil && ctx.Err() != nil:
			return 0, false
		case err != nil:
			r.logger.Warn("model metadata unavailable", zap.String("model", model), zap.Error(err))
		default:
			if n, parsed := ParseContextWindow(details); parsed {
				result = &n
			} else {
				r.logger.Warn("model metadata declares no context length", zap.String("model", model))
			}
		}
	}

	if err := r.cache.SetContextWindow(ctx, model, result, r.now().UTC()); err != nil {
		r.logger.Warn("context cache write failed", zap.String("model", model), zap.Error(err))
	}
	if result == nil {
		return 0, false
	}
	return *result, true
}

// ResolveWithFallback always returns a positive window: the model's own,
// else the operator default setting, else HardcodedDefaultContextWindow.
func (r *Resolver) ResolveWithFallback(ctx context.Context, model string) (int, Source) {
	if n, ok := r.Resolve(ctx, model, false); ok && n > 0 {
		return n, SourceModel
	}
	if n, ok := r.settings.DefaultContextWindow(ctx); ok {
		return n, SourceSettings
	}
	return HardcodedDefaultContextWindow, SourceHardcoded
}

// ErrUnknown is returned by callers that need to surface an unresolved
// window, such as the CLI.
var ErrUnknown = errors.New("contextwindow: context window unknown")
