// Package settings reads the operator-tunable settings rows. Every read is
// defensive: a missing, malformed or out-of-range value yields the
// compiled-in default and never an error.
package settings

import (
	"context"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"forllm/internal/domain"
)

// Setting keys shared with the forum's settings screen.
const (
	KeySelectedModel            = "selectedModel"
	KeyDefaultContextWindow     = "default_llm_context_window"
	KeyMaxAmbientPosts          = "ch_max_ambient_posts"
	KeyMaxPostsPerSiblingBranch = "ch_max_posts_per_sibling_branch"
	KeyPrimaryBudgetRatio       = "ch_primary_history_budget_ratio"
	KeyGlobalDefaultPersona     = "globalDefaultPersonaId"
)

// FallbackPersonaID is the built-in persona seeded with every database.
const FallbackPersonaID = domain.FallbackPersonaID

// Defaults are written when a database is first created.
func Defaults() map[string]string {
	return map[string]string{
		KeySelectedModel:            "llama3",
		KeyDefaultContextWindow:     "4096",
		KeyMaxAmbientPosts:          "5",
		KeyMaxPostsPerSiblingBranch: "2",
		KeyPrimaryBudgetRatio:       "0.7",
		KeyGlobalDefaultPersona:     "1",
	}
}

// Reader wraps a SettingsStore with typed accessors.
type Reader struct {
	store  domain.SettingsStore
	logger *zap.Logger
}

// NewReader returns a Reader. store must not be nil.
func NewReader(store domain.SettingsStore, logger *zap.Logger) *Reader {
	if store == nil {
		panic("settings: store must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{store: store, logger: logger}
}

func (r *Reader) raw(ctx context.Context, key string) (string, bool) {
	v, found, err := r.store.GetSetting(ctx, key)
	if err != nil {
		r.logger.Warn("settings read failed, using default", zap.String("key", key), zap.Error(err))
		return "", false
	}
	v = strings.TrimSpace(v)
	if !found || v == "" {
		return "", false
	}
	return v, true
}

// String returns the setting or def.
func (r *Reader) String(ctx context.Context, key, def string) string {
	if v, ok := r.raw(ctx, key); ok {
		return v
	}
	return def
}

// NonNegativeInt returns the setting when it parses as an int >= 0.
func (r *Reader) NonNegativeInt(ctx context.Context, key string, def int) int {
	v, ok := r.raw(ctx, key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		r.logger.Warn("ignoring invalid integer setting", zap.String("key", key), zap.String("value", v))
		return def
	}
	return n
}

// Ratio returns the setting when it parses as a float in [0, 1].
func (r *Reader) Ratio(ctx context.Context, key string, def float64) float64 {
	v, ok := r.raw(ctx, key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || f < 0 || f > 1 {
		r.logger.Warn("ignoring invalid ratio setting", zap.String("key", key), zap.String("value", v))
		return def
	}
	return f
}

// SelectedModel returns the operator's chosen model or def.
func (r *Reader) SelectedModel(ctx context.Context, def string) string {
	return r.String(ctx, KeySelectedModel, def)
}

// DefaultContextWindow returns the configured fallback window. ok is false
// when it is absent or not a positive integer.
func (r *Reader) DefaultContextWindow(ctx context.Context) (window int, ok bool) {
	n := r.NonNegativeInt(ctx, KeyDefaultContextWindow, 0)
	return n, n > 0
}

// ChatHistory returns the history knobs with per-field defaults.
func (r *Reader) ChatHistory(ctx context.Context) domain.ChatHistorySettings {
	d := domain.DefaultChatHistorySettings()
	return domain.ChatHistorySettings{
		MaxPostsPerSiblingBranch: r.NonNegativeInt(ctx, KeyMaxPostsPerSiblingBranch, d.MaxPostsPerSiblingBranch),
		MaxAmbientPosts:          r.NonNegativeInt(ctx, KeyMaxAmbientPosts, d.MaxAmbientPosts),
		PrimaryBudgetRatio:       r.Ratio(ctx, KeyPrimaryBudgetRatio, d.PrimaryBudgetRatio),
	}
}

// GlobalDefaultPersonaID returns the default persona, or FallbackPersonaID.
func (r *Reader) GlobalDefaultPersonaID(ctx context.Context) int64 {
	v, ok := r.raw(ctx, KeyGlobalDefaultPersona)
	if !ok {
		return FallbackPersonaID
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return FallbackPersonaID
	}
	return id
}
