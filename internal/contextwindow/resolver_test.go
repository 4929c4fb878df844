package contextwindow

import (
	"context"
	"errors"
	"testing"
	"time"

	"forllm/internal/domain"
	"forllm/internal/settings"
)

// =============================================================================
// Fakes
// =============================================================================

type cacheEntry struct {
	window    *int
	checkedAt time.Time
}

type fakeCache struct {
	entries  map[string]cacheEntry
	writes   int
	readErr  error
	writeErr error
}

func newFakeCache() *fakeCache { return &fakeCache{entries: map[string]cacheEntry{}} }

func (c *fakeCache) GetContextWindow(ctx context.Context, model string) (*int, bool, error) {
	if c.readErr != nil {
		return nil, false, c.readErr
	}
	e, ok := c.entries[model]
	return e.window, ok, nil
}

func (c *fakeCache) SetContextWindow(ctx context.Context, model string, window *int, checkedAt time.Time) error {
	c.writes++
	if c.writeErr != nil {
		return c.writeErr
	}
	c.entries[model] = cacheEntry{window: window, checkedAt: checkedAt}
	return nil
}

type fakeInspector struct {
	calls   int
	details map[string]any
	err     error
}

func (f *fakeInspector) ShowModel(ctx context.Context, model string) (map[string]any, error) {
	f.calls++
	return f.details, f.err
}

type settingsMap map[string]string

func (s settingsMap) GetSetting(ctx context.Context, key string) (string, bool, error) {
	v, ok := s[key]
	return v, ok, nil
}

func (s settingsMap) SetSetting(ctx context.Context, key, value string) error {
	s[key] = value
	return nil
}

func intPtr(n int) *int { return &n }

func newResolver(cache domain.ContextCache, insp domain.ModelInspector, s settingsMap) *Resolver {
	return NewResolver(cache, insp, settings.NewReader(s, nil))
}

// =============================================================================
// Resolve
// =============================================================================

func TestResolver_Resolve_WhenCacheMiss_ShouldFetchAndCache(t *testing.T) {
	// Given: an empty cache and an endpoint declaring 8192
	cache := newFakeCache()
	insp := &fakeInspector{details: map[string]any{"parameters": "num_ctx 8192"}}
	fixed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	r := NewResolver(cache, insp, settings.NewReader(settingsMap{}, nil), WithClock(func() time.Time { return fixed }))

	// When: resolving
	got, ok := r.Resolve(context.Background(), "llama3", false)

	// Then: the value is returned and cached with a timestamp
	if !ok || got != 8192 {
		t.Fatalf("got (%d, %v), want (8192, true)", got, ok)
	}
	e := cache.entries["llama3"]
	if e.window == nil || *e.window != 8192 || !e.checkedAt.Equal(fixed) {
		t.Errorf("unexpected cache entry: %+v", e)
	}
}

func TestResolver_Resolve_WhenCacheHit_ShouldNotCallEndpoint(t *testing.T) {
	cache := newFakeCache()
	cache.entries["llama3"] = cacheEntry{window: intPtr(4096)}
	insp := &fakeInspector{}
	r := newResolver(cache, insp, settingsMap{})

	got, ok := r.Resolve(context.Background(), "llama3", false)

	if !ok || got != 4096 {
		t.Fatalf("got (%d, %v)", got, ok)
	}
	if insp.calls != 0 {
		t.Errorf("endpoint called %d times, want 0", insp.calls)
	}
}

func TestResolver_Resolve_WhenCachedUnknown_ShouldShortCircuitRepeatedCalls(t *testing.T) {
	// Given: an endpoint that knows nothing about the model
	cache := newFakeCache()
	insp := &fakeInspector{err: errors.New("llm: model not found")}
	r := newResolver(cache, insp, settingsMap{})

	// When: resolving three times without refresh
	for i := 0; i < 3; i++ {
		if _, ok := r.Resolve(context.Background(), "ghost", false); ok {
			t.Fatal("expected unknown")
		}
	}

	// Then: only the first call reached the endpoint
	if insp.calls != 1 {
		t.Errorf("endpoint called %d times, want 1", insp.calls)
	}
	if e, ok := cache.entries["ghost"]; !ok || e.window != nil {
		t.Errorf("expected cached unknown, got %+v (found=%v)", e, ok)
	}
}

func TestResolver_Resolve_WhenForceRefresh_ShouldAlwaysCallEndpointAndRewrite(t *testing.T) {
	cache := newFakeCache()
	cache.entries["llama3"] = cacheEntry{window: intPtr(2048)}
	insp := &fakeInspector{details: map[string]any{"model_info": map[string]any{"llama.context_length": float64(131072)}}}
	r := newResolver(cache, insp, settingsMap{})

	for i := 0; i < 2; i++ {
		got, ok := r.Resolve(context.Background(), "llama3", true)
		if !ok || got != 131072 {
			t.Fatalf("got (%d, %v)", got, ok)
		}
	}
	if insp.calls != 2 {
		t.Errorf("endpoint called %d times, want 2", insp.calls)
	}
	if cache.writes != 2 || *cache.entries["llama3"].window != 131072 {
		t.Errorf("cache not rewritten: writes=%d entry=%v", cache.writes, cache.entries["llama3"])
	}
}

func TestResolver_Resolve_WhenForceRefreshYieldsUnknown_ShouldOverwriteCachedValue(t *testing.T) {
	cache := newFakeCache()
	cache.entries["llama3"] = cacheEntry{window: intPtr(2048)}
	r := newResolver(cache, &fakeInspector{details: map[string]any{}}, settingsMap{})

	if _, ok := r.Resolve(context.Background(), "llama3", true); ok {
		t.Fatal("expected unknown")
	}
	if cache.entries["llama3"].window != nil {
		t.Error("expected cached unknown after refresh")
	}
}

func TestResolver_Resolve_WhenCacheReadFails_ShouldTreatAsMiss(t *testing.T) {
	cache := newFakeCache()
	cache.readErr = errors.New("disk I/O error")
	insp := &fakeInspector{details: map[string]any{"parameters": "num_ctx 4096"}}
	r := newResolver(cache, insp, settingsMap{})

	got, ok := r.Resolve(context.Background(), "m", false)

	if !ok || got != 4096 || insp.calls != 1 {
		t.Fatalf("got (%d, %v), calls=%d", got, ok, insp.calls)
	}
}

func TestResolver_Resolve_WhenCacheWriteFails_ShouldStillReturnValue(t *testing.T) {
	cache := newFakeCache()
	cache.writeErr = errors.New("read-only database")
	r := newResolver(cache, &fakeInspector{details: map[string]any{"parameters": "num_ctx 4096"}}, settingsMap{})

	if got, ok := r.Resolve(context.Background(), "m", false); !ok || got != 4096 {
		t.Fatalf("got (%d, %v)", got, ok)
	}
}

func TestResolver_Resolve_WhenNoInspector_ShouldCacheUnknown(t *testing.T) {
	cache := newFakeCache()
	r := newResolver(cache, nil, settingsMap{})

	if _, ok := r.Resolve(context.Background(), "gpt-4o", false); ok {
		t.Fatal("expected unknown")
	}
	if _, found := cache.entries["gpt-4o"]; !found {
		t.Error("expected cached unknown")
	}
}

func TestResolver_Resolve_WhenEmptyModel_ShouldReturnUnknownWithoutCaching(t *testing.T) {
	cache := newFakeCache()
	r := newResolver(cache, &fakeInspector{}, settingsMap{})

	if _, ok := r.Resolve(context.Background(), "", false); ok {
		t.Fatal("expected unknown")
	}
	if cache.writes != 0 {
		t.Errorf("cache written %d times", cache.writes)
	}
}

// =============================================================================
// ResolveWithFallback
// =============================================================================

func TestResolver_ResolveWithFallback(t *testing.T) {
	cases := []struct {
		name       string
		details    map[string]any
		settings   settingsMap
		want       int
		wantSource Source
	}{
		{"model", map[string]any{"parameters": "num_ctx 8192"}, settingsMap{settings.KeyDefaultContextWindow: "4096"}, 8192, SourceModel},
		{"settings", nil, settingsMap{settings.KeyDefaultContextWindow: "4096"}, 4096, SourceSettings},
		{"malformed settings", nil, settingsMap{settings.KeyDefaultContextWindow: "big"}, HardcodedDefaultContextWindow, SourceHardcoded},
		{"nothing", nil, settingsMap{}, HardcodedDefaultContextWindow, SourceHardcoded},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newResolver(newFakeCache(), &fakeInspector{details: tc.details}, tc.settings)
			got, src := r.ResolveWithFallback(context.Background(), "llama3")
			if got != tc.want || src != tc.wantSource {
				t.Errorf("got (%d, %s), want (%d, %s)", got, src, tc.want, tc.wantSource)
			}
		})
	}
}
