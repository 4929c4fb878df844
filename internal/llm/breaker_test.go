package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type scriptedClient struct {
	calls   int
	answers []string
	errs    []error
}

func (s *scriptedClient) Generate(ctx context.Context, model, prompt string) (string, error) {
	i := s.calls
	s.calls++
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	if err != nil {
		return "", err
	}
	if i < len(s.answers) {
		return s.answers[i], nil
	}
	return "ok", nil
}

var errRefused = fmt.Errorf("%w: connection refused", ErrTransport)

func TestBreaker_WhenPrimarySucceeds_ShouldNotCallFallback(t *testing.T) {
	primary := &scriptedClient{answers: []string{"real"}}
	fallback := &scriptedClient{}
	b := NewBreaker(primary, fallback)

	got, err := b.Generate(context.Background(), "m", "p")

	if err != nil || got != "real" {
		t.Fatalf("want real, got %q (%v)", got, err)
	}
	if fallback.calls != 0 {
		t.Errorf("fallback called %d times", fallback.calls)
	}
}

func TestBreaker_WhenTransportError_ShouldAnswerFromFallback(t *testing.T) {
	primary := &scriptedClient{errs: []error{errRefused}}
	fallback := &scriptedClient{answers: []string{"stub"}}
	b := NewBreaker(primary, fallback)

	got, err := b.Generate(context.Background(), "m", "p")

	if err != nil || got != "stub" {
		t.Fatalf("want stub, got %q (%v)", got, err)
	}
}

func TestBreaker_WhenProtocolError_ShouldReturnIt(t *testing.T) {
	primary := &scriptedClient{errs: []error{ErrEmptyStream}}
	fallback := &scriptedClient{}
	b := NewBreaker(primary, fallback)

	_, err := b.Generate(context.Background(), "m", "p")

	if !errors.Is(err, ErrEmptyStream) {
		t.Fatalf("expected ErrEmptyStream, got %v", err)
	}
	if fallback.calls != 0 {
		t.Error("fallback must not answer protocol errors")
	}
}

func TestBreaker_WhenThresholdReached_ShouldSkipPrimaryUntilCooldown(t *testing.T) {
	// Given: a breaker that opens after 2 failures for one minute
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	primary := &scriptedClient{errs: []error{errRefused, errRefused}}
	fallback := &scriptedClient{}
	b := NewBreaker(primary, fallback, WithThreshold(2, time.Minute))
	b.now = func() time.Time { return now }

	// When: two transport failures then another call
	_, _ = b.Generate(context.Background(), "m", "p")
	_, _ = b.Generate(context.Background(), "m", "p")
	_, _ = b.Generate(context.Background(), "m", "p")

	// Then: the third call never reached the primary
	if primary.calls != 2 {
		t.Errorf("primary called %d times, want 2", primary.calls)
	}
	if b.State() != BreakerOpen {
		t.Errorf("state = %s, want open", b.State())
	}

	// When: cooldown elapses, the next call probes the primary and closes
	now = now.Add(2 * time.Minute)
	if b.State() != BreakerHalfOpen {
		t.Errorf("state = %s, want half-open", b.State())
	}
	got, err := b.Generate(context.Background(), "m", "p")
	if err != nil || got != "ok" {
		t.Fatalf("probe: got %q (%v)", got, err)
	}
	if b.State() != BreakerClosed {
		t.Errorf("state = %s, want closed", b.State())
	}
}

func TestNewBreaker_WhenNilClient_ShouldPanic(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	NewBreaker(nil, &scriptedClient{})
}
