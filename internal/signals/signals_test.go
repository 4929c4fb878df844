package signals

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestShutdownSignals_ShouldIncludeInterrupt(t *testing.T) {
	var found bool
	for _, s := range ShutdownSignals() {
		if s == os.Interrupt {
			found = true
			break
		}
	}
	if !found {
		t.Error("ShutdownSignals() should include os.Interrupt")
	}
}

// =============================================================================
// OnReload
// =============================================================================

func TestOnReload_WhenSignalArrives_ShouldCallFn(t *testing.T) {
	if len(ReloadSignals()) == 0 {
		t.Skip("no reload signal on this platform")
	}
	// Given: a captured signal channel
	var ch chan<- os.Signal
	oldNotify, oldStop := notify, stop
	stopped := make(chan struct{})
	notify = func(c chan<- os.Signal, _ ...os.Signal) { ch = c }
	stop = func(chan<- os.Signal) { close(stopped) }
	defer func() { notify, stop = oldNotify, oldStop }()

	ctx, cancel := context.WithCancel(context.Background())
	calls := make(chan struct{}, 2)
	OnReload(ctx, func() { calls <- struct{}{} })

	// When: a signal is delivered
	ch <- ReloadSignals()[0]

	// Then: fn runs, and cancelling unregisters the channel
	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("fn not called")
	}
	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("signal channel not stopped after cancel")
	}
}
