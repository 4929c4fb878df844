// Package signals maps OS signals to serve's shutdown and reload actions.
package signals

import (
	"context"
	"os"
	"os/signal"
)

// notify and stop are replaced in tests.
var (
	notify = signal.Notify
	stop   = signal.Stop
)

// OnReload calls fn each time a reload signal arrives until ctx is done.
// It returns immediately when the platform has no reload signal.
func OnReload(ctx context.Context, fn func()) {
	sigs := ReloadSignals()
	if len(sigs) == 0 {
		return
	}
	ch := make(chan os.Signal, 1)
	notify(ch, sigs...)
	go func() {
		defer stop(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ch:
				fn()
			}
		}
	}()
}
