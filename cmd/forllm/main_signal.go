//go:build !excludemain

package main

import (
	"context"
	"os/signal"

	"forllm/internal/signals"
)

func init() {
	shutdownContext = func(parent context.Context) (context.Context, context.CancelFunc) {
		return signal.NotifyContext(parent, signals.ShutdownSignals()...)
	}
}
