// Package notify delivers job lifecycle events to watchers. Delivery is
// best effort: failures are logged and never reach the worker.
package notify

import (
	"context"

	"forllm/internal/domain"
)

// Multi fans an event out to every notifier in order.
type Multi []domain.Notifier

// Notify implements domain.Notifier.
func (m Multi) Notify(ctx context.Context, e domain.JobEvent) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, e)
		}
	}
}

// Terminal reports whether e ends a job.
func Terminal(e domain.JobEvent) bool {
	return e.Type == domain.EventComplete || e.Type == domain.EventError
}

var _ domain.Notifier = Multi(nil)
