package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"forllm/internal/domain"
)

// Policy is an immutable snapshot of the processing windows.
type Policy struct {
	windows []domain.Schedule
}

// NewPolicy copies windows into a snapshot.
func NewPolicy(windows []domain.Schedule) Policy {
	cp := make([]domain.Schedule, len(windows))
	for i, w := range windows {
		w.Days = append([]time.Weekday(nil), w.Days...)
		cp[i] = w
	}
	return Policy{windows: cp}
}

// AlwaysOpen is a policy with one all-day, every-day window.
func AlwaysOpen() Policy {
	return NewPolicy([]domain.Schedule{{StartHour: 0, EndHour: 0, Days: AllDays, Enabled: true}})
}

// Windows returns a copy of the snapshot's windows.
func (p Policy) Windows() []domain.Schedule {
	return NewPolicy(p.windows).windows
}

// HasEnabled reports whether any window can ever open.
func (p Policy) HasEnabled() bool {
	for _, w := range p.windows {
		if w.Enabled && len(w.Days) > 0 {
			return true
		}
	}
	return false
}

// IsActive reports whether any enabled window contains t. With no enabled
// windows nothing is processed.
func (p Policy) IsActive(t time.Time) bool {
	for _, w := range p.windows {
		if IsActive(w, t) {
			return true
		}
	}
	return false
}

// NextStart returns the earliest upcoming window start after now and the
// window it belongs to. ok is false when no enabled window exists.
func (p Policy) NextStart(now time.Time) (next time.Time, window domain.Schedule, ok bool) {
	for _, w := range p.windows {
		if !w.Enabled {
			continue
		}
		t, err := nextStart(w, now)
		if err != nil || t.IsZero() {
			continue
		}
		if !ok || t.Before(next) {
			next, window, ok = t, w, true
		}
	}
	return next, window, ok
}

// Source refreshes a Policy from the schedule store. A failed read keeps
// the last good snapshot.
type Source struct {
	store  domain.ScheduleStore
	logger *zap.Logger

	mu   sync.Mutex
	last Policy
}

// NewSource returns a Source. store must not be nil.
func NewSource(store domain.ScheduleStore, logger *zap.Logger) *Source {
	if store == nil {
		panic("scheduler: store must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{store: store, logger: logger}
}

// Snapshot reads the current windows.
func (s *Source) Snapshot(ctx context.Context) Policy {
	windows, err := s.store.ListSchedules(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.logger.Warn("schedule read failed, keeping previous windows", zap.Error(err))
		return s.last
	}
	s.last = NewPolicy(windows)
	return s.last
}
