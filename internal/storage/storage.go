// Package storage persists forum posts, personas, settings, processing
// windows, the model context cache and the durable job queue. SQLStore
// backs production; MemoryStore serves tests and throwaway runs.
package storage

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"forllm/internal/domain"
	"forllm/internal/scheduler"
)

// Store is everything the pipeline persists.
type Store interface {
	domain.ForumStore
	domain.PersonaStore
	domain.SettingsStore
	domain.ScheduleStore
	domain.ContextCache
	domain.RequestStore
	domain.SubforumPersonaStore
	AddAttachment(ctx context.Context, a *domain.Attachment) (int64, error)
	SetTopicSubforum(ctx context.Context, topicID, subforumID int64) error
	SetSubforumDefaultPersona(ctx context.Context, subforumID, personaID int64) error
}

var (
	_ Store = (*SQLStore)(nil)
	_ Store = (*MemoryStore)(nil)
)

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// prepareInsert fills the defaults shared by both stores.
func prepareInsert(r *domain.LLMRequest, now func() time.Time) {
	if r.Status == "" {
		r.Status = domain.StatusPending
		if r.ParentRequestID != nil {
			r.Status = domain.StatusPendingDependency
		}
	}
	if r.RequestedAt.IsZero() {
		r.RequestedAt = now()
	}
}

func sortIDs(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

func parseDays(s string) ([]time.Weekday, error) { return scheduler.ParseDays(s) }

func formatDays(days []time.Weekday) string {
	if len(days) == 0 {
		days = scheduler.AllDays
	}
	return scheduler.FormatDays(days)
}

func validateSchedule(s domain.Schedule) error { return scheduler.Validate(s) }
