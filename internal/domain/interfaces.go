package domain

import (
	"context"
	"time"
)

// Tokenizer is a raw encoder that may fail.
type Tokenizer interface {
	CountTokens(text string) (int, error)
}

// TokenCounter is the single token measure shared by every budget
// computation. It never fails; an unavailable tokenizer counts 0.
type TokenCounter interface {
	Count(text string) int
}

// ModelClient sends a prompt to a model and returns its full answer.
type ModelClient interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
}

// ModelInspector returns the metadata document the serving endpoint
// publishes for a model.
type ModelInspector interface {
	ShowModel(ctx context.Context, model string) (map[string]any, error)
}

// ForumStore is the read side of the forum plus the one write the pipeline
// needs. Posts are never mutated.
type ForumStore interface {
	GetPost(ctx context.Context, id int64) (*Post, error)
	ListTopicPosts(ctx context.Context, topicID int64) ([]Post, error)
	ListAttachments(ctx context.Context, postID int64) ([]Attachment, error)
	CreatePost(ctx context.Context, p *Post) (int64, error)
}

// PersonaStore reads personas and stores generated ones.
type PersonaStore interface {
	GetPersona(ctx context.Context, id int64) (*Persona, error)
	CreatePersona(ctx context.Context, name, instructions string) (int64, error)
}

// SubforumPersonaStore maps a topic to its subforum's default persona.
// found is false when the topic has no subforum or the subforum no default.
type SubforumPersonaStore interface {
	SubforumDefaultPersona(ctx context.Context, topicID int64) (personaID int64, found bool, err error)
}

// SettingsStore exposes named string settings. found is false when the key
// is absent.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (value string, found bool, err error)
	SetSetting(ctx context.Context, key, value string) error
}

// ScheduleStore persists processing windows.
type ScheduleStore interface {
	ListSchedules(ctx context.Context) ([]Schedule, error)
	AddSchedule(ctx context.Context, s Schedule) (int64, error)
}

// ContextCache remembers resolved context windows. A nil window with
// found=true is a cached "unknown".
type ContextCache interface {
	GetContextWindow(ctx context.Context, model string) (window *int, found bool, err error)
	SetContextWindow(ctx context.Context, model string, window *int, checkedAt time.Time) error
}

// RequestStore is the durable job queue.
type RequestStore interface {
	InsertRequest(ctx context.Context, r *LLMRequest) (int64, error)
	GetRequest(ctx context.Context, id int64) (*LLMRequest, error)
	// ClaimRequest flips a pending job to processing. It reports false when
	// the job was not pending.
	ClaimRequest(ctx context.Context, id int64) (bool, error)
	// ClaimNextPending claims the oldest pending job, or returns nil when
	// there is none.
	ClaimNextPending(ctx context.Context) (*LLMRequest, error)
	SavePrompt(ctx context.Context, id int64, prompt string, breakdown TokenBreakdown) error
	CompleteRequest(ctx context.Context, id int64, resultID *int64) error
	FailRequest(ctx context.Context, id int64, message string) error
	// ActivateDependents back-fills postID into the pending_dependency
	// children of parentID, flips them to pending and returns their ids.
	ActivateDependents(ctx context.Context, parentID, postID int64) ([]int64, error)
	// FailDependents marks the pending_dependency children of parentID as
	// error with message and returns their ids.
	FailDependents(ctx context.Context, parentID int64, message string) ([]int64, error)
	ListRequestsByStatus(ctx context.Context, status RequestStatus) ([]LLMRequest, error)
	// RequeueRequest returns a processing or error job to pending.
	RequeueRequest(ctx context.Context, id int64) error
}

// Notifier receives job lifecycle events. Implementations must not block
// the worker for long and never fail the job.
type Notifier interface {
	Notify(ctx context.Context, e JobEvent)
}
