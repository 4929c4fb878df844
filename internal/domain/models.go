package domain

import (
	"errors"
	"time"
)

// ErrNotFound is returned by stores when a row does not exist.
var ErrNotFound = errors.New("not found")

// Post is a single forum message. A post without a parent is a topic root.
type Post struct {
	ID            int64     `json:"post_id"`
	TopicID       int64     `json:"topic_id"`
	UserID        int64     `json:"user_id"`
	ParentPostID  *int64    `json:"parent_post_id,omitempty"`
	Content       string    `json:"content"`
	CreatedAt     time.Time `json:"created_at"`
	IsLLMResponse bool      `json:"is_llm_response"`
	LLMModelID    string    `json:"llm_model_id,omitempty"`
	LLMPersonaID  *int64    `json:"llm_persona_id,omitempty"`
}

// Attachment is a text file attached to a post.
type Attachment struct {
	ID       int64  `json:"attachment_id"`
	PostID   int64  `json:"post_id"`
	Filename string `json:"filename"`
	MimeType string `json:"mime_type,omitempty"`
	Content  string `json:"content"`
}

// Persona supplies the system instructions for a reply.
type Persona struct {
	ID           int64     `json:"persona_id"`
	Name         string    `json:"name"`
	Instructions string    `json:"prompt_instructions"`
	IsActive     bool      `json:"is_active"`
	Version      int       `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
}

// The built-in persona seeded into every database.
const (
	FallbackPersonaID           int64 = 1
	FallbackPersonaName               = "fallback"
	FallbackPersonaInstructions       = "You are a helpful assistant."
)

// RequestStatus is the lifecycle state of an LLM job.
type RequestStatus string

const (
	StatusPending           RequestStatus = "pending"
	StatusProcessing        RequestStatus = "processing"
	StatusComplete          RequestStatus = "complete"
	StatusError             RequestStatus = "error"
	StatusPendingDependency RequestStatus = "pending_dependency"
)

// Terminal reports whether no further transitions are possible.
func (s RequestStatus) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// LLMRequest is one durable unit of scheduled work.
type LLMRequest struct {
	ID              int64           `json:"request_id"`
	PostID          *int64          `json:"post_id_to_respond_to,omitempty"`
	Status          RequestStatus   `json:"status"`
	Type            RequestType     `json:"request_type"`
	Model           string          `json:"llm_model,omitempty"`
	PersonaID       *int64          `json:"llm_persona_id,omitempty"`
	Params          []byte          `json:"-"`
	ParentRequestID *int64          `json:"parent_request_id,omitempty"`
	RequestedAt     time.Time       `json:"requested_at"`
	ProcessedAt     *time.Time      `json:"processed_at,omitempty"`
	FullPrompt      string          `json:"full_prompt_sent,omitempty"`
	Breakdown       *TokenBreakdown `json:"prompt_token_breakdown,omitempty"`
	ResultID        *int64          `json:"result_id,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
}

// TokenBreakdown is the per-section token accounting stored with a job.
type TokenBreakdown struct {
	ContextWindow       int     `json:"context_window"`
	SafetyMargin        float64 `json:"safety_margin"`
	MaxAllowed          int     `json:"max_allowed_tokens"`
	AvailableForHistory int     `json:"available_for_history"`
	Attachments         int     `json:"attachments"`
	PersonaInstructions int     `json:"persona_instructions"`
	AmbientHistory      int     `json:"ambient_history"`
	PrimaryHistory      int     `json:"primary_history"`
	FinalInstruction    int     `json:"final_instruction"`
	Total               int     `json:"total"`
}

// Schedule is one processing window. Hours are 0-23; EndHour 0 means
// "until midnight".
type Schedule struct {
	ID        int64          `json:"id"`
	StartHour int            `json:"start_hour"`
	EndHour   int            `json:"end_hour"`
	Days      []time.Weekday `json:"days_active"`
	Enabled   bool           `json:"enabled"`
}

// ChatHistorySettings tunes history retrieval and budget splitting.
type ChatHistorySettings struct {
	MaxPostsPerSiblingBranch int
	MaxAmbientPosts          int
	PrimaryBudgetRatio       float64
}

// DefaultChatHistorySettings returns the compiled-in knobs.
func DefaultChatHistorySettings() ChatHistorySettings {
	return ChatHistorySettings{
		MaxPostsPerSiblingBranch: 2,
		MaxAmbientPosts:          5,
		PrimaryBudgetRatio:       0.7,
	}
}

// JobEventType names a job lifecycle notification.
type JobEventType string

const (
	EventQueued   JobEventType = "job.queued"
	EventStarted  JobEventType = "job.started"
	EventComplete JobEventType = "job.complete"
	EventError    JobEventType = "job.error"
)

// JobEvent is published to notifiers as jobs move through the pipeline.
type JobEvent struct {
	Type        JobEventType  `json:"type"`
	RequestID   int64         `json:"request_id"`
	RequestType RequestType   `json:"request_type"`
	Status      RequestStatus `json:"status"`
	ResultID    *int64        `json:"result_id,omitempty"`
	Message     string        `json:"message,omitempty"`
	At          time.Time     `json:"at"`
}
