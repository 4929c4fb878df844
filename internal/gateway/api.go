package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"forllm/internal/domain"
	"forllm/internal/scheduler"
)

// Jobs enqueues work for the worker. *worker.Worker satisfies it.
type Jobs interface {
	Enqueue(ctx context.Context, req *domain.LLMRequest) (int64, error)
	EnqueueReply(ctx context.Context, postID int64, model string, personaID *int64, tagged []int64) ([]int64, error)
}

// ScheduleSource yields the current processing windows.
type ScheduleSource interface {
	Snapshot(ctx context.Context) scheduler.Policy
}

// Deps are the collaborators behind the API. Events may be nil, which
// disables /ws.
type Deps struct {
	Forum    domain.ForumStore
	Requests domain.RequestStore
	Jobs     Jobs
	Schedule ScheduleSource
	Events   http.Handler
	Now      func() time.Time
	Logger   *zap.Logger
}

type api struct {
	forum    domain.ForumStore
	requests domain.RequestStore
	jobs     Jobs
	schedule ScheduleSource
	now      func() time.Time
	logger   *zap.Logger
}

func newAPI(d Deps) *api {
	if d.Forum == nil || d.Requests == nil || d.Jobs == nil || d.Schedule == nil {
		panic("gateway: missing dependency")
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &api{forum: d.Forum, requests: d.Requests, jobs: d.Jobs, schedule: d.Schedule, now: d.Now, logger: d.Logger}
}

// RequestLLMBody is the optional body of POST /api/posts/{id}/request_llm.
type RequestLLMBody struct {
	Model            string  `json:"model,omitempty"`
	PersonaID        *int64  `json:"persona_id,omitempty"`
	TaggedPersonaIDs []int64 `json:"tagged_persona_ids,omitempty"`
}

// ScheduleStatus is the body of GET /api/schedule/status.
type ScheduleStatus struct {
	Active     bool       `json:"active"`
	HasWindows bool       `json:"has_windows"`
	NextStart  *time.Time `json:"next_start"`
	NextWindow string     `json:"next_window,omitempty"`
}

func (a *api) requestLLM(w http.ResponseWriter, r *http.Request) {
	postID, ok := pathID(w, r)
	if !ok {
		return
	}
	var body RequestLLMBody
	if !decodeBody(w, r, &body, true) {
		return
	}

	post, err := a.forum.GetPost(r.Context(), postID)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && post.IsLLMResponse) {
		writeError(w, http.StatusNotFound, "post not found or is already an LLM response")
		return
	}
	if err != nil {
		a.internal(w, "load post failed", err)
		return
	}

	ids, err := a.jobs.EnqueueReply(r.Context(), postID, strings.TrimSpace(body.Model), body.PersonaID, body.TaggedPersonaIDs)
	if err != nil {
		a.internal(w, "queue reply failed", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"message":     "LLM response requested successfully",
		"request_id":  ids[0],
		"request_ids": ids,
	})
}

func (a *api) generatePersona(w http.ResponseWriter, r *http.Request) {
	var p domain.GeneratePersonaParams
	if !decodeBody(w, r, &p, false) {
		return
	}
	if strings.TrimSpace(p.InputDetails.DescriptionHint) == "" {
		writeError(w, http.StatusBadRequest, "description_hint is required")
		return
	}
	if p.GenerationType == "" {
		p.GenerationType = "from_name_and_description"
	}
	raw, err := domain.EncodeParams(p)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := a.jobs.Enqueue(r.Context(), &domain.LLMRequest{
		Type:   domain.RequestGeneratePersona,
		Model:  p.ModelForGeneration,
		Params: raw,
	})
	if err != nil {
		a.internal(w, "queue persona generation failed", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"message":    "Persona generation queued",
		"request_id": id,
	})
}

func (a *api) getRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	req, err := a.requests.GetRequest(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "request not found")
		return
	}
	if err != nil {
		a.internal(w, "load request failed", err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (a *api) scheduleStatus(w http.ResponseWriter, r *http.Request) {
	policy := a.schedule.Snapshot(r.Context())
	now := a.now()
	status := ScheduleStatus{
		Active:     policy.IsActive(now),
		HasWindows: policy.HasEnabled(),
	}
	if next, window, ok := policy.NextStart(now); ok {
		status.NextStart = &next
		status.NextWindow = scheduler.Describe(window)
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *api) internal(w http.ResponseWriter, msg string, err error) {
	a.logger.Error(msg, zap.Error(err))
	writeError(w, http.StatusInternalServerError, msg)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

// decodeBody reads a JSON body into v. An empty body is accepted only when
// optional is set.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}
	writeError(w, http.StatusBadRequest, "invalid JSON payload")
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
