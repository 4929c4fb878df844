package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"forllm/internal/domain"
	"forllm/internal/settings"
)

type cachedWindow struct {
	window    *int
	checkedAt time.Time
}

// MemoryStore implements the store interfaces in memory. It is safe for
// concurrent use and starts with the same seeds as SQLStore.
type MemoryStore struct {
	mu          sync.Mutex
	now         func() time.Time
	posts       map[int64]domain.Post
	attachments []domain.Attachment
	personas    map[int64]domain.Persona
	settings    map[string]string
	schedules   []domain.Schedule
	requests    map[int64]*domain.LLMRequest
	windows     map[string]cachedWindow
	nextID      map[string]int64
	subforums   map[int64]int64 // topic -> subforum
	defaults    map[int64]int64 // subforum -> persona
}

// NewMemoryStore returns a seeded in-memory store.
func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{
		now:       time.Now,
		posts:     make(map[int64]domain.Post),
		personas:  make(map[int64]domain.Persona),
		settings:  settings.Defaults(),
		requests:  make(map[int64]*domain.LLMRequest),
		windows:   make(map[string]cachedWindow),
		nextID:    make(map[string]int64),
		subforums: make(map[int64]int64),
		defaults:  make(map[int64]int64),
	}
	m.personas[domain.FallbackPersonaID] = domain.Persona{
		ID:           domain.FallbackPersonaID,
		Name:         domain.FallbackPersonaName,
		Instructions: domain.FallbackPersonaInstructions,
		IsActive:     true,
		Version:      1,
		CreatedAt:    m.now(),
	}
	m.nextID["persona"] = domain.FallbackPersonaID
	return m
}

// SetClock overrides the time source. Intended for tests.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryStore) id(kind string) int64 {
	m.nextID[kind]++
	return m.nextID[kind]
}

// GetPost implements domain.ForumStore.
func (m *MemoryStore) GetPost(_ context.Context, id int64) (*domain.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok {
		return nil, fmt.Errorf("post %d: %w", id, domain.ErrNotFound)
	}
	return &p, nil
}

// ListTopicPosts implements domain.ForumStore.
func (m *MemoryStore) ListTopicPosts(_ context.Context, topicID int64) ([]domain.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Post
	for _, p := range m.posts {
		if p.TopicID == topicID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// CreatePost implements domain.ForumStore.
func (m *MemoryStore) CreatePost(_ context.Context, p *domain.Post) (int64, error) {
	if p == nil || p.TopicID <= 0 {
		return 0, fmt.Errorf("storage: post needs a topic id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = m.now()
	}
	p.ID = m.id("post")
	m.posts[p.ID] = *p
	return p.ID, nil
}

// ListAttachments implements domain.ForumStore.
func (m *MemoryStore) ListAttachments(_ context.Context, postID int64) ([]domain.Attachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Attachment
	for _, a := range m.attachments {
		if a.PostID == postID {
			out = append(out, a)
		}
	}
	return out, nil
}

// AddAttachment stores a text attachment for a post.
func (m *MemoryStore) AddAttachment(_ context.Context, a *domain.Attachment) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = m.id("attachment")
	m.attachments = append(m.attachments, *a)
	return a.ID, nil
}

// GetPersona implements domain.PersonaStore.
func (m *MemoryStore) GetPersona(_ context.Context, id int64) (*domain.Persona, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.personas[id]
	if !ok {
		return nil, fmt.Errorf("persona %d: %w", id, domain.ErrNotFound)
	}
	return &p, nil
}

// CreatePersona implements domain.PersonaStore.
func (m *MemoryStore) CreatePersona(_ context.Context, name, instructions string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.id("persona")
	m.personas[id] = domain.Persona{ID: id, Name: name, Instructions: instructions, IsActive: true, Version: 1, CreatedAt: m.now()}
	return id, nil
}

// SetPersonaActive toggles a persona. Intended for tests.
func (m *MemoryStore) SetPersonaActive(id int64, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.personas[id]; ok {
		p.IsActive = active
		m.personas[id] = p
	}
}

// SetTopicSubforum records which subforum a topic belongs to.
func (m *MemoryStore) SetTopicSubforum(_ context.Context, topicID, subforumID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subforums[topicID] = subforumID
	return nil
}

// SetSubforumDefaultPersona sets a subforum's default persona.
func (m *MemoryStore) SetSubforumDefaultPersona(_ context.Context, subforumID, personaID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaults[subforumID] = personaID
	return nil
}

// SubforumDefaultPersona implements domain.SubforumPersonaStore.
func (m *MemoryStore) SubforumDefaultPersona(_ context.Context, topicID int64) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sf, ok := m.subforums[topicID]
	if !ok {
		return 0, false, nil
	}
	id, ok := m.defaults[sf]
	return id, ok, nil
}

// GetSetting implements domain.SettingsStore.
func (m *MemoryStore) GetSetting(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.settings[key]
	return v, ok, nil
}

// SetSetting implements domain.SettingsStore.
func (m *MemoryStore) SetSetting(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = value
	return nil
}

// ListSchedules implements domain.ScheduleStore.
func (m *MemoryStore) ListSchedules(context.Context) ([]domain.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Schedule, len(m.schedules))
	copy(out, m.schedules)
	return out, nil
}

// AddSchedule implements domain.ScheduleStore.
func (m *MemoryStore) AddSchedule(_ context.Context, s domain.Schedule) (int64, error) {
	if err := validateSchedule(s); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = m.id("schedule")
	if len(s.Days) == 0 {
		s.Days, _ = parseDays(formatDays(nil))
	}
	m.schedules = append(m.schedules, s)
	return s.ID, nil
}

// GetContextWindow implements domain.ContextCache.
func (m *MemoryStore) GetContextWindow(_ context.Context, model string) (*int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.windows[model]
	if !ok {
		return nil, false, nil
	}
	if c.window == nil {
		return nil, true, nil
	}
	v := *c.window
	return &v, true, nil
}

// SetContextWindow implements domain.ContextCache.
func (m *MemoryStore) SetContextWindow(_ context.Context, model string, window *int, checkedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var w *int
	if window != nil {
		v := *window
		w = &v
	}
	m.windows[model] = cachedWindow{window: w, checkedAt: checkedAt}
	return nil
}

func cloneRequest(r *domain.LLMRequest) *domain.LLMRequest {
	c := *r
	if r.Breakdown != nil {
		b := *r.Breakdown
		c.Breakdown = &b
	}
	if r.Params != nil {
		c.Params = append([]byte(nil), r.Params...)
	}
	return &c
}

// InsertRequest implements domain.RequestStore.
func (m *MemoryStore) InsertRequest(_ context.Context, r *domain.LLMRequest) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prepareInsert(r, m.now)
	r.ID = m.id("request")
	m.requests[r.ID] = cloneRequest(r)
	return r.ID, nil
}

// GetRequest implements domain.RequestStore.
func (m *MemoryStore) GetRequest(_ context.Context, id int64) (*domain.LLMRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, fmt.Errorf("request %d: %w", id, domain.ErrNotFound)
	}
	return cloneRequest(r), nil
}

// ClaimRequest implements domain.RequestStore.
func (m *MemoryStore) ClaimRequest(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok || r.Status != domain.StatusPending {
		return false, nil
	}
	r.Status = domain.StatusProcessing
	return true, nil
}

func (m *MemoryStore) byStatus(status domain.RequestStatus) []*domain.LLMRequest {
	var out []*domain.LLMRequest
	for _, r := range m.requests {
		if r.Status == status {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].RequestedAt.Before(out[j].RequestedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ClaimNextPending implements domain.RequestStore.
func (m *MemoryStore) ClaimNextPending(context.Context) (*domain.LLMRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pending := m.byStatus(domain.StatusPending)
	if len(pending) == 0 {
		return nil, nil
	}
	r := pending[0]
	r.Status = domain.StatusProcessing
	return cloneRequest(r), nil
}

func (m *MemoryStore) mutate(id int64, fn func(r *domain.LLMRequest)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return fmt.Errorf("request %d: %w", id, domain.ErrNotFound)
	}
	fn(r)
	return nil
}

// SavePrompt implements domain.RequestStore.
func (m *MemoryStore) SavePrompt(_ context.Context, id int64, prompt string, breakdown domain.TokenBreakdown) error {
	return m.mutate(id, func(r *domain.LLMRequest) {
		r.FullPrompt = prompt
		r.Breakdown = &breakdown
	})
}

// CompleteRequest implements domain.RequestStore.
func (m *MemoryStore) CompleteRequest(_ context.Context, id int64, resultID *int64) error {
	return m.mutate(id, func(r *domain.LLMRequest) {
		now := m.now()
		r.Status = domain.StatusComplete
		r.ProcessedAt = &now
		r.ResultID = resultID
		r.ErrorMessage = ""
	})
}

// FailRequest implements domain.RequestStore.
func (m *MemoryStore) FailRequest(_ context.Context, id int64, message string) error {
	return m.mutate(id, func(r *domain.LLMRequest) {
		now := m.now()
		r.Status = domain.StatusError
		r.ProcessedAt = &now
		r.ErrorMessage = message
	})
}

// ActivateDependents implements domain.RequestStore.
func (m *MemoryStore) ActivateDependents(_ context.Context, parentID, postID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for _, r := range m.requests {
		if r.ParentRequestID == nil || *r.ParentRequestID != parentID || r.Status != domain.StatusPendingDependency {
			continue
		}
		pid := postID
		r.PostID = &pid
		r.Status = domain.StatusPending
		ids = append(ids, r.ID)
	}
	sortIDs(ids)
	return ids, nil
}

// FailDependents implements domain.RequestStore.
func (m *MemoryStore) FailDependents(_ context.Context, parentID int64, message string) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var ids []int64
	for _, r := range m.requests {
		if r.ParentRequestID == nil || *r.ParentRequestID != parentID || r.Status != domain.StatusPendingDependency {
			continue
		}
		processed := now
		r.Status = domain.StatusError
		r.ProcessedAt = &processed
		r.ErrorMessage = message
		ids = append(ids, r.ID)
	}
	sortIDs(ids)
	return ids, nil
}

// ListRequestsByStatus implements domain.RequestStore.
func (m *MemoryStore) ListRequestsByStatus(_ context.Context, status domain.RequestStatus) ([]domain.LLMRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.LLMRequest
	for _, r := range m.byStatus(status) {
		out = append(out, *cloneRequest(r))
	}
	return out, nil
}

// RequeueRequest implements domain.RequestStore.
func (m *MemoryStore) RequeueRequest(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return fmt.Errorf("request %d: %w", id, domain.ErrNotFound)
	}
	if r.Status != domain.StatusProcessing && r.Status != domain.StatusError {
		return fmt.Errorf("request %d is %s: %w", id, r.Status, ErrInvalidTransition)
	}
	r.Status = domain.StatusPending
	r.ProcessedAt = nil
	r.ErrorMessage = ""
	return nil
}

var (
	_ domain.ForumStore    = (*MemoryStore)(nil)
	_ domain.PersonaStore  = (*MemoryStore)(nil)
	_ domain.SettingsStore = (*MemoryStore)(nil)
	_ domain.ScheduleStore = (*MemoryStore)(nil)
	_ domain.ContextCache  = (*MemoryStore)(nil)
	_ domain.RequestStore  = (*MemoryStore)(nil)
)
