// Package worker owns the single consumer of the job queue. It checks the
// processing windows, claims the next job (memory tier first, then the
// durable store), dispatches it by request type and records the outcome.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"forllm/internal/domain"
	"forllm/internal/queue"
	"forllm/internal/scheduler"
)

const (
	DefaultIdleInterval          = 5 * time.Second
	DefaultOutsideWindowInterval = time.Minute
)

// Outcome is what a handler produced.
type Outcome struct {
	// ResultID is stored on the job: the new post or persona id.
	ResultID *int64
	// PostID, when set, is back-filled into dependent jobs.
	PostID *int64
}

// Handler runs one job type.
type Handler interface {
	Handle(ctx context.Context, req *domain.LLMRequest, params domain.Params) (Outcome, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req *domain.LLMRequest, params domain.Params) (Outcome, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, req *domain.LLMRequest, params domain.Params) (Outcome, error) {
	return f(ctx, req, params)
}

// Schedule yields the processing windows for the current tick.
type Schedule interface {
	Snapshot(ctx context.Context) scheduler.Policy
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, domain.JobEvent) {}

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the logger. Nil is ignored.
func WithLogger(l *zap.Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithNotifier sets the job event sink. Nil is ignored.
func WithNotifier(n domain.Notifier) Option {
	return func(w *Worker) {
		if n != nil {
			w.notifier = n
		}
	}
}

// WithClock overrides time.Now for window checks.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// WithIntervals sets the wait after an empty tick and the longest wait
// outside all windows. Non-positive values keep the defaults.
func WithIntervals(idle, outsideWindow time.Duration) Option {
	return func(w *Worker) {
		if idle > 0 {
			w.idle = idle
		}
		if outsideWindow > 0 {
			w.outside = outsideWindow
		}
	}
}

// WithHandler registers h for t, replacing any previous handler.
func WithHandler(t domain.RequestType, h Handler) Option {
	return func(w *Worker) {
		if h != nil {
			w.handlers[t] = h
		}
	}
}

// Worker processes jobs one at a time. Enqueue is safe for concurrent
// callers; Tick and Run must be driven by a single goroutine.
type Worker struct {
	id       string
	store    domain.RequestStore
	queue    *queue.Queue
	schedule Schedule
	handlers map[domain.RequestType]Handler
	notifier domain.Notifier
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.RWMutex
	idle    time.Duration
	outside time.Duration
}

// New returns a Worker. store, q and schedule must not be nil.
func New(store domain.RequestStore, q *queue.Queue, schedule Schedule, opts ...Option) *Worker {
	if store == nil {
		panic("worker: store must not be nil")
	}
	if q == nil {
		panic("worker: queue must not be nil")
	}
	if schedule == nil {
		panic("worker: schedule must not be nil")
	}
	w := &Worker{
		id:       uuid.NewString(),
		store:    store,
		queue:    q,
		schedule: schedule,
		handlers: make(map[domain.RequestType]Handler),
		notifier: nopNotifier{},
		logger:   zap.NewNop(),
		now:      time.Now,
		idle:     DefaultIdleInterval,
		outside:  DefaultOutsideWindowInterval,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("worker_id", w.id))
	return w
}

// Enqueue stores req and offers its id to the memory tier. A full memory
// queue is not an error: the job is durable and the store tier finds it.
func (w *Worker) Enqueue(ctx context.Context, req *domain.LLMRequest) (int64, error) {
	id, err := w.store.InsertRequest(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("enqueue %s: %w", req.Type, err)
	}
	w.emit(ctx, domain.EventQueued, req, nil, "")
	if req.Status == domain.StatusPending {
		w.offer(id)
	}
	return id, nil
}

// EnqueueReply queues a reply to postID plus one tagged-persona reply per
// entry of tagged, each waiting for the first reply's post. It returns the
// ids in that order.
func (w *Worker) EnqueueReply(ctx context.Context, postID int64, model string, personaID *int64, tagged []int64) ([]int64, error) {
	first := &domain.LLMRequest{
		Type:      domain.RequestRespondToPost,
		PostID:    &postID,
		Model:     model,
		PersonaID: personaID,
	}
	id, err := w.Enqueue(ctx, first)
	if err != nil {
		return nil, err
	}
	ids := []int64{id}
	for _, pid := range tagged {
		raw, err := domain.EncodeParams(domain.RespondToPostTagParams{TaggedPersonaID: pid})
		if err != nil {
			return ids, err
		}
		parent := id
		tagID, err := w.Enqueue(ctx, &domain.LLMRequest{
			Type:            domain.RequestRespondToPostTag,
			Model:           model,
			PersonaID:       &pid,
			Params:          raw,
			ParentRequestID: &parent,
		})
		if err != nil {
			return ids, err
		}
		ids = append(ids, tagID)
	}
	return ids, nil
}

func (w *Worker) offer(id int64) {
	if err := w.queue.Push(id); err != nil {
		w.logger.Debug("memory queue full, job left to the store tier", zap.Int64("request_id", id), zap.Error(err))
	}
}

// SetIntervals changes the loop timings while the worker runs.
// Non-positive values leave the current setting.
func (w *Worker) SetIntervals(idle, outsideWindow time.Duration) {
	w.mu.Lock()
	WithIntervals(idle, outsideWindow)(w)
	w.mu.Unlock()
}

func (w *Worker) intervals() (idle, outside time.Duration) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.idle, w.outside
}

// Tick runs at most one job and returns how long to wait before the next
// tick: zero after a job, the idle interval when there was nothing to do,
// and up to the outside-window interval when no window is open.
func (w *Worker) Tick(ctx context.Context) (wait time.Duration) {
	idle, outside := w.intervals()
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("worker tick panicked", zap.Any("panic", r))
			wait = idle
		}
	}()

	policy := w.schedule.Snapshot(ctx)
	now := w.now()
	if !policy.IsActive(now) {
		return w.outsideWait(policy, now, outside)
	}

	job, err := w.next(ctx)
	if err != nil {
		w.logger.Error("claim next job failed", zap.Error(err))
		return idle
	}
	if job == nil {
		return idle
	}
	w.process(ctx, job)
	return 0
}

func (w *Worker) outsideWait(policy scheduler.Policy, now time.Time, outside time.Duration) time.Duration {
	if !policy.HasEnabled() {
		w.logger.Debug("no enabled processing window")
		return outside
	}
	next, window, ok := policy.NextStart(now)
	if !ok {
		return outside
	}
	w.logger.Debug("outside processing window",
		zap.Time("next_start", next), zap.String("window", scheduler.Describe(window)))
	if d := next.Sub(now); d > 0 && d < outside {
		return d
	}
	return outside
}

// next claims from the memory tier first. Ids that are no longer pending
// (already run through the store tier, or requeued) are skipped.
func (w *Worker) next(ctx context.Context) (*domain.LLMRequest, error) {
	for {
		id, ok := w.queue.TryPop()
		if !ok {
			break
		}
		claimed, err := w.store.ClaimRequest(ctx, id)
		if err != nil {
			w.logger.Warn("claim from memory queue failed", zap.Int64("request_id", id), zap.Error(err))
			continue
		}
		if !claimed {
			continue
		}
		return w.store.GetRequest(ctx, id)
	}
	return w.store.ClaimNextPending(ctx)
}

// process runs a claimed job to a terminal state.
func (w *Worker) process(ctx context.Context, job *domain.LLMRequest) {
	log := w.logger.With(
		zap.Int64("request_id", job.ID),
		zap.String("request_type", string(job.Type)),
		zap.String("trace_id", uuid.NewString()),
	)
	defer func() {
		if r := recover(); r != nil {
			log.Error("handler panicked", zap.Any("panic", r))
			w.fail(ctx, log, job, fmt.Errorf("internal error: %v", r))
		}
	}()

	log.Info("job started")
	w.emit(ctx, domain.EventStarted, job, nil, "")
	started := time.Now()

	params, err := domain.DecodeParams(job.Type, job.Params)
	if err != nil {
		w.fail(ctx, log, job, err)
		return
	}
	h, ok := w.handlers[job.Type]
	if !ok {
		w.fail(ctx, log, job, fmt.Errorf("%w %q", domain.ErrUnknownRequestType, string(job.Type)))
		return
	}

	out, err := h.Handle(ctx, job, params)
	if err != nil {
		w.fail(ctx, log, job, err)
		return
	}
	if err := w.store.CompleteRequest(ctx, job.ID, out.ResultID); err != nil {
		w.fail(ctx, log, job, fmt.Errorf("mark complete: %w", err))
		return
	}
	if out.PostID != nil {
		ids, err := w.store.ActivateDependents(ctx, job.ID, *out.PostID)
		if err != nil {
			log.Error("activate dependent jobs failed", zap.Error(err))
		}
		for _, id := range ids {
			w.offer(id)
		}
		if len(ids) > 0 {
			log.Info("dependent jobs released", zap.Int64s("request_ids", ids))
		}
	}
	log.Info("job complete", zap.Duration("elapsed", time.Since(started)))
	w.emit(ctx, domain.EventComplete, job, out.ResultID, "")
}

// fail records err on the job and on every job waiting on it. If even that
// write fails the job stays processing and shows up in the stuck-job report.
func (w *Worker) fail(ctx context.Context, log *zap.Logger, job *domain.LLMRequest, err error) {
	msg := err.Error()
	log.Warn("job failed", zap.String("error_message", msg))
	if ferr := w.store.FailRequest(ctx, job.ID, msg); ferr != nil {
		log.Error("could not record job failure", zap.Error(ferr))
	}
	w.emit(ctx, domain.EventError, job, nil, msg)
	w.failDependents(ctx, log, job.ID, msg)
}

// failDependents walks the dependency chain below parentID so no waiting
// job is left in pending_dependency.
func (w *Worker) failDependents(ctx context.Context, log *zap.Logger, parentID int64, cause string) {
	type failed struct {
		id  int64
		msg string
	}
	next := []failed{{parentID, cause}}
	for len(next) > 0 {
		f := next[0]
		next = next[1:]
		msg := fmt.Sprintf("parent request %d failed: %s", f.id, f.msg)
		ids, err := w.store.FailDependents(ctx, f.id, msg)
		if err != nil {
			log.Error("could not fail dependent jobs", zap.Int64("parent_request_id", f.id), zap.Error(err))
			continue
		}
		for _, id := range ids {
			log.Warn("dependent job failed", zap.Int64("dependent_request_id", id), zap.Int64("parent_request_id", f.id))
			if child, err := w.store.GetRequest(ctx, id); err == nil {
				w.emit(ctx, domain.EventError, child, nil, msg)
			}
			next = append(next, failed{id, f.msg})
		}
	}
}

func (w *Worker) emit(ctx context.Context, t domain.JobEventType, job *domain.LLMRequest, resultID *int64, msg string) {
	status := job.Status
	switch t {
	case domain.EventStarted:
		status = domain.StatusProcessing
	case domain.EventComplete:
		status = domain.StatusComplete
	case domain.EventError:
		status = domain.StatusError
	}
	w.notifier.Notify(ctx, domain.JobEvent{
		Type:        t,
		RequestID:   job.ID,
		RequestType: job.Type,
		Status:      status,
		ResultID:    resultID,
		Message:     msg,
		At:          w.now().UTC(),
	})
}

// StuckJobs returns jobs left in processing, typically by a crash. They
// are never requeued automatically.
func (w *Worker) StuckJobs(ctx context.Context) ([]domain.LLMRequest, error) {
	return w.store.ListRequestsByStatus(ctx, domain.StatusProcessing)
}

// Run reports stuck jobs, then ticks until ctx is done. A Push wakes an
// idle worker early.
func (w *Worker) Run(ctx context.Context) error {
	stuck, err := w.StuckJobs(ctx)
	if err != nil {
		w.logger.Error("stuck job check failed", zap.Error(err))
	}
	for _, j := range stuck {
		w.logger.Warn("job stuck in processing; requeue it manually if it should run again",
			zap.Int64("request_id", j.ID),
			zap.String("request_type", string(j.Type)),
			zap.Time("requested_at", j.RequestedAt))
	}
	w.logger.Info("worker started", zap.Int("handlers", len(w.handlers)))

	for {
		if ctx.Err() != nil {
			w.logger.Info("worker stopped")
			return nil
		}
		wait := w.Tick(ctx)
		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
		case <-timer.C:
		case <-w.queue.Ready():
		}
		timer.Stop()
	}
}
