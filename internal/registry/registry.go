// Package registry tracks assembly jobs: persistence, attempt epochs, and
// fan-out of progress reports to observers.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"bindery/internal/job"
	"bindery/internal/logging"
)

// minEmitInterval throttles intermediate progress reports per job. Zero
// fraction and terminal reports always pass.
const minEmitInterval = 100 * time.Millisecond

// Handle names one attempt of one job. Progress published through a stale
// handle (an earlier attempt) is dropped.
type Handle struct {
	JobID   uuid.UUID
	Attempt int
}

type jobState struct {
	attempt  int
	status   job.Status
	fraction float64
	stage    string
	lastEmit time.Time
	emitted  bool
}

// Registry coordinates job lifecycle and progress observation. All progress
// flows through Publish and Finish; observers receive job.Report values on
// subscribed channels and never poll.
type Registry struct {
	store  *Store
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	states map[uuid.UUID]*jobState

	events chan job.Report

	subMu  sync.Mutex
	subs   map[int]chan job.Report
	nextID int

	wg sync.WaitGroup
}

// Option configures registry construction.
type Option func(*Registry)

// WithClock overrides the time source used for throttling.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// New constructs a registry over the given store and starts its dispatcher.
func New(store *Store, logger *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		store:  store,
		logger: logging.NewComponentLogger(logger, "registry"),
		now:    time.Now,
		states: make(map[uuid.UUID]*jobState),
		events: make(chan job.Report, 256),
		subs:   make(map[int]chan job.Report),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.wg.Add(1)
	go r.dispatch()
	return r
}

// Close stops the dispatcher and closes all subscriber channels. Pending
// events are delivered first.
func (r *Registry) Close() {
	close(r.events)
	r.wg.Wait()

	r.subMu.Lock()
	defer r.subMu.Unlock()
	for id, ch := range r.subs {
		close(ch)
		delete(r.subs, id)
	}
}

// Subscribe registers a progress observer. The returned cancel function must
// be called when the observer stops draining the channel.
func (r *Registry) Subscribe() (<-chan job.Report, func()) {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	id := r.nextID
	r.nextID++
	ch := make(chan job.Report, 64)
	r.subs[id] = ch

	cancel := func() {
		r.subMu.Lock()
		defer r.subMu.Unlock()
		if existing, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(existing)
		}
	}
	return ch, cancel
}

func (r *Registry) dispatch() {
	defer r.wg.Done()
	for report := range r.events {
		r.subMu.Lock()
		for _, ch := range r.subs {
			if report.Status.Terminal() {
				// terminal reports must not be lost; give a stalled
				// subscriber a bounded grace period
				select {
				case ch <- report:
				case <-time.After(time.Second):
				}
				continue
			}
			select {
			case ch <- report:
			default:
			}
		}
		r.subMu.Unlock()
	}
}

func (r *Registry) emit(report job.Report) {
	if report.Status.Terminal() {
		r.events <- report
		return
	}
	select {
	case r.events <- report:
	default:
		r.logger.Debug("dropping progress event, dispatch buffer full",
			logging.String(logging.FieldJobID, report.JobID.String()))
	}
}

// Submit registers a new job and returns the handle for its first attempt.
func (r *Registry) Submit(ctx context.Context, j *job.Job) (Handle, error) {
	if err := j.Validate(); err != nil {
		return Handle{}, err
	}

	rec := RecordFromJob(j)
	if err := r.store.InsertJob(ctx, rec); err != nil {
		return Handle{}, fmt.Errorf("insert job: %w", err)
	}

	r.mu.Lock()
	r.states[j.ID] = &jobState{attempt: 1, status: job.StatusPending}
	r.mu.Unlock()

	r.logger.Info("job submitted",
		logging.String(logging.FieldJobID, j.ID.String()),
		logging.String("title", j.Book.Title),
		logging.Int("sources", len(j.Book.Sources)))

	return Handle{JobID: j.ID, Attempt: 1}, nil
}

// Publish records a progress sample for a job attempt. Stale attempts and
// post-terminal samples are dropped. Fractions never decrease within an
// attempt; intermediate samples are throttled, while the first zero sample
// and completion always pass through.
func (r *Registry) Publish(ctx context.Context, h Handle, fraction float64, stage string) {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}

	r.mu.Lock()
	state, ok := r.states[h.JobID]
	if !ok || state.attempt != h.Attempt || state.status.Terminal() {
		r.mu.Unlock()
		return
	}
	if state.emitted && fraction < state.fraction {
		r.mu.Unlock()
		return
	}

	now := r.now()
	stageChanged := stage != "" && stage != state.stage
	shouldEmit := !state.emitted || fraction >= 1 || stageChanged ||
		now.Sub(state.lastEmit) >= minEmitInterval

	state.fraction = fraction
	if stage != "" {
		state.stage = stage
	}
	state.status = job.StatusProcessing
	if !shouldEmit {
		r.mu.Unlock()
		return
	}
	state.lastEmit = now
	state.emitted = true
	report := job.Report{
		JobID:    h.JobID,
		Attempt:  h.Attempt,
		Status:   job.StatusProcessing,
		Fraction: fraction,
		Stage:    state.stage,
	}
	r.mu.Unlock()

	if err := r.store.UpdateDisplayState(ctx, h.JobID, h.Attempt, job.StatusProcessing, fraction, report.Stage, ""); err != nil {
		r.logger.Warn("persist progress",
			logging.String(logging.FieldJobID, h.JobID.String()),
			logging.Error(err))
	}
	r.emit(report)
}

// Finish ends a job attempt exactly once. A nil error completes the job at
// fraction 1; otherwise the job enters the error state with its fraction
// frozen at the last published value.
func (r *Registry) Finish(ctx context.Context, h Handle, cause error) {
	r.mu.Lock()
	state, ok := r.states[h.JobID]
	if !ok || state.attempt != h.Attempt || state.status.Terminal() {
		r.mu.Unlock()
		return
	}

	status := job.StatusCompleted
	errMsg := ""
	if cause != nil {
		status = job.StatusError
		errMsg = cause.Error()
	} else {
		state.fraction = 1
	}
	state.status = status
	report := job.Report{
		JobID:    h.JobID,
		Attempt:  h.Attempt,
		Status:   status,
		Fraction: state.fraction,
		Stage:    state.stage,
		Err:      cause,
	}
	r.mu.Unlock()

	if err := r.store.UpdateDisplayState(ctx, h.JobID, h.Attempt, status, report.Fraction, report.Stage, errMsg); err != nil {
		r.logger.Warn("persist terminal state",
			logging.String(logging.FieldJobID, h.JobID.String()),
			logging.Error(err))
	}

	if cause != nil {
		r.logger.Error("job failed",
			logging.String(logging.FieldJobID, h.JobID.String()),
			logging.Int(logging.FieldAttempt, h.Attempt),
			logging.Error(cause))
	} else {
		r.logger.Info("job completed",
			logging.String(logging.FieldJobID, h.JobID.String()),
			logging.Int(logging.FieldAttempt, h.Attempt))
	}
	r.emit(report)
}

// Retry re-arms a failed job for another attempt. The job keeps its identity
// and quality snapshot; the fraction resets to zero and the attempt counter
// advances so late callbacks from the failed attempt are ignored.
func (r *Registry) Retry(ctx context.Context, id uuid.UUID) (Handle, *job.Job, error) {
	rec, err := r.store.GetJob(ctx, id)
	if err != nil {
		return Handle{}, nil, err
	}
	if rec.Status != job.StatusError {
		return Handle{}, nil, fmt.Errorf("job %s is %s, only failed jobs can be retried", id, rec.Status)
	}

	attempt := rec.Attempt + 1

	r.mu.Lock()
	if state, ok := r.states[id]; ok {
		if !state.status.Terminal() {
			r.mu.Unlock()
			return Handle{}, nil, fmt.Errorf("job %s attempt %d is still running", id, state.attempt)
		}
		if state.attempt >= attempt {
			attempt = state.attempt + 1
		}
	}
	r.states[id] = &jobState{attempt: attempt, status: job.StatusPending}
	r.mu.Unlock()

	if err := r.store.UpdateDisplayState(ctx, id, attempt, job.StatusPending, 0, "", ""); err != nil {
		return Handle{}, nil, fmt.Errorf("reset job state: %w", err)
	}

	r.logger.Info("job retry",
		logging.String(logging.FieldJobID, id.String()),
		logging.Int(logging.FieldAttempt, attempt))

	return Handle{JobID: id, Attempt: attempt}, rec.Job(), nil
}

// Job returns the stored record for one job.
func (r *Registry) Job(ctx context.Context, id uuid.UUID) (Record, error) {
	return r.store.GetJob(ctx, id)
}

// List returns all stored records ordered by creation time.
func (r *Registry) List(ctx context.Context) ([]Record, error) {
	return r.store.ListJobs(ctx)
}

// ClearCompleted removes completed jobs from the registry.
func (r *Registry) ClearCompleted(ctx context.Context) (int64, error) {
	removed, err := r.store.DeleteCompleted(ctx)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	for id, state := range r.states {
		if state.status == job.StatusCompleted {
			delete(r.states, id)
		}
	}
	r.mu.Unlock()

	return removed, nil
}
