package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MimeLyc/binky/internal/jobs"
	"github.com/MimeLyc/binky/pkg/log"
)

// ErrStopped is returned by Start once Run has returned.
var ErrStopped = errors.New("worker stopped")

// Executor runs one job. Progress goes through emit; the queue emits the
// terminal event from the returned error and the job context.
type Executor func(ctx context.Context, job *Job, emit jobs.EventSink) error

// Tracker persists the lifecycle states the queue itself owns. The executor
// writes the in-progress and success states.
type Tracker interface {
	Queued(ctx context.Context, entityID int64) error
	Failed(ctx context.Context, entityID int64, message string) error
	Cancelled(ctx context.Context, entityID int64) error
}

type Job struct {
	ID        string
	EntityID  int64
	Resource  string
	CreatedAt time.Time

	sink jobs.EventSink
}

type Option func(*Queue)

// WithPrecheck runs check on every Start; an error refuses the job.
func WithPrecheck(check func() error) Option {
	return func(q *Queue) { q.precheck = check }
}

func WithTracker(t Tracker) Option {
	return func(q *Queue) { q.tracker = t }
}

// Queue is a FIFO with a single active slot. It implements jobs.Runner.
type Queue struct {
	kind     jobs.Kind
	exec     Executor
	precheck func() error
	tracker  Tracker

	mu           sync.Mutex
	pending      []*Job
	active       *Job
	activeCancel context.CancelFunc
	stopped      bool
	wake         chan struct{}
}

var _ jobs.Runner = (*Queue)(nil)

func NewQueue(kind jobs.Kind, exec Executor, opts ...Option) *Queue {
	q := &Queue{
		kind: kind,
		exec: exec,
		wake: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) Kind() jobs.Kind {
	return q.kind
}

// Start appends a job. It fails without emitting anything when the precheck
// refuses or the entity is already queued or running.
func (q *Queue) Start(ctx context.Context, entityID int64, resource string, sink jobs.EventSink) error {
	if q.precheck != nil {
		if err := q.precheck(); err != nil {
			return err
		}
	}

	if err := q.admit(entityID); err != nil {
		return err
	}
	// Written before the job becomes visible to the worker, so the executor's
	// own status writes always come later.
	if q.tracker != nil {
		if err := q.tracker.Queued(ctx, entityID); err != nil {
			log.Warn("Failed to mark episode %d queued for %s: %v", entityID, q.kind, err)
		}
	}

	job := &Job{
		ID:        uuid.NewString(),
		EntityID:  entityID,
		Resource:  resource,
		CreatedAt: time.Now(),
		sink:      sink,
	}
	q.mu.Lock()
	if err := q.admitLocked(entityID); err != nil {
		q.mu.Unlock()
		return err
	}
	q.pending = append(q.pending, job)
	position := len(q.pending)
	q.mu.Unlock()

	log.Info("Queued %s job %s for episode %d (position %d)", q.kind, job.ID, entityID, position)
	q.signal()
	return nil
}

// Cancel cancels the active job, if any. With the slot empty it drops the
// job Status reports as active instead. Other pending jobs are untouched.
func (q *Queue) Cancel(ctx context.Context) error {
	q.mu.Lock()
	cancel := q.activeCancel
	active := q.active
	var head *Job
	if active == nil && len(q.pending) > 0 {
		head = q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
	}
	q.mu.Unlock()

	if head != nil {
		log.Info("Cancelling %s job %s for episode %d before it started", q.kind, head.ID, head.EntityID)
		if q.tracker != nil {
			if err := q.tracker.Cancelled(ctx, head.EntityID); err != nil {
				log.Warn("Failed to reset episode %d after cancel: %v", head.EntityID, err)
			}
		}
		head.sink(jobs.Cancelled())
		return nil
	}
	if cancel == nil {
		return nil
	}
	log.Info("Cancelling %s job %s for episode %d", q.kind, active.ID, active.EntityID)
	cancel()
	return nil
}

func (q *Queue) Status(context.Context) (jobs.QueueStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	next := q.active
	waiting := len(q.pending)
	// An empty slot with pending work is only the gap before Run picks up
	// the head of the queue; report that job as the active one.
	if next == nil && waiting > 0 {
		next = q.pending[0]
		waiting--
	}

	status := jobs.QueueStatus{QueueLength: waiting}
	if next != nil {
		id := next.EntityID
		status.ActiveEntityID = &id
		status.IsProcessing = true
	}
	return status, nil
}

// Run processes jobs until ctx is done. Jobs still pending then are
// cancelled and receive a Cancelled event.
func (q *Queue) Run(ctx context.Context) error {
	defer q.shutdown()

	for {
		job, jobCtx, cancel := q.dequeue(ctx)
		if job == nil {
			select {
			case <-ctx.Done():
				return nil
			case <-q.wake:
				continue
			}
		}
		q.process(jobCtx, job)
		cancel()
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (q *Queue) dequeue(ctx context.Context) (*Job, context.Context, context.CancelFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 || ctx.Err() != nil {
		return nil, nil, nil
	}
	job := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]

	jobCtx, cancel := context.WithCancel(ctx)
	q.active = job
	q.activeCancel = cancel
	return job, jobCtx, cancel
}

func (q *Queue) process(ctx context.Context, job *Job) {
	started := time.Now()
	log.Info("Running %s job %s for episode %d", q.kind, job.ID, job.EntityID)

	err := q.execute(ctx, job)

	q.mu.Lock()
	q.active = nil
	q.activeCancel = nil
	q.mu.Unlock()

	// Store writes use a fresh context: ctx is already cancelled on cancel.
	storeCtx := context.WithoutCancel(ctx)
	var ev jobs.Event
	switch {
	case err == nil:
		ev = jobs.Done(job.EntityID)
		log.Info("%s job %s for episode %d finished in %s", q.kind, job.ID, job.EntityID, time.Since(started).Round(time.Second))
	case ctx.Err() != nil:
		ev = jobs.Cancelled()
		if q.tracker != nil {
			if terr := q.tracker.Cancelled(storeCtx, job.EntityID); terr != nil {
				log.Warn("Failed to reset episode %d after cancel: %v", job.EntityID, terr)
			}
		}
	default:
		ev = jobs.Failed(err.Error())
		log.Error("%s job %s for episode %d failed: %v", q.kind, job.ID, job.EntityID, err)
		if q.tracker != nil {
			if terr := q.tracker.Failed(storeCtx, job.EntityID, err.Error()); terr != nil {
				log.Warn("Failed to record error of episode %d: %v", job.EntityID, terr)
			}
		}
	}
	job.sink(ev)
}

func (q *Queue) execute(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s job panicked: %v", q.kind, r)
		}
	}()
	emit := func(ev jobs.Event) {
		if ev.Terminal() {
			log.Warn("Dropping terminal %s emitted by %s executor", ev, q.kind)
			return
		}
		job.sink(ev)
	}
	return q.exec(ctx, job, emit)
}

func (q *Queue) shutdown() {
	q.mu.Lock()
	q.stopped = true
	pending := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, job := range pending {
		if q.tracker != nil {
			if err := q.tracker.Cancelled(context.Background(), job.EntityID); err != nil {
				log.Warn("Failed to reset episode %d on shutdown: %v", job.EntityID, err)
			}
		}
		job.sink(jobs.Cancelled())
	}
	if len(pending) > 0 {
		log.Info("Cancelled %d pending %s jobs on shutdown", len(pending), q.kind)
	}
}

func (q *Queue) admit(entityID int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.admitLocked(entityID)
}

func (q *Queue) admitLocked(entityID int64) error {
	if q.stopped {
		return ErrStopped
	}
	if q.containsLocked(entityID) {
		return fmt.Errorf("episode %d is already queued for %s", entityID, q.kind)
	}
	return nil
}

func (q *Queue) containsLocked(entityID int64) bool {
	if q.active != nil && q.active.EntityID == entityID {
		return true
	}
	for _, job := range q.pending {
		if job.EntityID == entityID {
			return true
		}
	}
	return false
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
