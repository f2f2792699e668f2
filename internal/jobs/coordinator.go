package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MimeLyc/binky/pkg/log"
)

var (
	// ErrRejected wraps a runner's synchronous refusal to start a job.
	ErrRejected = errors.New("job rejected")
	// ErrStalled is returned by Start when the runner lost the job without a terminal event.
	ErrStalled = errors.New("job stalled")
)

const stalledMessage = "job stalled: no terminal event from runner"

// DefaultAlertPatterns are start rejections worth interrupting the user for.
var DefaultAlertPatterns = []string{"Kein Whisper-Modell", "no whisper model", "no diarization model"}

type Option func(*Coordinator)

// WithOnEntityUpdated registers the store-reload hook run after every
// terminal event of an accepted job.
func WithOnEntityUpdated(fn func(entityID int64)) Option {
	return func(c *Coordinator) { c.onEntityUpdated = fn }
}

// WithAlert registers a hook for start rejections matching the alert patterns.
func WithAlert(fn func(message string)) Option {
	return func(c *Coordinator) { c.onAlert = fn }
}

func WithAlertPatterns(patterns ...string) Option {
	return func(c *Coordinator) { c.alertPatterns = patterns }
}

// WithStallTimeout bounds how long Start waits without any event before it
// asks the runner whether the job still exists. Zero waits forever.
func WithStallTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.stallTimeout.Store(int64(d)) }
}

// Coordinator owns the live state of one job kind. It turns runner events and
// status polls into State and fans snapshots out to subscribers.
type Coordinator struct {
	kind   Kind
	runner Runner

	onEntityUpdated func(entityID int64)
	onAlert         func(message string)
	alertPatterns   []string
	stallTimeout    atomic.Int64

	mu        sync.Mutex
	state     State
	subs      map[int]chan State
	nextSubID int
}

type invocation struct {
	id       string
	entityID int64
	done     chan Event
	// finished is guarded by Coordinator.mu.
	finished  bool
	lastEvent atomic.Int64
}

func (inv *invocation) touch() {
	inv.lastEvent.Store(time.Now().UnixNano())
}

func (inv *invocation) sinceLastEvent() time.Duration {
	return time.Since(time.Unix(0, inv.lastEvent.Load()))
}

func NewCoordinator(kind Kind, runner Runner, opts ...Option) *Coordinator {
	c := &Coordinator{
		kind:          kind,
		runner:        runner,
		alertPatterns: DefaultAlertPatterns,
		state:         idleState(kind, 0),
		subs:          make(map[int]chan State),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) Kind() Kind {
	return c.kind
}

func (c *Coordinator) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

func (c *Coordinator) StallTimeout() time.Duration {
	return time.Duration(c.stallTimeout.Load())
}

// SetStallTimeout applies to waits that start or re-arm after the call.
func (c *Coordinator) SetStallTimeout(d time.Duration) {
	c.stallTimeout.Store(int64(d))
}

// Start marks entityID active right away, hands the job to the runner and
// blocks until the invocation's terminal event. A second Start while another
// job is active is passed through; the runner queues it.
//
// The returned error is non-nil only for a synchronous rejection (wrapping
// ErrRejected), a stall (ErrStalled) or ctx ending the wait. State is already
// reset when Start returns, except on ctx expiry where the job keeps running.
func (c *Coordinator) Start(ctx context.Context, entityID int64, resource string) (Event, error) {
	inv := &invocation{
		id:       uuid.NewString(),
		entityID: entityID,
		done:     make(chan Event, 1),
	}
	inv.touch()

	c.mu.Lock()
	id := entityID
	c.state.ActiveID = &id
	c.state.IsProcessing = true
	c.state.Progress = 0
	c.state.Phase = PhaseStarting
	c.state.InvocationID = inv.id
	c.state.Revision++
	c.publishLocked()
	c.mu.Unlock()

	log.Info("Starting %s for episode %d (invocation %s)", c.kind, entityID, inv.id)

	err := c.runner.Start(ctx, entityID, resource, func(ev Event) { c.apply(inv, ev) })
	if err != nil {
		msg := err.Error()
		log.Error("Failed to start %s for episode %d: %v", c.kind, entityID, err)
		if c.onAlert != nil && c.isAlert(msg) {
			c.onAlert(msg)
		}
		ev := Failed(msg)
		c.finish(inv, ev, false)
		return ev, fmt.Errorf("%w: %v", ErrRejected, err)
	}
	return c.wait(ctx, inv)
}

// BatchItem is one entity of a StartBatch call.
type BatchItem struct {
	EntityID int64  `json:"id"`
	Resource string `json:"audio_url"`
}

// StartBatch runs Start for each item in order, waiting for each terminal
// event before starting the next. Rejected or failed items do not stop the batch.
func (c *Coordinator) StartBatch(ctx context.Context, items []BatchItem) error {
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := c.Start(ctx, item.EntityID, item.Resource); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
		}
	}
	return nil
}

// Cancel asks the runner to cancel its active job. Local state changes only
// when the runner confirms with a Cancelled event. It is a no-op when idle,
// and a runner that cannot be reached is only logged.
func (c *Coordinator) Cancel(ctx context.Context) {
	snap := c.Snapshot()
	if snap.ActiveID == nil && !snap.IsProcessing {
		log.Debug("Cancel %s ignored: nothing active", c.kind)
		return
	}
	if err := c.runner.Cancel(ctx); err != nil {
		log.Warn("Failed to cancel %s: %v", c.kind, err)
	}
}

// RefreshStatus overwrites the live fields with the runner's status. A
// response is discarded when a start or event was applied while the call was
// in flight, so a slow poll cannot roll progress back. On error the state is
// left unchanged.
func (c *Coordinator) RefreshStatus(ctx context.Context) error {
	c.mu.Lock()
	rev := c.state.Revision
	c.mu.Unlock()

	status, err := c.runner.Status(ctx)
	if err != nil {
		log.Warn("Failed to refresh %s queue status: %v", c.kind, err)
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Revision != rev {
		log.Debug("Discarding stale %s status (revision %d, now %d)", c.kind, rev, c.state.Revision)
		return nil
	}

	next := c.state
	next.ActiveID = nil
	if status.ActiveEntityID != nil {
		id := *status.ActiveEntityID
		next.ActiveID = &id
	}
	next.QueueLength = status.QueueLength
	next.IsProcessing = status.IsProcessing
	if !status.IsProcessing || next.ActiveID == nil {
		next.Progress = 0
	}
	switch {
	case !status.IsProcessing:
		next.Phase = PhaseIdle
		next.InvocationID = ""
	case next.Phase == PhaseIdle:
		next.Phase = PhaseRunning
	}

	if !sameState(next, c.state) {
		c.state = next
		c.publishLocked()
	}
	return nil
}

// Subscribe returns a channel that always holds the most recent snapshot.
// Intermediate snapshots may be skipped. The returned func unsubscribes.
func (c *Coordinator) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)

	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.subs[id] = ch
	ch <- c.state.clone()
	c.mu.Unlock()

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(ch)
		}
	}
}

func (c *Coordinator) apply(inv *invocation, ev Event) {
	if ev.Terminal() {
		c.finish(inv, ev, true)
		return
	}
	inv.touch()

	c.mu.Lock()
	defer c.mu.Unlock()
	if inv.finished {
		return
	}
	id := inv.entityID
	c.state.ActiveID = &id
	c.state.IsProcessing = true
	c.state.Phase = PhaseRunning
	c.state.InvocationID = inv.id
	if ev.HasPercent() {
		c.state.Progress = clampPercent(ev.Percent)
	}
	c.state.Revision++
	c.publishLocked()
}

// finish applies a terminal event once per invocation. It reports whether
// this call was the one that applied it.
func (c *Coordinator) finish(inv *invocation, ev Event, notify bool) bool {
	c.mu.Lock()
	if inv.finished {
		c.mu.Unlock()
		return false
	}
	inv.finished = true
	rev := c.state.Revision + 1
	c.state = idleState(c.kind, c.state.QueueLength)
	c.state.Revision = rev
	c.publishLocked()
	c.mu.Unlock()

	switch ev.Type {
	case EventError:
		log.Error("%s of episode %d failed: %s", c.kind, inv.entityID, ev.Message)
	case EventCancelled:
		log.Info("%s of episode %d cancelled", c.kind, inv.entityID)
	default:
		log.Info("%s of episode %d done", c.kind, inv.entityID)
	}

	if notify && c.onEntityUpdated != nil {
		c.onEntityUpdated(inv.entityID)
	}
	inv.done <- ev
	return true
}

func (c *Coordinator) wait(ctx context.Context, inv *invocation) (Event, error) {
	var (
		timer  *time.Timer
		expiry <-chan time.Time
	)
	if d := c.StallTimeout(); d > 0 {
		timer = time.NewTimer(d)
		defer timer.Stop()
		expiry = timer.C
	}

	for {
		select {
		case ev := <-inv.done:
			return ev, nil
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-expiry:
			d := c.StallTimeout()
			if d <= 0 {
				expiry = nil
				continue
			}
			if quiet := inv.sinceLastEvent(); quiet < d {
				timer.Reset(d - quiet)
				continue
			}
			if !c.lost(ctx, inv) {
				timer.Reset(d)
				continue
			}
			if c.finish(inv, Failed(stalledMessage), true) {
				return <-inv.done, ErrStalled
			}
			return <-inv.done, nil
		}
	}
}

// lost reports whether the runner is idle and so can no longer finish inv.
func (c *Coordinator) lost(ctx context.Context, inv *invocation) bool {
	status, err := c.runner.Status(ctx)
	if err != nil {
		log.Warn("Stall check for %s of episode %d failed: %v", c.kind, inv.entityID, err)
		return false
	}
	if status.ActiveEntityID != nil && *status.ActiveEntityID == inv.entityID {
		return false
	}
	return !status.IsProcessing && status.QueueLength == 0
}

func (c *Coordinator) isAlert(message string) bool {
	lower := strings.ToLower(message)
	for _, p := range c.alertPatterns {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

func (c *Coordinator) publishLocked() {
	snap := c.state.clone()
	for _, ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func sameState(a, b State) bool {
	if (a.ActiveID == nil) != (b.ActiveID == nil) {
		return false
	}
	if a.ActiveID != nil && *a.ActiveID != *b.ActiveID {
		return false
	}
	a.ActiveID, b.ActiveID = nil, nil
	return a == b
}
