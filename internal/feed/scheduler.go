package feed

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/MimeLyc/binky/pkg/icron"
	"github.com/MimeLyc/binky/pkg/log"
)

// Scheduler runs feed syncs on a cron schedule. An empty expression
// disables scheduled syncs.
type Scheduler struct {
	reconciler *Reconciler
	cron       *cron.Cron

	mu      sync.Mutex
	expr    string
	entryID cron.EntryID
	ctx     context.Context
}

func NewScheduler(reconciler *Reconciler, c *cron.Cron) *Scheduler {
	if c == nil {
		c = cron.New()
	}
	return &Scheduler{
		reconciler: reconciler,
		cron:       c,
		ctx:        context.Background(),
	}
}

// Schedule registers the sync job for expr and starts the cron runner.
// Syncs run with ctx.
func (s *Scheduler) Schedule(ctx context.Context, expr string) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	if err := s.SetSchedule(expr); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// SetSchedule replaces the current schedule.
func (s *Scheduler) SetSchedule(expr string) error {
	expr = strings.TrimSpace(expr)

	s.mu.Lock()
	defer s.mu.Unlock()

	if expr == s.expr && (expr == "" || s.entryID != 0) {
		return nil
	}
	if expr != "" {
		if _, err := icron.Parse(expr); err != nil {
			return err
		}
	}
	if s.entryID != 0 {
		s.cron.Remove(s.entryID)
		s.entryID = 0
	}
	s.expr = expr
	if expr == "" {
		log.Info("Scheduled feed sync disabled")
		return nil
	}

	id, err := s.cron.AddFunc(expr, s.run)
	if err != nil {
		return err
	}
	s.entryID = id
	log.Info("Scheduled feed sync with %q", expr)
	return nil
}

func (s *Scheduler) run() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	_, err := s.reconciler.Sync(ctx)
	switch {
	case errors.Is(err, ErrSyncInProgress):
		log.Info("Scheduled feed sync skipped, a sync is already running")
	case err != nil:
		log.Error("Scheduled feed sync failed: %v", err)
	}
}

func (s *Scheduler) Expression() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expr
}

// NextRun reports when the next scheduled sync fires; ok is false when
// scheduling is disabled.
func (s *Scheduler) NextRun(now time.Time) (next time.Time, ok bool) {
	expr := s.Expression()
	if expr == "" {
		return time.Time{}, false
	}
	info, err := icron.GetTriggerInfo(expr, now)
	if err != nil {
		return time.Time{}, false
	}
	return info.Next, true
}

// Stop stops the cron runner and waits for a running sync to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
