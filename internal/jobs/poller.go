package jobs

import (
	"context"
	"sync/atomic"
	"time"
)

// Poller reconciles a Coordinator with its runner on a fixed interval while
// a job is in progress.
type Poller struct {
	coordinator *Coordinator
	interval    atomic.Int64
}

func NewPoller(c *Coordinator, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	p := &Poller{coordinator: c}
	p.interval.Store(int64(interval))
	return p
}

func (p *Poller) Interval() time.Duration {
	return time.Duration(p.interval.Load())
}

// SetInterval takes effect on the next tick.
func (p *Poller) SetInterval(d time.Duration) {
	if d > 0 {
		p.interval.Store(int64(d))
	}
}

// Run refreshes once unconditionally, to pick up a job started before this
// process attached, then ticks until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	_ = p.coordinator.RefreshStatus(ctx)

	current := p.Interval()
	ticker := time.NewTicker(current)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if next := p.Interval(); next != current {
				current = next
				ticker.Reset(current)
			}
			p.Tick(ctx)
		}
	}
}

// Tick polls once if the coordinator reports a job in progress. The guard
// is read at tick time; one extra poll right after completion is harmless.
func (p *Poller) Tick(ctx context.Context) bool {
	if !p.coordinator.Snapshot().IsProcessing {
		return false
	}
	_ = p.coordinator.RefreshStatus(ctx)
	return true
}
