package jobs

import "context"

// QueueStatus is the runner's authoritative view of its single worker slot.
type QueueStatus struct {
	ActiveEntityID *int64 `json:"active_episode_id"`
	QueueLength    int    `json:"queue_length"`
	IsProcessing   bool   `json:"is_processing"`
}

// EventSink receives the events of one invocation in emission order.
type EventSink func(Event)

// Runner executes jobs of one kind, one at a time.
//
// Start returns an error only when the job is refused outright; in that case
// no events are emitted. Otherwise it returns once the job is accepted and the
// runner later calls sink zero or more times with non-terminal events,
// followed by exactly one terminal event. Calls to sink never overlap.
type Runner interface {
	Start(ctx context.Context, entityID int64, resource string, sink EventSink) error
	Cancel(ctx context.Context) error
	Status(ctx context.Context) (QueueStatus, error)
}
