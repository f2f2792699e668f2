package jobs

// Phase separates the optimistic window after start from a job that has
// reported at least one event.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseStarting Phase = "starting"
	PhaseRunning  Phase = "running"
)

// State is a Coordinator's canonical, in-memory job state. It is never persisted.
type State struct {
	Kind         Kind   `json:"kind"`
	ActiveID     *int64 `json:"active_id"`
	Progress     int    `json:"progress"`
	QueueLength  int    `json:"queue_length"`
	IsProcessing bool   `json:"is_processing"`
	Phase        Phase  `json:"phase"`
	InvocationID string `json:"invocation_id,omitempty"`
	// Revision counts local writes (start and pushed events). Polls do not bump it.
	Revision uint64 `json:"revision"`
}

// IsActive reports whether id is the entity the worker slot is processing.
func (s State) IsActive(id int64) bool {
	return s.ActiveID != nil && *s.ActiveID == id
}

// Busy reports whether a new start would have to wait behind another job.
func (s State) Busy() bool {
	return s.IsProcessing
}

func (s State) clone() State {
	if s.ActiveID != nil {
		id := *s.ActiveID
		s.ActiveID = &id
	}
	return s
}

func idleState(kind Kind, queueLength int) State {
	return State{Kind: kind, QueueLength: queueLength, Phase: PhaseIdle}
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
