package engine

import (
	"context"

	"github.com/MimeLyc/binky/internal/persistence"
	"github.com/MimeLyc/binky/internal/worker"
)

// TranscriptionTracker writes the queue-owned transcription states. A
// cancelled job goes back to not_started.
type TranscriptionTracker struct {
	Store interface {
		SetTranscriptionStatus(ctx context.Context, id int64, status persistence.TranscriptionStatus, message string) error
	}
}

var _ worker.Tracker = TranscriptionTracker{}

func (t TranscriptionTracker) Queued(ctx context.Context, id int64) error {
	return t.Store.SetTranscriptionStatus(ctx, id, persistence.TranscriptionQueued, "")
}

func (t TranscriptionTracker) Failed(ctx context.Context, id int64, message string) error {
	return t.Store.SetTranscriptionStatus(ctx, id, persistence.TranscriptionError, message)
}

func (t TranscriptionTracker) Cancelled(ctx context.Context, id int64) error {
	return t.Store.SetTranscriptionStatus(ctx, id, persistence.TranscriptionNotStarted, "")
}

type DiarizationTracker struct {
	Store interface {
		SetDiarizationStatus(ctx context.Context, id int64, status persistence.DiarizationStatus, message string) error
	}
}

var _ worker.Tracker = DiarizationTracker{}

func (t DiarizationTracker) Queued(ctx context.Context, id int64) error {
	return t.Store.SetDiarizationStatus(ctx, id, persistence.DiarizationQueued, "")
}

func (t DiarizationTracker) Failed(ctx context.Context, id int64, message string) error {
	return t.Store.SetDiarizationStatus(ctx, id, persistence.DiarizationError, message)
}

func (t DiarizationTracker) Cancelled(ctx context.Context, id int64) error {
	return t.Store.SetDiarizationStatus(ctx, id, persistence.DiarizationNotStarted, "")
}
