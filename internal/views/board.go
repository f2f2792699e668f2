package views

import (
	"context"
	"time"

	"github.com/MimeLyc/binky/internal/jobs"
)

// Board combines both job kinds into the payload pushed to clients.
type Board struct {
	Transcription       jobs.State `json:"transcription"`
	Diarization         jobs.State `json:"diarization"`
	TranscriptionBadge  QueueBadge `json:"transcription_badge"`
	DiarizationBadge    QueueBadge `json:"diarization_badge"`
	TranscriptionBanner Banner     `json:"transcription_banner"`
	DiarizationBanner   Banner     `json:"diarization_banner"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

func NewBoard(transcription, diarization jobs.State) Board {
	return Board{
		Transcription:       transcription,
		Diarization:         diarization,
		TranscriptionBadge:  QueueBadgeFor(transcription),
		DiarizationBadge:    QueueBadgeFor(diarization),
		TranscriptionBanner: BannerFor(transcription),
		DiarizationBanner:   BannerFor(diarization),
		UpdatedAt:           time.Now().UTC(),
	}
}

// Watch emits a fresh Board whenever either coordinator publishes. The
// channel holds at most the newest board and is closed when ctx is done.
func Watch(ctx context.Context, transcription, diarization *jobs.Coordinator) <-chan Board {
	tCh, tStop := transcription.Subscribe()
	dCh, dStop := diarization.Subscribe()
	out := make(chan Board, 1)

	go func() {
		defer close(out)
		defer tStop()
		defer dStop()

		t := <-tCh
		d := <-dCh
		push(out, NewBoard(t, d))
		for {
			select {
			case <-ctx.Done():
				return
			case s, ok := <-tCh:
				if !ok {
					return
				}
				t = s
			case s, ok := <-dCh:
				if !ok {
					return
				}
				d = s
			}
			push(out, NewBoard(t, d))
		}
	}()
	return out
}

func push(out chan Board, b Board) {
	select {
	case <-out:
	default:
	}
	out <- b
}
