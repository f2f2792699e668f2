package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/MimeLyc/binky/internal/jobs"
	"github.com/MimeLyc/binky/internal/views"
)

// streamMessage is one push to a connected client: either a new job board or
// the id of an episode row to reload (0 reloads the whole list).
type streamMessage struct {
	Type      string       `json:"type"`
	Board     *views.Board `json:"board,omitempty"`
	EpisodeID *int64       `json:"episode_id,omitempty"`
}

const keepAliveInterval = 15 * time.Second

// streamWithInterval feeds send with every board and episode update until
// ctx ends or a write fails. keepAlive runs every interval.
func (s *Server) streamWithInterval(ctx context.Context, send func(streamMessage) error, keepAlive func() error, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	boards := views.Watch(ctx, s.coords[jobs.KindTranscription], s.coords[jobs.KindDiarization])
	updates, stop := s.library.Subscribe()
	defer stop()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-boards:
			if !ok {
				return
			}
			if err := send(streamMessage{Type: "board", Board: &b}); err != nil {
				return
			}
		case id := <-updates:
			if err := send(streamMessage{Type: "episode", EpisodeID: &id}); err != nil {
				return
			}
		case <-ticker.C:
			if err := keepAlive(); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	send := func(msg streamMessage) error {
		payload, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}
	keepAlive := func() error {
		if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	s.streamWithInterval(r.Context(), send, keepAlive, keepAliveInterval)
}
