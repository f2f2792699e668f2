package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/MimeLyc/binky/internal/jobs"
	"github.com/MimeLyc/binky/pkg/log"
)

type startJobResponse struct {
	State jobs.State  `json:"state"`
	Event *jobs.Event `json:"event,omitempty"`
}

func (s *Server) coordinator(w http.ResponseWriter, r *http.Request) (*jobs.Coordinator, bool) {
	kind, err := jobs.ParseKind(mux.Vars(r)["kind"])
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	c := s.coords[kind]
	if c == nil {
		writeError(w, http.StatusNotImplemented, "no runner for "+string(kind))
		return nil, false
	}
	return c, true
}

func (s *Server) handleJobState(w http.ResponseWriter, r *http.Request) {
	c, ok := s.coordinator(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c.Snapshot())
}

// handleStartJob answers 202 right away and lets the job run on the server's
// job context. With ?wait=true it blocks until the terminal event instead.
func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	c, ok := s.coordinator(w, r)
	if !ok {
		return
	}
	var req jobs.BatchItem
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.EntityID <= 0 {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	if r.URL.Query().Get("wait") == "true" {
		ev, err := c.Start(r.Context(), req.EntityID, req.Resource)
		switch {
		case errors.Is(err, jobs.ErrRejected):
			writeError(w, http.StatusUnprocessableEntity, ev.Message)
		case err != nil:
			writeError(w, http.StatusInternalServerError, err.Error())
		default:
			writeJSON(w, http.StatusOK, startJobResponse{State: c.Snapshot(), Event: &ev})
		}
		return
	}

	go func() {
		if _, err := c.Start(s.jobCtx, req.EntityID, req.Resource); err != nil {
			log.Warn("%s of episode %d ended: %v", c.Kind(), req.EntityID, err)
		}
	}()
	writeJSON(w, http.StatusAccepted, startJobResponse{State: c.Snapshot()})
}

func (s *Server) handleStartBatch(w http.ResponseWriter, r *http.Request) {
	c, ok := s.coordinator(w, r)
	if !ok {
		return
	}
	var items []jobs.BatchItem
	if err := json.NewDecoder(r.Body).Decode(&items); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if len(items) == 0 {
		writeError(w, http.StatusBadRequest, "batch is empty")
		return
	}

	go func() {
		if err := c.StartBatch(s.jobCtx, items); err != nil {
			log.Warn("%s batch of %d stopped: %v", c.Kind(), len(items), err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]any{"queued": len(items)})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	c, ok := s.coordinator(w, r)
	if !ok {
		return
	}
	c.Cancel(r.Context())
	writeJSON(w, http.StatusAccepted, c.Snapshot())
}

func (s *Server) handleRefreshJob(w http.ResponseWriter, r *http.Request) {
	c, ok := s.coordinator(w, r)
	if !ok {
		return
	}
	if err := c.RefreshStatus(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, c.Snapshot())
}
