package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/MimeLyc/binky/internal/analytics"
	"github.com/MimeLyc/binky/internal/config"
	"github.com/MimeLyc/binky/internal/feed"
	"github.com/MimeLyc/binky/internal/jobs"
	"github.com/MimeLyc/binky/internal/persistence"
	"github.com/MimeLyc/binky/internal/service"
	"github.com/MimeLyc/binky/internal/settings"
	"github.com/MimeLyc/binky/internal/subtitle"
	"github.com/MimeLyc/binky/pkg/log"
)

func (s *Server) handleListEpisodes(w http.ResponseWriter, r *http.Request) {
	rows, err := s.library.Rows(r.Context(), r.URL.Query().Get("q"),
		s.coords[jobs.KindTranscription].Snapshot(), s.coords[jobs.KindDiarization].Snapshot())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

type syncStatusResponse struct {
	Syncing  bool       `json:"syncing"`
	LastSync *time.Time `json:"last_sync,omitempty"`
	Schedule string     `json:"schedule"`
	NextRun  *time.Time `json:"next_run,omitempty"`
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if s.reconciler == nil {
		writeError(w, http.StatusNotImplemented, "feed sync is not configured")
		return
	}
	resp := syncStatusResponse{Syncing: s.reconciler.Syncing()}
	if last := s.reconciler.LastSync(); !last.IsZero() {
		resp.LastSync = &last
	}
	if s.scheduler != nil {
		resp.Schedule = s.scheduler.Expression()
		if next, ok := s.scheduler.NextRun(time.Now()); ok {
			resp.NextRun = &next
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.reconciler == nil {
		writeError(w, http.StatusNotImplemented, "feed sync is not configured")
		return
	}
	result, err := s.reconciler.Sync(r.Context())
	if errors.Is(err, feed.ErrSyncInProgress) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetTranscript(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	cursor := 0
	if raw := r.URL.Query().Get("cursor"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid cursor")
			return
		}
		cursor = v
	}
	view, err := s.transcripts.Load(r.Context(), id, r.URL.Query().Get("q"), cursor)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleDeleteTranscript(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.transcripts.Delete(r.Context(), id); err != nil {
		if errors.Is(err, service.ErrTranscriptBusy) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExportTranscript(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	format, err := subtitle.ParseFormat(mux.Vars(r)["format"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	hosts := settings.DefaultHostProfile()
	if s.prefs != nil {
		hosts = settings.LoadHostProfile(r.Context(), s.prefs)
	}
	file, err := s.transcripts.Subtitles(r.Context(), id, hosts.SpeakerName)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="episode-%d.%s"`, id, format))
	if err := subtitle.Write(w, file, format); err != nil {
		log.Warn("Failed to write %s export of episode %d: %v", format, id, err)
	}
}

func (s *Server) handleListSegments(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotImplemented, "store is not configured")
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, err := s.store.GetEpisode(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	segs, err := s.store.ListDiarizationSegments(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, segs)
}

type correctSegmentRequest struct {
	Speaker string `json:"speaker"`
}

func (s *Server) handleCorrectSegment(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotImplemented, "store is not configured")
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req correctSegmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	speaker := strings.TrimSpace(req.Speaker)
	if speaker != "" && speaker != analytics.Host0Label && speaker != analytics.Host1Label {
		writeError(w, http.StatusBadRequest, "speaker must be SPEAKER_0, SPEAKER_1 or empty")
		return
	}
	if err := s.store.CorrectSegment(r.Context(), id, speaker); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleFlipSpeakers(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotImplemented, "store is not configured")
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.store.FlipEpisodeSpeakers(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	s.library.EntityUpdated(id)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type analyticsResponse struct {
	analytics.Report
	Hosts settings.HostProfile `json:"hosts"`
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotImplemented, "store is not configured")
		return
	}
	report, err := analytics.Load(r.Context(), s.store)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	hosts := settings.DefaultHostProfile()
	if s.prefs != nil {
		hosts = settings.LoadHostProfile(r.Context(), s.prefs)
	}
	writeJSON(w, http.StatusOK, analyticsResponse{Report: report, Hosts: hosts})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusNotImplemented, "settings store is not configured")
		return
	}

	switch r.Method {
	case http.MethodGet:
		current, err := s.settings.GetRuntimeSettings()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, current)
	case http.MethodPut:
		var req config.RuntimeSettings
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		if err := req.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		saved, err := s.settings.UpdateRuntimeSettings(req)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if s.apply != nil {
			if err := s.apply(saved); err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
		}
		writeJSON(w, http.StatusOK, saved)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleHosts(w http.ResponseWriter, r *http.Request) {
	if s.prefs == nil {
		writeError(w, http.StatusNotImplemented, "preferences are not configured")
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, settings.LoadHostProfile(r.Context(), s.prefs))
	case http.MethodPut:
		var req settings.HostProfile
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		if err := req.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		// A saved profile is a confirmed one.
		req.Confirmed = true
		if err := settings.SaveHostProfile(r.Context(), s.prefs, req); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, settings.LoadHostProfile(r.Context(), s.prefs))
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleOnboarding(w http.ResponseWriter, r *http.Request) {
	if s.prefs == nil {
		writeError(w, http.StatusNotImplemented, "preferences are not configured")
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"first_launch": settings.IsFirstLaunch(r.Context(), s.prefs),
		})
	case http.MethodPost:
		if err := settings.MarkFirstLaunchComplete(r.Context(), s.prefs); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"first_launch": false})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, persistence.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
