package httpapi

import (
	"context"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/MimeLyc/binky/internal/analytics"
	"github.com/MimeLyc/binky/internal/config"
	"github.com/MimeLyc/binky/internal/feed"
	"github.com/MimeLyc/binky/internal/jobs"
	"github.com/MimeLyc/binky/internal/persistence"
	"github.com/MimeLyc/binky/internal/service"
	"github.com/MimeLyc/binky/internal/settings"
)

type runtimeSettingsStore interface {
	GetRuntimeSettings() (config.RuntimeSettings, error)
	UpdateRuntimeSettings(next config.RuntimeSettings) (config.RuntimeSettings, error)
}

type runtimeSettingsApplier func(next config.RuntimeSettings) error

// episodeStore is the part of the store the segment and analytics
// endpoints use directly.
type episodeStore interface {
	analytics.Store
	GetEpisode(ctx context.Context, id int64) (*persistence.Episode, error)
	ListDiarizationSegments(ctx context.Context, episodeID int64) ([]persistence.DiarizationSegment, error)
	CorrectSegment(ctx context.Context, segmentID int64, speaker string) error
	FlipEpisodeSpeakers(ctx context.Context, episodeID int64) error
}

type Server struct {
	library     *service.Library
	transcripts *service.Transcripts
	coords      map[jobs.Kind]*jobs.Coordinator

	store      episodeStore
	reconciler *feed.Reconciler
	scheduler  *feed.Scheduler
	settings   runtimeSettingsStore
	apply      runtimeSettingsApplier
	prefs      settings.Settings

	// jobCtx outlives requests; background starts and syncs run with it.
	jobCtx context.Context

	uiEnabled   bool
	uiStaticDir string

	router   *mux.Router
	server   *http.Server
	upgrader websocket.Upgrader
}

type Option func(*Server)

func WithUI(staticDir string, enabled bool) Option {
	return func(s *Server) {
		s.uiStaticDir = staticDir
		s.uiEnabled = enabled
	}
}

func WithStore(store episodeStore) Option {
	return func(s *Server) {
		s.store = store
	}
}

func WithFeed(reconciler *feed.Reconciler, scheduler *feed.Scheduler) Option {
	return func(s *Server) {
		s.reconciler = reconciler
		s.scheduler = scheduler
	}
}

func WithRuntimeSettingsStore(store runtimeSettingsStore) Option {
	return func(s *Server) {
		s.settings = store
	}
}

func WithRuntimeSettingsApplier(apply runtimeSettingsApplier) Option {
	return func(s *Server) {
		s.apply = apply
	}
}

func WithPreferences(prefs settings.Settings) Option {
	return func(s *Server) {
		s.prefs = prefs
	}
}

func WithJobContext(ctx context.Context) Option {
	return func(s *Server) {
		s.jobCtx = ctx
	}
}

func NewServer(library *service.Library, transcripts *service.Transcripts, transcription, diarization *jobs.Coordinator, opts ...Option) *Server {
	s := &Server{
		library:     library,
		transcripts: transcripts,
		coords: map[jobs.Kind]*jobs.Coordinator{
			jobs.KindTranscription: transcription,
			jobs.KindDiarization:   diarization,
		},
		jobCtx: context.Background(),
		router: mux.NewRouter(),
		upgrader: websocket.Upgrader{
			// The API listens on loopback by default and serves its own UI.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	r := s.router.PathPrefix("/api").Subrouter()

	r.HandleFunc("/episodes", s.handleListEpisodes).Methods(http.MethodGet)
	r.HandleFunc("/episodes/{id:[0-9]+}/transcript", s.handleGetTranscript).Methods(http.MethodGet)
	r.HandleFunc("/episodes/{id:[0-9]+}/transcript", s.handleDeleteTranscript).Methods(http.MethodDelete)
	r.HandleFunc("/episodes/{id:[0-9]+}/transcript.{format:srt|vtt}", s.handleExportTranscript).Methods(http.MethodGet)
	r.HandleFunc("/episodes/{id:[0-9]+}/segments", s.handleListSegments).Methods(http.MethodGet)
	r.HandleFunc("/episodes/{id:[0-9]+}/flip-speakers", s.handleFlipSpeakers).Methods(http.MethodPost)
	r.HandleFunc("/segments/{id:[0-9]+}", s.handleCorrectSegment).Methods(http.MethodPut)
	r.HandleFunc("/analytics", s.handleAnalytics).Methods(http.MethodGet)

	r.HandleFunc("/sync", s.handleSyncStatus).Methods(http.MethodGet)
	r.HandleFunc("/sync", s.handleSync).Methods(http.MethodPost)

	// Registered before /jobs/{kind} so the kind pattern never shadows them.
	r.HandleFunc("/jobs/stream", s.handleJobStream).Methods(http.MethodGet)
	r.HandleFunc("/jobs/ws", s.handleJobSocket).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{kind}", s.handleJobState).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{kind}", s.handleStartJob).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{kind}/batch", s.handleStartBatch).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{kind}/cancel", s.handleCancelJob).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{kind}/refresh", s.handleRefreshJob).Methods(http.MethodPost)

	r.HandleFunc("/settings", s.handleSettings).Methods(http.MethodGet, http.MethodPut)
	r.HandleFunc("/hosts", s.handleHosts).Methods(http.MethodGet, http.MethodPut)
	r.HandleFunc("/onboarding", s.handleOnboarding).Methods(http.MethodGet, http.MethodPost)

	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})

	s.router.PathPrefix("/").HandlerFunc(s.handleStatic)
}

func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if !s.uiEnabled || s.uiStaticDir == "" {
		http.NotFound(w, r)
		return
	}

	rel := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
	indexPath := filepath.Join(s.uiStaticDir, "index.html")

	if rel == "" || !strings.Contains(filepath.Base(rel), ".") {
		http.ServeFile(w, r, indexPath)
		return
	}

	filePath := filepath.Join(s.uiStaticDir, rel)
	if _, err := os.Stat(filePath); err != nil {
		// SPA fallback: non-existing static file path returns index
		http.ServeFile(w, r, indexPath)
		return
	}
	http.ServeFile(w, r, filePath)
}
