package main

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/MimeLyc/binky/internal/config"
	"github.com/MimeLyc/binky/internal/engine"
	"github.com/MimeLyc/binky/internal/feed"
	"github.com/MimeLyc/binky/internal/jobs"
	"github.com/MimeLyc/binky/internal/media"
	"github.com/MimeLyc/binky/internal/persistence"
	"github.com/MimeLyc/binky/internal/service"
	"github.com/MimeLyc/binky/internal/settings"
	"github.com/MimeLyc/binky/internal/worker"
	"github.com/MimeLyc/binky/pkg/log"
)

// app is every long-lived component of a running instance.
type app struct {
	cfg      *config.Config
	store    *persistence.SQLiteStore
	runtime  *config.RuntimeSettingsStore
	prefs    *settings.Cached
	fetcher  *feed.HTTPFetcher
	sync     *feed.Reconciler
	schedule *feed.Scheduler
	cron     *cron.Cron

	downloader *engine.Downloader

	library     *service.Library
	transcripts *service.Transcripts

	transQueue *worker.Queue
	diarQueue  *worker.Queue
	trans      *jobs.Coordinator
	diar       *jobs.Coordinator
	transPoll  *jobs.Poller
	diarPoll   *jobs.Poller

	applyMu sync.Mutex
}

// newApp opens the store and builds the job pipeline. The caller owns Close.
func newApp(cfg *config.Config) (*app, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	initial := cfg.RuntimeSettings()
	saved, err := config.LoadRuntimeSettingsFile(cfg.SettingsPath())
	switch {
	case err == nil && saved.Validate() == nil:
		initial = saved
		config.WithRuntimeSettings(saved)(cfg)
	case err == nil:
		log.Warn("Ignoring invalid settings file %s: %v", cfg.SettingsPath(), saved.Validate())
	case !errors.Is(err, fs.ErrNotExist):
		log.Warn("Failed to read settings file %s: %v", cfg.SettingsPath(), err)
	}
	runtime, err := config.NewRuntimeSettingsStore(cfg.SettingsPath(), initial)
	if err != nil {
		return nil, fmt.Errorf("open runtime settings: %w", err)
	}

	store, err := persistence.NewSQLiteStore(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	a := &app{
		cfg:     cfg,
		store:   store,
		runtime: runtime,
		prefs:   settings.NewCached(settings.NewRepository(store)),
		cron:    cron.New(),
	}
	a.library = service.NewLibrary(store, cfg.Feed.Since)

	a.fetcher = feed.NewHTTPFetcher(cfg.Feed.URL, cfg.FeedSince())
	a.sync = feed.NewReconciler(a.fetcher, store, cfg.Feed.PodcastName, feed.WithOnSynced(a.library.Synced))
	a.schedule = feed.NewScheduler(a.sync, a.cron)

	a.downloader = engine.NewDownloader(cfg.AudioDir(), &http.Client{Timeout: 2 * time.Hour})
	whisper := engine.NewWhisper(cfg.Engine.WhisperBin, cfg.Engine.WhisperModel, a.downloader, store)
	if ff := media.NewFfmpeg(cfg.Engine.FfmpegBin, cfg.Engine.FfprobeBin); ff.Available() {
		whisper.SetAudioConverter(ff.ToWAV)
	} else {
		log.Warn("ffmpeg not found, passing downloaded audio to whisper.cpp unconverted")
	}
	diarizer := engine.NewDiarizer(cfg.Engine.DiarizeBin, cfg.Engine.DiarizeModelDir, a.downloader, store)

	a.transQueue = worker.NewQueue(jobs.KindTranscription, whisper.Execute,
		worker.WithPrecheck(whisper.Precheck),
		worker.WithTracker(engine.TranscriptionTracker{Store: store}),
	)
	a.diarQueue = worker.NewQueue(jobs.KindDiarization, diarizer.Execute,
		worker.WithPrecheck(diarizer.Precheck),
		worker.WithTracker(engine.DiarizationTracker{Store: store}),
	)

	coordOpts := []jobs.Option{
		jobs.WithOnEntityUpdated(a.library.EntityUpdated),
		jobs.WithAlert(func(msg string) { log.Error("Action required: %s", msg) }),
		jobs.WithStallTimeout(cfg.Jobs.StallTimeout),
	}
	a.trans = jobs.NewCoordinator(jobs.KindTranscription, a.transQueue, coordOpts...)
	a.diar = jobs.NewCoordinator(jobs.KindDiarization, a.diarQueue, coordOpts...)
	a.transPoll = jobs.NewPoller(a.trans, cfg.Jobs.PollInterval)
	a.diarPoll = jobs.NewPoller(a.diar, cfg.Jobs.PollInterval)

	a.transcripts = service.NewTranscripts(store, a.transQueue, a.trans)
	return a, nil
}

// applyRuntimeSettings pushes changed settings into the running components.
func (a *app) applyRuntimeSettings(next config.RuntimeSettings) error {
	a.applyMu.Lock()
	defer a.applyMu.Unlock()

	config.WithRuntimeSettings(next)(a.cfg)

	a.fetcher.SetURL(a.cfg.Feed.URL)
	a.transPoll.SetInterval(a.cfg.Jobs.PollInterval)
	a.diarPoll.SetInterval(a.cfg.Jobs.PollInterval)
	a.trans.SetStallTimeout(a.cfg.Jobs.StallTimeout)
	a.diar.SetStallTimeout(a.cfg.Jobs.StallTimeout)
	if err := a.schedule.SetSchedule(a.cfg.Feed.CronExpr); err != nil {
		return fmt.Errorf("apply sync schedule: %w", err)
	}
	log.Info("Applied runtime settings: feed=%s cron=%q poll=%s stall=%s",
		a.cfg.Feed.URL, a.cfg.Feed.CronExpr, a.cfg.Jobs.PollInterval, a.cfg.Jobs.StallTimeout)
	return nil
}

func (a *app) Close() error {
	return a.store.Close()
}
