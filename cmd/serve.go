package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MimeLyc/binky/internal/config"
	"github.com/MimeLyc/binky/internal/httpapi"
	"github.com/MimeLyc/binky/pkg/log"
)

type syncScheduler interface {
	Schedule(ctx context.Context, expr string) error
	Stop()
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

const shutdownTimeout = 10 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	var addr string
	var skipSync bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the job workers and the scheduled feed sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(config.WithHTTPAddr(addr))
			if err != nil {
				return err
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}

			lock := flock.New(cfg.LockPath())
			locked, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("acquire lock: %w", err)
			}
			if !locked {
				return fmt.Errorf("another binky instance is already using %s", cfg.System.DataDir)
			}
			defer func() { _ = lock.Unlock() }()

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			watcher, err := config.NewWatcher(a.runtime, a.applyRuntimeSettings)
			if err != nil {
				return err
			}

			api := httpapi.NewServer(a.library, a.transcripts, a.trans, a.diar,
				httpapi.WithUI(cfg.System.UIStaticDir, cfg.System.UIEnabled),
				httpapi.WithStore(a.store),
				httpapi.WithFeed(a.sync, a.schedule),
				httpapi.WithRuntimeSettingsStore(a.runtime),
				httpapi.WithRuntimeSettingsApplier(a.applyRuntimeSettings),
				httpapi.WithPreferences(a.prefs),
				httpapi.WithJobContext(ctx),
			)

			if !skipSync {
				a.sync.SyncInBackground(ctx)
			}

			return runWithComponents(ctx, cfg.System.HTTPAddr, a.schedule, cfg.Feed.CronExpr, api,
				a.transQueue.Run,
				a.diarQueue.Run,
				func(ctx context.Context) error { a.transPoll.Run(ctx); return nil },
				func(ctx context.Context) error { a.diarPoll.Run(ctx); return nil },
				watcher.Run,
			)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides HTTP_ADDR)")
	cmd.Flags().BoolVar(&skipSync, "no-sync", false, "Skip the feed sync on startup")
	return cmd
}

// runWithComponents starts the scheduler, the background tasks and the HTTP
// server, and shuts everything down when ctx ends or any of them fails.
func runWithComponents(ctx context.Context, addr string, scheduler syncScheduler, cronExpr string, srv httpServer, tasks ...func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)

	if err := scheduler.Schedule(gctx, cronExpr); err != nil {
		return fmt.Errorf("schedule feed sync: %w", err)
	}
	defer scheduler.Stop()

	for _, task := range tasks {
		task := task
		g.Go(func() error { return task(gctx) })
	}

	g.Go(func() error {
		log.Info("HTTP API listening on %s", addr)
		if err := srv.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	log.Info("Shut down")
	return err
}
