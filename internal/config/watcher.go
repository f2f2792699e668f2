package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/MimeLyc/binky/pkg/log"
)

// ApplyFunc receives settings after an external edit of the settings file.
type ApplyFunc func(next RuntimeSettings) error

// Watcher reloads a RuntimeSettingsStore when its file changes on disk.
type Watcher struct {
	store   *RuntimeSettingsStore
	apply   ApplyFunc
	watcher *fsnotify.Watcher
}

func NewWatcher(store *RuntimeSettingsStore, apply ApplyFunc) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create settings watcher: %w", err)
	}
	// Watch the directory: WriteRuntimeSettingsFile replaces the file via rename.
	if err := w.Add(filepath.Dir(store.Path())); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch settings dir: %w", err)
	}
	return &Watcher{store: store, apply: apply, watcher: w}, nil
}

// Run blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	target := filepath.Clean(w.store.Path())
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("Settings watcher error: %v", err)
		}
	}
}

func (w *Watcher) reload() {
	next, changed, err := w.store.Reload()
	if err != nil {
		log.Warn("Ignoring settings file change: %v", err)
		return
	}
	if !changed {
		return
	}
	log.Info("Runtime settings reloaded from %s", w.store.Path())
	if w.apply == nil {
		return
	}
	if err := w.apply(next); err != nil {
		log.Error("Failed to apply reloaded settings: %v", err)
	}
}
