package feed

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/MimeLyc/binky/internal/persistence"
	"github.com/MimeLyc/binky/pkg/log"
)

// ErrSyncInProgress is returned when Sync is called while another sync runs.
var ErrSyncInProgress = errors.New("sync already in progress")

// Store is the part of the persistence layer a sync writes to.
type Store interface {
	ReconcileEpisodes(ctx context.Context, podcastName string, records []persistence.EpisodeMetadata) (persistence.ReconcileResult, error)
}

type ReconcilerOption func(*Reconciler)

// WithOnSynced registers a hook that runs after every successful sync.
func WithOnSynced(fn func(persistence.ReconcileResult)) ReconcilerOption {
	return func(r *Reconciler) {
		r.onSynced = fn
	}
}

// Reconciler merges the remote feed into the episode table.
type Reconciler struct {
	fetcher     Fetcher
	store       Store
	podcastName string
	onSynced    func(persistence.ReconcileResult)

	syncing  atomic.Bool
	lastSync atomic.Pointer[time.Time]
}

func NewReconciler(fetcher Fetcher, store Store, podcastName string, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		fetcher:     fetcher,
		store:       store,
		podcastName: podcastName,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Sync fetches the feed and reconciles it into the store. A call made while
// another sync is running is dropped with ErrSyncInProgress.
func (r *Reconciler) Sync(ctx context.Context) (persistence.ReconcileResult, error) {
	if !r.syncing.CompareAndSwap(false, true) {
		return persistence.ReconcileResult{}, ErrSyncInProgress
	}
	defer r.syncing.Store(false)

	records, err := r.fetcher.Fetch(ctx)
	if err != nil {
		return persistence.ReconcileResult{}, err
	}

	result, err := r.store.ReconcileEpisodes(ctx, r.podcastName, records)
	if err != nil {
		return persistence.ReconcileResult{}, fmt.Errorf("reconcile episodes: %w", err)
	}
	now := time.Now().UTC()
	r.lastSync.Store(&now)

	log.Info("Feed sync: %d records, %d inserted, %d duplicates removed",
		len(records), result.Inserted, result.DuplicatesRemoved)
	if r.onSynced != nil {
		r.onSynced(result)
	}
	return result, nil
}

// SyncInBackground runs one sync on its own goroutine and only logs the
// outcome.
func (r *Reconciler) SyncInBackground(ctx context.Context) {
	go func() {
		if _, err := r.Sync(ctx); err != nil && !errors.Is(err, ErrSyncInProgress) {
			log.Error("Background feed sync failed: %v", err)
		}
	}()
}

func (r *Reconciler) Syncing() bool {
	return r.syncing.Load()
}

// LastSync is the completion time of the last successful sync, zero if none.
func (r *Reconciler) LastSync() time.Time {
	if t := r.lastSync.Load(); t != nil {
		return *t
	}
	return time.Time{}
}
