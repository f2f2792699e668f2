// Package service holds the read models the CLI and HTTP API share.
package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/MimeLyc/binky/internal/jobs"
	"github.com/MimeLyc/binky/internal/persistence"
	"github.com/MimeLyc/binky/internal/views"
	"github.com/MimeLyc/binky/pkg/log"
)

type EpisodeStore interface {
	ListEpisodes(ctx context.Context, since string) ([]*persistence.Episode, error)
}

// Library lists episodes and tells subscribers when stored episode rows
// changed behind their back.
type Library struct {
	store EpisodeStore
	since string

	mu     sync.Mutex
	subs   map[int]chan int64
	nextID int
}

func NewLibrary(store EpisodeStore, since string) *Library {
	return &Library{
		store: store,
		since: since,
		subs:  make(map[int]chan int64),
	}
}

// Episodes returns episodes published since the cut-off, newest first,
// whose title contains query case-insensitively.
func (l *Library) Episodes(ctx context.Context, query string) ([]*persistence.Episode, error) {
	eps, err := l.store.ListEpisodes(ctx, l.since)
	if err != nil {
		return nil, fmt.Errorf("list episodes: %w", err)
	}
	return FilterByTitle(eps, query), nil
}

// Rows is Episodes with the live job overlays applied.
func (l *Library) Rows(ctx context.Context, query string, transcription, diarization jobs.State) ([]views.Row, error) {
	eps, err := l.Episodes(ctx, query)
	if err != nil {
		return nil, err
	}
	return views.Rows(eps, transcription, diarization), nil
}

func FilterByTitle(eps []*persistence.Episode, query string) []*persistence.Episode {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return eps
	}
	out := make([]*persistence.Episode, 0, len(eps))
	for _, ep := range eps {
		if strings.Contains(strings.ToLower(ep.Title), q) {
			out = append(out, ep)
		}
	}
	return out
}

// EntityUpdated is the coordinators' completion hook. Every subscriber
// learns which episode to reload; a slow subscriber only keeps the latest id.
func (l *Library) EntityUpdated(episodeID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	log.Debug("Episode %d updated, notifying %d subscribers", episodeID, len(l.subs))
	for _, ch := range l.subs {
		select {
		case <-ch:
		default:
		}
		ch <- episodeID
	}
}

// Synced notifies subscribers that the whole list may have changed. It
// sends 0 as the episode id.
func (l *Library) Synced(persistence.ReconcileResult) {
	l.EntityUpdated(0)
}

func (l *Library) Subscribe() (<-chan int64, func()) {
	ch := make(chan int64, 1)

	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.subs[id] = ch
	l.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, id)
			l.mu.Unlock()
		})
	}
}
