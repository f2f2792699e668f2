package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/binky/internal/persistence"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:itunes="http://www.itunes.com/dtds/podcast-1.0.dtd">
  <channel>
    <title>Nettgeflüster</title>
    <item>
      <title>Folge 12: Urlaub</title>
      <description>Wir waren weg.</description>
      <pubDate>Mon, 15 Jan 2024 06:00:00 +0100</pubDate>
      <enclosure url="https://cdn.example.com/12.mp3" length="1" type="audio/mpeg"/>
      <itunes:duration>01:02:30</itunes:duration>
      <itunes:episode>12</itunes:episode>
    </item>
    <item>
      <title>Folge 11: Alt</title>
      <pubDate>Fri, 01 Dec 2023 06:00:00 +0100</pubDate>
      <enclosure url="https://cdn.example.com/11.mp3" length="1" type="audio/mpeg"/>
    </item>
    <item>
      <title>   </title>
      <pubDate>Mon, 22 Jan 2024 06:00:00 +0100</pubDate>
    </item>
    <item>
      <title>Bonus</title>
      <itunes:duration>1800</itunes:duration>
      <itunes:episode>bonus</itunes:episode>
    </item>
  </channel>
</rss>`

func since2024() time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
}

func TestParseFeed(t *testing.T) {
	t.Parallel()

	records, err := ParseFeed(strings.NewReader(sampleFeed), since2024())
	require.NoError(t, err)
	require.Len(t, records, 2)

	first := records[0]
	assert.Equal(t, "Folge 12: Urlaub", first.Title)
	assert.Equal(t, "Wir waren weg.", first.Description)
	assert.Equal(t, "2024-01-15", first.PublishDate)
	assert.Equal(t, "https://cdn.example.com/12.mp3", first.AudioURL)
	require.NotNil(t, first.DurationMinutes)
	assert.InDelta(t, 62.5, *first.DurationMinutes, 1e-9)
	require.NotNil(t, first.EpisodeNumber)
	assert.Equal(t, 12, *first.EpisodeNumber)

	bonus := records[1]
	assert.Equal(t, "Bonus", bonus.Title)
	assert.Empty(t, bonus.PublishDate)
	assert.Nil(t, bonus.EpisodeNumber)
	require.NotNil(t, bonus.DurationMinutes)
	assert.InDelta(t, 30.0, *bonus.DurationMinutes, 1e-9)
}

func TestParseDurationMinutes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want float64
		ok   bool
	}{
		{"01:00:30", 60.5, true},
		{"45:30", 45.5, true},
		{"90", 1.5, true},
		{" 00:10 ", 10.0 / 60, true},
		{"", 0, false},
		{"abc", 0, false},
		{"1:2:3:4", 0, false},
		{"12:xx", 0, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.raw, func(t *testing.T) {
			got := ParseDurationMinutes(tt.raw)
			if !tt.ok {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.InDelta(t, tt.want, *got, 1e-9)
		})
	}
}

func TestHTTPFetcher_Fetch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/feed.rss" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(sampleFeed))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL+"/missing.rss", since2024())
	_, err := f.Fetch(context.Background())
	require.Error(t, err)

	f.SetURL(srv.URL + "/feed.rss")
	records, err := f.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

type staticFetcher struct {
	records []persistence.EpisodeMetadata
	err     error
}

func (f staticFetcher) Fetch(context.Context) ([]persistence.EpisodeMetadata, error) {
	return f.records, f.err
}

func newStore(t *testing.T) *persistence.SQLiteStore {
	t.Helper()
	store, err := persistence.NewSQLiteStore(filepath.Join(t.TempDir(), "binky.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestReconciler_SyncTwiceKeepsOneRowPerKey(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	records, err := ParseFeed(strings.NewReader(sampleFeed), since2024())
	require.NoError(t, err)

	var synced []persistence.ReconcileResult
	r := NewReconciler(staticFetcher{records: records}, store, "Nettgefluster",
		WithOnSynced(func(res persistence.ReconcileResult) { synced = append(synced, res) }))

	ctx := context.Background()
	first, err := r.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Inserted)

	second, err := r.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Inserted)
	assert.Len(t, synced, 2)
	assert.False(t, r.LastSync().IsZero())

	eps, err := store.ListEpisodes(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, countByKey(eps, "Folge 12: Urlaub", "2024-01-15"))
	assert.Equal(t, 1, countByKey(eps, "Bonus", ""))
	for _, ep := range eps {
		assert.Equal(t, "Nettgefluster", ep.PodcastName)
		assert.Equal(t, persistence.TranscriptionNotStarted, ep.TranscriptionStatus)
	}
}

type blockingFetcher struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (f *blockingFetcher) Fetch(ctx context.Context) ([]persistence.EpisodeMetadata, error) {
	f.once.Do(func() { close(f.entered) })
	select {
	case <-f.release:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestReconciler_ConcurrentSyncIsDropped(t *testing.T) {
	t.Parallel()

	fetcher := &blockingFetcher{entered: make(chan struct{}), release: make(chan struct{})}
	r := NewReconciler(fetcher, newStore(t), "Nettgefluster")

	done := make(chan error, 1)
	go func() {
		_, err := r.Sync(context.Background())
		done <- err
	}()
	<-fetcher.entered
	assert.True(t, r.Syncing())

	_, err := r.Sync(context.Background())
	assert.ErrorIs(t, err, ErrSyncInProgress)

	close(fetcher.release)
	require.NoError(t, <-done)
	assert.False(t, r.Syncing())
}

func TestReconciler_FetchErrorReleasesGuard(t *testing.T) {
	t.Parallel()

	boom := errors.New("offline")
	r := NewReconciler(staticFetcher{err: boom}, newStore(t), "Nettgefluster")

	_, err := r.Sync(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.False(t, r.Syncing())
	assert.True(t, r.LastSync().IsZero())
}

func TestScheduler_SetSchedule(t *testing.T) {
	t.Parallel()

	r := NewReconciler(staticFetcher{}, newStore(t), "Nettgefluster")
	s := NewScheduler(r, cron.New())

	require.NoError(t, s.Schedule(context.Background(), "0 */6 * * *"))
	defer s.Stop()

	now := time.Date(2024, 3, 1, 7, 30, 0, 0, time.Local)
	next, ok := s.NextRun(now)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.Local), next)

	require.Error(t, s.SetSchedule("not a cron"))
	assert.Equal(t, "0 */6 * * *", s.Expression())

	require.NoError(t, s.SetSchedule(""))
	_, ok = s.NextRun(now)
	assert.False(t, ok)
}

func countByKey(eps []*persistence.Episode, title, publishDate string) int {
	n := 0
	for _, ep := range eps {
		if ep.Title == title && ep.PublishDate == publishDate {
			n++
		}
	}
	return n
}
