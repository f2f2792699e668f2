package persistence

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "binky.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func floatPtr(v float64) *float64 { return &v }

func TestSQLiteStore_MigrationsAreIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "binky.db")
	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	var n int
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestMigrationVersion(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1, migrationVersion("001_init.sql"))
	assert.Equal(t, 12, migrationVersion("012_add_topics.sql"))
	assert.Equal(t, 0, migrationVersion("init.sql"))
}

func TestSQLiteStore_ReconcileEpisodesRemovesDuplicatesAndSkipsExisting(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	// Rows left behind by a reconciler without the existence check.
	first, err := store.InsertEpisode(ctx, "Nettgefluster", EpisodeMetadata{Title: "Folge 1", PublishDate: "2024-02-01"})
	require.NoError(t, err)
	_, err = store.InsertEpisode(ctx, "Nettgefluster", EpisodeMetadata{Title: "Folge 1", PublishDate: "2024-02-01"})
	require.NoError(t, err)

	records := []EpisodeMetadata{
		{Title: "Folge 1", PublishDate: "2024-02-01", AudioURL: "https://cdn.test/1.mp3"},
		{Title: "Folge 2", PublishDate: "2024-02-08", AudioURL: "https://cdn.test/2.mp3", DurationMinutes: floatPtr(61.5)},
		{Title: "Folge 2", PublishDate: "2024-02-08", AudioURL: "https://cdn.test/2.mp3"},
	}

	result, err := store.ReconcileEpisodes(ctx, "Nettgefluster", records)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.DuplicatesRemoved)
	assert.Equal(t, 1, result.Inserted)

	assert.Equal(t, 1, countByKey(t, store, "Folge 1", "2024-02-01"))
	assert.Equal(t, 1, countByKey(t, store, "Folge 2", "2024-02-08"))

	kept, err := store.GetEpisode(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "Folge 1", kept.Title)

	again, err := store.ReconcileEpisodes(ctx, "Nettgefluster", records)
	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{}, again)
}

func TestSQLiteStore_ListEpisodesNewestFirstSince(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.ReconcileEpisodes(ctx, "Nettgefluster", []EpisodeMetadata{
		{Title: "old", PublishDate: "2023-12-24"},
		{Title: "a", PublishDate: "2024-01-10"},
		{Title: "b", PublishDate: "2024-03-10"},
	})
	require.NoError(t, err)

	eps, err := store.ListEpisodes(ctx, "2024-01-01")
	require.NoError(t, err)
	require.Len(t, eps, 2)
	assert.Equal(t, "b", eps[0].Title)
	assert.Equal(t, "a", eps[1].Title)
	assert.Equal(t, TranscriptionNotStarted, eps[0].TranscriptionStatus)
	assert.Equal(t, DiarizationNotStarted, eps[0].DiarizationStatus)
	assert.Equal(t, "Nettgefluster", eps[0].PodcastName)

	all, err := store.ListEpisodes(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSQLiteStore_StatusAndTranscriptLifecycle(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	id, err := store.InsertEpisode(ctx, "Nettgefluster", EpisodeMetadata{Title: "x", PublishDate: "2024-05-01"})
	require.NoError(t, err)

	require.NoError(t, store.SetTranscriptionStatus(ctx, id, TranscriptionError, "boom"))
	ep, err := store.GetEpisode(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, TranscriptionError, ep.TranscriptionStatus)
	assert.Equal(t, "boom", ep.TranscriptionError)

	_, err = store.SaveTranscript(ctx, Transcript{EpisodeID: id, FullText: "hallo", ModelName: "base", Language: "de"})
	require.NoError(t, err)
	require.NoError(t, store.SetTranscriptionStatus(ctx, id, TranscriptionDone, ""))

	tr, err := store.GetTranscript(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "hallo", tr.FullText)
	assert.Equal(t, "de", tr.Language)

	require.NoError(t, store.DeleteTranscript(ctx, id))
	_, err = store.GetTranscript(ctx, id)
	assert.True(t, errors.Is(err, ErrNotFound))

	ep, err = store.GetEpisode(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, TranscriptionNotStarted, ep.TranscriptionStatus)
	assert.Empty(t, ep.TranscriptionError)

	err = store.SetDiarizationStatus(ctx, 999, DiarizationDone, "")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLiteStore_SpeakerOverlay(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	id, err := store.InsertEpisode(ctx, "Nettgefluster", EpisodeMetadata{Title: "x", PublishDate: "2024-05-01"})
	require.NoError(t, err)
	require.NoError(t, store.ReplaceDiarizationSegments(ctx, id, []DiarizationSegment{
		{StartMs: 0, EndMs: 3000, SpeakerLabel: "SPEAKER_0"},
		{StartMs: 3000, EndMs: 4000, SpeakerLabel: "SPEAKER_1"},
		{StartMs: 4000, EndMs: 5000, SpeakerLabel: "SPEAKER_1"},
	}))
	require.NoError(t, store.SetDiarizationStatus(ctx, id, DiarizationDone, ""))

	segs, err := store.ListDiarizationSegments(ctx, id)
	require.NoError(t, err)
	require.Len(t, segs, 3)
	require.NoError(t, store.CorrectSegment(ctx, segs[2].ID, "SPEAKER_0"))

	segs, err = store.ListDiarizationSegments(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "SPEAKER_1", segs[2].SpeakerLabel)
	assert.Equal(t, "SPEAKER_0", segs[2].EffectiveSpeaker())

	totals, err := store.SpeakerTotals(ctx, DiarizationDone)
	require.NoError(t, err)
	require.Len(t, totals, 2)
	byspeaker := map[string]SpeakerTotal{}
	for _, tt := range totals {
		byspeaker[tt.Speaker] = tt
	}
	assert.Equal(t, int64(4000), byspeaker["SPEAKER_0"].SpeakingMs)
	assert.Equal(t, 2, byspeaker["SPEAKER_0"].Turns)
	assert.Equal(t, int64(1000), byspeaker["SPEAKER_1"].SpeakingMs)

	require.NoError(t, store.FlipEpisodeSpeakers(ctx, id))
	segs, err = store.ListDiarizationSegments(ctx, id)
	require.NoError(t, err)
	got := make([]string, 0, len(segs))
	for _, s := range segs {
		got = append(got, s.EffectiveSpeaker())
	}
	assert.Equal(t, []string{"SPEAKER_1", "SPEAKER_0", "SPEAKER_1"}, got)
	assert.Equal(t, "SPEAKER_0", segs[0].SpeakerLabel)

	err = store.CorrectSegment(ctx, 12345, "SPEAKER_0")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLiteStore_Settings(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	_, ok, err := store.GetSetting(ctx, "host_0_name")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SetSetting(ctx, "host_0_name", "Anna"))
	require.NoError(t, store.SetSetting(ctx, "host_0_name", "Anne"))
	v, ok, err := store.GetSetting(ctx, "host_0_name")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Anne", v)
}

func TestRetryOnBusy(t *testing.T) {
	t.Parallel()

	calls := 0
	err := retryOnBusy(context.Background(), func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("exec: database is locked (SQLITE_BUSY)")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	boom := errors.New("constraint failed")
	err = retryOnBusy(context.Background(), func() error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

// countByKey counts rows sharing the (title, publish_date) dedupe key.
func countByKey(t *testing.T, store *SQLiteStore, title, publishDate string) int {
	t.Helper()
	var n int
	require.NoError(t, store.db.QueryRowContext(context.Background(),
		`SELECT COUNT(*) FROM episodes WHERE title = ? AND publish_date IS ?`,
		title, nullableString(publishDate)).Scan(&n))
	return n
}
