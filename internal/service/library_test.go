package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/binky/internal/jobs"
	"github.com/MimeLyc/binky/internal/persistence"
)

func newStore(t *testing.T) *persistence.SQLiteStore {
	t.Helper()
	store, err := persistence.NewSQLiteStore(filepath.Join(t.TempDir(), "binky.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seed(t *testing.T, store *persistence.SQLiteStore, title, date string) int64 {
	t.Helper()
	id, err := store.InsertEpisode(context.Background(), "Nettgefluster", persistence.EpisodeMetadata{Title: title, PublishDate: date})
	require.NoError(t, err)
	return id
}

func TestLibrary_EpisodesFiltersAndOrders(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	seed(t, store, "Folge 1: Urlaub", "2024-01-05")
	seed(t, store, "Folge 2: Kinder", "2024-02-05")
	seed(t, store, "Folge 3: URLAUB again", "2024-03-05")
	seed(t, store, "Alte Folge", "2023-12-24")

	lib := NewLibrary(store, "2024-01-01")
	ctx := context.Background()

	all, err := lib.Episodes(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Folge 3: URLAUB again", all[0].Title)

	hits, err := lib.Episodes(ctx, "  urlaub ")
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "Folge 3: URLAUB again", hits[0].Title)
	assert.Equal(t, "Folge 1: Urlaub", hits[1].Title)
}

func TestLibrary_RowsOverlayActiveEpisode(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	id := seed(t, store, "Folge 1", "2024-01-05")
	seed(t, store, "Folge 2", "2024-01-06")

	active := id
	trans := jobs.State{Kind: jobs.KindTranscription, ActiveID: &active, Progress: 33, IsProcessing: true, Phase: jobs.PhaseRunning}
	rows, err := NewLibrary(store, "").Rows(context.Background(), "", trans, jobs.State{Kind: jobs.KindDiarization})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.False(t, rows[0].Transcription.Show)
	assert.True(t, rows[1].Transcription.Show)
	assert.Equal(t, 33, rows[1].Transcription.Percent)
}

func TestLibrary_EntityUpdatedKeepsLatest(t *testing.T) {
	t.Parallel()

	lib := NewLibrary(newStore(t), "")
	ch, stop := lib.Subscribe()

	lib.EntityUpdated(3)
	lib.EntityUpdated(4)
	select {
	case id := <-ch:
		assert.Equal(t, int64(4), id)
	case <-time.After(time.Second):
		t.Fatal("no notification")
	}

	stop()
	stop()
	lib.EntityUpdated(5)
	select {
	case id := <-ch:
		t.Fatalf("unexpected notification %d after unsubscribe", id)
	default:
	}
}
