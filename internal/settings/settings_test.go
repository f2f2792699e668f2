package settings

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu      sync.Mutex
	values  map[string]string
	reads   atomic.Int32
	readErr error
	setErr  error
}

func newMemStore() *memStore {
	return &memStore{values: map[string]string{}}
}

func (m *memStore) GetSetting(_ context.Context, key string) (string, bool, error) {
	m.reads.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return "", false, m.readErr
	}
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memStore) SetSetting(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.values[key] = value
	return nil
}

func TestRepository_ReadFailureFallsBackToDefault(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.readErr = errors.New("database is locked")
	repo := NewRepository(store)

	_, ok := repo.Get(context.Background(), KeyHost0Name)
	assert.False(t, ok)
	assert.Equal(t, DefaultHostProfile(), LoadHostProfile(context.Background(), repo))
	assert.True(t, IsFirstLaunch(context.Background(), repo))
}

func TestRepository_SetReturnsStoreError(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.setErr = errors.New("read-only")
	assert.Error(t, NewRepository(store).Set(context.Background(), "k", "v"))
}

func TestCached_ReadsStoreOnce(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.values[KeyHost0Name] = "Anna"
	c := NewCached(NewRepository(store))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		v, ok := c.Get(ctx, KeyHost0Name)
		require.True(t, ok)
		assert.Equal(t, "Anna", v)
	}
	assert.Equal(t, int32(1), store.reads.Load())

	// Missing keys are cached too.
	_, ok := c.Get(ctx, "missing")
	assert.False(t, ok)
	_, _ = c.Get(ctx, "missing")
	assert.Equal(t, int32(2), store.reads.Load())

	require.NoError(t, c.Set(ctx, KeyHost0Name, "Berta"))
	v, _ := c.Get(ctx, KeyHost0Name)
	assert.Equal(t, "Berta", v)
	assert.Equal(t, int32(2), store.reads.Load())

	c.Invalidate()
	v, _ = c.Get(ctx, KeyHost0Name)
	assert.Equal(t, "Berta", v)
	assert.Equal(t, int32(3), store.reads.Load())
}

func TestCached_DoesNotCacheFailedReads(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.readErr = errors.New("busy")
	c := NewCached(NewRepository(store))
	ctx := context.Background()

	_, ok := c.Get(ctx, KeyHost1Name)
	assert.False(t, ok)

	store.mu.Lock()
	store.readErr = nil
	store.values[KeyHost1Name] = "Carl"
	store.mu.Unlock()

	v, ok := c.Get(ctx, KeyHost1Name)
	assert.True(t, ok)
	assert.Equal(t, "Carl", v)
}

func TestHostProfile_RoundTrip(t *testing.T) {
	t.Parallel()

	c := NewCached(NewRepository(newMemStore()))
	ctx := context.Background()

	assert.Equal(t, DefaultHostProfile(), LoadHostProfile(ctx, c))

	p := HostProfile{Host0Name: " Anna ", Host1Name: "Ben", Host0Color: "#123abc", Host1Color: "#fff", Confirmed: true}
	require.NoError(t, SaveHostProfile(ctx, c, p))

	got := LoadHostProfile(ctx, c)
	assert.Equal(t, "Anna", got.Host0Name)
	assert.True(t, got.Confirmed)
	assert.Equal(t, "Anna", got.SpeakerName("SPEAKER_0"))
	assert.Equal(t, "Ben", got.SpeakerName("SPEAKER_1"))
	assert.Equal(t, "SPEAKER_7", got.SpeakerName("SPEAKER_7"))
}

func TestHostProfile_Validate(t *testing.T) {
	t.Parallel()

	p := DefaultHostProfile()
	require.NoError(t, p.Validate())

	p.Host1Name = " "
	assert.Error(t, p.Validate())

	p = DefaultHostProfile()
	p.Host0Color = "red"
	assert.Error(t, p.Validate())
}

func TestFirstLaunch(t *testing.T) {
	t.Parallel()

	s := NewRepository(newMemStore())
	ctx := context.Background()

	assert.True(t, IsFirstLaunch(ctx, s))
	require.NoError(t, MarkFirstLaunchComplete(ctx, s))
	assert.False(t, IsFirstLaunch(ctx, s))
}
