// Package settings is the key/value settings capability handed to the
// components that need it. Store failures never reach the caller as errors
// on reads: they are logged and the caller gets its default.
package settings

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/MimeLyc/binky/pkg/log"
)

// Store is the persistence backing a Repository.
type Store interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Settings reads and writes string settings by key.
type Settings interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string) error
}

// Repository reads settings straight from the store.
type Repository struct {
	store Store
}

func NewRepository(store Store) *Repository {
	return &Repository{store: store}
}

// Get reports ok=false for unknown keys and for failed reads.
func (r *Repository) Get(ctx context.Context, key string) (string, bool) {
	value, ok, err := r.store.GetSetting(ctx, key)
	if err != nil {
		log.Warn("Failed to read setting %s: %v", key, err)
		return "", false
	}
	return value, ok
}

// Set logs a failed write and returns it; callers may ignore the error.
func (r *Repository) Set(ctx context.Context, key, value string) error {
	if err := r.store.SetSetting(ctx, key, value); err != nil {
		log.Warn("Failed to write setting %s: %v", key, err)
		return err
	}
	return nil
}

// GetOr returns the stored value for key, or def when it is not set.
func GetOr(ctx context.Context, s Settings, key, def string) string {
	if v, ok := s.Get(ctx, key); ok {
		return v
	}
	return def
}

type cachedValue struct {
	value string
	ok    bool
}

// Cached keeps settings in memory after the first read. Concurrent misses
// for the same key share one store read.
type Cached struct {
	repo *Repository

	mu     sync.RWMutex
	values map[string]cachedValue
	group  singleflight.Group
}

func NewCached(repo *Repository) *Cached {
	return &Cached{
		repo:   repo,
		values: make(map[string]cachedValue),
	}
}

func (c *Cached) Get(ctx context.Context, key string) (string, bool) {
	c.mu.RLock()
	v, hit := c.values[key]
	c.mu.RUnlock()
	if hit {
		return v.value, v.ok
	}

	res, _, _ := c.group.Do(key, func() (any, error) {
		value, ok, err := c.repo.store.GetSetting(ctx, key)
		if err != nil {
			// Not cached, the next read retries.
			log.Warn("Failed to read setting %s: %v", key, err)
			return cachedValue{}, nil
		}
		cv := cachedValue{value: value, ok: ok}
		c.mu.Lock()
		c.values[key] = cv
		c.mu.Unlock()
		return cv, nil
	})
	cv := res.(cachedValue)
	return cv.value, cv.ok
}

// Set writes through to the store and updates the cache on success.
func (c *Cached) Set(ctx context.Context, key, value string) error {
	if err := c.repo.Set(ctx, key, value); err != nil {
		c.mu.Lock()
		delete(c.values, key)
		c.mu.Unlock()
		return err
	}
	c.mu.Lock()
	c.values[key] = cachedValue{value: value, ok: true}
	c.mu.Unlock()
	return nil
}

// Invalidate drops every cached value.
func (c *Cached) Invalidate() {
	c.mu.Lock()
	c.values = make(map[string]cachedValue)
	c.mu.Unlock()
}
