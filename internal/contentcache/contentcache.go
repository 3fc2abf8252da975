// Package contentcache remembers recently viewed products and vendors for
// offline browsing. It is a best-effort cache: storage errors are logged and
// never returned.
package contentcache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tonytanb/makeriess-marketplace-sub000/internal/metrics"
	"github.com/tonytanb/makeriess-marketplace-sub000/internal/models"
	"github.com/tonytanb/makeriess-marketplace-sub000/internal/store"
)

const (
	// Retention is how long an entity is guaranteed to be kept.
	Retention = 7 * 24 * time.Hour
	// SweepSpec is the cron schedule of the periodic sweep.
	SweepSpec = "@every 24h"
)

// URLRequester asks for URLs to be cached in the HTTP cache.
type URLRequester interface {
	RequestCacheURLs(urls []string)
}

// Cache is an in-memory entity map written through to an optional EntityStore.
type Cache struct {
	mu        sync.RWMutex
	entities  map[string]models.CachedEntity
	store     store.EntityStore
	urls      URLRequester
	retention time.Duration
	now       func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithStore persists entities so they survive restarts.
func WithStore(s store.EntityStore) Option {
	return func(c *Cache) { c.store = s }
}

// WithURLRequester forwards detail page and image URLs to the HTTP cache.
func WithURLRequester(r URLRequester) Option {
	return func(c *Cache) { c.urls = r }
}

func WithRetention(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.retention = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates an empty cache. Call Load to restore persisted entities.
func New(opts ...Option) *Cache {
	c := &Cache{
		entities:  make(map[string]models.CachedEntity),
		retention: Retention,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CacheEntity stores e under its id, overwriting any earlier snapshot and
// resetting CachedAt. The entity's detail page and images are requested for
// the HTTP cache. Only an invalid entity is reported as an error.
func (c *Cache) CacheEntity(ctx context.Context, e models.CachedEntity) error {
	if err := e.Validate(); err != nil {
		return err
	}
	e.CachedAt = c.now()
	e.ImageURLs = append([]string(nil), e.ImageURLs...)

	c.mu.Lock()
	c.entities[e.ID] = e
	n := len(c.entities)
	c.mu.Unlock()
	metrics.SetContentCacheEntries(n)

	if c.store != nil {
		if err := c.store.SaveEntity(ctx, e); err != nil {
			slog.Warn("Cache.CacheEntity: failed to persist entity", "id", e.ID, "error", err)
		}
	}
	if c.urls != nil {
		urls := append([]string{e.DetailPath()}, e.ImageURLs...)
		c.urls.RequestCacheURLs(urls)
	}
	slog.Debug("Cache.CacheEntity: cached", "id", e.ID, "kind", e.Kind)
	return nil
}

// GetEntity returns the snapshot for id regardless of its age.
func (c *Cache) GetEntity(id string) (models.CachedEntity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entities[id]
	if !ok {
		return models.CachedEntity{}, false
	}
	e.ImageURLs = append([]string(nil), e.ImageURLs...)
	return e, true
}

// Len returns the number of cached entities.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entities)
}

// Sweep removes every entity older than the retention window and returns how
// many were removed from memory.
func (c *Cache) Sweep(ctx context.Context) int {
	cutoff := c.now().Add(-c.retention)

	c.mu.Lock()
	removed := 0
	for id, e := range c.entities {
		if e.CachedAt.Before(cutoff) {
			delete(c.entities, id)
			removed++
		}
	}
	n := len(c.entities)
	c.mu.Unlock()
	metrics.SetContentCacheEntries(n)

	if c.store != nil {
		if _, err := c.store.DeleteEntitiesBefore(ctx, cutoff); err != nil {
			slog.Warn("Cache.Sweep: failed to purge persisted entities", "error", err)
		}
	}
	slog.Info("Cache.Sweep: expired entities removed", "removed", removed, "remaining", n)
	return removed
}

// Load restores persisted entities into memory.
func (c *Cache) Load(ctx context.Context) {
	if c.store == nil {
		return
	}
	loaded, err := c.store.LoadEntities(ctx)
	if err != nil {
		slog.Warn("Cache.Load: failed to load entities", "error", err)
		return
	}
	c.mu.Lock()
	for _, e := range loaded {
		c.entities[e.ID] = e
	}
	n := len(c.entities)
	c.mu.Unlock()
	metrics.SetContentCacheEntries(n)
	slog.Info("Cache.Load: entities restored", "count", len(loaded))
}

// RecoverState restores persisted entities and runs the startup sweep.
func (c *Cache) RecoverState(ctx context.Context) error {
	c.Load(ctx)
	c.Sweep(ctx)
	return nil
}
