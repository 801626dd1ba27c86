// Package readmodel keeps a bounded cache of case records that is kept fresh
// by the case change-feed instead of live database subscriptions.
package readmodel

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-customs-aforo/internal/events"
	"github.com/pesio-ai/be-customs-aforo/internal/metrics"
	"github.com/pesio-ai/be-customs-aforo/internal/repository"
)

// Cache event kinds reported to metrics.
const (
	EventHit        = "hit"
	EventMiss       = "miss"
	EventInvalidate = "invalidate"
)

// CaseCache is a read-through LRU in front of a CaseStore. It implements
// repository.CaseStore so readers can use it in place of the store.
type CaseCache struct {
	store   repository.CaseStore
	entries *lru.Cache[string, *repository.CaseRecord]
	mu      sync.Mutex // guards gen and orders fills against invalidations
	gen     uint64
	metrics *metrics.Metrics
	log     zerolog.Logger
}

var _ repository.CaseStore = (*CaseCache)(nil)

// NewCaseCache wraps store with an LRU of the given size.
func NewCaseCache(store repository.CaseStore, size int, m *metrics.Metrics, log zerolog.Logger) (*CaseCache, error) {
	entries, err := lru.New[string, *repository.CaseRecord](size)
	if err != nil {
		return nil, err
	}
	return &CaseCache{store: store, entries: entries, metrics: m, log: log}, nil
}

// GetByNE returns a cached copy or loads the record from the store.
func (c *CaseCache) GetByNE(ctx context.Context, ne string) (*repository.CaseRecord, error) {
	key := repository.NormalizeNE(ne)
	if rec, ok := c.entries.Get(key); ok {
		c.metrics.CacheEvent(EventHit)
		return rec.Clone(), nil
	}
	c.metrics.CacheEvent(EventMiss)

	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	rec, err := c.store.GetByNE(ctx, key)
	if err != nil {
		return nil, err
	}

	// A change that landed while loading makes rec possibly stale.
	c.mu.Lock()
	if c.gen == gen {
		c.entries.Add(key, rec.Clone())
	}
	c.mu.Unlock()
	return rec, nil
}

// List is not cached.
func (c *CaseCache) List(ctx context.Context, filter repository.CaseFilter) ([]*repository.CaseRecord, error) {
	return c.store.List(ctx, filter)
}

// Invalidate drops the cached record for ne.
func (c *CaseCache) Invalidate(ne string) {
	c.mu.Lock()
	c.gen++
	removed := c.entries.Remove(repository.NormalizeNE(ne))
	c.mu.Unlock()
	if removed {
		c.metrics.CacheEvent(EventInvalidate)
	}
}

// HandleEvent is an events.Handler.
func (c *CaseCache) HandleEvent(ev events.Event) {
	if ev.Kind == events.KindCaseChanged && ev.CaseChanged != nil {
		c.OnCaseChanged(ev.CaseChanged)
	}
}

// OnCaseChanged invalidates the case named by a change-feed event.
func (c *CaseCache) OnCaseChanged(ev *events.CaseChanged) {
	c.Invalidate(ev.NE)
	c.log.Debug().Str("ne", ev.NE).Str("op", ev.Op).Msg("read model invalidated")
}

// Len returns the number of cached records.
func (c *CaseCache) Len() int {
	return c.entries.Len()
}
