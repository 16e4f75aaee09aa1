// Package cache provides the in-process TTL cache backing context aggregation
// and an optional Redis mirror for assembled contexts.
package cache

import (
	"context"
	"sync"
	"time"
)

const (
	defaultTTL        = 5 * time.Minute
	defaultMaxEntries = 1000
)

// Config controls cache behaviour. Zero values fall back to defaults; a
// disabled cache satisfies every call without retaining anything.
type Config struct {
	TTL        time.Duration
	MaxEntries int
	Disabled   bool
	// Clock overrides time.Now, letting tests drive expiry without sleeping.
	Clock func() time.Time
}

// Stats is a point-in-time snapshot of cache effectiveness.
type Stats struct {
	Size      int     `json:"size"`
	MaxSize   int     `json:"maxSize"`
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	HitRate   float64 `json:"hitRate"`
	Evictions uint64  `json:"evictions"`
}

type entry[V any] struct {
	value     V
	createdAt time.Time
	expiresAt time.Time
	hits      uint64
}

// Cache is a mutex-guarded TTL cache. Expired entries are collected lazily on
// access and in bulk by Cleanup; capacity overflow evicts the entry with the
// earliest creation time, not the least recently used one.
type Cache[V any] struct {
	mu         sync.Mutex
	entries    map[string]*entry[V]
	ttl        time.Duration
	maxEntries int
	disabled   bool
	clock      func() time.Time

	hits      uint64
	misses    uint64
	evictions uint64
}

// New constructs a cache from the supplied configuration.
func New[V any](cfg Config) *Cache[V] {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Cache[V]{
		entries:    make(map[string]*entry[V]),
		ttl:        ttl,
		maxEntries: maxEntries,
		disabled:   cfg.Disabled,
		clock:      clock,
	}
}

// expired is the single freshness predicate shared by lazy reads, Has, and
// the sweeper: an entry is expired once now reaches its deadline.
func (e *entry[V]) expired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

// GetOrFetch returns the cached value for key when fresh; otherwise it calls
// fetch, stores a successful result under the effective TTL, and returns it.
// Fetch failures propagate unchanged and cache nothing. With the cache
// disabled fetch always runs.
func (c *Cache[V]) GetOrFetch(ctx context.Context, key string, fetch func(context.Context) (V, error), ttl ...time.Duration) (V, error) {
	if c.disabled {
		return fetch(ctx)
	}
	if value, ok := c.lookup(key); ok {
		return value, nil
	}
	value, err := fetch(ctx)
	if err != nil {
		var zero V
		return zero, err
	}
	c.store(key, value, c.effectiveTTL(ttl))
	return value, nil
}

// Set unconditionally stores value under key, replacing any previous entry.
func (c *Cache[V]) Set(key string, value V, ttl ...time.Duration) {
	if c.disabled {
		return
	}
	c.store(key, value, c.effectiveTTL(ttl))
}

// GetSync is a non-fetching lookup that participates in hit/miss accounting.
func (c *Cache[V]) GetSync(key string) (V, bool) {
	if c.disabled {
		var zero V
		return zero, false
	}
	return c.lookup(key)
}

// Has reports whether a fresh entry exists without touching any counters.
func (c *Cache[V]) Has(key string) bool {
	if c.disabled {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return ok && !e.expired(c.clock())
}

// Invalidate removes key, reporting whether a live entry was dropped.
func (c *Cache[V]) Invalidate(key string) bool {
	if c.disabled {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	delete(c.entries, key)
	return !e.expired(c.clock())
}

// InvalidatePattern removes every key matching the glob pattern, where `*`
// matches zero or more characters and the match is anchored at both ends.
// It returns the number of live entries removed.
func (c *Cache[V]) InvalidatePattern(pattern string) int {
	if c.disabled {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock()
	removed := 0
	for key, e := range c.entries {
		if !matchGlob(pattern, key) {
			continue
		}
		delete(c.entries, key)
		if !e.expired(now) {
			removed++
		}
	}
	return removed
}

// Clear drops every entry without touching the counters.
func (c *Cache[V]) Clear() {
	if c.disabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry[V])
}

// Cleanup sweeps expired entries, returning how many were removed. It shares
// the expiry predicate with lazy reads so both paths always agree.
func (c *Cache[V]) Cleanup() int {
	if c.disabled {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock()
	removed := 0
	for key, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of entries currently held, expired ones included.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats snapshots cache effectiveness counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := Stats{
		Size:      len(c.entries),
		MaxSize:   c.maxEntries,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

// StartJanitor sweeps expired entries at the given interval until the context
// is cancelled.
func (c *Cache[V]) StartJanitor(ctx context.Context, interval time.Duration) {
	if c.disabled || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Cleanup()
			}
		}
	}()
}

func (c *Cache[V]) effectiveTTL(override []time.Duration) time.Duration {
	if len(override) > 0 && override[0] > 0 {
		return override[0]
	}
	return c.ttl
}

func (c *Cache[V]) lookup(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}
	if e.expired(c.clock()) {
		delete(c.entries, key)
		c.misses++
		var zero V
		return zero, false
	}
	c.hits++
	e.hits++
	return e.value, true
}

func (c *Cache[V]) store(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock()
	c.entries[key] = &entry[V]{
		value:     value,
		createdAt: now,
		expiresAt: now.Add(ttl),
	}
	for len(c.entries) > c.maxEntries {
		c.evictOldest()
	}
}

// evictOldest drops the entry with the earliest creation time. Caller holds
// the lock.
func (c *Cache[V]) evictOldest() {
	var oldestKey string
	var oldest time.Time
	first := true
	for key, e := range c.entries {
		if first || e.createdAt.Before(oldest) {
			oldestKey = key
			oldest = e.createdAt
			first = false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
		c.evictions++
	}
}
