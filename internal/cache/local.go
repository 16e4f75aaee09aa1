package cache

import (
	"context"
	"time"

	"github.com/solsticehq/centra/internal/budget"
)

// Local adapts the in-process cache to the result-store contract the
// aggregation layer consumes, mirroring the Remote signatures so the two
// backends swap behind one interface. Values are cloned on both write and
// read so cached results never alias caller state.
type Local struct {
	cache *Cache[*budget.Result]
}

// NewLocal builds an in-process result store.
func NewLocal(cfg Config) *Local {
	return &Local{cache: New[*budget.Result](cfg)}
}

// Get returns the cached result, or (nil, nil) on a clean miss.
func (l *Local) Get(_ context.Context, key string) (*budget.Result, error) {
	result, ok := l.cache.GetSync(key)
	if !ok {
		return nil, nil
	}
	return result.Clone(), nil
}

// Set stores a detached copy of the result.
func (l *Local) Set(_ context.Context, key string, result *budget.Result, ttl time.Duration) error {
	l.cache.Set(key, result.Clone(), ttl)
	return nil
}

// Invalidate removes one key.
func (l *Local) Invalidate(_ context.Context, key string) error {
	l.cache.Invalidate(key)
	return nil
}

// InvalidatePattern removes every key matching the glob pattern.
func (l *Local) InvalidatePattern(_ context.Context, pattern string) (int, error) {
	return l.cache.InvalidatePattern(pattern), nil
}

// Cleanup sweeps expired entries, returning the number removed.
func (l *Local) Cleanup() int { return l.cache.Cleanup() }

// StartJanitor runs periodic cleanup until ctx is cancelled.
func (l *Local) StartJanitor(ctx context.Context, interval time.Duration) {
	l.cache.StartJanitor(ctx, interval)
}

// Stats reports hit/miss/eviction counters.
func (l *Local) Stats() Stats { return l.cache.Stats() }
