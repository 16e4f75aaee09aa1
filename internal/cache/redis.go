package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/solsticehq/centra/internal/budget"
)

// keyNamespace prefixes every Redis key so replicas sharing an instance with
// other services never collide.
const keyNamespace = "centra:"

// RedisConfig carries connection settings for the remote context mirror.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	UseTLS   bool
}

// Remote mirrors assembled context results in Redis so sibling replicas can
// reuse them. Values are JSON-encoded and gzip-compressed; expiry rides on
// native Redis TTLs. Hit/miss counters are tracked locally per process.
type Remote struct {
	client *redis.Client

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewRemote connects a remote mirror. The connection is verified lazily; use
// Ping for an eager check.
func NewRemote(cfg RedisConfig) *Remote {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.UseTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return &Remote{client: redis.NewClient(opts)}
}

// Get fetches a mirrored result, returning (nil, nil) on a clean miss.
func (r *Remote) Get(ctx context.Context, key string) (*budget.Result, error) {
	raw, err := r.client.Get(ctx, keyNamespace+key).Bytes()
	if errors.Is(err, redis.Nil) {
		r.misses.Add(1)
		return nil, nil
	}
	if err != nil {
		r.misses.Add(1)
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}

	decompressed, err := decompress(raw)
	if err != nil {
		r.misses.Add(1)
		return nil, fmt.Errorf("decompress %s: %w", key, err)
	}

	var result budget.Result
	if err := json.Unmarshal(decompressed, &result); err != nil {
		r.misses.Add(1)
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	r.hits.Add(1)
	return &result, nil
}

// Set mirrors a result under the given TTL.
func (r *Remote) Set(ctx context.Context, key string, result *budget.Result, ttl time.Duration) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	compressed, err := compress(raw)
	if err != nil {
		return fmt.Errorf("compress %s: %w", key, err)
	}
	if err := r.client.Set(ctx, keyNamespace+key, compressed, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Invalidate removes one mirrored key.
func (r *Remote) Invalidate(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, keyNamespace+key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// InvalidatePattern removes every mirrored key matching the glob pattern,
// returning the number of keys deleted. Redis MATCH shares the `*` semantics
// of the in-process cache.
func (r *Remote) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, keyNamespace+pattern, 100).Result()
		if err != nil {
			return removed, fmt.Errorf("redis scan %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			deleted, err := r.client.Del(ctx, keys...).Result()
			if err != nil {
				return removed, fmt.Errorf("redis del batch: %w", err)
			}
			removed += int(deleted)
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

// Ping verifies connectivity for health checks.
func (r *Remote) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Stats reports local hit/miss counters; sizes live server-side.
func (r *Remote) Stats() Stats {
	stats := Stats{
		Hits:   r.hits.Load(),
		Misses: r.misses.Load(),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

// Close releases the underlying client.
func (r *Remote) Close() error {
	return r.client.Close()
}

func compress(data []byte) ([]byte, error) {
	var b bytes.Buffer
	w := gzip.NewWriter(&b)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
