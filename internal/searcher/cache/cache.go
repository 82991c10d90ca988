// Package cache memoises search results in Redis. Keys embed the generation
// that produced the result, so a searcher on a newer generation never reads
// hits computed against an older one.
package cache

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/searcher/query"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/resilience"
)

const keyPrefix = "search:"

// Backend is the key/value store behind the cache. *redis.Client from
// pkg/redis implements it.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

type QueryCache struct {
	backend   Backend
	namespace string
	ttl       time.Duration
	breaker   *resilience.CircuitBreaker
	group     singleflight.Group
	metrics   *metrics.Metrics
	logger    *slog.Logger
	hits      atomic.Int64
	misses    atomic.Int64
}

type Option func(*QueryCache)

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *QueryCache) { c.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *QueryCache) { c.logger = l }
}

// WithBreaker overrides the circuit breaker guarding backend calls.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *QueryCache) { c.breaker = cb }
}

// New creates a cache whose keys live under namespace, normally the index
// name, so several indexes can share one Redis database.
func New(backend Backend, namespace string, ttl time.Duration, opts ...Option) *QueryCache {
	c := &QueryCache{
		backend:   backend,
		namespace: namespace,
		ttl:       ttl,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = resilience.NewCircuitBreaker("query-cache", resilience.CircuitBreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
		})
	}
	c.logger = c.logger.With("component", "query-cache")
	return c
}

// Get returns the cached result of q at generation gen.
func (c *QueryCache) Get(ctx context.Context, gen int64, q query.Query, limit int) (*searcher.TopDocs, bool) {
	key := c.buildKey(gen, q, limit)
	var (
		data  []byte
		found bool
	)
	err := c.breaker.Execute(func() error {
		var err error
		data, found, err = c.backend.Get(ctx, key)
		return err
	})
	if err != nil {
		c.logger.Warn("cache get failed", "key", key, "error", err)
		c.recordMiss()
		return nil, false
	}
	if !found {
		c.recordMiss()
		return nil, false
	}
	var result searcher.TopDocs
	if err := msgpack.Unmarshal(data, &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.recordMiss()
		return nil, false
	}
	c.recordHit()
	c.logger.Debug("cache hit", "query", q.String(), "generation", gen)
	return &result, true
}

func (c *QueryCache) Set(ctx context.Context, gen int64, q query.Query, limit int, result *searcher.TopDocs) {
	key := c.buildKey(gen, q, limit)
	data, err := msgpack.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.breaker.Execute(func() error {
		return c.backend.Set(ctx, key, data, c.ttl)
	}); err != nil {
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute serves q from the cache or runs compute once per key no
// matter how many callers ask concurrently. The bool reports a cache hit.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	gen int64,
	q query.Query,
	limit int,
	compute func() (*searcher.TopDocs, error),
) (*searcher.TopDocs, bool, error) {
	if result, ok := c.Get(ctx, gen, q, limit); ok {
		return result, true, nil
	}
	key := c.buildKey(gen, q, limit)
	val, err, _ := c.group.Do(key, func() (any, error) {
		result, err := compute()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, gen, q, limit, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*searcher.TopDocs), false, nil
}

// Invalidate removes every entry of this cache's namespace.
func (c *QueryCache) Invalidate(ctx context.Context) (int64, error) {
	var deleted int64
	err := c.breaker.Execute(func() error {
		var err error
		deleted, err = c.backend.FlushByPattern(ctx, c.prefix()+"*")
		return err
	})
	if err != nil {
		return deleted, fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return deleted, nil
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *QueryCache) recordHit() {
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
}

func (c *QueryCache) recordMiss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

func (c *QueryCache) prefix() string {
	return keyPrefix + c.namespace + ":"
}

func (c *QueryCache) buildKey(gen int64, q query.Query, limit int) string {
	raw := fmt.Sprintf("%s|limit=%d", q.String(), limit)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%sg%d:%x", c.prefix(), gen, hash[:16])
}
