package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/flock/pkg/observability"
)

const (
	DefaultL1Size = 10000
	DefaultL1TTL  = 30 * time.Second
	DefaultL2TTL  = 5 * time.Minute
	DefaultPrefix = "flock:cache"

	scanBatch = 500
)

// Config sizes the two tiers
type Config struct {
	L1Size int
	L1TTL  time.Duration
	L2TTL  time.Duration
	Prefix string
}

func (c Config) withDefaults() Config {
	if c.L1Size <= 0 {
		c.L1Size = DefaultL1Size
	}
	if c.L1TTL <= 0 {
		c.L1TTL = DefaultL1TTL
	}
	if c.L2TTL <= 0 {
		c.L2TTL = DefaultL2TTL
	}
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}
	return c
}

// Stats reports cache effectiveness since start
type Stats struct {
	L1Hits  int64   `json:"l1Hits"`
	L2Hits  int64   `json:"l2Hits"`
	Misses  int64   `json:"misses"`
	L1Items int     `json:"l1Items"`
	HitRate float64 `json:"hitRate"`
}

// Cache is a read-through helper with an in-process expirable LRU in front
// of an optional shared Redis tier. Values are stored in Redis as JSON.
// Redis failures degrade to a miss and are logged, never returned.
type Cache[T any] struct {
	cfg     Config
	l1      *lru.LRU[string, T]
	l2      redis.UniversalClient
	metrics *observability.Metrics
	logger  *observability.Logger

	l1Hits atomic.Int64
	l2Hits atomic.Int64
	misses atomic.Int64

	mu          sync.Mutex
	stopWatcher context.CancelFunc
}

// New creates a cache. client may be nil for an in-process only cache.
func New[T any](client redis.UniversalClient, cfg Config, metrics *observability.Metrics, logger *observability.Logger) *Cache[T] {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Cache[T]{
		cfg:     cfg,
		l1:      lru.NewLRU[string, T](cfg.L1Size, nil, cfg.L1TTL),
		l2:      client,
		metrics: metrics,
		logger:  logger.WithField("component", "cache"),
	}
}

// Key joins parts into a cache key
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

func (c *Cache[T]) redisKey(key string) string {
	return c.cfg.Prefix + ":" + key
}

// InvalidationChannel is the pub/sub channel DeletePrefix announces on
func (c *Cache[T]) InvalidationChannel() string {
	return c.cfg.Prefix + ":invalidate"
}

// WatchInvalidations subscribes to prefix deletions announced by other
// instances sharing the Redis tier and drops matching L1 entries until ctx
// is done or Close is called. It returns once the subscription is live.
func (c *Cache[T]) WatchInvalidations(ctx context.Context) error {
	if c.l2 == nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	sub := c.l2.Subscribe(ctx, c.InvalidationChannel())
	if _, err := sub.Receive(ctx); err != nil {
		cancel()
		_ = sub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", c.InvalidationChannel(), err)
	}

	c.mu.Lock()
	if c.stopWatcher != nil {
		c.stopWatcher()
	}
	c.stopWatcher = cancel
	c.mu.Unlock()

	msgs := sub.Channel()
	go func() {
		defer observability.RecoverPanic(c.logger, "cache invalidation watcher")
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				c.deleteLocal(msg.Payload)
			}
		}
	}()
	return nil
}

func (c *Cache[T]) deleteLocal(prefix string) {
	for _, key := range c.l1.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.l1.Remove(key)
		}
	}
}

// Get looks key up in L1, then L2. An L2 hit is promoted to L1.
func (c *Cache[T]) Get(ctx context.Context, key string) (T, bool) {
	if v, ok := c.l1.Get(key); ok {
		c.l1Hits.Add(1)
		c.metrics.RecordCacheHit("l1")
		return v, true
	}

	var zero T
	if c.l2 != nil {
		raw, err := c.l2.Get(ctx, c.redisKey(key)).Bytes()
		switch {
		case err == redis.Nil:
		case err != nil:
			c.logger.WithError(err).Warn("Cache read failed")
		default:
			var v T
			if err := json.Unmarshal(raw, &v); err != nil {
				c.logger.WithError(err).WithField("key", key).Warn("Discarding undecodable cache entry")
				break
			}
			c.l1.Add(key, v)
			c.l2Hits.Add(1)
			c.metrics.RecordCacheHit("l2")
			return v, true
		}
	}

	c.misses.Add(1)
	c.metrics.RecordCacheMiss()
	return zero, false
}

// Set stores value in both tiers
func (c *Cache[T]) Set(ctx context.Context, key string, value T) {
	c.l1.Add(key, value)
	if c.l2 == nil {
		return
	}
	payload, err := json.Marshal(value)
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Cache value not encodable")
		return
	}
	if err := c.l2.Set(ctx, c.redisKey(key), payload, c.cfg.L2TTL).Err(); err != nil {
		c.logger.WithError(err).Warn("Cache write failed")
	}
}

// GetOrLoad returns the cached value for key or calls load and caches its
// result. Load errors are returned and nothing is cached.
func (c *Cache[T]) GetOrLoad(ctx context.Context, key string, load func(context.Context) (T, error)) (T, error) {
	if v, ok := c.Get(ctx, key); ok {
		return v, nil
	}
	v, err := load(ctx)
	if err != nil {
		return v, err
	}
	c.Set(ctx, key, v)
	return v, nil
}

// DeletePrefix drops every entry whose key starts with prefix from both
// tiers and announces the prefix so watching instances clear their L1
func (c *Cache[T]) DeletePrefix(ctx context.Context, prefix string) {
	c.deleteLocal(prefix)
	if c.l2 == nil {
		return
	}
	if err := c.l2.Publish(ctx, c.InvalidationChannel(), prefix).Err(); err != nil {
		c.logger.WithError(err).WithField("prefix", prefix).Warn("Cache invalidation publish failed")
	}

	var cursor uint64
	for {
		keys, next, err := c.l2.Scan(ctx, cursor, c.redisKey(prefix)+"*", scanBatch).Result()
		if err != nil {
			c.logger.WithError(err).WithField("prefix", prefix).Warn("Cache invalidation scan failed")
			return
		}
		if len(keys) > 0 {
			if err := c.l2.Del(ctx, keys...).Err(); err != nil {
				c.logger.WithError(err).WithField("prefix", prefix).Warn("Cache invalidation failed")
			}
		}
		if next == 0 {
			return
		}
		cursor = next
	}
}

// Stats returns hit and miss counters
func (c *Cache[T]) Stats() Stats {
	s := Stats{
		L1Hits:  c.l1Hits.Load(),
		L2Hits:  c.l2Hits.Load(),
		Misses:  c.misses.Load(),
		L1Items: c.l1.Len(),
	}
	if total := s.L1Hits + s.L2Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.L1Hits+s.L2Hits) / float64(total)
	}
	return s
}

// Close stops the invalidation watcher and empties the in-process tier. The
// Redis client is owned by the caller.
func (c *Cache[T]) Close() error {
	c.mu.Lock()
	if c.stopWatcher != nil {
		c.stopWatcher()
		c.stopWatcher = nil
	}
	c.mu.Unlock()
	c.l1.Purge()
	return nil
}
