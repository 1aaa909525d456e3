package plancache

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisCache is a distributed PlanCache backed by Redis, for deployments
// that run more than one planner process sharing a single cache. Eviction
// itself is left entirely to Redis's own key expiry (TTL) and maxmemory
// policy; this type only tracks the hit/miss/set counters a single
// in-process Cache would otherwise keep, since Redis has no equivalent
// per-key access bookkeeping to read back.
type RedisCache struct {
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	maxSize int

	hits, misses, sets int64
}

// NewRedisCache wraps an existing Redis client. prefix namespaces every
// key this cache writes, so one Redis instance can back several caches.
func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration, maxSize int) *RedisCache {
	return &RedisCache{client: client, prefix: prefix, ttl: ttl, maxSize: maxSize}
}

var _ PlanCache = (*RedisCache)(nil)

func (c *RedisCache) fullKey(key string) string {
	return c.prefix + ":" + key
}

// Get fetches and JSON-decodes the value stored under key. A Redis miss
// (key absent, whether never set or TTL-expired) and a JSON decode error
// both count as a cache miss.
func (c *RedisCache) Get(key string) (any, bool) {
	ctx := context.Background()
	data, err := c.client.Get(ctx, c.fullKey(key)).Bytes()
	if err != nil {
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	atomic.AddInt64(&c.hits, 1)
	return value, true
}

// Put JSON-encodes value and stores it with the cache's configured TTL
// (zero means no expiry, matching Redis's own SET-without-EX semantics).
func (c *RedisCache) Put(key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	ctx := context.Background()
	c.client.Set(ctx, c.fullKey(key), data, c.ttl)
	atomic.AddInt64(&c.sets, 1)
}

// Invalidate deletes one key, or every key under this cache's prefix when
// key is empty.
func (c *RedisCache) Invalidate(key string) {
	ctx := context.Background()
	if key != "" {
		c.client.Del(ctx, c.fullKey(key))
		return
	}

	iter := c.client.Scan(ctx, 0, c.prefix+":*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if len(keys) > 0 {
		c.client.Del(ctx, keys...)
	}
}

// Stats reports this process's view of hit/miss/set counts. Eviction and
// expiration counts are always zero: Redis owns that bookkeeping and
// exposes it only as server-wide metrics, not per-key-prefix.
func (c *RedisCache) Stats() Stats {
	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)
	total := hits + misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Hits:       hits,
		Misses:     misses,
		Sets:       atomic.LoadInt64(&c.sets),
		HitRate:    hitRate,
		MaxSize:    c.maxSize,
		TTLSeconds: int(c.ttl.Seconds()),
	}
}
