package plancache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/go-redis/redis/v8"
)

func TestRedisCacheFullKeyNamespacesByPrefix(t *testing.T) {
	c := NewRedisCache(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), "plan", time.Minute, 100)
	assert.Equal(t, "plan:abc123", c.fullKey("abc123"))
}

func TestRedisCacheSatisfiesPlanCacheInterface(t *testing.T) {
	var _ PlanCache = NewRedisCache(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), "plan", time.Minute, 100)
}

func TestRedisCacheStatsComputesHitRate(t *testing.T) {
	c := NewRedisCache(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), "plan", time.Minute, 100)
	c.hits = 3
	c.misses = 1
	stats := c.Stats()
	assert.Equal(t, 0.75, stats.HitRate)
	assert.Equal(t, int64(0), stats.Evictions)
}
