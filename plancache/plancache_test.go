package plancache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetMissThenPutThenHit(t *testing.T) {
	c := New(2, 0)
	key := Key("do the thing", "rule_based", nil)

	_, ok := c.Get(key)
	assert.False(t, ok)

	c.Put(key, "plan-1")
	v, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, "plan-1", v)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestEvictsLRUWhenFull(t *testing.T) {
	c := New(2, 0)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3) // evicts "a", the least recently used

	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("b")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)

	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestHitMovesEntryToMRU(t *testing.T) {
	c := New(2, 0)
	c.Put("a", 1)
	c.Put("b", 2)

	_, _ = c.Get("a") // touch "a" so "b" becomes LRU
	c.Put("c", 3)     // should evict "b", not "a"

	_, ok := c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestTTLExpiryCountsAsMiss(t *testing.T) {
	c := New(10, time.Millisecond)
	c.Put("a", 1)
	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.Stats().Expirations)
}

func TestKeyNormalizesQueryCaseAndWhitespace(t *testing.T) {
	k1 := Key("  Do The Thing  ", "rule_based", nil)
	k2 := Key("do the thing", "rule_based", nil)
	assert.Equal(t, k1, k2)
}

func TestKeyIgnoresIrrelevantContextFields(t *testing.T) {
	k1 := Key("q", "hybrid", map[string]any{"conversation_id": "abc"})
	k2 := Key("q", "hybrid", map[string]any{"conversation_id": "xyz"})
	assert.Equal(t, k1, k2)

	k3 := Key("q", "hybrid", map[string]any{"max_depth": 3})
	assert.NotEqual(t, k1, k3)
}
