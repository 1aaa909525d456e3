// Package plancache memoizes Planner outputs behind a bounded, TTL-aware
// LRU keyed by a normalized query/strategy/context hash.
package plancache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// Stats mirrors the cache's running counters.
type Stats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	Evictions   int64   `json:"evictions"`
	Expirations int64   `json:"expirations"`
	Sets        int64   `json:"sets"`
	HitRate     float64 `json:"hit_rate"`
	CurrentSize int     `json:"current_size"`
	MaxSize     int     `json:"max_size"`
	TTLSeconds  int     `json:"ttl_seconds"`
}

type entry struct {
	key          string
	value        any
	cachedAt     time.Time
	accessCount  int
	lastAccessed time.Time
}

func (e *entry) expired(ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	return time.Since(e.cachedAt) > ttl
}

// PlanCache is the interface both the in-memory LRU (Cache) and the
// Redis-backed implementation (RedisCache) satisfy, letting a caller swap
// backing stores without touching the Planner.
type PlanCache interface {
	Get(key string) (any, bool)
	Put(key string, value any)
	Invalidate(key string)
	Stats() Stats
}

// Cache is a bounded, mutex-guarded LRU over an ordered doubly-linked
// list (MRU at the back), with optional TTL-as-miss semantics.
type Cache struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration

	order *list.List
	items map[string]*list.Element

	hits, misses, evictions, expirations, sets int64
}

var _ PlanCache = (*Cache)(nil)

// New builds a plan cache bounded to maxSize entries, with entries
// expiring after ttl (zero disables expiry).
func New(maxSize int, ttl time.Duration) *Cache {
	return &Cache{
		maxSize: maxSize,
		ttl:     ttl,
		order:   list.New(),
		items:   make(map[string]*list.Element),
	}
}

// Key derives a stable cache key from a query, strategy name, and a
// context map already restricted to planning-relevant fields. The query
// is lowercased and trimmed before hashing so surface variation in
// whitespace/case doesn't fragment the cache.
func Key(query, strategy string, context map[string]any) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	payload := map[string]any{
		"query":    normalized,
		"strategy": strategy,
		"context":  NormalizeContext(context),
	}
	// encoding/json sorts map[string]any keys, giving a stable hash input.
	data, _ := json.Marshal(payload)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// relevantContextFields lists the only context keys that affect planning
// output; everything else (conversation/task identifiers, timestamps)
// changes per request without changing the plan, and would otherwise
// fragment the cache.
var relevantContextFields = []string{"max_depth", "constraints", "preferences"}

// NormalizeContext restricts context to the fields that affect planning.
func NormalizeContext(context map[string]any) map[string]any {
	out := map[string]any{}
	for _, k := range relevantContextFields {
		if v, ok := context[k]; ok {
			out[k] = v
		}
	}
	return out
}

// Get returns the cached value for key, or (nil, false) on a miss.
// Expired entries are purged and counted as a miss. A hit moves the entry
// to MRU and increments its access counter.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}

	e := el.Value.(*entry)
	if e.expired(c.ttl) {
		c.order.Remove(el)
		delete(c.items, key)
		c.expirations++
		c.misses++
		return nil, false
	}

	c.order.MoveToBack(el)
	e.accessCount++
	e.lastAccessed = time.Now()
	c.hits++
	return e.value, true
}

// Put inserts or replaces the value for key, evicting the LRU entry
// first if the cache is at capacity.
func (c *Cache) Put(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry)
		e.value = value
		e.cachedAt = now
		e.lastAccessed = now
		c.order.MoveToBack(el)
		c.sets++
		return
	}

	if c.maxSize > 0 && len(c.items) >= c.maxSize {
		front := c.order.Front()
		if front != nil {
			c.order.Remove(front)
			delete(c.items, front.Value.(*entry).key)
			c.evictions++
		}
	}

	e := &entry{key: key, value: value, cachedAt: now, lastAccessed: now}
	c.items[key] = c.order.PushBack(e)
	c.sets++
}

// Invalidate removes one key, or clears the whole cache if key is empty.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if key == "" {
		c.order.Init()
		c.items = make(map[string]*list.Element)
		return
	}
	if el, ok := c.items[key]; ok {
		c.order.Remove(el)
		delete(c.items, key)
	}
}

// ClearExpired sweeps every currently expired entry in one pass.
func (c *Cache) ClearExpired() {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var expired []*list.Element
	for el := c.order.Front(); el != nil; el = el.Next() {
		if el.Value.(*entry).expired(c.ttl) {
			expired = append(expired, el)
		}
	}
	if len(expired) > 0 {
		c.expirations += int64(len(expired))
	}
	for _, el := range expired {
		c.order.Remove(el)
		delete(c.items, el.Value.(*entry).key)
	}
}

// Stats reports the cache's running counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}

	return Stats{
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
		Sets:        c.sets,
		HitRate:     hitRate,
		CurrentSize: len(c.items),
		MaxSize:     c.maxSize,
		TTLSeconds:  int(c.ttl.Seconds()),
	}
}
