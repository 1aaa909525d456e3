package plancache

import (
	"sync"
	"time"
)

var (
	globalMu    sync.RWMutex
	globalCache *Cache
)

// Global returns the process-wide plan cache, constructing it with the
// given defaults only on first call; later calls with different defaults
// are ignored, matching the reference singleton's "first writer wins"
// semantics.
func Global(maxSize int, ttl time.Duration) *Cache {
	globalMu.RLock()
	c := globalCache
	globalMu.RUnlock()
	if c != nil {
		return c
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalCache == nil {
		globalCache = New(maxSize, ttl)
	}
	return globalCache
}

// ResetGlobal clears the process-wide plan cache (tests only).
func ResetGlobal() {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalCache = nil
}
