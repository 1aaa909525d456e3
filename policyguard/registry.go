package policyguard

import "sync"

var (
	globalMu    sync.RWMutex
	globalGuard *Guard
)

// Global returns the process-wide Guard, initializing it from the default
// config path on first call (double-checked locking).
func Global() *Guard {
	globalMu.RLock()
	g := globalGuard
	globalMu.RUnlock()
	if g != nil {
		return g
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalGuard == nil {
		g, err := New("config/policies.yaml")
		if err != nil {
			panic(err)
		}
		globalGuard = g
	}
	return globalGuard
}

// SetGlobal overrides the process-wide Guard (tests only).
func SetGlobal(g *Guard) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalGuard = g
}

// ResetGlobal clears the process-wide Guard so the next Global() call
// reinitializes it.
func ResetGlobal() {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalGuard = nil
}
