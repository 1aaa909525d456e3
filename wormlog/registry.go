package wormlog

import "sync"

// process-wide singleton accessor, double-checked locking, resettable for
// tests (the same pattern policyguard and plancache use for their
// process-wide instances).
var (
	globalMu  sync.RWMutex
	globalLog *Log
)

// Global returns the process-wide WormLog, initializing it on first call.
func Global() *Log {
	globalMu.RLock()
	l := globalLog
	globalMu.RUnlock()
	if l != nil {
		return l
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLog == nil {
		l, err := New("logs/events", "logs/digests", "audit/signed", "events")
		if err != nil {
			panic(err)
		}
		globalLog = l
	}
	return globalLog
}

// SetGlobal overrides the process-wide WormLog (tests only).
func SetGlobal(l *Log) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLog = l
}

// ResetGlobal clears the process-wide WormLog so the next Global() call
// reinitializes it.
func ResetGlobal() {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLog = nil
}
