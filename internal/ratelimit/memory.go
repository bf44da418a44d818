package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter is the in-process fallback: a fixed-window counter per key.
// It is per-instance and less precise near window boundaries than the shared
// limiter, which is the accepted tradeoff while the store is down.
type MemoryLimiter struct {
	mu     sync.Mutex
	store  map[string]*memoryEntry
	window Window

	// cleanup is opportunistic: expired entries are swept only once the map
	// grows past this size, keeping the hot path allocation-free.
	cleanupThreshold int
}

type memoryEntry struct {
	count   int
	resetAt time.Time
}

// NewMemoryLimiter creates an in-process fixed-window limiter.
func NewMemoryLimiter(window Window) *MemoryLimiter {
	return &MemoryLimiter{
		store:            make(map[string]*memoryEntry),
		window:           window,
		cleanupThreshold: 10000,
	}
}

// Allow checks and reserves one request for key. Never errors.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.store) > l.cleanupThreshold {
		for k, e := range l.store {
			if !now.Before(e.resetAt) {
				delete(l.store, k)
			}
		}
	}

	entry, ok := l.store[key]
	if !ok || !now.Before(entry.resetAt) {
		l.store[key] = &memoryEntry{count: 1, resetAt: now.Add(l.window.Period)}
		return true, nil
	}

	if entry.count >= l.window.Limit {
		return false, nil
	}

	entry.count++
	return true, nil
}
