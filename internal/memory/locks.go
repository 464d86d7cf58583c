package memory

import (
	"context"
	"sync"
	"time"
)

// sessionLock serializes appends for one session without blocking others.
type sessionLock struct {
	mu         sync.Mutex
	lastUsedAt time.Time
}

// lockRegistry hands out per-session locks and discards locks for sessions
// that have gone idle so the map does not grow without bound.
type lockRegistry struct {
	mu          sync.Mutex
	locks       map[string]*sessionLock
	idleTimeout time.Duration
}

func newLockRegistry(idleTimeout time.Duration) *lockRegistry {
	if idleTimeout <= 0 {
		idleTimeout = 10 * time.Minute
	}
	return &lockRegistry{
		locks:       make(map[string]*sessionLock),
		idleTimeout: idleTimeout,
	}
}

func (r *lockRegistry) acquire(sessionID string) *sessionLock {
	r.mu.Lock()
	l, ok := r.locks[sessionID]
	if !ok {
		l = &sessionLock{}
		r.locks[sessionID] = l
	}
	l.lastUsedAt = time.Now().UTC()
	r.mu.Unlock()

	l.mu.Lock()
	return l
}

func (r *lockRegistry) release(l *sessionLock) {
	l.mu.Unlock()
}

// StartJanitor periodically drops locks for idle sessions.
func (r *lockRegistry) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.dropIdle()
			}
		}
	}()
}

func (r *lockRegistry) dropIdle() {
	now := time.Now().UTC()
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, l := range r.locks {
		if now.Sub(l.lastUsedAt) < r.idleTimeout {
			continue
		}
		// Skip locks currently held by an in-flight append.
		if l.mu.TryLock() {
			l.mu.Unlock()
			delete(r.locks, id)
		}
	}
}

func (r *lockRegistry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}
