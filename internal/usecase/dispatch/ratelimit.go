package dispatch

import (
	"sync"
	"time"
)

// sessionLimiter applies a sliding-window rate limit per session ID.
// A limit of zero disables limiting entirely.
type sessionLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	calls  map[string][]time.Time
	now    func() time.Time // for testing
}

func newSessionLimiter(limit int, window time.Duration) *sessionLimiter {
	return &sessionLimiter{
		limit:  limit,
		window: window,
		calls:  make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Allow reports whether the session may submit another request, and
// records it if so.
func (r *sessionLimiter) Allow(sessionID string) bool {
	if r.limit <= 0 {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cutoff := now.Add(-r.window)

	// Trim expired entries.
	calls := r.calls[sessionID]
	n := 0
	for _, t := range calls {
		if t.After(cutoff) {
			calls[n] = t
			n++
		}
	}
	calls = calls[:n]

	if len(calls) >= r.limit {
		r.calls[sessionID] = calls
		return false
	}

	r.calls[sessionID] = append(calls, now)
	return true
}

// Forget drops tracking state for a session. Called when the session's
// instance expires.
func (r *sessionLimiter) Forget(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.calls, sessionID)
}
