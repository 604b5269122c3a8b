package server

import (
	"sync"
	"time"
)

// rateLimiter answers 429 once a caller sends more than limit command batches in a window.
// Callers are counted separately; each gets a fixed window starting at its first request.
type rateLimiter struct {
	limit  int
	window time.Duration

	callers map[string]*callerWindow
	lock    sync.Mutex
}

type callerWindow struct {
	ends  time.Time
	calls int
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		limit:   limit,
		window:  window,
		callers: make(map[string]*callerWindow),
	}
}

// exceeded records a request from key and returns how long key must wait, or 0 if the
// request is allowed.
func (r *rateLimiter) exceeded(key string) time.Duration {
	r.lock.Lock()
	defer r.lock.Unlock()

	now := time.Now()

	w, ok := r.callers[key]
	if !ok || !now.Before(w.ends) {
		w = &callerWindow{ends: now.Add(r.window)}
		r.callers[key] = w
	}

	if w.calls++; w.calls <= r.limit {
		return 0
	}

	return w.ends.Sub(now)
}
