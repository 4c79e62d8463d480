package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a sliding-window rate limiter keyed by caller identity.
// State is process-local and resets on restart by design: a restart
// must never replay into a permanent lockout.
type Limiter struct {
	max    int
	window time.Duration

	mu   sync.Mutex
	keys map[string]*window

	// now is swappable for tests.
	now func() time.Time
}

type window struct {
	mu     sync.Mutex
	events []time.Time
}

func New(max int, windowDur time.Duration) *Limiter {
	return &Limiter{
		max:    max,
		window: windowDur,
		keys:   make(map[string]*window),
		now:    time.Now,
	}
}

// Allowed prunes the key's events to the trailing window and records a
// new one unless that would exceed the configured maximum. The per-key
// lock keeps unrelated keys from serializing and keeps a concurrent
// burst from exceeding the limit.
func (l *Limiter) Allowed(key string) bool {
	w := l.keyWindow(key)

	w.mu.Lock()
	defer w.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	kept := w.events[:0]
	for _, ts := range w.events {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	w.events = kept

	if len(w.events) >= l.max {
		return false
	}
	w.events = append(w.events, now)
	return true
}

// Reset drops all recorded events for key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.keys, key)
}

func (l *Limiter) keyWindow(key string) *window {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.keys[key]
	if !ok {
		w = &window{}
		l.keys[key] = w
	}
	return w
}
