// Package ratelimit implements the sliding-window limiter used at the
// ingestion gate (per source) and inside the validator (per account).
package ratelimit

import (
	"sync"
	"time"
)

// SlidingWindow counts events per key over a rolling window using a
// pruned, time-ordered log. All access serializes on one mutex so two
// concurrent callers can never both claim the last slot.
type SlidingWindow struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	hits   map[string][]time.Time

	now func() time.Time // injectable clock for tests
}

// New creates a limiter allowing limit events per window per key.
func New(limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		limit:  limit,
		window: window,
		hits:   make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Allow records one event for key and reports whether it fits inside the
// window. Entries older than the window are pruned on every call.
func (s *SlidingWindow) Allow(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-s.window)

	log := s.hits[key]
	kept := log[:0]
	for _, t := range log {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= s.limit {
		s.hits[key] = kept
		return false
	}

	s.hits[key] = append(kept, now)
	return true
}

// Reset clears all recorded events for key.
func (s *SlidingWindow) Reset(key string) {
	s.mu.Lock()
	delete(s.hits, key)
	s.mu.Unlock()
}

// SetClock overrides the time source. Test hook.
func (s *SlidingWindow) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}
