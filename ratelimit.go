package searchit

import (
	"sync"
	"time"
)

// SlidingWindowLimiter admits at most rate requests per rolling window per
// client identity. State is a map from client to a time-ordered slice of
// admission timestamps, guarded by a mutex; entries outside the window are
// evicted on every admission check, so memory is bounded by rate per active
// client.
type SlidingWindowLimiter struct {
	mu      sync.Mutex
	rate    int
	window  time.Duration
	clients map[string][]time.Time

	now func() time.Time // injectable for tests
}

// NewSlidingWindowLimiter creates a limiter admitting rate requests per
// window per client.
func NewSlidingWindowLimiter(rate int, window time.Duration) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		rate:    rate,
		window:  window,
		clients: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Allow reports whether a request from client is admitted now, recording it
// when admitted. Denied requests are not recorded and do not extend the
// window.
func (l *SlidingWindowLimiter) Allow(client string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	recent := pruneBefore(l.clients[client], cutoff)
	if len(recent) >= l.rate {
		l.clients[client] = recent
		return false
	}
	l.clients[client] = append(recent, now)
	return true
}

// pruneBefore removes entries older than cutoff from a sorted time slice.
func pruneBefore(s []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(s) && !s[i].After(cutoff) {
		i++
	}
	if i == len(s) {
		return nil
	}
	return s[i:]
}
