package security

import (
	"net/netip"
	"sync"
	"time"
)

// failureWindow counts failed outcomes inside one window per address
type failureWindow struct {
	start time.Time
	count int
}

// FailureLimiter rate-limits *failed* token lookups per source address: a
// coarse backstop under the permanent-block detector. Successful lookups
// never count. httprate covers the all-requests cap on the public routes,
// but it admits or rejects before the outcome is known, so the
// failed-outcomes-only window lives here.
//
// The window is fixed, anchored at the first failure, rather than a true
// sliding log: a burst straddling a window boundary can see up to twice the
// limit before tripping. The approximation keeps per-address state to one
// timestamp and one counter.
type FailureLimiter struct {
	mu      sync.Mutex
	windows map[netip.Addr]*failureWindow
	limit   int
	window  time.Duration
}

// NewFailureLimiter creates a limiter allowing limit failures per window.
func NewFailureLimiter(limit int, window time.Duration) *FailureLimiter {
	return &FailureLimiter{
		windows: make(map[netip.Addr]*failureWindow),
		limit:   limit,
		window:  window,
	}
}

// RecordFailure counts a failed outcome for ip.
func (l *FailureLimiter) RecordFailure(ip netip.Addr, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[ip]
	if !ok || now.Sub(w.start) >= l.window {
		w = &failureWindow{start: now}
		l.windows[ip] = w
	}
	w.count++
}

// Exceeded reports whether ip has spent its failure budget for the current
// window, and if so how long until the window resets.
func (l *FailureLimiter) Exceeded(ip netip.Addr, now time.Time) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[ip]
	if !ok || now.Sub(w.start) >= l.window {
		return false, 0
	}

	if w.count >= l.limit {
		return true, w.start.Add(l.window).Sub(now)
	}
	return false, 0
}

// Sweep drops windows that have fully elapsed. Returns the number removed.
func (l *FailureLimiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for ip, w := range l.windows {
		if now.Sub(w.start) >= l.window {
			delete(l.windows, ip)
			removed++
		}
	}
	return removed
}
