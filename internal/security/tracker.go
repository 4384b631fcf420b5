package security

import (
	"net/netip"
	"sync"
	"time"
)

// attemptRecord tracks failed token lookups from one source address
type attemptRecord struct {
	count        int
	firstAttempt time.Time
	lastAttempt  time.Time
}

// Attempt is a snapshot of the ledger entry after a recorded failure.
type Attempt struct {
	Count            int
	FirstAttempt     time.Time
	LastAttempt      time.Time
	ThresholdCrossed bool
}

// AttemptTracker is the in-memory failed-attempt ledger behind fishing
// detection. It is process-local by design: the durable outcome of crossing
// the threshold is the blocklist entry, not the ledger itself.
type AttemptTracker struct {
	mu          sync.Mutex
	attempts    map[netip.Addr]*attemptRecord
	maxFailures int
	window      time.Duration
}

// NewAttemptTracker creates a tracker that flags an address after
// maxFailures failed lookups within window of the first failure.
func NewAttemptTracker(maxFailures int, window time.Duration) *AttemptTracker {
	return &AttemptTracker{
		attempts:    make(map[netip.Addr]*attemptRecord),
		maxFailures: maxFailures,
		window:      window,
	}
}

// RecordFailure notes a failed token lookup from ip and reports whether the
// block threshold was crossed. A failure arriving after the window from the
// first failure has lapsed starts a fresh window instead of counting against
// the old one.
func (t *AttemptTracker) RecordFailure(ip netip.Addr, now time.Time) Attempt {
	t.mu.Lock()
	defer t.mu.Unlock()

	record, ok := t.attempts[ip]
	if !ok || now.Sub(record.firstAttempt) >= t.window {
		record = &attemptRecord{firstAttempt: now}
		t.attempts[ip] = record
	}

	record.count++
	record.lastAttempt = now

	return Attempt{
		Count:            record.count,
		FirstAttempt:     record.firstAttempt,
		LastAttempt:      record.lastAttempt,
		ThresholdCrossed: record.count >= t.maxFailures,
	}
}

// Get returns the current snapshot for an address, if tracked.
func (t *AttemptTracker) Get(ip netip.Addr) (Attempt, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	record, ok := t.attempts[ip]
	if !ok {
		return Attempt{}, false
	}

	return Attempt{
		Count:        record.count,
		FirstAttempt: record.firstAttempt,
		LastAttempt:  record.lastAttempt,
	}, true
}

// Sweep evicts entries idle longer than maxIdle, except addresses the
// isBlocked predicate claims: blocking state must never silently reset
// because of cache eviction. Returns the number of entries removed.
func (t *AttemptTracker) Sweep(now time.Time, maxIdle time.Duration, isBlocked func(netip.Addr) bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for ip, record := range t.attempts {
		if now.Sub(record.lastAttempt) > maxIdle && !isBlocked(ip) {
			delete(t.attempts, ip)
			removed++
		}
	}

	return removed
}

// Len reports the number of tracked addresses.
func (t *AttemptTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.attempts)
}
