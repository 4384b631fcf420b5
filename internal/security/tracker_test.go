package security

import (
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var testIP = netip.MustParseAddr("9.9.9.9")

func TestAttemptTrackerThresholdExactness(t *testing.T) {
	tracker := NewAttemptTracker(5, 15*time.Minute)
	start := time.Now()

	// 4 failures within 10 minutes: not crossed
	var last Attempt
	for i := 0; i < 4; i++ {
		last = tracker.RecordFailure(testIP, start.Add(time.Duration(i)*2*time.Minute))
	}
	assert.Equal(t, 4, last.Count)
	assert.False(t, last.ThresholdCrossed)

	// 5th failure at minute 11, inside the 15-minute window of the first
	last = tracker.RecordFailure(testIP, start.Add(11*time.Minute))
	assert.Equal(t, 5, last.Count)
	assert.True(t, last.ThresholdCrossed)
}

func TestAttemptTrackerWindowResets(t *testing.T) {
	tracker := NewAttemptTracker(5, 15*time.Minute)
	start := time.Now()

	for i := 0; i < 4; i++ {
		tracker.RecordFailure(testIP, start.Add(time.Duration(i)*2*time.Minute))
	}

	// 5th failure after the window from the first failure: fresh window, no block
	last := tracker.RecordFailure(testIP, start.Add(16*time.Minute))
	assert.Equal(t, 1, last.Count)
	assert.False(t, last.ThresholdCrossed)
}

func TestAttemptTrackerBurst(t *testing.T) {
	tracker := NewAttemptTracker(5, 15*time.Minute)
	now := time.Now()

	var last Attempt
	for i := 0; i < 5; i++ {
		last = tracker.RecordFailure(testIP, now.Add(time.Duration(i)*time.Second))
	}
	assert.True(t, last.ThresholdCrossed)

	// Further failures keep reporting crossed and keep counting
	last = tracker.RecordFailure(testIP, now.Add(6*time.Second))
	assert.Equal(t, 6, last.Count)
	assert.True(t, last.ThresholdCrossed)
}

func TestAttemptTrackerSweepSparesBlockedIPs(t *testing.T) {
	tracker := NewAttemptTracker(5, 15*time.Minute)
	now := time.Now()

	blocked := netip.MustParseAddr("1.1.1.1")
	stale := netip.MustParseAddr("2.2.2.2")
	fresh := netip.MustParseAddr("3.3.3.3")

	tracker.RecordFailure(blocked, now.Add(-2*time.Hour))
	tracker.RecordFailure(stale, now.Add(-2*time.Hour))
	tracker.RecordFailure(fresh, now.Add(-10*time.Minute))

	removed := tracker.Sweep(now, time.Hour, func(ip netip.Addr) bool {
		return ip == blocked
	})

	assert.Equal(t, 1, removed)
	assert.Equal(t, 2, tracker.Len())

	_, ok := tracker.Get(stale)
	assert.False(t, ok)
	_, ok = tracker.Get(blocked)
	assert.True(t, ok)
}

func TestAttemptTrackerConcurrentIncrements(t *testing.T) {
	tracker := NewAttemptTracker(1000, time.Hour)
	now := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				tracker.RecordFailure(testIP, now)
			}
		}()
	}
	wg.Wait()

	got, ok := tracker.Get(testIP)
	assert.True(t, ok)
	assert.Equal(t, 500, got.Count)
}
