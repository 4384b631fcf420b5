package background

import (
	"context"
	"log/slog"
	"net/netip"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/colemarsh/signet/internal/models"
	"github.com/colemarsh/signet/internal/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTokenMaintainer struct {
	mu    sync.Mutex
	calls int
}

func (s *stubTokenMaintainer) CleanupExpired(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return 3, nil
}

type stubRepairer struct {
	mu    sync.Mutex
	calls int
}

func (s *stubRepairer) Repair(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return 0, nil
}

type noopBlockedStore struct{}

func (noopBlockedStore) Upsert(ctx context.Context, blocked *models.BlockedIP) (*models.BlockedIP, error) {
	return blocked, nil
}
func (noopBlockedStore) Delete(ctx context.Context, ipAddress string) error { return nil }
func (noopBlockedStore) List(ctx context.Context) ([]*models.BlockedIP, error) {
	return nil, nil
}
func (noopBlockedStore) ListAddresses(ctx context.Context) ([]string, error) { return nil, nil }

func TestCleanupManager_RunsOnStartAndStops(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	tokens := &stubTokenMaintainer{}
	repairer := &stubRepairer{}
	tracker := security.NewAttemptTracker(5, 15*time.Minute)
	limiter := security.NewFailureLimiter(5, 15*time.Minute)
	blocklist := security.NewBlocklist(noopBlockedStore{}, logger)

	cm := NewCleanupManager(tokens, repairer, tracker, limiter, blocklist, logger, time.Hour, time.Hour)

	done := make(chan struct{})
	go func() {
		cm.Start(context.Background())
		close(done)
	}()

	// The first pass runs immediately on start
	require.Eventually(t, func() bool {
		tokens.mu.Lock()
		defer tokens.mu.Unlock()
		return tokens.calls >= 1
	}, time.Second, 10*time.Millisecond)

	cm.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup manager did not stop")
	}

	repairer.mu.Lock()
	assert.GreaterOrEqual(t, repairer.calls, 1)
	repairer.mu.Unlock()
}

func TestCleanupManager_SweepSparesBlockedAddresses(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	tracker := security.NewAttemptTracker(5, 15*time.Minute)
	limiter := security.NewFailureLimiter(5, 15*time.Minute)
	blocklist := security.NewBlocklist(noopBlockedStore{}, logger)

	blocked := netip.MustParseAddr("203.0.113.1")
	idle := netip.MustParseAddr("203.0.113.2")
	old := time.Now().Add(-2 * time.Hour)
	tracker.RecordFailure(blocked, old)
	tracker.RecordFailure(idle, old)
	require.NoError(t, blocklist.Block(context.Background(), blocked, 5, old))

	cm := NewCleanupManager(&stubTokenMaintainer{}, &stubRepairer{}, tracker, limiter, blocklist, logger, time.Hour, time.Hour)
	cm.runCleanup(context.Background())

	_, blockedKept := tracker.Get(blocked)
	_, idleKept := tracker.Get(idle)
	assert.True(t, blockedKept, "blocked address record must survive the sweep")
	assert.False(t, idleKept, "idle unblocked record should be evicted")
}
