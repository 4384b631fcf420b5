package background

import (
	"context"
	"log/slog"
	"net/netip"
	"time"

	"github.com/colemarsh/signet/internal/security"
)

// TokenMaintainer is the token-side surface the sweeper needs
type TokenMaintainer interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// OrderRepairer reconciles used tokens whose order never reached the signed
// state.
type OrderRepairer interface {
	Repair(ctx context.Context) (int, error)
}

// CleanupManager periodically removes long-expired signing tokens, evicts
// idle in-memory attempt records and repairs token/order inconsistencies.
// Blocked IPs are never evicted; those entries are permanent.
type CleanupManager struct {
	tokens    TokenMaintainer
	repairer  OrderRepairer
	tracker   *security.AttemptTracker
	limiter   *security.FailureLimiter
	blocklist *security.Blocklist
	logger    *slog.Logger
	interval  time.Duration
	maxIdle   time.Duration
	stopCh    chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	tokens TokenMaintainer,
	repairer OrderRepairer,
	tracker *security.AttemptTracker,
	limiter *security.FailureLimiter,
	blocklist *security.Blocklist,
	logger *slog.Logger,
	interval time.Duration,
	maxIdle time.Duration,
) *CleanupManager {
	return &CleanupManager{
		tokens:    tokens,
		repairer:  repairer,
		tracker:   tracker,
		limiter:   limiter,
		blocklist: blocklist,
		logger:    logger,
		interval:  interval,
		maxIdle:   maxIdle,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	now := time.Now()

	rowsDeleted, err := cm.tokens.CleanupExpired(cleanupCtx)
	if err != nil {
		cm.logger.Error("failed to cleanup expired signing tokens", slog.Any("error", err))
	} else if rowsDeleted > 0 {
		cm.logger.Info("expired signing token cleanup completed", slog.Int64("rows_deleted", rowsDeleted))
	}

	evicted := cm.tracker.Sweep(now, cm.maxIdle, func(ip netip.Addr) bool {
		return cm.blocklist.Contains(cleanupCtx, ip)
	})
	evicted += cm.limiter.Sweep(now)
	if evicted > 0 {
		cm.logger.Info("idle attempt records evicted", slog.Int("evicted", evicted))
	}

	repaired, err := cm.repairer.Repair(cleanupCtx)
	if err != nil {
		cm.logger.Error("failed to repair inconsistent orders", slog.Any("error", err))
	} else if repaired > 0 {
		cm.logger.Warn("repaired orders left behind by used tokens", slog.Int("repaired", repaired))
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
