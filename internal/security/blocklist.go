package security

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/colemarsh/signet/internal/models"
)

// BlockedIPStore is the durable side of the blocklist.
type BlockedIPStore interface {
	Upsert(ctx context.Context, blocked *models.BlockedIP) (*models.BlockedIP, error)
	Delete(ctx context.Context, ipAddress string) error
	List(ctx context.Context) ([]*models.BlockedIP, error)
	ListAddresses(ctx context.Context) ([]string, error)
}

// Blocklist pairs the durable blocked_ips table with an in-process mirror so
// the per-request gate check is a map lookup, not a database round-trip. The
// mirror is loaded at startup (lazily on the first check as a fallback) and
// kept current by writing through on every block and unblock.
type Blocklist struct {
	store  BlockedIPStore
	logger *slog.Logger

	mu     sync.RWMutex
	mirror map[netip.Addr]struct{}
	loaded bool
}

// NewBlocklist creates a Blocklist over the given store. Call Load before
// serving gated traffic.
func NewBlocklist(store BlockedIPStore, logger *slog.Logger) *Blocklist {
	return &Blocklist{
		store:  store,
		logger: logger,
		mirror: make(map[netip.Addr]struct{}),
	}
}

// Load populates the mirror from durable storage.
func (b *Blocklist) Load(ctx context.Context) error {
	addresses, err := b.store.ListAddresses(ctx)
	if err != nil {
		return fmt.Errorf("failed to load blocklist: %w", err)
	}

	mirror := make(map[netip.Addr]struct{}, len(addresses))
	for _, raw := range addresses {
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			b.logger.Warn("skipping unparseable blocked ip", slog.String("ip_address", raw))
			continue
		}
		mirror[addr.Unmap()] = struct{}{}
	}

	b.mu.Lock()
	b.mirror = mirror
	b.loaded = true
	b.mu.Unlock()

	b.logger.Info("blocklist loaded", slog.Int("blocked_ips", len(mirror)))
	return nil
}

// ensureLoaded lazily loads the mirror if startup population has not
// completed before the first gated request.
func (b *Blocklist) ensureLoaded(ctx context.Context) {
	b.mu.RLock()
	loaded := b.loaded
	b.mu.RUnlock()
	if loaded {
		return
	}

	if err := b.Load(ctx); err != nil {
		b.logger.Error("lazy blocklist load failed", slog.Any("error", err))
	}
}

// Contains reports whether ip is blocked. The fast path never touches the
// database.
func (b *Blocklist) Contains(ctx context.Context, ip netip.Addr) bool {
	b.ensureLoaded(ctx)

	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.mirror[ip.Unmap()]
	return ok
}

// Block permanently blocks an address after the fishing threshold was
// crossed. Re-crossing the threshold while already blocked only bumps the
// attempt count. The mirror is updated even if the durable write fails, so a
// detected attacker is shut out immediately; the row is retried on the next
// threshold crossing.
func (b *Blocklist) Block(ctx context.Context, ip netip.Addr, attemptCount int, lastAttempt time.Time) error {
	entry := &models.BlockedIP{
		IPAddress:    ip.Unmap().String(),
		Reason:       models.DefaultBlockReason,
		BlockedBy:    models.BlockedByAutomatic,
		AttemptCount: attemptCount,
		LastAttempt:  &lastAttempt,
	}

	_, err := b.store.Upsert(ctx, entry)
	if err != nil {
		b.logger.Error("failed to persist blocked ip",
			slog.String("ip_address", entry.IPAddress),
			slog.Any("error", err))
	}

	b.mu.Lock()
	b.mirror[ip.Unmap()] = struct{}{}
	b.mu.Unlock()

	b.logger.Warn("ip permanently blocked for token fishing",
		slog.String("ip_address", entry.IPAddress),
		slog.Int("attempt_count", attemptCount))

	return err
}

// BlockManual adds an address to the blocklist by operator action, bypassing
// the counter logic entirely.
func (b *Blocklist) BlockManual(ctx context.Context, ip netip.Addr, notes string) (*models.BlockedIP, error) {
	reason := notes
	if reason == "" {
		reason = "Manually blocked"
	}

	entry, err := b.store.Upsert(ctx, &models.BlockedIP{
		IPAddress: ip.Unmap().String(),
		Reason:    reason,
		BlockedBy: models.BlockedByManual,
		Notes:     notes,
	})
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.mirror[ip.Unmap()] = struct{}{}
	b.mu.Unlock()

	b.logger.Info("ip manually blocked", slog.String("ip_address", entry.IPAddress))
	return entry, nil
}

// Unblock removes an address from both the durable list and the mirror.
func (b *Blocklist) Unblock(ctx context.Context, ip netip.Addr) error {
	if err := b.store.Delete(ctx, ip.Unmap().String()); err != nil {
		return err
	}

	b.mu.Lock()
	delete(b.mirror, ip.Unmap())
	b.mu.Unlock()

	b.logger.Info("ip removed from blocklist", slog.String("ip_address", ip.Unmap().String()))
	return nil
}

// List returns all durable blocklist entries for the admin surface.
func (b *Blocklist) List(ctx context.Context) ([]*models.BlockedIP, error) {
	return b.store.List(ctx)
}
