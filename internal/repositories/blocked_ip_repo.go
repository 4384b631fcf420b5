package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/colemarsh/signet/internal/database"
	"github.com/colemarsh/signet/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// BlockedIPRepository handles the durable blocklist
type BlockedIPRepository struct {
	pool *pgxpool.Pool
}

// NewBlockedIPRepository creates a new BlockedIPRepository
func NewBlockedIPRepository(db *database.DB) *BlockedIPRepository {
	return &BlockedIPRepository{pool: db.Pool}
}

const blockedIPColumns = `id, ip_address, reason, blocked_at, blocked_by, attempt_count, last_attempt, notes`

func scanBlockedIPRow(row rowScanner) (*models.BlockedIP, error) {
	var blocked models.BlockedIP
	var lastAttempt *time.Time
	var notes *string

	err := row.Scan(
		&blocked.ID, &blocked.IPAddress, &blocked.Reason, &blocked.BlockedAt,
		&blocked.BlockedBy, &blocked.AttemptCount, &lastAttempt, &notes,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	blocked.LastAttempt = lastAttempt
	if notes != nil {
		blocked.Notes = *notes
	}

	return &blocked, nil
}

// Upsert records a block, updating the existing row when the IP was already
// blocked. Attempt counts never go backwards: a manual block layered over an
// automatic one keeps the recorded count while taking the manual reason and
// notes. The original blocked_at is preserved.
func (r *BlockedIPRepository) Upsert(ctx context.Context, blocked *models.BlockedIP) (*models.BlockedIP, error) {
	query := `
		INSERT INTO blocked_ips (ip_address, reason, blocked_at, blocked_by, attempt_count, last_attempt, notes)
		VALUES ($1, $2, NOW(), $3, $4, $5, NULLIF($6, ''))
		ON CONFLICT (ip_address) DO UPDATE
		SET reason = EXCLUDED.reason,
		    blocked_by = EXCLUDED.blocked_by,
		    attempt_count = GREATEST(blocked_ips.attempt_count, EXCLUDED.attempt_count),
		    last_attempt = COALESCE(EXCLUDED.last_attempt, blocked_ips.last_attempt),
		    notes = COALESCE(EXCLUDED.notes, blocked_ips.notes)
		RETURNING ` + blockedIPColumns

	row, err := scanBlockedIPRow(r.pool.QueryRow(ctx, query,
		blocked.IPAddress, blocked.Reason, blocked.BlockedBy,
		blocked.AttemptCount, blocked.LastAttempt, blocked.Notes,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert blocked ip: %w", err)
	}

	return row, nil
}

// Delete removes an IP from the blocklist. Only manual unblocking calls this.
func (r *BlockedIPRepository) Delete(ctx context.Context, ipAddress string) error {
	query := `DELETE FROM blocked_ips WHERE ip_address = $1`

	result, err := r.pool.Exec(ctx, query, ipAddress)
	if err != nil {
		return fmt.Errorf("failed to delete blocked ip: %w", err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// List returns all blocklist entries, newest block first
func (r *BlockedIPRepository) List(ctx context.Context) ([]*models.BlockedIP, error) {
	query := `
		SELECT ` + blockedIPColumns + `
		FROM blocked_ips
		ORDER BY blocked_at DESC
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	defer rows.Close()

	blocked := make([]*models.BlockedIP, 0)
	for rows.Next() {
		entry, err := scanBlockedIPRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan blocked ip: %w", err)
		}
		blocked = append(blocked, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating blocked ip rows: %w", err)
	}

	return blocked, nil
}

// ListAddresses returns just the blocked IP addresses, used to populate the
// in-process mirror at startup.
func (r *BlockedIPRepository) ListAddresses(ctx context.Context) ([]string, error) {
	query := `SELECT ip_address FROM blocked_ips`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	defer rows.Close()

	addresses := make([]string, 0)
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("failed to scan blocked ip address: %w", err)
		}
		addresses = append(addresses, addr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating blocked ip rows: %w", err)
	}

	return addresses, nil
}
