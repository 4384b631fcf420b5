package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/colemarsh/signet/internal/database"
	"github.com/colemarsh/signet/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// rowScanner abstracts pgx.Row and pgx.Rows so scan helpers work for both
type rowScanner interface {
	Scan(dest ...any) error
}

// SigningTokenRepository handles signing token data access
type SigningTokenRepository struct {
	pool *pgxpool.Pool
}

// NewSigningTokenRepository creates a new SigningTokenRepository
func NewSigningTokenRepository(db *database.DB) *SigningTokenRepository {
	return &SigningTokenRepository{pool: db.Pool}
}

const signingTokenColumns = `id, token, order_id, email, expires_at, is_used, used_at, device_info, signature, created_at`

// scanSigningTokenRow handles nullable and JSONB fields and populates a
// SigningToken model from a database row
func scanSigningTokenRow(row rowScanner) (*models.SigningToken, error) {
	var token models.SigningToken
	var usedAt *time.Time
	var deviceInfo, signature []byte

	err := row.Scan(
		&token.ID, &token.Token, &token.OrderID, &token.Email,
		&token.ExpiresAt, &token.IsUsed, &usedAt, &deviceInfo, &signature,
		&token.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	token.UsedAt = usedAt
	if len(deviceInfo) > 0 {
		var di models.DeviceInfo
		if err := json.Unmarshal(deviceInfo, &di); err != nil {
			return nil, fmt.Errorf("failed to decode device info: %w", err)
		}
		token.DeviceInfo = &di
	}
	if len(signature) > 0 {
		var sig models.SignatureRecord
		if err := json.Unmarshal(signature, &sig); err != nil {
			return nil, fmt.Errorf("failed to decode signature record: %w", err)
		}
		token.Signature = &sig
	}

	return &token, nil
}

// Create persists a new signing token
func (r *SigningTokenRepository) Create(ctx context.Context, token, email string, orderID uuid.UUID, expiresAt time.Time) (*models.SigningToken, error) {
	query := `
		INSERT INTO signing_tokens (token, order_id, email, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + signingTokenColumns

	created, err := scanSigningTokenRow(r.pool.QueryRow(ctx, query, token, orderID, email, expiresAt))
	if err != nil {
		return nil, fmt.Errorf("failed to create signing token: %w", err)
	}

	return created, nil
}

// GetByValue retrieves a token by its exact value. This is the sole query on
// the public redemption path.
func (r *SigningTokenRepository) GetByValue(ctx context.Context, token string) (*models.SigningToken, error) {
	query := `
		SELECT ` + signingTokenColumns + `
		FROM signing_tokens
		WHERE token = $1
	`

	return scanSigningTokenRow(r.pool.QueryRow(ctx, query, token))
}

// GetActiveForOrder returns the newest unused, unexpired token for an
// (order, email) pair so repeated resend requests reuse one signing URL.
func (r *SigningTokenRepository) GetActiveForOrder(ctx context.Context, orderID uuid.UUID, email string) (*models.SigningToken, error) {
	query := `
		SELECT ` + signingTokenColumns + `
		FROM signing_tokens
		WHERE order_id = $1 AND email = $2 AND is_used = FALSE AND expires_at > NOW()
		ORDER BY created_at DESC
		LIMIT 1
	`

	return scanSigningTokenRow(r.pool.QueryRow(ctx, query, orderID, email))
}

// RecordDeviceInfo stores the first-access device fingerprint. Later page
// loads keep the original capture.
func (r *SigningTokenRepository) RecordDeviceInfo(ctx context.Context, id uuid.UUID, info *models.DeviceInfo) error {
	payload, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to encode device info: %w", err)
	}

	query := `
		UPDATE signing_tokens
		SET device_info = $2
		WHERE id = $1 AND device_info IS NULL
	`

	if _, err := r.pool.Exec(ctx, query, id, payload); err != nil {
		return fmt.Errorf("failed to record device info: %w", err)
	}

	return nil
}

// MarkUsed flips a token to used and attaches the signature record within the
// given transaction. The is_used guard makes concurrent accepts yield exactly
// one winner; the losers see ErrTokenUsed.
func (r *SigningTokenRepository) MarkUsed(ctx context.Context, tx pgx.Tx, id uuid.UUID, record *models.SignatureRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode signature record: %w", err)
	}

	query := `
		UPDATE signing_tokens
		SET is_used = TRUE, used_at = NOW(), signature = $2
		WHERE id = $1 AND is_used = FALSE
	`

	result, err := tx.Exec(ctx, query, id, payload)
	if err != nil {
		return fmt.Errorf("failed to mark token as used: %w", err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrTokenUsed
	}

	return nil
}

// GetUsedWithoutSignedOrder finds used tokens whose order never reached the
// signed state. These are partial-transaction leftovers needing repair.
func (r *SigningTokenRepository) GetUsedWithoutSignedOrder(ctx context.Context) ([]*models.SigningToken, error) {
	query := `
		SELECT ` + tokenColumnsPrefixed("t") + `
		FROM signing_tokens t
		JOIN orders o ON o.id = t.order_id
		WHERE t.is_used = TRUE AND o.status NOT IN ('signed', 'completed')
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	defer rows.Close()

	tokens := make([]*models.SigningToken, 0)
	for rows.Next() {
		token, err := scanSigningTokenRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signing token: %w", err)
		}
		tokens = append(tokens, token)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating token rows: %w", err)
	}

	return tokens, nil
}

// CleanupExpired deletes tokens past their expiry. The expiry itself makes a
// token inert; deletion is housekeeping, so it can lag well behind.
func (r *SigningTokenRepository) CleanupExpired(ctx context.Context) (int64, error) {
	query := `
		DELETE FROM signing_tokens
		WHERE expires_at < NOW() - INTERVAL '30 days'
	`

	result, err := r.pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired tokens: %w", err)
	}

	return result.RowsAffected(), nil
}

func tokenColumnsPrefixed(alias string) string {
	return alias + ".id, " + alias + ".token, " + alias + ".order_id, " + alias + ".email, " +
		alias + ".expires_at, " + alias + ".is_used, " + alias + ".used_at, " +
		alias + ".device_info, " + alias + ".signature, " + alias + ".created_at"
}
