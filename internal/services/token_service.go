package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/colemarsh/signet/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// SigningTokenRepository defines the interface for signing token persistence
type SigningTokenRepository interface {
	Create(ctx context.Context, token, email string, orderID uuid.UUID, expiresAt time.Time) (*models.SigningToken, error)
	GetByValue(ctx context.Context, token string) (*models.SigningToken, error)
	GetActiveForOrder(ctx context.Context, orderID uuid.UUID, email string) (*models.SigningToken, error)
	RecordDeviceInfo(ctx context.Context, id uuid.UUID, info *models.DeviceInfo) error
	MarkUsed(ctx context.Context, tx pgx.Tx, id uuid.UUID, record *models.SignatureRecord) error
	GetUsedWithoutSignedOrder(ctx context.Context) ([]*models.SigningToken, error)
	CleanupExpired(ctx context.Context) (int64, error)
}

// TokenService issues and resolves signing tokens
type TokenService struct {
	repo   SigningTokenRepository
	logger *slog.Logger
}

// NewTokenService creates a new TokenService
func NewTokenService(repo SigningTokenRepository, logger *slog.Logger) *TokenService {
	return &TokenService{repo: repo, logger: logger}
}

// GenerateToken returns a new 256-bit random token, hex encoded
func GenerateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// ValidateFormat rejects anything that is not exactly 64 hex characters,
// before any storage lookup happens.
func ValidateFormat(token string) error {
	if len(token) != models.TokenLength {
		return models.ErrTokenMalformed
	}
	for _, c := range token {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return models.ErrTokenMalformed
		}
	}
	return nil
}

// Issue returns a signing token for the (order, email) pair. An existing
// unused, unexpired token is reused so repeated resend requests keep one
// signing URL valid; otherwise a fresh token is minted with the given TTL.
//
// There is no lock around the find-then-create: concurrent resends can mint
// two valid tokens for the same pair, both independently redeemable until one
// is used. Accepted looseness, single-use is still enforced at redemption.
func (s *TokenService) Issue(ctx context.Context, orderID uuid.UUID, email string, ttlDays int) (*models.SigningToken, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	existing, err := s.repo.GetActiveForOrder(ctx, orderID, email)
	if err == nil {
		s.logger.Info("reusing active signing token",
			slog.String("order_id", orderID.String()),
			slog.String("token_id", existing.ID.String()))
		return existing, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up active token: %w", err)
	}

	value, err := GenerateToken()
	if err != nil {
		return nil, err
	}

	expiresAt := time.Now().AddDate(0, 0, ttlDays)
	token, err := s.repo.Create(ctx, value, email, orderID, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create signing token: %w", err)
	}

	s.logger.Info("signing token issued",
		slog.String("order_id", orderID.String()),
		slog.String("token_id", token.ID.String()),
		slog.Time("expires_at", expiresAt))

	return token, nil
}

// Resolve looks a token up by value. Non-existence is reported as
// ErrTokenNotFound; the caller decides how that feeds fishing detection.
func (s *TokenService) Resolve(ctx context.Context, value string) (*models.SigningToken, error) {
	token, err := s.repo.GetByValue(ctx, value)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to resolve token: %w", err)
	}
	return token, nil
}

// RecordDeviceInfo stores the first-access device fingerprint for a token
func (s *TokenService) RecordDeviceInfo(ctx context.Context, id uuid.UUID, info *models.DeviceInfo) error {
	return s.repo.RecordDeviceInfo(ctx, id, info)
}

// MarkUsed consumes a token inside the given transaction. This is the only
// mutation path that flips a token from unused to used.
func (s *TokenService) MarkUsed(ctx context.Context, tx pgx.Tx, id uuid.UUID, record *models.SignatureRecord) error {
	return s.repo.MarkUsed(ctx, tx, id, record)
}

// RepairCandidates returns used tokens whose order never reached the signed
// state.
func (s *TokenService) RepairCandidates(ctx context.Context) ([]*models.SigningToken, error) {
	return s.repo.GetUsedWithoutSignedOrder(ctx)
}

// CleanupExpired removes long-expired tokens
func (s *TokenService) CleanupExpired(ctx context.Context) (int64, error) {
	return s.repo.CleanupExpired(ctx)
}
