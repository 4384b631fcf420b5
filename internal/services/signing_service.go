package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/colemarsh/signet/internal/models"
	"github.com/colemarsh/signet/internal/security"
	pkglogger "github.com/colemarsh/signet/pkg/logger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// OrderRepository defines the order persistence the signing workflow needs
type OrderRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	SetPending(ctx context.Context, id uuid.UUID, actor uuid.UUID) error
	MarkSigned(ctx context.Context, tx pgx.Tx, id uuid.UUID, signedBy string, meta *models.SignatureMetadata, actor *uuid.UUID) error
}

// TransactionRunner runs a function inside one database transaction
type TransactionRunner interface {
	WithTransaction(ctx context.Context, fn func(pgx.Tx) error) error
}

// SigningView is the order snapshot returned when a customer opens a valid
// signing link.
type SigningView struct {
	Order     *models.Order
	Email     string
	ExpiresAt time.Time
}

// SignResult is the outcome of a successful signature.
type SignResult struct {
	Order     *models.Order
	Signature *models.SignatureRecord
}

// SigningService orchestrates token issuance, redemption and the order state
// transition, funneling every public-path failure through the fishing
// defense.
type SigningService struct {
	orders    OrderRepository
	tokens    *TokenService
	db        TransactionRunner
	blocklist *security.Blocklist
	tracker   *security.AttemptTracker
	limiter   *security.FailureLimiter
	mailer    MailRelay
	renderer  PDFRenderer
	audit     *pkglogger.AuditLogger
	logger    *slog.Logger

	signingURLBase string
	defaultTTLDays int
}

// NewSigningService creates a new SigningService. renderer may be nil, in
// which case no PDF copy is emailed after signing.
func NewSigningService(
	orders OrderRepository,
	tokens *TokenService,
	db TransactionRunner,
	blocklist *security.Blocklist,
	tracker *security.AttemptTracker,
	limiter *security.FailureLimiter,
	mailer MailRelay,
	renderer PDFRenderer,
	audit *pkglogger.AuditLogger,
	logger *slog.Logger,
	signingURLBase string,
	defaultTTLDays int,
) *SigningService {
	return &SigningService{
		orders:         orders,
		tokens:         tokens,
		db:             db,
		blocklist:      blocklist,
		tracker:        tracker,
		limiter:        limiter,
		mailer:         mailer,
		renderer:       renderer,
		audit:          audit,
		logger:         logger,
		signingURLBase: signingURLBase,
		defaultTTLDays: defaultTTLDays,
	}
}

// SendSigningEmail issues (or reuses) a signing token for the order and
// emails the signing link. The order moves draft -> pending; pending stays
// pending. Terminal orders are rejected.
func (s *SigningService) SendSigningEmail(ctx context.Context, orderID uuid.UUID, email string, ttlDays int, actor uuid.UUID) (*models.SigningToken, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if order.IsTerminal() {
		return nil, models.ErrOrderAlreadySigned
	}

	recipient := strings.ToLower(strings.TrimSpace(email))
	if recipient == "" {
		recipient = strings.ToLower(strings.TrimSpace(order.CustomerInfo.Email))
	}
	if recipient == "" {
		return nil, fmt.Errorf("%w: order has no customer email", models.ErrBadRequest)
	}

	if ttlDays <= 0 {
		ttlDays = s.defaultTTLDays
	}

	token, err := s.tokens.Issue(ctx, orderID, recipient, ttlDays)
	if err != nil {
		return nil, err
	}

	if err := s.orders.SetPending(ctx, orderID, actor); err != nil {
		return nil, err
	}

	signingURL := fmt.Sprintf("%s/orders/sign/%s", s.signingURLBase, token.Token)

	msg := buildSigningEmail(order, signingURL)
	msg.To = recipient
	if _, err := s.mailer.Send(ctx, msg); err != nil {
		return nil, err
	}

	s.logger.Info("signing email sent",
		slog.String("order_id", orderID.String()),
		slog.String("email", pkglogger.SanitizedEmail(recipient)),
		slog.String("signing_url", pkglogger.MaskToken(token.Token)))

	s.audit.LogSigningEvent(pkglogger.AuditEvent{
		EventType: pkglogger.EventTokenIssued,
		Actor:     actor.String(),
		OrderID:   orderID.String(),
		TokenID:   token.ID.String(),
		Success:   true,
	})

	return token, nil
}

// View resolves a signing link without consuming it. The customer may reload
// the page any number of times until the token is redeemed or expires. The
// first access records the device fingerprint.
func (s *SigningService) View(ctx context.Context, value string, meta RequestMeta) (*SigningView, error) {
	token, order, err := s.resolveForRedemption(ctx, value, meta)
	if err != nil {
		return nil, err
	}

	if token.DeviceInfo == nil {
		if err := s.tokens.RecordDeviceInfo(ctx, token.ID, newDeviceInfo(meta)); err != nil {
			// Fingerprint capture is best-effort; the view still succeeds
			s.logger.Warn("failed to record device info",
				slog.String("token_id", token.ID.String()),
				slog.Any("error", err))
		}
	}

	s.audit.LogSigningEvent(pkglogger.AuditEvent{
		EventType: pkglogger.EventSigningViewed,
		OrderID:   order.ID.String(),
		TokenID:   token.ID.String(),
		IPAddress: meta.IPAddress.String(),
		UserAgent: meta.UserAgent,
		Success:   true,
	})

	return &SigningView{
		Order:     order,
		Email:     token.Email,
		ExpiresAt: token.ExpiresAt,
	}, nil
}

// Accept redeems a signing token. This is the only operation that consumes a
// token; the mark-used and order updates commit in one transaction so no
// partial state can expose a signed order without a signature of record.
func (s *SigningService) Accept(ctx context.Context, value, signedBy string, consent bool, meta RequestMeta) (*SignResult, error) {
	token, order, err := s.resolveForRedemption(ctx, value, meta)
	if err != nil {
		return nil, err
	}

	signedBy = strings.TrimSpace(signedBy)
	if signedBy == "" {
		s.noteFailure(ctx, meta, models.ErrBadRequest)
		return nil, fmt.Errorf("%w: signer name is required", models.ErrBadRequest)
	}
	if !consent {
		s.noteFailure(ctx, meta, models.ErrConsentRequired)
		return nil, models.ErrConsentRequired
	}

	documentHash, err := order.DocumentHash()
	if err != nil {
		return nil, fmt.Errorf("failed to compute document hash: %w", err)
	}

	record := newSignatureRecord(meta, signedBy, documentHash)
	metadata := newSignatureMetadata(meta, record, models.SigningMethodRemoteToken, token.ID)

	err = s.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if err := s.tokens.MarkUsed(ctx, tx, token.ID, record); err != nil {
			return err
		}
		return s.orders.MarkSigned(ctx, tx, order.ID, signedBy, metadata, nil)
	})
	if err != nil {
		if errors.Is(err, models.ErrTokenUsed) || errors.Is(err, models.ErrOrderAlreadySigned) {
			s.noteFailure(ctx, meta, err)
			return nil, err
		}
		return nil, fmt.Errorf("failed to record signature: %w", err)
	}

	now := time.Now()
	order.Status = models.OrderStatusSigned
	order.SignedAt = &now
	order.SignedBy = signedBy
	order.SignatureMetadata = metadata

	s.audit.LogSigningEvent(pkglogger.AuditEvent{
		EventType: pkglogger.EventOrderSigned,
		OrderID:   order.ID.String(),
		TokenID:   token.ID.String(),
		IPAddress: meta.IPAddress.String(),
		UserAgent: meta.UserAgent,
		Success:   true,
		Metadata: map[string]string{
			"signed_by":      signedBy,
			"signing_method": models.SigningMethodRemoteToken,
		},
	})

	s.deliverSignedInvoice(ctx, order)

	return &SignResult{Order: order, Signature: record}, nil
}

// SignInPerson marks an order signed by operator action, without a token.
// Authenticated path: failures here never feed fishing detection.
func (s *SigningService) SignInPerson(ctx context.Context, orderID uuid.UUID, signedBy string, actor uuid.UUID, meta RequestMeta) (*SignResult, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.IsTerminal() {
		return nil, models.ErrOrderAlreadySigned
	}

	signedBy = strings.TrimSpace(signedBy)
	if signedBy == "" {
		return nil, fmt.Errorf("%w: signer name is required", models.ErrBadRequest)
	}

	documentHash, err := order.DocumentHash()
	if err != nil {
		return nil, fmt.Errorf("failed to compute document hash: %w", err)
	}

	record := newSignatureRecord(meta, signedBy, documentHash)
	metadata := newSignatureMetadata(meta, record, models.SigningMethodInPerson, uuid.Nil)

	err = s.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		return s.orders.MarkSigned(ctx, tx, orderID, signedBy, metadata, &actor)
	})
	if err != nil {
		if errors.Is(err, models.ErrOrderAlreadySigned) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to record signature: %w", err)
	}

	now := time.Now()
	order.Status = models.OrderStatusSigned
	order.SignedAt = &now
	order.SignedBy = signedBy
	order.SignatureMetadata = metadata

	s.audit.LogSigningEvent(pkglogger.AuditEvent{
		EventType: pkglogger.EventOrderSigned,
		Actor:     actor.String(),
		OrderID:   orderID.String(),
		Success:   true,
		Metadata: map[string]string{
			"signed_by":      signedBy,
			"signing_method": models.SigningMethodInPerson,
		},
	})

	return &SignResult{Order: order, Signature: record}, nil
}

// Repair completes order updates for used tokens whose order never reached
// the signed state. Such rows cannot be produced by the transactional accept
// path; finding one means data arrived from elsewhere and is logged as a
// critical inconsistency before being repaired.
func (s *SigningService) Repair(ctx context.Context) (int, error) {
	candidates, err := s.tokens.RepairCandidates(ctx)
	if err != nil {
		return 0, err
	}

	repaired := 0
	for _, token := range candidates {
		s.logger.Error("critical inconsistency: used token without signed order",
			slog.String("token_id", token.ID.String()),
			slog.String("order_id", token.OrderID.String()))

		if token.Signature == nil {
			// Nothing to repair from; flag for manual review
			s.logger.Error("used token carries no signature record, manual review required",
				slog.String("token_id", token.ID.String()))
			continue
		}

		metadata := &models.SignatureMetadata{
			IPAddress:           token.Signature.IPAddress,
			UserAgent:           token.Signature.UserAgent,
			Platform:            unknownValue,
			Language:            unknownValue,
			Timezone:            unknownValue,
			ScreenResolution:    unknownValue,
			ConsentAcknowledged: token.Signature.ConsentAcknowledged,
			DocumentHash:        token.Signature.DocumentHash,
			SigningMethod:       models.SigningMethodRemoteToken,
			TokenID:             token.ID,
		}

		err := s.db.WithTransaction(ctx, func(tx pgx.Tx) error {
			return s.orders.MarkSigned(ctx, tx, token.OrderID, token.Signature.SignedBy, metadata, nil)
		})
		if err != nil {
			if errors.Is(err, models.ErrOrderAlreadySigned) {
				continue // Repaired concurrently
			}
			s.logger.Error("failed to repair order",
				slog.String("order_id", token.OrderID.String()),
				slog.Any("error", err))
			continue
		}
		repaired++
	}

	return repaired, nil
}

// resolveForRedemption runs the shared public-path resolution: token format,
// lookup, validity, order lookup. Every failure is counted by the fishing
// defense with an identical log shape regardless of cause.
func (s *SigningService) resolveForRedemption(ctx context.Context, value string, meta RequestMeta) (*models.SigningToken, *models.Order, error) {
	if err := ValidateFormat(value); err != nil {
		s.noteFailure(ctx, meta, err)
		return nil, nil, err
	}

	token, err := s.tokens.Resolve(ctx, value)
	if err != nil {
		if errors.Is(err, models.ErrTokenNotFound) {
			s.noteFailure(ctx, meta, err)
		}
		return nil, nil, err
	}

	if verr := token.ValidationError(); verr != nil {
		s.noteFailure(ctx, meta, verr)
		return nil, nil, verr
	}

	order, err := s.orders.GetByID(ctx, token.OrderID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.noteFailure(ctx, meta, err)
		}
		return nil, nil, err
	}

	if order.IsTerminal() {
		s.noteFailure(ctx, meta, models.ErrOrderAlreadySigned)
		return nil, nil, models.ErrOrderAlreadySigned
	}

	return token, order, nil
}

// countsTowardBlock reports whether a failure is a token enumeration signal.
// Only non-existence and malformed values feed the permanent-block
// threshold: a structurally valid token that is expired, used, or attached
// to an already-signed order was once genuinely issued, so a legitimate
// customer double-clicking or following an old link is not penalized with a
// permanent block. All counted failures still feed the 429 limiter.
func countsTowardBlock(err error) bool {
	return errors.Is(err, models.ErrTokenNotFound) || errors.Is(err, models.ErrTokenMalformed)
}

// noteFailure feeds a public-path failure into both defense layers. The log
// line is identical for every cause so the logs leak nothing an attacker
// could use to distinguish near-misses.
func (s *SigningService) noteFailure(ctx context.Context, meta RequestMeta, cause error) {
	if !meta.IPAddress.IsValid() {
		return
	}

	now := time.Now()
	s.limiter.RecordFailure(meta.IPAddress, now)

	attemptCount := 0
	if countsTowardBlock(cause) {
		attempt := s.tracker.RecordFailure(meta.IPAddress, now)
		attemptCount = attempt.Count
		if attempt.ThresholdCrossed {
			_ = s.blocklist.Block(ctx, meta.IPAddress, attempt.Count, attempt.LastAttempt)

			s.audit.LogSecurityEvent(pkglogger.AuditEvent{
				EventType: pkglogger.EventIPBlocked,
				IPAddress: meta.IPAddress.String(),
				Success:   true,
				Metadata: map[string]string{
					"blocked_by":    models.BlockedByAutomatic,
					"attempt_count": fmt.Sprintf("%d", attempt.Count),
				},
			})
		}
	}

	s.logger.Warn("failed signing token lookup",
		slog.String("ip_address", meta.IPAddress.String()),
		slog.Int("attempt_count", attemptCount))

	s.audit.LogSecurityEvent(pkglogger.AuditEvent{
		EventType:     pkglogger.EventSigningFailed,
		IPAddress:     meta.IPAddress.String(),
		UserAgent:     meta.UserAgent,
		Success:       false,
		FailureReason: cause.Error(),
	})
}

// deliverSignedInvoice renders and emails the signed PDF copy. Failures are
// logged only; the signature itself already committed.
func (s *SigningService) deliverSignedInvoice(ctx context.Context, order *models.Order) {
	if s.renderer == nil || order.CustomerInfo.Email == "" {
		return
	}

	pdf, err := s.renderer.Render(ctx, order, DefaultInvoiceTemplate)
	if err != nil {
		s.logger.Error("failed to render signed invoice",
			slog.String("order_id", order.ID.String()),
			slog.Any("error", err))
		return
	}

	if _, err := s.mailer.Send(ctx, buildSignedInvoiceEmail(order, pdf)); err != nil {
		s.logger.Error("failed to email signed invoice",
			slog.String("order_id", order.ID.String()),
			slog.Any("error", err))
	}
}
