package services

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/colemarsh/signet/internal/models"
	"github.com/colemarsh/signet/internal/security"
	pkglogger "github.com/colemarsh/signet/pkg/logger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockOrderRepo implements OrderRepository in memory
type mockOrderRepo struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*models.Order
}

func newMockOrderRepo() *mockOrderRepo {
	return &mockOrderRepo{orders: make(map[uuid.UUID]*models.Order)}
}

func (m *mockOrderRepo) put(order *models.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[order.ID] = order
}

func (m *mockOrderRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok || order.IsDeleted {
		return nil, models.ErrNotFound
	}
	copied := *order
	return &copied, nil
}

func (m *mockOrderRepo) SetPending(ctx context.Context, id uuid.UUID, actor uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return models.ErrNotFound
	}
	if order.Status == models.OrderStatusDraft {
		order.Status = models.OrderStatusPending
	}
	return nil
}

func (m *mockOrderRepo) MarkSigned(ctx context.Context, tx pgx.Tx, id uuid.UUID, signedBy string, meta *models.SignatureMetadata, actor *uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return models.ErrNotFound
	}
	if order.IsTerminal() {
		return models.ErrOrderAlreadySigned
	}
	now := time.Now()
	order.Status = models.OrderStatusSigned
	order.SignedAt = &now
	order.SignedBy = signedBy
	order.SignatureMetadata = meta
	return nil
}

// mockTxRunner runs transaction functions directly, without a database
type mockTxRunner struct {
	err error
}

func (m *mockTxRunner) WithTransaction(ctx context.Context, fn func(pgx.Tx) error) error {
	if m.err != nil {
		return m.err
	}
	return fn(nil)
}

// mockMailRelay records outgoing messages
type mockMailRelay struct {
	mu      sync.Mutex
	sent    []MailMessage
	sendErr error
}

func (m *mockMailRelay) Send(ctx context.Context, msg MailMessage) (*MailResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	m.sent = append(m.sent, msg)
	return &MailResult{MessageID: fmt.Sprintf("msg-%d", len(m.sent)), Timestamp: time.Now()}, nil
}

func (m *mockMailRelay) messages() []MailMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MailMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// mockRenderer returns a fixed payload
type mockRenderer struct {
	err error
}

func (m *mockRenderer) Render(ctx context.Context, order *models.Order, templateName string) ([]byte, error) {
	if m.err != nil {
		return nil, m.err
	}
	return []byte("%PDF-1.4 test"), nil
}

// memBlockedStore backs the blocklist in memory
type memBlockedStore struct {
	mu      sync.Mutex
	entries map[string]*models.BlockedIP
}

func newMemBlockedStore() *memBlockedStore {
	return &memBlockedStore{entries: make(map[string]*models.BlockedIP)}
}

func (m *memBlockedStore) Upsert(ctx context.Context, blocked *models.BlockedIP) (*models.BlockedIP, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := *blocked
	m.entries[blocked.IPAddress] = &entry
	return &entry, nil
}

func (m *memBlockedStore) Delete(ctx context.Context, ipAddress string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[ipAddress]; !ok {
		return models.ErrNotFound
	}
	delete(m.entries, ipAddress)
	return nil
}

func (m *memBlockedStore) List(ctx context.Context) ([]*models.BlockedIP, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.BlockedIP, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	return out, nil
}

func (m *memBlockedStore) ListAddresses(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.entries))
	for ip := range m.entries {
		out = append(out, ip)
	}
	return out, nil
}

type signingFixture struct {
	svc       *SigningService
	orders    *mockOrderRepo
	tokens    *mockTokenRepo
	mailer    *mockMailRelay
	blocklist *security.Blocklist
	tracker   *security.AttemptTracker
	limiter   *security.FailureLimiter
}

func newSigningFixture(t *testing.T, renderer PDFRenderer) *signingFixture {
	t.Helper()

	logger := testLogger()
	orders := newMockOrderRepo()
	tokens := newMockTokenRepo()
	mailer := &mockMailRelay{}
	blocklist := security.NewBlocklist(newMemBlockedStore(), logger)
	tracker := security.NewAttemptTracker(5, 15*time.Minute)
	limiter := security.NewFailureLimiter(5, 15*time.Minute)

	svc := NewSigningService(
		orders,
		NewTokenService(tokens, logger),
		&mockTxRunner{},
		blocklist,
		tracker,
		limiter,
		mailer,
		renderer,
		pkglogger.NewAuditLogger(logger),
		logger,
		"https://app.example.com",
		30,
	)

	return &signingFixture{
		svc:       svc,
		orders:    orders,
		tokens:    tokens,
		mailer:    mailer,
		blocklist: blocklist,
		tracker:   tracker,
		limiter:   limiter,
	}
}

func draftOrder() *models.Order {
	return &models.Order{
		ID:            uuid.New(),
		InvoiceNumber: "INV-2026-0042",
		CustomerInfo: models.CustomerInfo{
			Name:  "Jordan Reyes",
			Email: "jordan@example.com",
		},
		Items: []models.OrderItem{
			{Name: "Mulch delivery", Quantity: 3, Unit: "yard", UnitPrice: 45, TotalPrice: 135},
		},
		Subtotal:  135,
		TaxAmount: 11.14,
		Total:     146.14,
		Status:    models.OrderStatusDraft,
		CreatedAt: time.Now(),
	}
}

func requestMeta() RequestMeta {
	return RequestMeta{
		IPAddress: netip.MustParseAddr("203.0.113.9"),
		UserAgent: "Mozilla/5.0",
		Platform:  "MacIntel",
	}
}

func TestSigningService_SendSigningEmail(t *testing.T) {
	ctx := context.Background()
	actor := uuid.New()

	t.Run("issues a token, emails the link and moves the order to pending", func(t *testing.T) {
		f := newSigningFixture(t, nil)
		order := draftOrder()
		f.orders.put(order)

		token, err := f.svc.SendSigningEmail(ctx, order.ID, "", 0, actor)
		require.NoError(t, err)

		assert.Equal(t, "jordan@example.com", token.Email)

		msgs := f.mailer.messages()
		require.Len(t, msgs, 1)
		assert.Equal(t, "jordan@example.com", msgs[0].To)
		assert.Contains(t, msgs[0].TextBody, "https://app.example.com/orders/sign/"+token.Token)

		updated, err := f.orders.GetByID(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, models.OrderStatusPending, updated.Status)
	})

	t.Run("an explicit recipient overrides the customer email", func(t *testing.T) {
		f := newSigningFixture(t, nil)
		order := draftOrder()
		f.orders.put(order)

		token, err := f.svc.SendSigningEmail(ctx, order.ID, "Billing@Example.com", 0, actor)
		require.NoError(t, err)
		assert.Equal(t, "billing@example.com", token.Email)
	})

	t.Run("resending keeps the same signing URL valid", func(t *testing.T) {
		f := newSigningFixture(t, nil)
		order := draftOrder()
		f.orders.put(order)

		first, err := f.svc.SendSigningEmail(ctx, order.ID, "", 0, actor)
		require.NoError(t, err)
		second, err := f.svc.SendSigningEmail(ctx, order.ID, "", 0, actor)
		require.NoError(t, err)

		assert.Equal(t, first.Token, second.Token)
		assert.Len(t, f.mailer.messages(), 2)
	})

	t.Run("rejects signed orders", func(t *testing.T) {
		f := newSigningFixture(t, nil)
		order := draftOrder()
		order.Status = models.OrderStatusSigned
		f.orders.put(order)

		_, err := f.svc.SendSigningEmail(ctx, order.ID, "", 0, actor)
		assert.ErrorIs(t, err, models.ErrOrderAlreadySigned)
		assert.Empty(t, f.mailer.messages())
	})

	t.Run("rejects orders with no recipient anywhere", func(t *testing.T) {
		f := newSigningFixture(t, nil)
		order := draftOrder()
		order.CustomerInfo.Email = ""
		f.orders.put(order)

		_, err := f.svc.SendSigningEmail(ctx, order.ID, "", 0, actor)
		assert.ErrorIs(t, err, models.ErrBadRequest)
	})

	t.Run("mail relay failure surfaces to the caller", func(t *testing.T) {
		f := newSigningFixture(t, nil)
		f.mailer.sendErr = fmt.Errorf("%w: throttled", ErrMailDelivery)
		order := draftOrder()
		f.orders.put(order)

		_, err := f.svc.SendSigningEmail(ctx, order.ID, "", 0, actor)
		assert.ErrorIs(t, err, ErrMailDelivery)
	})
}

func TestSigningService_View(t *testing.T) {
	ctx := context.Background()
	actor := uuid.New()

	issue := func(t *testing.T, f *signingFixture, order *models.Order) *models.SigningToken {
		t.Helper()
		token, err := f.svc.SendSigningEmail(ctx, order.ID, "", 0, actor)
		require.NoError(t, err)
		return token
	}

	t.Run("returns the order snapshot for a valid token", func(t *testing.T) {
		f := newSigningFixture(t, nil)
		order := draftOrder()
		f.orders.put(order)
		token := issue(t, f, order)

		view, err := f.svc.View(ctx, token.Token, requestMeta())
		require.NoError(t, err)
		assert.Equal(t, order.ID, view.Order.ID)
		assert.Equal(t, "jordan@example.com", view.Email)
	})

	t.Run("is repeatable until the token is redeemed", func(t *testing.T) {
		f := newSigningFixture(t, nil)
		order := draftOrder()
		f.orders.put(order)
		token := issue(t, f, order)

		for i := 0; i < 3; i++ {
			_, err := f.svc.View(ctx, token.Token, requestMeta())
			require.NoError(t, err)
		}
	})

	t.Run("first access records the device fingerprint once", func(t *testing.T) {
		f := newSigningFixture(t, nil)
		order := draftOrder()
		f.orders.put(order)
		token := issue(t, f, order)

		meta := requestMeta()
		_, err := f.svc.View(ctx, token.Token, meta)
		require.NoError(t, err)

		stored := f.tokens.byID[token.ID]
		require.NotNil(t, stored.DeviceInfo)
		assert.Equal(t, "203.0.113.9", stored.DeviceInfo.IPAddress)
		first := stored.DeviceInfo

		later := meta
		later.IPAddress = netip.MustParseAddr("198.51.100.7")
		_, err = f.svc.View(ctx, token.Token, later)
		require.NoError(t, err)
		assert.Same(t, first, f.tokens.byID[token.ID].DeviceInfo)
	})

	t.Run("rejects malformed values without a lookup", func(t *testing.T) {
		f := newSigningFixture(t, nil)

		_, err := f.svc.View(ctx, "not-a-token", requestMeta())
		assert.ErrorIs(t, err, models.ErrTokenMalformed)
	})

	t.Run("rejects unknown tokens", func(t *testing.T) {
		f := newSigningFixture(t, nil)

		_, err := f.svc.View(ctx, strings.Repeat("ef", 32), requestMeta())
		assert.ErrorIs(t, err, models.ErrTokenNotFound)
	})

	t.Run("rejects expired tokens", func(t *testing.T) {
		f := newSigningFixture(t, nil)
		order := draftOrder()
		f.orders.put(order)
		token := issue(t, f, order)
		f.tokens.byID[token.ID].ExpiresAt = time.Now().Add(-time.Hour)

		_, err := f.svc.View(ctx, token.Token, requestMeta())
		assert.ErrorIs(t, err, models.ErrTokenExpired)
	})
}

func TestSigningService_Accept(t *testing.T) {
	ctx := context.Background()
	actor := uuid.New()

	setup := func(t *testing.T, renderer PDFRenderer) (*signingFixture, *models.Order, *models.SigningToken) {
		t.Helper()
		f := newSigningFixture(t, renderer)
		order := draftOrder()
		f.orders.put(order)
		token, err := f.svc.SendSigningEmail(ctx, order.ID, "", 0, actor)
		require.NoError(t, err)
		return f, order, token
	}

	t.Run("consumes the token and signs the order atomically", func(t *testing.T) {
		f, order, token := setup(t, nil)

		result, err := f.svc.Accept(ctx, token.Token, "Jordan Reyes", true, requestMeta())
		require.NoError(t, err)

		assert.Equal(t, models.OrderStatusSigned, result.Order.Status)
		assert.Equal(t, "Jordan Reyes", result.Order.SignedBy)
		require.NotNil(t, result.Signature)
		assert.NotEmpty(t, result.Signature.DocumentHash)

		stored, err := f.orders.GetByID(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, models.OrderStatusSigned, stored.Status)
		require.NotNil(t, stored.SignatureMetadata)
		assert.Equal(t, models.SigningMethodRemoteToken, stored.SignatureMetadata.SigningMethod)
		assert.Equal(t, token.ID, stored.SignatureMetadata.TokenID)

		assert.True(t, f.tokens.byID[token.ID].IsUsed)
	})

	t.Run("document hash matches the order content at signing time", func(t *testing.T) {
		f, order, token := setup(t, nil)

		result, err := f.svc.Accept(ctx, token.Token, "Jordan Reyes", true, requestMeta())
		require.NoError(t, err)

		want, err := order.DocumentHash()
		require.NoError(t, err)
		assert.Equal(t, want, result.Signature.DocumentHash)
	})

	t.Run("requires explicit consent", func(t *testing.T) {
		f, _, token := setup(t, nil)

		_, err := f.svc.Accept(ctx, token.Token, "Jordan Reyes", false, requestMeta())
		assert.ErrorIs(t, err, models.ErrConsentRequired)
		assert.False(t, f.tokens.byID[token.ID].IsUsed)
	})

	t.Run("requires a signer name", func(t *testing.T) {
		f, _, token := setup(t, nil)

		_, err := f.svc.Accept(ctx, token.Token, "   ", true, requestMeta())
		assert.ErrorIs(t, err, models.ErrBadRequest)
	})

	t.Run("second redemption fails with a used token", func(t *testing.T) {
		f, _, token := setup(t, nil)

		_, err := f.svc.Accept(ctx, token.Token, "Jordan Reyes", true, requestMeta())
		require.NoError(t, err)

		_, err = f.svc.Accept(ctx, token.Token, "Jordan Reyes", true, requestMeta())
		assert.Error(t, err)
	})

	t.Run("emails the signed PDF when a renderer is configured", func(t *testing.T) {
		f, _, token := setup(t, &mockRenderer{})

		_, err := f.svc.Accept(ctx, token.Token, "Jordan Reyes", true, requestMeta())
		require.NoError(t, err)

		msgs := f.mailer.messages()
		require.Len(t, msgs, 2) // signing invitation + signed copy
		require.Len(t, msgs[1].Attachments, 1)
		assert.Equal(t, "application/pdf", msgs[1].Attachments[0].ContentType)
	})

	t.Run("renderer failure does not undo the signature", func(t *testing.T) {
		f, order, token := setup(t, &mockRenderer{err: errors.New("render failed")})

		_, err := f.svc.Accept(ctx, token.Token, "Jordan Reyes", true, requestMeta())
		require.NoError(t, err)

		stored, err := f.orders.GetByID(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, models.OrderStatusSigned, stored.Status)
	})

	t.Run("exactly one concurrent redemption wins", func(t *testing.T) {
		f, _, token := setup(t, nil)

		const attempts = 20
		var wg sync.WaitGroup
		results := make(chan error, attempts)
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.svc.Accept(ctx, token.Token, "Jordan Reyes", true, requestMeta())
				results <- err
			}()
		}
		wg.Wait()
		close(results)

		wins := 0
		for err := range results {
			if err == nil {
				wins++
			}
		}
		assert.Equal(t, 1, wins)
	})
}

func TestSigningService_FishingDefense(t *testing.T) {
	ctx := context.Background()
	actor := uuid.New()

	t.Run("five unknown-token failures block the IP permanently", func(t *testing.T) {
		f := newSigningFixture(t, nil)
		meta := requestMeta()

		for i := 0; i < 5; i++ {
			_, err := f.svc.View(ctx, strings.Repeat("0a", 32), meta)
			require.ErrorIs(t, err, models.ErrTokenNotFound)
		}

		assert.True(t, f.blocklist.Contains(ctx, meta.IPAddress))
	})

	t.Run("malformed values count the same as unknown tokens", func(t *testing.T) {
		f := newSigningFixture(t, nil)
		meta := requestMeta()

		for i := 0; i < 5; i++ {
			_, err := f.svc.View(ctx, "garbage", meta)
			require.ErrorIs(t, err, models.ErrTokenMalformed)
		}

		assert.True(t, f.blocklist.Contains(ctx, meta.IPAddress))
	})

	t.Run("four failures do not block", func(t *testing.T) {
		f := newSigningFixture(t, nil)
		meta := requestMeta()

		for i := 0; i < 4; i++ {
			_, _ = f.svc.View(ctx, strings.Repeat("0a", 32), meta)
		}

		assert.False(t, f.blocklist.Contains(ctx, meta.IPAddress))
	})

	t.Run("failures on once-valid tokens never trigger a permanent block", func(t *testing.T) {
		f := newSigningFixture(t, nil)
		order := draftOrder()
		f.orders.put(order)
		token, err := f.svc.SendSigningEmail(ctx, order.ID, "", 0, actor)
		require.NoError(t, err)
		f.tokens.byID[token.ID].ExpiresAt = time.Now().Add(-time.Hour)

		meta := requestMeta()
		for i := 0; i < 10; i++ {
			_, err := f.svc.View(ctx, token.Token, meta)
			require.ErrorIs(t, err, models.ErrTokenExpired)
		}

		assert.False(t, f.blocklist.Contains(ctx, meta.IPAddress))

		// They still count toward the temporary failure limiter
		exceeded, retryAfter := f.limiter.Exceeded(meta.IPAddress, time.Now())
		assert.True(t, exceeded)
		assert.Greater(t, retryAfter, time.Duration(0))
	})

	t.Run("failures from different IPs are tracked independently", func(t *testing.T) {
		f := newSigningFixture(t, nil)

		for i := 0; i < 4; i++ {
			meta := RequestMeta{IPAddress: netip.MustParseAddr(fmt.Sprintf("203.0.113.%d", i+1))}
			_, _ = f.svc.View(ctx, strings.Repeat("0a", 32), meta)
		}

		for i := 0; i < 4; i++ {
			addr := netip.MustParseAddr(fmt.Sprintf("203.0.113.%d", i+1))
			assert.False(t, f.blocklist.Contains(ctx, addr))
		}
	})
}

func TestSigningService_SignInPerson(t *testing.T) {
	ctx := context.Background()
	actor := uuid.New()

	t.Run("signs the order without a token", func(t *testing.T) {
		f := newSigningFixture(t, nil)
		order := draftOrder()
		f.orders.put(order)

		result, err := f.svc.SignInPerson(ctx, order.ID, "Jordan Reyes", actor, requestMeta())
		require.NoError(t, err)

		assert.Equal(t, models.OrderStatusSigned, result.Order.Status)
		require.NotNil(t, result.Order.SignatureMetadata)
		assert.Equal(t, models.SigningMethodInPerson, result.Order.SignatureMetadata.SigningMethod)
		assert.Equal(t, uuid.Nil, result.Order.SignatureMetadata.TokenID)
	})

	t.Run("rejects already signed orders", func(t *testing.T) {
		f := newSigningFixture(t, nil)
		order := draftOrder()
		order.Status = models.OrderStatusSigned
		f.orders.put(order)

		_, err := f.svc.SignInPerson(ctx, order.ID, "Jordan Reyes", actor, requestMeta())
		assert.ErrorIs(t, err, models.ErrOrderAlreadySigned)
	})
}

func TestSigningService_Repair(t *testing.T) {
	ctx := context.Background()

	t.Run("completes orders for used tokens that never got signed", func(t *testing.T) {
		f := newSigningFixture(t, nil)
		order := draftOrder()
		order.Status = models.OrderStatusPending
		f.orders.put(order)

		now := time.Now()
		token := &models.SigningToken{
			ID:      uuid.New(),
			Token:   strings.Repeat("ab", 32),
			OrderID: order.ID,
			IsUsed:  true,
			UsedAt:  &now,
			Signature: &models.SignatureRecord{
				SignedAt:            now,
				SignedBy:            "Jordan Reyes",
				IPAddress:           "203.0.113.9",
				UserAgent:           "Mozilla/5.0",
				ConsentAcknowledged: true,
				DocumentHash:        "abc123",
			},
		}
		f.tokens.put(token)
		f.tokens.unsynced = []*models.SigningToken{token}

		repaired, err := f.svc.Repair(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, repaired)

		stored, err := f.orders.GetByID(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, models.OrderStatusSigned, stored.Status)
		assert.Equal(t, "Jordan Reyes", stored.SignedBy)
	})

	t.Run("skips used tokens with no signature record", func(t *testing.T) {
		f := newSigningFixture(t, nil)
		order := draftOrder()
		order.Status = models.OrderStatusPending
		f.orders.put(order)

		token := &models.SigningToken{
			ID:      uuid.New(),
			Token:   strings.Repeat("cd", 32),
			OrderID: order.ID,
			IsUsed:  true,
		}
		f.tokens.put(token)
		f.tokens.unsynced = []*models.SigningToken{token}

		repaired, err := f.svc.Repair(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, repaired)

		stored, err := f.orders.GetByID(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, models.OrderStatusPending, stored.Status)
	})
}
