package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/colemarsh/signet/internal/models"
	"github.com/colemarsh/signet/internal/security"
	"github.com/colemarsh/signet/internal/services"
	pkglogger "github.com/colemarsh/signet/pkg/logger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// In-memory test doubles shared by the handler tests. Kept in a non-test
// file so every _test.go in the package can use them.

type fakeOrderRepo struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*models.Order
}

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{orders: make(map[uuid.UUID]*models.Order)}
}

func (f *fakeOrderRepo) put(order *models.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[order.ID] = order
}

func (f *fakeOrderRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[id]
	if !ok || order.IsDeleted {
		return nil, models.ErrNotFound
	}
	copied := *order
	return &copied, nil
}

func (f *fakeOrderRepo) SetPending(ctx context.Context, id uuid.UUID, actor uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[id]
	if !ok {
		return models.ErrNotFound
	}
	if order.Status == models.OrderStatusDraft {
		order.Status = models.OrderStatusPending
	}
	return nil
}

func (f *fakeOrderRepo) MarkSigned(ctx context.Context, tx pgx.Tx, id uuid.UUID, signedBy string, meta *models.SignatureMetadata, actor *uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[id]
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

type fakeTokenRepo struct {
	mu          sync.Mutex
	byValue     map[string]*models.SigningToken
	byID        map[uuid.UUID]*models.SigningToken
	lookupCount int
}

func newFakeTokenRepo() *fakeTokenRepo {
	return &fakeTokenRepo{
		byValue: make(map[string]*models.SigningToken),
		byID:    make(map[uuid.UUID]*models.SigningToken),
	}
}

func (f *fakeTokenRepo) Create(ctx context.Context, token, email string, orderID uuid.UUID, expiresAt time.Time) (*models.SigningToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := &models.SigningToken{
		ID:        uuid.New(),
		Token:     token,
		OrderID:   orderID,
		Email:     email,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}
	f.byValue[token] = st
	f.byID[st.ID] = st
	return st, nil
}

func (f *fakeTokenRepo) lookups() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookupCount
}

func (f *fakeTokenRepo) GetByValue(ctx context.Context, token string) (*models.SigningToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookupCount++
	st, ok := f.byValue[token]
	if !ok {
		return nil, models.ErrNotFound
	}
	return st, nil
}

func (f *fakeTokenRepo) GetActiveForOrder(ctx context.Context, orderID uuid.UUID, email string) (*models.SigningToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, st := range f.byValue {
		if st.OrderID == orderID && st.Email == email && st.IsValid() {
			return st, nil
		}
	}
	return nil, models.ErrNotFound
}

func (f *fakeTokenRepo) RecordDeviceInfo(ctx context.Context, id uuid.UUID, info *models.DeviceInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.byID[id]
	if !ok {
		return models.ErrNotFound
	}
	if st.DeviceInfo == nil {
		st.DeviceInfo = info
	}
	return nil
}

func (f *fakeTokenRepo) MarkUsed(ctx context.Context, tx pgx.Tx, id uuid.UUID, record *models.SignatureRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.byID[id]
	if !ok {
		return models.ErrNotFound
	}
	if st.IsUsed {
		return models.ErrTokenUsed
	}
	now := time.Now()
	st.IsUsed = true
	st.UsedAt = &now
	st.Signature = record
	return nil
}

func (f *fakeTokenRepo) GetUsedWithoutSignedOrder(ctx context.Context) ([]*models.SigningToken, error) {
	return nil, nil
}

func (f *fakeTokenRepo) CleanupExpired(ctx context.Context) (int64, error) {
	return 0, nil
}

type fakeTxRunner struct{}

func (fakeTxRunner) WithTransaction(ctx context.Context, fn func(pgx.Tx) error) error {
	return fn(nil)
}

type fakeMailRelay struct {
	mu   sync.Mutex
	sent []services.MailMessage
}

func (f *fakeMailRelay) Send(ctx context.Context, msg services.MailMessage) (*services.MailResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return &services.MailResult{MessageID: fmt.Sprintf("msg-%d", len(f.sent)), Timestamp: time.Now()}, nil
}

type fakeBlockedStore struct {
	mu      sync.Mutex
	entries map[string]*models.BlockedIP
}

func newFakeBlockedStore() *fakeBlockedStore {
	return &fakeBlockedStore{entries: make(map[string]*models.BlockedIP)}
}

func (f *fakeBlockedStore) Upsert(ctx context.Context, blocked *models.BlockedIP) (*models.BlockedIP, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry := *blocked
	if entry.BlockedAt.IsZero() {
		entry.BlockedAt = time.Now()
	}
	f.entries[blocked.IPAddress] = &entry
	return &entry, nil
}

func (f *fakeBlockedStore) Delete(ctx context.Context, ipAddress string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.entries[ipAddress]; !ok {
		return models.ErrNotFound
	}
	delete(f.entries, ipAddress)
	return nil
}

func (f *fakeBlockedStore) List(ctx context.Context) ([]*models.BlockedIP, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.BlockedIP, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeBlockedStore) ListAddresses(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.entries))
	for ip := range f.entries {
		out = append(out, ip)
	}
	return out, nil
}

type handlerFixture struct {
	service   *services.SigningService
	orders    *fakeOrderRepo
	tokens    *fakeTokenRepo
	mailer    *fakeMailRelay
	blocklist *security.Blocklist
	limiter   *security.FailureLimiter
	audit     *pkglogger.AuditLogger
}

func newHandlerFixture() *handlerFixture {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	orders := newFakeOrderRepo()
	tokens := newFakeTokenRepo()
	mailer := &fakeMailRelay{}
	blocklist := security.NewBlocklist(newFakeBlockedStore(), logger)
	limiter := security.NewFailureLimiter(5, 15*time.Minute)
	audit := pkglogger.NewAuditLogger(logger)

	service := services.NewSigningService(
		orders,
		services.NewTokenService(tokens, logger),
		fakeTxRunner{},
		blocklist,
		security.NewAttemptTracker(5, 15*time.Minute),
		limiter,
		mailer,
		nil,
		audit,
		logger,
		"https://app.example.com",
		30,
	)

	return &handlerFixture{
		service:   service,
		orders:    orders,
		tokens:    tokens,
		mailer:    mailer,
		blocklist: blocklist,
		limiter:   limiter,
		audit:     audit,
	}
}

func testOrder() *models.Order {
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
