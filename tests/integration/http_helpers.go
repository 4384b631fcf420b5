package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/colemarsh/signet/internal/auth"
	"github.com/colemarsh/signet/internal/config"
	"github.com/colemarsh/signet/internal/database"
	"github.com/colemarsh/signet/internal/handlers"
	middlewareCustom "github.com/colemarsh/signet/internal/middleware"
	"github.com/colemarsh/signet/internal/routes"
	"github.com/colemarsh/signet/internal/security"
	"github.com/colemarsh/signet/internal/services"
	pkghttp "github.com/colemarsh/signet/pkg/http"
	pkglogger "github.com/colemarsh/signet/pkg/logger"
	"github.com/google/uuid"
)

// CapturingMailRelay records outgoing mail for test assertions
type CapturingMailRelay struct {
	mu   sync.Mutex
	Sent []services.MailMessage
}

func (m *CapturingMailRelay) Send(ctx context.Context, msg services.MailMessage) (*services.MailResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, msg)
	return &services.MailResult{
		MessageID: fmt.Sprintf("test-%d", len(m.Sent)),
		Timestamp: time.Now(),
	}, nil
}

// LastEmail returns the most recent captured message, or nil
func (m *CapturingMailRelay) LastEmail() *services.MailMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Sent) == 0 {
		return nil
	}
	msg := m.Sent[len(m.Sent)-1]
	return &msg
}

// TestServer wraps httptest.Server with the full application wiring against
// a real database and a captured mail relay
type TestServer struct {
	Server       *httptest.Server
	DB           *database.DB
	Mail         *CapturingMailRelay
	Config       *config.Config
	TokenManager *auth.TokenManager
	Blocklist    *security.Blocklist
	Signing      *services.SigningService
}

// NewTestServer initializes a complete HTTP server over the given database
func NewTestServer(db *database.DB) *TestServer {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg := &config.Config{
		Auth: config.AuthConfig{
			JWTSecret:         "test-secret-32-characters-long-for-testing",
			AccessTokenExpiry: 15 * time.Minute,
		},
		Email: config.EmailConfig{
			FromAddress:    "noreply@test.local",
			SigningURLBase: "http://localhost:3000",
		},
		Server: config.ServerConfig{
			Port: "0",
			Env:  "test",
		},
		Signing: config.SigningConfig{
			TokenTTLDays:        30,
			FishingMaxFailures:  5,
			FishingWindow:       15 * time.Minute,
			FailureRateLimit:    5,
			FailureRateWindow:   15 * time.Minute,
			PublicRateLimit:     100,
			PublicRateWindow:    15 * time.Minute,
			SweepInterval:       1 * time.Hour,
			AttemptIdleEviction: 1 * time.Hour,
		},
	}

	orderRepo, tokenRepo, blockedIPRepo := InitializeRepositories(db)

	blocklist := security.NewBlocklist(blockedIPRepo, logger)
	tracker := security.NewAttemptTracker(cfg.Signing.FishingMaxFailures, cfg.Signing.FishingWindow)
	failureLimiter := security.NewFailureLimiter(cfg.Signing.FailureRateLimit, cfg.Signing.FailureRateWindow)

	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry)
	auditLogger := pkglogger.NewAuditLogger(logger)
	mail := &CapturingMailRelay{}

	tokenService := services.NewTokenService(tokenRepo, logger)
	signingService := services.NewSigningService(
		orderRepo,
		tokenService,
		db,
		blocklist,
		tracker,
		failureLimiter,
		mail,
		nil,
		auditLogger,
		logger,
		cfg.Email.SigningURLBase,
		cfg.Signing.TokenTTLDays,
	)

	signingHandler := handlers.NewSigningHandler(signingService)
	orderHandler := handlers.NewOrderHandler(signingService)
	blockedIPHandler := handlers.NewBlockedIPHandler(blocklist, auditLogger)

	router := chi.NewRouter()
	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(chiMiddleware.Recoverer)
	router.Use(middlewareCustom.ClientIP(&pkghttp.IPConfig{}))

	routes.RegisterRoutes(
		router,
		signingHandler,
		orderHandler,
		blockedIPHandler,
		tokenManager,
		blocklist,
		failureLimiter,
		middlewareCustom.RateLimitConfig{
			Requests: cfg.Signing.PublicRateLimit,
			Window:   cfg.Signing.PublicRateWindow,
		},
	)

	return &TestServer{
		Server:       httptest.NewServer(router),
		DB:           db,
		Mail:         mail,
		Config:       cfg,
		TokenManager: tokenManager,
		Blocklist:    blocklist,
		Signing:      signingService,
	}
}

// Close shuts the test server down
func (ts *TestServer) Close() {
	ts.Server.Close()
}

// OperatorToken issues a JWT for the given role
func (ts *TestServer) OperatorToken(role string) (string, error) {
	return ts.TokenManager.GenerateToken(uuid.NewString(), "operator@test.local", role)
}

// DoJSON performs a JSON request against the test server and decodes the body
func (ts *TestServer) DoJSON(method, path, bearer string, body any) (*http.Response, []byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, nil, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, ts.Server.URL+path, reader)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := ts.Server.Client().Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return resp, raw, nil
}
