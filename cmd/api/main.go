package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/colemarsh/signet/internal/auth"
	"github.com/colemarsh/signet/internal/background"
	"github.com/colemarsh/signet/internal/config"
	"github.com/colemarsh/signet/internal/database"
	"github.com/colemarsh/signet/internal/handlers"
	middlewareCustom "github.com/colemarsh/signet/internal/middleware"
	"github.com/colemarsh/signet/internal/repositories"
	"github.com/colemarsh/signet/internal/routes"
	"github.com/colemarsh/signet/internal/security"
	"github.com/colemarsh/signet/internal/services"
	pkghttp "github.com/colemarsh/signet/pkg/http"
	pkglogger "github.com/colemarsh/signet/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(logger); err != nil {
		logger.Error("failed to run migrations", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize repositories
	orderRepo := repositories.NewOrderRepository(db)
	tokenRepo := repositories.NewSigningTokenRepository(db)
	blockedIPRepo := repositories.NewBlockedIPRepository(db)

	// Fishing defense. The blocklist mirror must load before the server
	// accepts traffic; a gate that silently forgot its blocked IPs would
	// let a known attacker resume probing.
	blocklist := security.NewBlocklist(blockedIPRepo, logger)
	loadCtx, loadCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := blocklist.Load(loadCtx); err != nil {
		loadCancel()
		logger.Error("failed to load blocked IPs", slog.Any("error", err))
		os.Exit(1)
	}
	loadCancel()

	tracker := security.NewAttemptTracker(cfg.Signing.FishingMaxFailures, cfg.Signing.FishingWindow)
	failureLimiter := security.NewFailureLimiter(cfg.Signing.FailureRateLimit, cfg.Signing.FailureRateWindow)

	// Token manager for operator auth
	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry)

	auditLogger := pkglogger.NewAuditLogger(logger)

	// AWS SES mail relay
	mailRelay, err := services.NewAWSSESMailRelay(cfg.Email.AWSRegion, cfg.Email.FromAddress, logger)
	if err != nil {
		logger.Error("failed to initialize mail relay", slog.Any("error", err))
		os.Exit(1)
	}

	// PDF renderer for the signed invoice copy. Without a configured
	// endpoint the signing flow still completes; only the emailed signed
	// copy is skipped.
	var pdfRenderer services.PDFRenderer
	if cfg.PDF.RendererURL != "" {
		pdfRenderer = services.NewHTTPInvoiceRenderer(cfg.PDF.RendererURL, cfg.PDF.Timeout, logger)
	} else {
		logger.Warn("PDF_RENDERER_URL not set, signed invoice copies will not be emailed")
	}

	// Initialize services
	tokenService := services.NewTokenService(tokenRepo, logger)
	signingService := services.NewSigningService(
		orderRepo,
		tokenService,
		db,
		blocklist,
		tracker,
		failureLimiter,
		mailRelay,
		pdfRenderer,
		auditLogger,
		logger,
		cfg.Email.SigningURLBase,
		cfg.Signing.TokenTTLDays,
	)

	// Initialize handlers
	signingHandler := handlers.NewSigningHandler(signingService)
	orderHandler := handlers.NewOrderHandler(signingService)
	blockedIPHandler := handlers.NewBlockedIPHandler(blocklist, auditLogger)

	// Background sweeper: expired tokens, idle attempt records, repair pass
	cleanupManager := background.NewCleanupManager(
		tokenService,
		signingService,
		tracker,
		failureLimiter,
		blocklist,
		logger,
		cfg.Signing.SweepInterval,
		cfg.Signing.AttemptIdleEviction,
	)

	// Setup CORS middleware
	corsConfig := middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(corsConfig))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))
	router.Use(middlewareCustom.ClientIP(&pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}))

	// Register routes
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

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up"}`))
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start cleanup task
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}
