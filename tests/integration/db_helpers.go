package integration

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/colemarsh/signet/internal/database"
	"github.com/colemarsh/signet/internal/models"
	"github.com/colemarsh/signet/internal/repositories"
	"github.com/google/uuid"
)

// TestDB manages the PostgreSQL testcontainer and database operations
type TestDB struct {
	Container  testcontainers.Container
	ConnString string
	Pool       *pgxpool.Pool
	DB         *database.DB
}

// SetupTestDatabase creates a PostgreSQL testcontainer, runs migrations and
// returns a TestDB
func SetupTestDatabase(ctx context.Context) (*TestDB, error) {
	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("signet"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	dbWrapper := &database.DB{Pool: pool}

	// Migrations are embedded in the database package
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	if err := dbWrapper.Migrate(logger); err != nil {
		pool.Close()
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &TestDB{
		Container:  container,
		ConnString: connStr,
		Pool:       pool,
		DB:         dbWrapper,
	}, nil
}

// Teardown stops the container and closes the connection pool
func (db *TestDB) Teardown(ctx context.Context) error {
	if db.Pool != nil {
		db.Pool.Close()
	}
	if db.Container != nil {
		return db.Container.Terminate(ctx)
	}
	return nil
}

// CleanupTables truncates all tables for test isolation
func (db *TestDB) CleanupTables(ctx context.Context) error {
	tables := []string{
		"signing_tokens",
		"blocked_ips",
		"orders",
	}

	for _, table := range tables {
		if _, err := db.Pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)); err != nil {
			return fmt.Errorf("failed to truncate table %s: %w", table, err)
		}
	}

	return nil
}

// InitializeRepositories creates all repository instances from the database wrapper
func InitializeRepositories(db *database.DB) (
	*repositories.OrderRepository,
	*repositories.SigningTokenRepository,
	*repositories.BlockedIPRepository,
) {
	return repositories.NewOrderRepository(db),
		repositories.NewSigningTokenRepository(db),
		repositories.NewBlockedIPRepository(db)
}

// SeedOrder inserts a draft order ready for the signing workflow
func SeedOrder(ctx context.Context, db *database.DB, customerEmail string) (*models.Order, error) {
	order := &models.Order{
		InvoiceNumber: fmt.Sprintf("INV-%d", time.Now().UnixNano()),
		CustomerInfo: models.CustomerInfo{
			Name:  "Test Customer",
			Email: customerEmail,
		},
		Items: []models.OrderItem{
			{Name: "Gravel delivery", Quantity: 2, Unit: "yard", UnitPrice: 60, TotalPrice: 120},
		},
		Subtotal:  120,
		TaxRate:   0.0825,
		TaxAmount: 9.9,
		Total:     129.9,
		Status:    models.OrderStatusDraft,
		CreatedBy: uuid.New(),
	}

	repo := repositories.NewOrderRepository(db)
	created, err := repo.Create(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("failed to seed order: %w", err)
	}
	return created, nil
}
