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

// OrderRepository handles order data access for the signing workflow
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository creates a new OrderRepository
func NewOrderRepository(db *database.DB) *OrderRepository {
	return &OrderRepository{pool: db.Pool}
}

const orderColumns = `id, invoice_number, customer_info, items, subtotal, tax_rate, tax_amount, total,
	status, notes, is_deleted, signed_at, signed_by, signature_metadata, created_by, updated_by,
	created_at, updated_at`

func scanOrderRow(row rowScanner) (*models.Order, error) {
	var order models.Order
	var customerInfo, items, signatureMetadata []byte
	var notes, signedBy *string
	var signedAt *time.Time
	var updatedBy *uuid.UUID

	err := row.Scan(
		&order.ID, &order.InvoiceNumber, &customerInfo, &items,
		&order.Subtotal, &order.TaxRate, &order.TaxAmount, &order.Total,
		&order.Status, &notes, &order.IsDeleted, &signedAt, &signedBy,
		&signatureMetadata, &order.CreatedBy, &updatedBy,
		&order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if err := json.Unmarshal(customerInfo, &order.CustomerInfo); err != nil {
		return nil, fmt.Errorf("failed to decode customer info: %w", err)
	}
	if err := json.Unmarshal(items, &order.Items); err != nil {
		return nil, fmt.Errorf("failed to decode order items: %w", err)
	}
	if len(signatureMetadata) > 0 {
		var meta models.SignatureMetadata
		if err := json.Unmarshal(signatureMetadata, &meta); err != nil {
			return nil, fmt.Errorf("failed to decode signature metadata: %w", err)
		}
		order.SignatureMetadata = &meta
	}

	if notes != nil {
		order.Notes = *notes
	}
	if signedBy != nil {
		order.SignedBy = *signedBy
	}
	order.SignedAt = signedAt
	order.UpdatedBy = updatedBy

	return &order, nil
}

// Create persists a new order. The signing service never creates orders; this
// exists for the order-entry side of the application and for tests.
func (r *OrderRepository) Create(ctx context.Context, order *models.Order) (*models.Order, error) {
	customerInfo, err := json.Marshal(order.CustomerInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to encode customer info: %w", err)
	}
	items, err := json.Marshal(order.Items)
	if err != nil {
		return nil, fmt.Errorf("failed to encode order items: %w", err)
	}

	query := `
		INSERT INTO orders (invoice_number, customer_info, items, subtotal, tax_rate, tax_amount, total, status, notes, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10)
		RETURNING ` + orderColumns

	created, err := scanOrderRow(r.pool.QueryRow(ctx, query,
		order.InvoiceNumber, customerInfo, items,
		order.Subtotal, order.TaxRate, order.TaxAmount, order.Total,
		order.Status, order.Notes, order.CreatedBy,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	return created, nil
}

// GetByID retrieves an order by ID. Soft-deleted orders behave as absent.
func (r *OrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE id = $1 AND is_deleted = FALSE
	`

	return scanOrderRow(r.pool.QueryRow(ctx, query, id))
}

// SetPending transitions a draft order to pending when a signing email goes
// out. Pending orders stay pending; the workflow never regresses the status.
func (r *OrderRepository) SetPending(ctx context.Context, id uuid.UUID, actor uuid.UUID) error {
	query := `
		UPDATE orders
		SET status = $2, updated_by = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4
	`

	_, err := r.pool.Exec(ctx, query, id, models.OrderStatusPending, actor, models.OrderStatusDraft)
	if err != nil {
		return fmt.Errorf("failed to set order pending: %w", err)
	}

	return nil
}

// MarkSigned flips the order to signed and attaches the signature metadata
// within the given transaction. The status guard rejects double-signing.
func (r *OrderRepository) MarkSigned(ctx context.Context, tx pgx.Tx, id uuid.UUID, signedBy string, meta *models.SignatureMetadata, actor *uuid.UUID) error {
	payload, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode signature metadata: %w", err)
	}

	query := `
		UPDATE orders
		SET status = $2, signed_at = NOW(), signed_by = $3, signature_metadata = $4,
		    updated_by = $5, updated_at = NOW()
		WHERE id = $1 AND status NOT IN ($6, $7) AND is_deleted = FALSE
	`

	result, err := tx.Exec(ctx, query, id,
		models.OrderStatusSigned, signedBy, payload, actor,
		models.OrderStatusSigned, models.OrderStatusCompleted,
	)
	if err != nil {
		return fmt.Errorf("failed to mark order as signed: %w", err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrOrderAlreadySigned
	}

	return nil
}
