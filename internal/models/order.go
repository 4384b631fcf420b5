package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Order statuses
const (
	OrderStatusDraft     = "draft"
	OrderStatusPending   = "pending"
	OrderStatusSigned    = "signed"
	OrderStatusCompleted = "completed"
)

// Signing methods recorded in signature metadata
const (
	SigningMethodRemoteToken = "remote_token"
	SigningMethodInPerson    = "in_person"
)

// CustomerInfo is the billing recipient on an order.
type CustomerInfo struct {
	Name    string  `json:"name"`
	Email   string  `json:"email,omitempty"`
	Phone   string  `json:"phone,omitempty"`
	Address Address `json:"address"`
}

type Address struct {
	Street  string `json:"street,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	ZipCode string `json:"zip_code,omitempty"`
	Country string `json:"country,omitempty"`
}

// OrderItem is a single invoice line.
type OrderItem struct {
	InventoryID uuid.UUID `json:"inventory_id"`
	Name        string    `json:"name"`
	Quantity    float64   `json:"quantity"`
	Unit        string    `json:"unit"`
	UnitPrice   float64   `json:"unit_price"`
	TotalPrice  float64   `json:"total_price"`
}

// Order carries the signing-relevant view of an invoice. Tax and quantity
// arithmetic happen upstream of this service; the stored totals are taken
// as-is.
type Order struct {
	ID                uuid.UUID          `json:"id"`
	InvoiceNumber     string             `json:"invoice_number"`
	CustomerInfo      CustomerInfo       `json:"customer_info"`
	Items             []OrderItem        `json:"items"`
	Subtotal          float64            `json:"subtotal"`
	TaxRate           float64            `json:"tax_rate"`
	TaxAmount         float64            `json:"tax_amount"`
	Total             float64            `json:"total"`
	Status            string             `json:"status"`
	Notes             string             `json:"notes,omitempty"`
	IsDeleted         bool               `json:"-"`
	SignedAt          *time.Time         `json:"signed_at,omitempty"`
	SignedBy          string             `json:"signed_by,omitempty"`
	SignatureMetadata *SignatureMetadata `json:"signature_metadata,omitempty"`
	CreatedBy         uuid.UUID          `json:"created_by"`
	UpdatedBy         *uuid.UUID         `json:"updated_by,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// SignatureMetadata is the signing context denormalized onto the order so the
// proof of acceptance survives independently of the token's lifetime.
type SignatureMetadata struct {
	IPAddress           string    `json:"ip_address"`
	UserAgent           string    `json:"user_agent"`
	Platform            string    `json:"platform"`
	Language            string    `json:"language"`
	Timezone            string    `json:"timezone"`
	ScreenResolution    string    `json:"screen_resolution"`
	ConsentAcknowledged bool      `json:"consent_acknowledged"`
	DocumentHash        string    `json:"document_hash"`
	SigningMethod       string    `json:"signing_method"`
	TokenID             uuid.UUID `json:"token_id"`
}

// IsTerminal reports whether the order has left the signing workflow. Signed
// and completed orders are immutable from this subsystem's perspective.
func (o *Order) IsTerminal() bool {
	return o.Status == OrderStatusSigned || o.Status == OrderStatusCompleted
}

// orderDigest is the exact field set covered by the document hash. Field
// order is fixed by the struct declaration, which makes json.Marshal output
// deterministic for a given snapshot.
type orderDigest struct {
	InvoiceNumber string       `json:"invoiceNumber"`
	CustomerInfo  CustomerInfo `json:"customerInfo"`
	Items         []OrderItem  `json:"items"`
	Subtotal      float64      `json:"subtotal"`
	TaxAmount     float64      `json:"taxAmount"`
	Total         float64      `json:"total"`
	CreatedAt     string       `json:"createdAt"`
}

// DocumentHash computes the SHA-256 content fingerprint of the order's
// financial fields as they exist right now. It is captured at signing time so
// any later mutation of the order can be detected in a dispute.
func (o *Order) DocumentHash() (string, error) {
	digest := orderDigest{
		InvoiceNumber: o.InvoiceNumber,
		CustomerInfo:  o.CustomerInfo,
		Items:         o.Items,
		Subtotal:      o.Subtotal,
		TaxAmount:     o.TaxAmount,
		Total:         o.Total,
		CreatedAt:     o.CreatedAt.UTC().Format(time.RFC3339Nano),
	}

	payload, err := json.Marshal(digest)
	if err != nil {
		return "", fmt.Errorf("failed to marshal order digest: %w", err)
	}

	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
