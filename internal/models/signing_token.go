package models

import (
	"time"

	"github.com/google/uuid"
)

// TokenLength is the exact length of a signing token value: 32 random bytes,
// hex encoded. Anything else is rejected before any storage lookup.
const TokenLength = 64

// SigningToken is a single-use bearer credential granting access to sign one
// order, bound to a recipient email and an expiry.
type SigningToken struct {
	ID         uuid.UUID        `json:"id"`
	Token      string           `json:"-"` // Never expose the token value
	OrderID    uuid.UUID        `json:"order_id"`
	Email      string           `json:"email"`
	ExpiresAt  time.Time        `json:"expires_at"`
	IsUsed     bool             `json:"is_used"`
	UsedAt     *time.Time       `json:"used_at,omitempty"`
	DeviceInfo *DeviceInfo      `json:"device_info,omitempty"`
	Signature  *SignatureRecord `json:"signature,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}

// DeviceInfo is a best-effort client fingerprint captured the first time a
// signing link is opened, independent of whether the order is ever signed.
type DeviceInfo struct {
	IPAddress        string    `json:"ip_address"`
	UserAgent        string    `json:"user_agent"`
	Platform         string    `json:"platform"`
	Language         string    `json:"language"`
	Timezone         string    `json:"timezone"`
	ScreenResolution string    `json:"screen_resolution"`
	Timestamp        time.Time `json:"timestamp"`
}

// SignatureRecord is the tamper-evident proof of acceptance attached to a
// token when it is redeemed.
type SignatureRecord struct {
	SignedAt            time.Time `json:"signed_at"`
	SignedBy            string    `json:"signed_by"`
	IPAddress           string    `json:"ip_address"`
	UserAgent           string    `json:"user_agent"`
	ConsentAcknowledged bool      `json:"consent_acknowledged"`
	DocumentHash        string    `json:"document_hash"`
}

// IsExpired checks if the token has expired
func (t *SigningToken) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}

// IsValid checks if the token is still redeemable (not used and not expired)
func (t *SigningToken) IsValid() bool {
	return !t.IsUsed && !t.IsExpired()
}

// ValidationError returns the sentinel describing why the token cannot be
// redeemed, or nil if it is valid. Used and expired are reported
// distinguishably so the signing UI can explain which happened.
func (t *SigningToken) ValidationError() error {
	if t.IsUsed {
		return ErrTokenUsed
	}
	if t.IsExpired() {
		return ErrTokenExpired
	}
	return nil
}
