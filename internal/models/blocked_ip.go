package models

import (
	"time"

	"github.com/google/uuid"
)

// How an IP ended up on the blocklist
const (
	BlockedByAutomatic = "automatic"
	BlockedByManual    = "manual"
)

// DefaultBlockReason is recorded when the fishing detector blocks an IP.
const DefaultBlockReason = "Token fishing detected"

// BlockedIP is a durable blocklist entry. Entries have no expiry; removal is
// an explicit manual action.
type BlockedIP struct {
	ID           uuid.UUID  `json:"id"`
	IPAddress    string     `json:"ip_address"`
	Reason       string     `json:"reason"`
	BlockedAt    time.Time  `json:"blocked_at"`
	BlockedBy    string     `json:"blocked_by"`
	AttemptCount int        `json:"attempt_count"`
	LastAttempt  *time.Time `json:"last_attempt,omitempty"`
	Notes        string     `json:"notes,omitempty"`
}
