package services

import (
	"net/netip"
	"time"

	"github.com/colemarsh/signet/internal/models"
	"github.com/google/uuid"
)

const unknownValue = "unknown"

// RequestMeta carries the request context a public signing call arrived
// with. The platform, language, timezone and screen fields are
// client-declared and best-effort only; they default to "unknown".
type RequestMeta struct {
	IPAddress        netip.Addr
	UserAgent        string
	Platform         string
	Language         string
	Timezone         string
	ScreenResolution string
}

func orUnknown(value string) string {
	if value == "" {
		return unknownValue
	}
	return value
}

// newDeviceInfo builds the first-access fingerprint from request metadata
func newDeviceInfo(meta RequestMeta) *models.DeviceInfo {
	return &models.DeviceInfo{
		IPAddress:        meta.IPAddress.String(),
		UserAgent:        orUnknown(meta.UserAgent),
		Platform:         orUnknown(meta.Platform),
		Language:         orUnknown(meta.Language),
		Timezone:         orUnknown(meta.Timezone),
		ScreenResolution: orUnknown(meta.ScreenResolution),
		Timestamp:        time.Now(),
	}
}

// newSignatureRecord builds the proof of acceptance attached to the token at
// redemption time.
func newSignatureRecord(meta RequestMeta, signedBy, documentHash string) *models.SignatureRecord {
	return &models.SignatureRecord{
		SignedAt:            time.Now(),
		SignedBy:            signedBy,
		IPAddress:           meta.IPAddress.String(),
		UserAgent:           orUnknown(meta.UserAgent),
		ConsentAcknowledged: true,
		DocumentHash:        documentHash,
	}
}

// newSignatureMetadata builds the denormalized signing context stored on the
// order itself, durable independently of the token's lifetime.
func newSignatureMetadata(meta RequestMeta, record *models.SignatureRecord, method string, tokenID uuid.UUID) *models.SignatureMetadata {
	return &models.SignatureMetadata{
		IPAddress:           record.IPAddress,
		UserAgent:           record.UserAgent,
		Platform:            orUnknown(meta.Platform),
		Language:            orUnknown(meta.Language),
		Timezone:            orUnknown(meta.Timezone),
		ScreenResolution:    orUnknown(meta.ScreenResolution),
		ConsentAcknowledged: record.ConsentAcknowledged,
		DocumentHash:        record.DocumentHash,
		SigningMethod:       method,
		TokenID:             tokenID,
	}
}
