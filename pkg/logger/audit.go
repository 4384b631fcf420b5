package logger

import (
	"context"
	"log/slog"
	"time"
)

// Signing audit event types
const (
	EventTokenIssued   = "token_issued"
	EventSigningViewed = "signing_viewed"
	EventOrderSigned   = "order_signed"
	EventSigningFailed = "signing_failed"
	EventIPBlocked     = "ip_blocked"
	EventIPUnblocked   = "ip_unblocked"
)

// AuditEvent represents a signing or security audit event
type AuditEvent struct {
	EventType     string
	Actor         string
	OrderID       string
	TokenID       string
	IPAddress     string
	UserAgent     string
	Success       bool
	FailureReason string
	Metadata      map[string]string
}

// AuditLogger provides audit logging for the signing workflow
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

// LogSigningEvent logs a signing workflow event
func (al *AuditLogger) LogSigningEvent(event AuditEvent) {
	al.log("signing", event)
}

// LogSecurityEvent logs a fishing-defense event
func (al *AuditLogger) LogSecurityEvent(event AuditEvent) {
	al.log("security", event)
}

func (al *AuditLogger) log(auditType string, event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", auditType),
		slog.String("event_type", event.EventType),
		slog.Bool("success", event.Success),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.Actor != "" {
		attrs = append(attrs, slog.String("actor", event.Actor))
	}
	if event.OrderID != "" {
		attrs = append(attrs, slog.String("order_id", event.OrderID))
	}
	if event.TokenID != "" {
		attrs = append(attrs, slog.String("token_id", event.TokenID))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}
	if event.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", event.FailureReason))
	}
	for key, value := range event.Metadata {
		attrs = append(attrs, slog.String(key, value))
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}

	al.logger.LogAttrs(context.Background(), level, "audit_event", attrs...)
}
