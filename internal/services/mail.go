package services

import (
	"context"
	"errors"
	"time"
)

// ErrMailDelivery marks failures talking to the mail relay. These are never
// attributed to the requester and never feed fishing detection.
var ErrMailDelivery = errors.New("mail delivery failed")

// MailAttachment is a file attached to an outgoing message.
type MailAttachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// MailMessage is a relay-agnostic outgoing email.
type MailMessage struct {
	To          string
	Subject     string
	HTMLBody    string
	TextBody    string
	Attachments []MailAttachment
}

// MailResult reports a successful send.
type MailResult struct {
	MessageID string
	Timestamp time.Time
}

// MailRelay delivers email. The production implementation is AWS SES.
type MailRelay interface {
	Send(ctx context.Context, msg MailMessage) (*MailResult, error)
}
