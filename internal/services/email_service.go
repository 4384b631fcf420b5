package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/textproto"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// AWSSESMailRelay sends email through AWS SES
type AWSSESMailRelay struct {
	sesClient   *ses.Client
	fromAddress string
	logger      *slog.Logger
}

// NewAWSSESMailRelay creates a new AWS SES mail relay
func NewAWSSESMailRelay(region, fromAddress string, logger *slog.Logger) (*AWSSESMailRelay, error) {
	cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSSESMailRelay{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		logger:      logger,
	}, nil
}

// Send delivers a message. Messages with attachments go through SendRawEmail
// as multipart MIME; plain messages use the structured SendEmail API.
func (s *AWSSESMailRelay) Send(ctx context.Context, msg MailMessage) (*MailResult, error) {
	var messageID string
	var err error

	if len(msg.Attachments) > 0 {
		messageID, err = s.sendRaw(ctx, msg)
	} else {
		messageID, err = s.sendSimple(ctx, msg)
	}

	if err != nil {
		s.logger.Error("failed to send email via SES",
			slog.String("to", msg.To),
			slog.String("subject", msg.Subject),
			slog.Any("error", err))
		return nil, fmt.Errorf("%w: %v", ErrMailDelivery, err)
	}

	s.logger.Info("email sent",
		slog.String("to", msg.To),
		slog.String("message_id", messageID))

	return &MailResult{MessageID: messageID, Timestamp: time.Now()}, nil
}

func (s *AWSSESMailRelay) sendSimple(ctx context.Context, msg MailMessage) (string, error) {
	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(msg.Subject),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data: aws.String(msg.HTMLBody),
				},
				Text: &types.Content{
					Data: aws.String(msg.TextBody),
				},
			},
		},
	}

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		return "", err
	}
	return aws.ToString(result.MessageId), nil
}

func (s *AWSSESMailRelay) sendRaw(ctx context.Context, msg MailMessage) (string, error) {
	raw, err := buildRawMessage(s.fromAddress, msg)
	if err != nil {
		return "", err
	}

	result, err := s.sesClient.SendRawEmail(ctx, &ses.SendRawEmailInput{
		Source:       aws.String(s.fromAddress),
		Destinations: []string{msg.To},
		RawMessage:   &types.RawMessage{Data: raw},
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(result.MessageId), nil
}

// buildRawMessage assembles a multipart/mixed MIME message with an
// alternative text/html body part and base64-encoded attachments.
func buildRawMessage(from string, msg MailMessage) ([]byte, error) {
	var buf bytes.Buffer
	mixed := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", msg.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", mixed.Boundary())

	altBuf := &bytes.Buffer{}
	alt := multipart.NewWriter(altBuf)

	textPart, err := alt.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/plain; charset=UTF-8"},
	})
	if err != nil {
		return nil, err
	}
	fmt.Fprint(textPart, msg.TextBody)

	htmlPart, err := alt.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/html; charset=UTF-8"},
	})
	if err != nil {
		return nil, err
	}
	fmt.Fprint(htmlPart, msg.HTMLBody)

	if err := alt.Close(); err != nil {
		return nil, err
	}

	bodyPart, err := mixed.CreatePart(textproto.MIMEHeader{
		"Content-Type": {fmt.Sprintf("multipart/alternative; boundary=%q", alt.Boundary())},
	})
	if err != nil {
		return nil, err
	}
	if _, err := bodyPart.Write(altBuf.Bytes()); err != nil {
		return nil, err
	}

	for _, att := range msg.Attachments {
		part, err := mixed.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {att.ContentType},
			"Content-Transfer-Encoding": {"base64"},
			"Content-Disposition":       {fmt.Sprintf("attachment; filename=%q", att.Filename)},
		})
		if err != nil {
			return nil, err
		}
		encoded := base64.StdEncoding.EncodeToString(att.Data)
		if _, err := part.Write([]byte(encoded)); err != nil {
			return nil, err
		}
	}

	if err := mixed.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
