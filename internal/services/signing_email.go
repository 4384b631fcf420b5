package services

import (
	"fmt"
	"html"

	"github.com/colemarsh/signet/internal/models"
)

// buildSigningEmail composes the review-and-sign invitation sent to the
// customer. The signing URL carries the bearer token, so it is never logged
// in full anywhere.
func buildSigningEmail(order *models.Order, signingURL string) MailMessage {
	customerName := order.CustomerInfo.Name
	invoiceNumber := order.InvoiceNumber

	htmlBody := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background-color: #f8f9fa; padding: 20px; text-align: center; border-radius: 4px; }
        .button { display: inline-block; background-color: #007bff; color: white; padding: 12px 24px; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .total { font-size: 18px; font-weight: bold; }
        .footer { color: #666; font-size: 12px; margin-top: 20px; padding-top: 20px; border-top: 1px solid #eee; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>Invoice Ready for Signature</h1>
        </div>
        <p>Dear %s,</p>
        <p>You have been sent invoice <strong>%s</strong> for your review and signature.</p>
        <p class="total">Total: $%.2f</p>
        <p>Please click the button below to review and sign the invoice:</p>
        <p><a href="%s" class="button">Review &amp; Sign Invoice</a></p>
        <p>Or copy and paste this link in your browser:<br>
        <a href="%s">%s</a></p>
        <div class="footer">
            <p>This signing link is personal to you and can only be used once. Do not forward this email.</p>
            <p>This is an automated message. Please do not reply to this email.</p>
        </div>
    </div>
</body>
</html>
`,
		html.EscapeString(customerName),
		html.EscapeString(invoiceNumber),
		order.Total,
		html.EscapeString(signingURL),
		html.EscapeString(signingURL),
		html.EscapeString(signingURL),
	)

	textBody := fmt.Sprintf(`Invoice Ready for Signature

Dear %s,

You have been sent invoice %s for your review and signature.

Total: $%.2f

Please click the link below to review and sign the invoice:
%s

This signing link is personal to you and can only be used once. Do not forward this email.

This is an automated message. Please do not reply to this email.
`, customerName, invoiceNumber, order.Total, signingURL)

	return MailMessage{
		To:       order.CustomerInfo.Email,
		Subject:  fmt.Sprintf("Invoice %s - Review and Sign", invoiceNumber),
		HTMLBody: htmlBody,
		TextBody: textBody,
	}
}

// buildSignedInvoiceEmail composes the confirmation carrying the final PDF
// after a successful signature.
func buildSignedInvoiceEmail(order *models.Order, pdf []byte) MailMessage {
	customerName := order.CustomerInfo.Name
	invoiceNumber := order.InvoiceNumber

	htmlBody := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background-color: #f8f9fa; padding: 20px; text-align: center; border-radius: 4px; }
        .footer { color: #666; font-size: 12px; margin-top: 20px; padding-top: 20px; border-top: 1px solid #eee; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>Invoice Signed</h1>
        </div>
        <p>Dear %s,</p>
        <p>Invoice <strong>%s</strong> has been signed and is now complete. A copy is attached for your records.</p>
        <div class="footer">
            <p>This is an automated message. Please do not reply to this email.</p>
        </div>
    </div>
</body>
</html>
`, html.EscapeString(customerName), html.EscapeString(invoiceNumber))

	textBody := fmt.Sprintf(`Invoice Signed

Dear %s,

Invoice %s has been signed and is now complete. A copy is attached for your records.

This is an automated message. Please do not reply to this email.
`, customerName, invoiceNumber)

	return MailMessage{
		To:       order.CustomerInfo.Email,
		Subject:  fmt.Sprintf("Invoice %s - Signed Copy", invoiceNumber),
		HTMLBody: htmlBody,
		TextBody: textBody,
		Attachments: []MailAttachment{
			{
				Filename:    fmt.Sprintf("invoice-%s.pdf", invoiceNumber),
				ContentType: "application/pdf",
				Data:        pdf,
			},
		},
	}
}
