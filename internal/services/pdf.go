package services

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/colemarsh/signet/internal/models"
)

// DefaultInvoiceTemplate is the template used for the post-signing copy.
const DefaultInvoiceTemplate = "signing-screen"

// PDFRenderer produces the durable invoice artifact after signing. Rendering
// is a pure function of order data.
type PDFRenderer interface {
	Render(ctx context.Context, order *models.Order, templateName string) ([]byte, error)
}

// maxPDFSize caps what the renderer response may return.
const maxPDFSize = 20 << 20

// HTTPInvoiceRenderer renders invoices by posting their HTML to a
// headless-browser rendering service (any endpoint that accepts text/html
// and answers with application/pdf).
type HTTPInvoiceRenderer struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

func NewHTTPInvoiceRenderer(endpoint string, timeout time.Duration, logger *slog.Logger) *HTTPInvoiceRenderer {
	return &HTTPInvoiceRenderer{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

func (r *HTTPInvoiceRenderer) Render(ctx context.Context, order *models.Order, templateName string) ([]byte, error) {
	body := buildInvoiceHTML(order, templateName)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build render request: %w", err)
	}
	req.Header.Set("Content-Type", "text/html; charset=utf-8")
	req.Header.Set("Accept", "application/pdf")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pdf renderer unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pdf renderer returned status %d", resp.StatusCode)
	}

	pdf, err := io.ReadAll(io.LimitReader(resp.Body, maxPDFSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read rendered pdf: %w", err)
	}
	if !bytes.HasPrefix(pdf, []byte("%PDF-")) {
		return nil, fmt.Errorf("pdf renderer returned a non-pdf payload")
	}

	r.logger.Debug("invoice rendered",
		slog.String("invoice_number", order.InvoiceNumber),
		slog.Int("bytes", len(pdf)),
	)
	return pdf, nil
}

// buildInvoiceHTML lays out the printable invoice the rendering service
// turns into the attached PDF. The signature block only appears once the
// order carries one.
func buildInvoiceHTML(order *models.Order, templateName string) string {
	var b strings.Builder

	fmt.Fprintf(&b, `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; color: #333; margin: 0; }
        .invoice { max-width: 700px; margin: 0 auto; padding: 24px; }
        .heading { display: flex; justify-content: space-between; border-bottom: 2px solid #333; padding-bottom: 12px; }
        table { width: 100%%; border-collapse: collapse; margin-top: 16px; }
        th, td { text-align: left; padding: 8px; border-bottom: 1px solid #ddd; }
        td.amount, th.amount { text-align: right; }
        .totals { margin-top: 16px; text-align: right; }
        .totals .grand { font-size: 18px; font-weight: bold; }
        .signature { margin-top: 32px; padding-top: 12px; border-top: 1px solid #333; }
    </style>
</head>
<body class="template-%s">
    <div class="invoice">
        <div class="heading">
            <h1>Invoice %s</h1>
            <div>
                <p>%s<br>%s</p>
            </div>
        </div>
        <table>
            <tr><th>Item</th><th>Qty</th><th>Unit</th><th class="amount">Unit Price</th><th class="amount">Total</th></tr>
`,
		html.EscapeString(templateName),
		html.EscapeString(order.InvoiceNumber),
		html.EscapeString(order.CustomerInfo.Name),
		html.EscapeString(order.CustomerInfo.Email),
	)

	for _, item := range order.Items {
		fmt.Fprintf(&b, `            <tr><td>%s</td><td>%g</td><td>%s</td><td class="amount">$%.2f</td><td class="amount">$%.2f</td></tr>
`,
			html.EscapeString(item.Name), item.Quantity, html.EscapeString(item.Unit),
			item.UnitPrice, item.TotalPrice,
		)
	}

	fmt.Fprintf(&b, `        </table>
        <div class="totals">
            <p>Subtotal: $%.2f<br>Tax: $%.2f</p>
            <p class="grand">Total: $%.2f</p>
        </div>
`, order.Subtotal, order.TaxAmount, order.Total)

	if order.SignedAt != nil {
		fmt.Fprintf(&b, `        <div class="signature">
            <p>Signed by <strong>%s</strong> on %s</p>
        </div>
`,
			html.EscapeString(order.SignedBy),
			order.SignedAt.Format("January 2, 2006 at 3:04 PM MST"),
		)
	}

	b.WriteString(`    </div>
</body>
</html>
`)
	return b.String()
}
