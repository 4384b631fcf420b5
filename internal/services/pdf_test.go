package services

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/colemarsh/signet/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSignedOrder() *models.Order {
	order := draftOrder()
	signedAt := time.Date(2026, time.August, 12, 14, 30, 0, 0, time.UTC)
	order.Status = models.OrderStatusSigned
	order.SignedAt = &signedAt
	order.SignedBy = "Jordan Reyes"
	return order
}

func TestHTTPInvoiceRenderer(t *testing.T) {
	ctx := context.Background()
	order := sampleSignedOrder()

	t.Run("posts the invoice html and returns the pdf", func(t *testing.T) {
		var gotContentType string
		var gotBody string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotContentType = r.Header.Get("Content-Type")
			raw, _ := io.ReadAll(r.Body)
			gotBody = string(raw)
			w.Header().Set("Content-Type", "application/pdf")
			w.Write([]byte("%PDF-1.7 fake"))
		}))
		defer srv.Close()

		renderer := NewHTTPInvoiceRenderer(srv.URL, 5*time.Second, testLogger())
		pdf, err := renderer.Render(ctx, order, DefaultInvoiceTemplate)
		require.NoError(t, err)

		assert.Equal(t, []byte("%PDF-1.7 fake"), pdf)
		assert.Contains(t, gotContentType, "text/html")
		assert.Contains(t, gotBody, order.InvoiceNumber)
		assert.Contains(t, gotBody, "Jordan Reyes")
	})

	t.Run("renderer error status fails the render", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "browser crashed", http.StatusInternalServerError)
		}))
		defer srv.Close()

		renderer := NewHTTPInvoiceRenderer(srv.URL, 5*time.Second, testLogger())
		_, err := renderer.Render(ctx, order, DefaultInvoiceTemplate)
		assert.ErrorContains(t, err, "status 500")
	})

	t.Run("non-pdf payload is rejected", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("<html>not a pdf</html>"))
		}))
		defer srv.Close()

		renderer := NewHTTPInvoiceRenderer(srv.URL, 5*time.Second, testLogger())
		_, err := renderer.Render(ctx, order, DefaultInvoiceTemplate)
		assert.ErrorContains(t, err, "non-pdf")
	})

	t.Run("unreachable endpoint fails the render", func(t *testing.T) {
		renderer := NewHTTPInvoiceRenderer("http://127.0.0.1:1", 500*time.Millisecond, testLogger())
		_, err := renderer.Render(ctx, order, DefaultInvoiceTemplate)
		assert.Error(t, err)
	})
}

func TestBuildInvoiceHTML(t *testing.T) {
	order := sampleSignedOrder()

	html := buildInvoiceHTML(order, DefaultInvoiceTemplate)
	assert.Contains(t, html, order.InvoiceNumber)
	assert.Contains(t, html, "Mulch delivery")
	assert.Contains(t, html, "$146.14")
	assert.Contains(t, html, "Signed by <strong>Jordan Reyes</strong>")

	t.Run("escapes customer-controlled fields", func(t *testing.T) {
		hostile := sampleSignedOrder()
		hostile.CustomerInfo.Name = `<script>alert(1)</script>`

		html := buildInvoiceHTML(hostile, DefaultInvoiceTemplate)
		assert.NotContains(t, html, "<script>")
		assert.Contains(t, html, "&lt;script&gt;")
	})

	t.Run("omits the signature block on unsigned orders", func(t *testing.T) {
		unsigned := sampleSignedOrder()
		unsigned.SignedAt = nil
		unsigned.SignedBy = ""

		assert.NotContains(t, buildInvoiceHTML(unsigned, DefaultInvoiceTemplate), "Signed by")
	})
}
