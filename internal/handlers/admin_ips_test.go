package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/colemarsh/signet/internal/auth"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func adminRouter(f *handlerFixture, tm *auth.TokenManager) http.Handler {
	r := chi.NewRouter()
	r.Use(auth.Authenticate(tm))
	r.Use(auth.RequireRole(auth.RoleAdmin))
	NewBlockedIPHandler(f.blocklist, f.audit).RegisterRoutes(r)
	return r
}

func adminRequest(t *testing.T, handler http.Handler, tm *auth.TokenManager, role, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	tokenString, err := tm.GenerateToken(uuid.New().String(), "admin@example.com", role)
	require.NoError(t, err)

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, target, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tokenString)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestBlockedIPHandler(t *testing.T) {
	tm := auth.NewTokenManager("test-secret-at-least-32-characters-long", time.Hour)

	t.Run("manual block then list then unblock", func(t *testing.T) {
		f := newHandlerFixture()
		handler := adminRouter(f, tm)

		rec := adminRequest(t, handler, tm, auth.RoleAdmin, http.MethodPost, "/admin/blocked-ips",
			map[string]any{"ip_address": "203.0.113.50", "notes": "Reported by customer"})
		require.Equal(t, http.StatusCreated, rec.Code)

		assert.True(t, f.blocklist.Contains(context.Background(), netip.MustParseAddr("203.0.113.50")))

		rec = adminRequest(t, handler, tm, auth.RoleAdmin, http.MethodGet, "/admin/blocked-ips", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Data ListBlockedIPsResponse `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, 1, resp.Data.Total)
		assert.Equal(t, "203.0.113.50", resp.Data.BlockedIPs[0].IPAddress)
		assert.Equal(t, "Reported by customer", resp.Data.BlockedIPs[0].Reason)

		rec = adminRequest(t, handler, tm, auth.RoleAdmin, http.MethodDelete, "/admin/blocked-ips/203.0.113.50", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.False(t, f.blocklist.Contains(context.Background(), netip.MustParseAddr("203.0.113.50")))
	})

	t.Run("invalid address is rejected", func(t *testing.T) {
		f := newHandlerFixture()
		handler := adminRouter(f, tm)

		rec := adminRequest(t, handler, tm, auth.RoleAdmin, http.MethodPost, "/admin/blocked-ips",
			map[string]any{"ip_address": "not-an-ip"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unblocking an address that is not blocked gets 404", func(t *testing.T) {
		f := newHandlerFixture()
		handler := adminRouter(f, tm)

		rec := adminRequest(t, handler, tm, auth.RoleAdmin, http.MethodDelete, "/admin/blocked-ips/198.51.100.1", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("clerks cannot manage the blocklist", func(t *testing.T) {
		f := newHandlerFixture()
		handler := adminRouter(f, tm)

		rec := adminRequest(t, handler, tm, auth.RoleClerk, http.MethodGet, "/admin/blocked-ips", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}
