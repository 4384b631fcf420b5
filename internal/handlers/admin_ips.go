package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"time"

	"github.com/colemarsh/signet/internal/auth"
	"github.com/colemarsh/signet/internal/models"
	"github.com/colemarsh/signet/internal/security"
	pkghttp "github.com/colemarsh/signet/pkg/http"
	pkglogger "github.com/colemarsh/signet/pkg/logger"
	"github.com/go-chi/chi/v5"
)

// BlockedIPHandler serves the admin blocklist management endpoints
type BlockedIPHandler struct {
	blocklist *security.Blocklist
	audit     *pkglogger.AuditLogger
}

// NewBlockedIPHandler creates a new BlockedIPHandler
func NewBlockedIPHandler(blocklist *security.Blocklist, audit *pkglogger.AuditLogger) *BlockedIPHandler {
	return &BlockedIPHandler{blocklist: blocklist, audit: audit}
}

// BlockIPRequest is the request body for manually blocking an address
type BlockIPRequest struct {
	IPAddress string `json:"ip_address" validate:"required,ip"`
	Notes     string `json:"notes" validate:"omitempty,max=500"`
}

// BlockedIPResponse represents one blocklist entry
type BlockedIPResponse struct {
	IPAddress    string `json:"ip_address"`
	Reason       string `json:"reason"`
	AttemptCount int    `json:"attempt_count"`
	BlockedBy    string `json:"blocked_by"`
	BlockedAt    string `json:"blocked_at"`
}

// ListBlockedIPsResponse is the blocklist listing payload
type ListBlockedIPsResponse struct {
	BlockedIPs []*BlockedIPResponse `json:"blocked_ips"`
	Total      int                  `json:"total"`
}

func blockedIPToResponse(entry *models.BlockedIP) *BlockedIPResponse {
	return &BlockedIPResponse{
		IPAddress:    entry.IPAddress,
		Reason:       entry.Reason,
		AttemptCount: entry.AttemptCount,
		BlockedBy:    entry.BlockedBy,
		BlockedAt:    entry.BlockedAt.Format(time.RFC3339),
	}
}

// RegisterRoutes registers the admin blocklist routes with the chi router
func (h *BlockedIPHandler) RegisterRoutes(router chi.Router) {
	router.Route("/admin/blocked-ips", func(r chi.Router) {
		r.Get("/", h.ListBlockedIPs)   // GET /admin/blocked-ips
		r.Post("/", h.BlockIP)         // POST /admin/blocked-ips
		r.Delete("/{ip}", h.UnblockIP) // DELETE /admin/blocked-ips/{ip}
	})
}

// ListBlockedIPs returns every blocked address
func (h *BlockedIPHandler) ListBlockedIPs(w http.ResponseWriter, r *http.Request) {
	entries, err := h.blocklist.List(r.Context())
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to list blocked IPs")
		return
	}

	out := make([]*BlockedIPResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, blockedIPToResponse(entry))
	}

	pkghttp.WriteJSON(w, http.StatusOK, ListBlockedIPsResponse{
		BlockedIPs: out,
		Total:      len(out),
	})
}

// BlockIP manually blocks an address
func (h *BlockedIPHandler) BlockIP(w http.ResponseWriter, r *http.Request) {
	var req BlockIPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, pkghttp.CodeValidationError, "Invalid request body")
		return
	}
	if err := ValidateRequest(&req); err != nil {
		pkghttp.WriteBadRequest(w, pkghttp.CodeValidationError, err.Error())
		return
	}

	addr, err := netip.ParseAddr(req.IPAddress)
	if err != nil {
		pkghttp.WriteBadRequest(w, pkghttp.CodeValidationError, "Invalid IP address")
		return
	}

	entry, err := h.blocklist.BlockManual(r.Context(), addr, req.Notes)
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to block IP")
		return
	}

	h.audit.LogSecurityEvent(pkglogger.AuditEvent{
		EventType: pkglogger.EventIPBlocked,
		Actor:     adminActor(r),
		IPAddress: entry.IPAddress,
		Success:   true,
		Metadata:  map[string]string{"blocked_by": models.BlockedByManual},
	})

	pkghttp.WriteJSON(w, http.StatusCreated, blockedIPToResponse(entry))
}

// UnblockIP removes an address from the blocklist
func (h *BlockedIPHandler) UnblockIP(w http.ResponseWriter, r *http.Request) {
	addr, err := netip.ParseAddr(chi.URLParam(r, "ip"))
	if err != nil {
		pkghttp.WriteBadRequest(w, pkghttp.CodeValidationError, "Invalid IP address")
		return
	}

	if err := h.blocklist.Unblock(r.Context(), addr); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, pkghttp.CodeValidationError, "IP address is not blocked")
			return
		}
		pkghttp.WriteInternalError(w, "Failed to unblock IP")
		return
	}

	h.audit.LogSecurityEvent(pkglogger.AuditEvent{
		EventType: pkglogger.EventIPUnblocked,
		Actor:     adminActor(r),
		IPAddress: addr.String(),
		Success:   true,
	})

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"ip_address": addr.String(), "status": "unblocked"})
}

func adminActor(r *http.Request) string {
	if claims := auth.GetUserFromContext(r); claims != nil {
		return claims.UserID
	}
	return ""
}
