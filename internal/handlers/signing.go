package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/colemarsh/signet/internal/middleware"
	"github.com/colemarsh/signet/internal/models"
	"github.com/colemarsh/signet/internal/services"
	pkghttp "github.com/colemarsh/signet/pkg/http"
	"github.com/go-chi/chi/v5"
)

// ConsentFlag accepts the boolean true and the string "true" as consent, to
// tolerate clients that serialize the checkbox value as a string. Anything
// else means no consent was given.
type ConsentFlag bool

func (c *ConsentFlag) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case "true", `"true"`:
		*c = true
	default:
		*c = false
	}
	return nil
}

// SigningHandler serves the public token-gated signing endpoints
type SigningHandler struct {
	service *services.SigningService
}

// NewSigningHandler creates a new SigningHandler
func NewSigningHandler(service *services.SigningService) *SigningHandler {
	return &SigningHandler{service: service}
}

// AcceptSignatureRequest is the request body for redeeming a signing token
type AcceptSignatureRequest struct {
	SignedBy         string      `json:"signed_by" validate:"required,min=1,max=200"`
	Consent          ConsentFlag `json:"consent_acknowledged"`
	Platform         string      `json:"platform" validate:"omitempty,max=100"`
	Language         string      `json:"language" validate:"omitempty,max=50"`
	Timezone         string      `json:"timezone" validate:"omitempty,max=100"`
	ScreenResolution string      `json:"screen_resolution" validate:"omitempty,max=50"`
}

// SigningViewResponse is the order snapshot shown on the signing page
type SigningViewResponse struct {
	Order     *models.Order `json:"order"`
	Email     string        `json:"email"`
	ExpiresAt string        `json:"expires_at"`
}

// SignResultResponse is returned after a successful signature
type SignResultResponse struct {
	Order    *models.Order `json:"order"`
	SignedAt string        `json:"signed_at"`
	SignedBy string        `json:"signed_by"`
}

// RegisterRoutes registers the public signing routes with the chi router
func (h *SigningHandler) RegisterRoutes(router chi.Router) {
	router.Route("/orders/sign/{token}", func(r chi.Router) {
		r.Get("/", h.ViewSigningPage)        // GET /orders/sign/{token}
		r.Post("/accept", h.AcceptSignature) // POST /orders/sign/{token}/accept
	})
}

// ViewSigningPage resolves a signing link and returns the order snapshot
func (h *SigningHandler) ViewSigningPage(w http.ResponseWriter, r *http.Request) {
	meta, ok := requestMeta(r, nil)
	if !ok {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	view, err := h.service.View(r.Context(), chi.URLParam(r, "token"), meta)
	if err != nil {
		writeSigningError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, SigningViewResponse{
		Order:     view.Order,
		Email:     view.Email,
		ExpiresAt: view.ExpiresAt.Format(time.RFC3339),
	})
}

// AcceptSignature redeems a signing token and signs the order
func (h *SigningHandler) AcceptSignature(w http.ResponseWriter, r *http.Request) {
	var req AcceptSignatureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, pkghttp.CodeValidationError, "Invalid request body")
		return
	}
	if err := ValidateRequest(&req); err != nil {
		pkghttp.WriteBadRequest(w, pkghttp.CodeValidationError, err.Error())
		return
	}

	meta, ok := requestMeta(r, &req)
	if !ok {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	result, err := h.service.Accept(r.Context(), chi.URLParam(r, "token"), req.SignedBy, bool(req.Consent), meta)
	if err != nil {
		writeSigningError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, SignResultResponse{
		Order:    result.Order,
		SignedAt: result.Signature.SignedAt.Format(time.RFC3339),
		SignedBy: result.Signature.SignedBy,
	})
}

// requestMeta assembles the request context the signing workflow records.
// The address comes from the ClientIP middleware; device fields come from the
// request body when one was provided.
func requestMeta(r *http.Request, req *AcceptSignatureRequest) (services.RequestMeta, bool) {
	addr, ok := middleware.ClientIPFromContext(r.Context())
	if !ok {
		return services.RequestMeta{}, false
	}

	meta := services.RequestMeta{
		IPAddress: addr,
		UserAgent: r.UserAgent(),
		Language:  r.Header.Get("Accept-Language"),
	}
	if req != nil {
		meta.Platform = req.Platform
		if req.Language != "" {
			meta.Language = req.Language
		}
		meta.Timezone = req.Timezone
		meta.ScreenResolution = req.ScreenResolution
	}
	return meta, true
}

// writeSigningError maps signing workflow errors onto the public error
// envelope. A token that fails the format check is rejected as a 400 before
// any lookup happens; only existence lookups answer 404, and that response
// never distinguishes which tokens exist.
func writeSigningError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrTokenMalformed):
		pkghttp.WriteBadRequest(w, pkghttp.CodeTokenInvalid, "Invalid signing link")
	case errors.Is(err, models.ErrTokenNotFound):
		pkghttp.WriteNotFound(w, pkghttp.CodeTokenNotFound, "Invalid signing link")
	case errors.Is(err, models.ErrTokenExpired):
		pkghttp.WriteBadRequest(w, pkghttp.CodeTokenInvalid, "This signing link has expired")
	case errors.Is(err, models.ErrTokenUsed):
		pkghttp.WriteBadRequest(w, pkghttp.CodeTokenInvalid, "This signing link has already been used")
	case errors.Is(err, models.ErrOrderAlreadySigned):
		pkghttp.WriteBadRequest(w, pkghttp.CodeOrderAlreadySigned, "This order has already been signed")
	case errors.Is(err, models.ErrConsentRequired):
		pkghttp.WriteBadRequest(w, pkghttp.CodeConsentRequired, "You must acknowledge the signature consent")
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, pkghttp.CodeOrderNotFound, "Order not found")
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, pkghttp.CodeValidationError, "Invalid request")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
