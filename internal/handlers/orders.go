package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/colemarsh/signet/internal/auth"
	"github.com/colemarsh/signet/internal/models"
	"github.com/colemarsh/signet/internal/services"
	pkghttp "github.com/colemarsh/signet/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// OrderHandler serves the authenticated order signing operations
type OrderHandler struct {
	service *services.SigningService
}

// NewOrderHandler creates a new OrderHandler
func NewOrderHandler(service *services.SigningService) *OrderHandler {
	return &OrderHandler{service: service}
}

// SendSigningEmailRequest is the request body for emailing a signing link
type SendSigningEmailRequest struct {
	Email   string `json:"email" validate:"omitempty,email"`
	TTLDays int    `json:"ttl_days" validate:"omitempty,gte=1,lte=365"`
}

// SendSigningEmailResponse confirms the signing email was dispatched
type SendSigningEmailResponse struct {
	OrderID   string `json:"order_id"`
	Email     string `json:"email"`
	ExpiresAt string `json:"expires_at"`
}

// SignInPersonRequest is the request body for in-person signing
type SignInPersonRequest struct {
	SignedBy string `json:"signed_by" validate:"required,min=1,max=200"`
}

// RegisterRoutes registers the order signing routes with the chi router
func (h *OrderHandler) RegisterRoutes(router chi.Router) {
	router.Route("/orders/{id}", func(r chi.Router) {
		r.Post("/send-signing-email", h.SendSigningEmail) // POST /orders/{id}/send-signing-email
		r.Put("/sign", h.SignInPerson)                    // PUT /orders/{id}/sign
	})
}

// SendSigningEmail issues a signing token and emails the link to the customer
func (h *OrderHandler) SendSigningEmail(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		pkghttp.WriteBadRequest(w, pkghttp.CodeValidationError, "Invalid order ID")
		return
	}

	var req SendSigningEmailRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			pkghttp.WriteBadRequest(w, pkghttp.CodeValidationError, "Invalid request body")
			return
		}
		if err := ValidateRequest(&req); err != nil {
			pkghttp.WriteBadRequest(w, pkghttp.CodeValidationError, err.Error())
			return
		}
	}

	actor, ok := actorID(r)
	if !ok {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	token, err := h.service.SendSigningEmail(r.Context(), orderID, req.Email, req.TTLDays, actor)
	if err != nil {
		writeOrderError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, SendSigningEmailResponse{
		OrderID:   orderID.String(),
		Email:     token.Email,
		ExpiresAt: token.ExpiresAt.Format(time.RFC3339),
	})
}

// SignInPerson signs an order by operator action, without a token
func (h *OrderHandler) SignInPerson(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		pkghttp.WriteBadRequest(w, pkghttp.CodeValidationError, "Invalid order ID")
		return
	}

	var req SignInPersonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, pkghttp.CodeValidationError, "Invalid request body")
		return
	}
	if err := ValidateRequest(&req); err != nil {
		pkghttp.WriteBadRequest(w, pkghttp.CodeValidationError, err.Error())
		return
	}

	actor, ok := actorID(r)
	if !ok {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	meta, ok := requestMeta(r, nil)
	if !ok {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	result, err := h.service.SignInPerson(r.Context(), orderID, req.SignedBy, actor, meta)
	if err != nil {
		writeOrderError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, SignResultResponse{
		Order:    result.Order,
		SignedAt: result.Signature.SignedAt.Format(time.RFC3339),
		SignedBy: result.Signature.SignedBy,
	})
}

// actorID returns the authenticated operator's ID
func actorID(r *http.Request) (uuid.UUID, bool) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(claims.UserID)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func writeOrderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, pkghttp.CodeOrderNotFound, "Order not found")
	case errors.Is(err, models.ErrOrderAlreadySigned):
		pkghttp.WriteBadRequest(w, pkghttp.CodeOrderAlreadySigned, "This order has already been signed")
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, pkghttp.CodeValidationError, "Invalid request")
	case errors.Is(err, services.ErrMailDelivery):
		pkghttp.WriteInternalError(w, "Failed to send signing email")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
