package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/qrsafety/backend/internal/auth"
)

// AuthHandler issues guest identities and exchanges identity-provider
// assertions for account tokens. The provider itself stays external; this
// service only mints the tokens that key data on this backend.
type AuthHandler struct {
	BaseHandler
	tokens      *auth.TokenGenerator
	exchangeKey string
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(tokens *auth.TokenGenerator, exchangeKey string, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		tokens:      tokens,
		exchangeKey: exchangeKey,
		BaseHandler: BaseHandler{logger: logger},
	}
}

// RegisterRoutes registers all auth handler routes
func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Post("/guest", h.CreateGuest)
		r.Post("/token", h.ExchangeToken)
	})
}

// CreateGuest handles POST /api/v1/auth/guest. It mints a fresh anonymous
// identity whose token keys all guest-mode data on this device.
func (h *AuthHandler) CreateGuest(w http.ResponseWriter, r *http.Request) {
	guestID := uuid.NewString()

	token, err := h.tokens.GenerateGuestToken(guestID)
	if err != nil {
		h.logger.Error("failed to generate guest token", zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "failed to create guest identity")
		return
	}

	h.respondJSON(w, http.StatusCreated, map[string]any{
		"guestId":     guestID,
		"accessToken": token,
		"isAnonymous": true,
	})
}

// ExchangeToken handles POST /api/v1/auth/token. The identity provider
// calls it with the shared key after authenticating a user; the response
// token carries the provider's user id.
func (h *AuthHandler) ExchangeToken(w http.ResponseWriter, r *http.Request) {
	if h.exchangeKey == "" {
		h.respondError(w, http.StatusServiceUnavailable, "token exchange is not configured")
		return
	}
	if r.Header.Get("X-API-Key") != h.exchangeKey {
		h.respondError(w, http.StatusUnauthorized, "invalid or missing API key")
		return
	}

	var body struct {
		UserID string `json:"userId"`
	}
	if !h.decodeBody(w, r, &body) {
		return
	}
	if body.UserID == "" {
		h.respondError(w, http.StatusBadRequest, "userId is required")
		return
	}

	token, err := h.tokens.GenerateUserToken(body.UserID)
	if err != nil {
		h.logger.Error("failed to generate user token", zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "failed to create token")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"userId":      body.UserID,
		"accessToken": token,
		"isAnonymous": false,
	})
}
