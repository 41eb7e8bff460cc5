package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/qrsafety/backend/internal/auth"
	"github.com/qrsafety/backend/internal/guest"
	"github.com/qrsafety/backend/internal/identity"
)

// MigrationsService is the interface that wraps guest-to-account migration.
type MigrationsService interface {
	Migrate(ctx context.Context, guestID, userID string) (guest.MigrationReport, error)
}

// TokenValidator resolves an access token to its actor.
type TokenValidator interface {
	ValidateToken(token string) (identity.Actor, error)
}

// MigrationsHandler handles the one-shot transfer of guest learning data to
// a freshly signed-up account. The caller authenticates with the account
// token and presents the old guest token as proof of ownership.
type MigrationsHandler struct {
	BaseHandler
	service MigrationsService
	tokens  TokenValidator
}

// NewMigrationsHandler creates a new migration handler
func NewMigrationsHandler(svc MigrationsService, tokens TokenValidator, logger *zap.Logger) *MigrationsHandler {
	return &MigrationsHandler{
		service:     svc,
		tokens:      tokens,
		BaseHandler: BaseHandler{logger: logger},
	}
}

// RegisterRoutes registers all migration handler routes
func (h *MigrationsHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/migration", func(r chi.Router) {
		r.Use(auth.RequireAuthenticated)
		r.Post("/", h.Migrate)
	})
}

// Migrate handles POST /api/v1/migration
func (h *MigrationsHandler) Migrate(w http.ResponseWriter, r *http.Request) {
	actor := identity.FromContext(r.Context())

	var body struct {
		GuestToken string `json:"guestToken"`
	}
	if !h.decodeBody(w, r, &body) {
		return
	}
	if body.GuestToken == "" {
		h.respondError(w, http.StatusBadRequest, "guestToken is required")
		return
	}

	guestActor, err := h.tokens.ValidateToken(body.GuestToken)
	if err != nil || !guestActor.Guest {
		h.respondError(w, http.StatusBadRequest, "guestToken is not a valid guest token")
		return
	}

	report, err := h.service.Migrate(r.Context(), guestActor.UserID, actor.UserID)
	if err != nil {
		h.logger.Error("guest migration failed",
			zap.String("userId", actor.UserID),
			zap.Error(err),
		)
		h.respondError(w, http.StatusInternalServerError, "failed to migrate guest data")
		return
	}
	h.respondJSON(w, http.StatusOK, report)
}
