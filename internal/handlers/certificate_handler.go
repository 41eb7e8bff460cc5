package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/qrsafety/backend/internal/auth"
	"github.com/qrsafety/backend/internal/identity"
	"github.com/qrsafety/backend/internal/models"
)

// CertificatesService is the interface that wraps methods for certificate
// business logic.
type CertificatesService interface {
	Issue(ctx context.Context, actor identity.Actor, input models.IssueCertificateInput) (models.IssueCertificateResult, error)
	GetByID(ctx context.Context, certificateID string) (*models.Certificate, error)
	ListForUser(ctx context.Context, actor identity.Actor, forceRefresh bool) ([]models.Certificate, models.ReadStatus, error)
	Verify(ctx context.Context, token string) (models.VerifyCertificateResult, error)
	Revoke(ctx context.Context, actor identity.Actor, certificateID string) error
	Stats(ctx context.Context, actor identity.Actor) (models.CertificateStats, error)
}

// CertificatesHandler handles HTTP requests for certificates
type CertificatesHandler struct {
	BaseHandler
	service CertificatesService
}

// NewCertificatesHandler creates a new certificate handler
func NewCertificatesHandler(svc CertificatesService, logger *zap.Logger) *CertificatesHandler {
	return &CertificatesHandler{
		service:     svc,
		BaseHandler: BaseHandler{logger: logger},
	}
}

// RegisterRoutes registers all certificate handler routes. Verification is
// public so a scanned QR code works without any identity; everything else
// needs a registered account.
func (h *CertificatesHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/certificates", func(r chi.Router) {
		r.Get("/verify/{token}", h.Verify)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuthenticated)
			r.Get("/", h.List)
			r.Post("/", h.Issue)
			r.Get("/stats", h.Stats)
			r.Get("/{id}", h.GetByID)
			r.Post("/{id}/revoke", h.Revoke)
		})
	})
}

// Issue handles POST /api/v1/certificates
func (h *CertificatesHandler) Issue(w http.ResponseWriter, r *http.Request) {
	actor := identity.FromContext(r.Context())

	var input models.IssueCertificateInput
	if !h.decodeBody(w, r, &input) {
		return
	}
	if input.CourseID == "" {
		h.respondError(w, http.StatusBadRequest, "courseId is required")
		return
	}

	result, err := h.service.Issue(r.Context(), actor, input)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to issue certificate")
		return
	}

	status := http.StatusCreated
	if !result.Success {
		status = http.StatusOK
	}
	h.respondJSON(w, status, result)
}

// List handles GET /api/v1/certificates
func (h *CertificatesHandler) List(w http.ResponseWriter, r *http.Request) {
	actor := identity.FromContext(r.Context())
	forceRefresh := r.URL.Query().Get("refresh") == "true"

	certificates, status, err := h.service.ListForUser(r.Context(), actor, forceRefresh)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to list certificates")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{
		"certificates": certificates,
		"fromCache":    status.FromCache,
		"degraded":     status.Degraded,
	})
}

// GetByID handles GET /api/v1/certificates/{id}
func (h *CertificatesHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	actor := identity.FromContext(r.Context())
	certificateID := chi.URLParam(r, "id")

	certificate, err := h.service.GetByID(r.Context(), certificateID)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to get certificate")
		return
	}
	if certificate == nil || certificate.UserID != actor.UserID {
		h.respondError(w, http.StatusNotFound, "certificate not found")
		return
	}
	h.respondJSON(w, http.StatusOK, certificate)
}

// Verify handles GET /api/v1/certificates/verify/{token}
func (h *CertificatesHandler) Verify(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	result, err := h.service.Verify(r.Context(), token)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to verify certificate")
		return
	}
	h.respondJSON(w, http.StatusOK, result)
}

// Revoke handles POST /api/v1/certificates/{id}/revoke
func (h *CertificatesHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	actor := identity.FromContext(r.Context())
	certificateID := chi.URLParam(r, "id")

	if err := h.service.Revoke(r.Context(), actor, certificateID); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Stats handles GET /api/v1/certificates/stats
func (h *CertificatesHandler) Stats(w http.ResponseWriter, r *http.Request) {
	actor := identity.FromContext(r.Context())

	stats, err := h.service.Stats(r.Context(), actor)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to build stats")
		return
	}
	h.respondJSON(w, http.StatusOK, stats)
}
