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

// EnrollmentsService is the interface that wraps methods for enrollment
// business logic. Every method dispatches internally on the actor's guest
// flag.
type EnrollmentsService interface {
	ListForUser(ctx context.Context, actor identity.Actor, forceRefresh bool) ([]models.Enrollment, models.ReadStatus, error)
	Get(ctx context.Context, actor identity.Actor, courseID string) (*models.Enrollment, error)
	Enroll(ctx context.Context, actor identity.Actor, courseID, language string, isQRAccess bool) (models.EnrollResult, error)
	EnrollMany(ctx context.Context, actor identity.Actor, courseIDs []string, language string) (models.BatchEnrollResult, error)
	RecordAccess(ctx context.Context, actor identity.Actor, courseID string, studyMinutes int) error
	Complete(ctx context.Context, actor identity.Actor, courseID string) error
	Cancel(ctx context.Context, actor identity.Actor, courseID string) error
	Stats(ctx context.Context, actor identity.Actor) (models.EnrollmentStats, error)
}

// EnrollmentsHandler handles HTTP requests for enrollments
type EnrollmentsHandler struct {
	BaseHandler
	service EnrollmentsService
}

// NewEnrollmentsHandler creates a new enrollment handler
func NewEnrollmentsHandler(svc EnrollmentsService, logger *zap.Logger) *EnrollmentsHandler {
	return &EnrollmentsHandler{
		service:     svc,
		BaseHandler: BaseHandler{logger: logger},
	}
}

// RegisterRoutes registers all enrollment handler routes. Every route needs
// a resolved actor; guests qualify.
func (h *EnrollmentsHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/enrollments", func(r chi.Router) {
		r.Use(auth.RequireKnownActor)
		r.Get("/", h.List)
		r.Post("/", h.Enroll)
		r.Post("/batch", h.EnrollMany)
		r.Get("/stats", h.Stats)
		r.Route("/{courseId}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Delete("/", h.Cancel)
			r.Post("/complete", h.Complete)
			r.Post("/access", h.RecordAccess)
		})
	})
}

// List handles GET /api/v1/enrollments
func (h *EnrollmentsHandler) List(w http.ResponseWriter, r *http.Request) {
	actor := identity.FromContext(r.Context())
	forceRefresh := r.URL.Query().Get("refresh") == "true"

	enrollments, status, err := h.service.ListForUser(r.Context(), actor, forceRefresh)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to list enrollments")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{
		"enrollments": enrollments,
		"fromCache":   status.FromCache,
		"degraded":    status.Degraded,
	})
}

// Get handles GET /api/v1/enrollments/{courseId}
func (h *EnrollmentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor := identity.FromContext(r.Context())
	courseID := chi.URLParam(r, "courseId")

	enrollment, err := h.service.Get(r.Context(), actor, courseID)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to get enrollment")
		return
	}
	if enrollment == nil {
		h.respondError(w, http.StatusNotFound, "not enrolled")
		return
	}
	h.respondJSON(w, http.StatusOK, enrollment)
}

// Enroll handles POST /api/v1/enrollments
func (h *EnrollmentsHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	actor := identity.FromContext(r.Context())

	var body struct {
		CourseID string `json:"courseId"`
		Language string `json:"language"`
		QRAccess bool   `json:"qrAccess"`
	}
	if !h.decodeBody(w, r, &body) {
		return
	}
	if body.CourseID == "" {
		h.respondError(w, http.StatusBadRequest, "courseId is required")
		return
	}

	result, err := h.service.Enroll(r.Context(), actor, body.CourseID, body.Language, body.QRAccess)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to enroll")
		return
	}

	status := http.StatusCreated
	if !result.Success {
		// Duplicate or rejected enrollments are application outcomes
		status = http.StatusOK
	}
	h.respondJSON(w, status, result)
}

// EnrollMany handles POST /api/v1/enrollments/batch
func (h *EnrollmentsHandler) EnrollMany(w http.ResponseWriter, r *http.Request) {
	actor := identity.FromContext(r.Context())

	var body struct {
		CourseIDs []string `json:"courseIds"`
		Language  string   `json:"language"`
	}
	if !h.decodeBody(w, r, &body) {
		return
	}
	if len(body.CourseIDs) == 0 {
		h.respondError(w, http.StatusBadRequest, "courseIds are required")
		return
	}

	batch, err := h.service.EnrollMany(r.Context(), actor, body.CourseIDs, body.Language)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to enroll")
		return
	}
	h.respondJSON(w, http.StatusOK, batch)
}

// RecordAccess handles POST /api/v1/enrollments/{courseId}/access
func (h *EnrollmentsHandler) RecordAccess(w http.ResponseWriter, r *http.Request) {
	actor := identity.FromContext(r.Context())
	courseID := chi.URLParam(r, "courseId")

	var body struct {
		StudyMinutes int `json:"studyMinutes"`
	}
	if !h.decodeBody(w, r, &body) {
		return
	}

	if err := h.service.RecordAccess(r.Context(), actor, courseID, body.StudyMinutes); err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to record access")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Complete handles POST /api/v1/enrollments/{courseId}/complete
func (h *EnrollmentsHandler) Complete(w http.ResponseWriter, r *http.Request) {
	actor := identity.FromContext(r.Context())
	courseID := chi.URLParam(r, "courseId")

	if err := h.service.Complete(r.Context(), actor, courseID); err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to complete enrollment")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Cancel handles DELETE /api/v1/enrollments/{courseId}
func (h *EnrollmentsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor := identity.FromContext(r.Context())
	courseID := chi.URLParam(r, "courseId")

	if err := h.service.Cancel(r.Context(), actor, courseID); err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to cancel enrollment")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Stats handles GET /api/v1/enrollments/stats
func (h *EnrollmentsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	actor := identity.FromContext(r.Context())

	stats, err := h.service.Stats(r.Context(), actor)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to build stats")
		return
	}
	h.respondJSON(w, http.StatusOK, stats)
}
