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

// ProgressService is the interface that wraps methods for playback progress
// business logic.
type ProgressService interface {
	Load(ctx context.Context, actor identity.Actor, courseID string) (*models.Progress, error)
	Save(ctx context.Context, actor identity.Actor, courseID string, input models.SaveProgressInput) (models.SaveProgressResult, error)
	LoadAll(ctx context.Context, actor identity.Actor) (map[string]models.Progress, error)
	LoadBatch(ctx context.Context, actor identity.Actor, courseIDs []string) (map[string]models.Progress, error)
	Delete(ctx context.Context, actor identity.Actor, courseID string) error
	Stats(ctx context.Context, actor identity.Actor) (models.ProgressStats, error)
}

// ProgressHandler handles HTTP requests for playback progress
type ProgressHandler struct {
	BaseHandler
	service ProgressService
}

// NewProgressHandler creates a new progress handler
func NewProgressHandler(svc ProgressService, logger *zap.Logger) *ProgressHandler {
	return &ProgressHandler{
		service:     svc,
		BaseHandler: BaseHandler{logger: logger},
	}
}

// RegisterRoutes registers all progress handler routes
func (h *ProgressHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/progress", func(r chi.Router) {
		r.Use(auth.RequireKnownActor)
		r.Get("/", h.LoadAll)
		r.Post("/batch", h.LoadBatch)
		r.Get("/stats", h.Stats)
		r.Route("/{courseId}", func(r chi.Router) {
			r.Get("/", h.Load)
			r.Put("/", h.Save)
			r.Delete("/", h.Delete)
		})
	})
}

// Load handles GET /api/v1/progress/{courseId}
func (h *ProgressHandler) Load(w http.ResponseWriter, r *http.Request) {
	actor := identity.FromContext(r.Context())
	courseID := chi.URLParam(r, "courseId")

	progress, err := h.service.Load(r.Context(), actor, courseID)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to load progress")
		return
	}
	if progress == nil {
		// No heartbeat yet reads as zero progress, not an error
		h.respondJSON(w, http.StatusOK, models.Progress{UserID: actor.UserID, CourseID: courseID})
		return
	}
	h.respondJSON(w, http.StatusOK, progress)
}

// Save handles PUT /api/v1/progress/{courseId}, the playback heartbeat.
func (h *ProgressHandler) Save(w http.ResponseWriter, r *http.Request) {
	actor := identity.FromContext(r.Context())
	courseID := chi.URLParam(r, "courseId")

	var input models.SaveProgressInput
	if !h.decodeBody(w, r, &input) {
		return
	}

	result, err := h.service.Save(r.Context(), actor, courseID, input)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to save progress")
		return
	}
	h.respondJSON(w, http.StatusOK, result)
}

// LoadAll handles GET /api/v1/progress
func (h *ProgressHandler) LoadAll(w http.ResponseWriter, r *http.Request) {
	actor := identity.FromContext(r.Context())

	progress, err := h.service.LoadAll(r.Context(), actor)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to load progress")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"progress": progress})
}

// LoadBatch handles POST /api/v1/progress/batch
func (h *ProgressHandler) LoadBatch(w http.ResponseWriter, r *http.Request) {
	actor := identity.FromContext(r.Context())

	var body struct {
		CourseIDs []string `json:"courseIds"`
	}
	if !h.decodeBody(w, r, &body) {
		return
	}

	progress, err := h.service.LoadBatch(r.Context(), actor, body.CourseIDs)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to load progress")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"progress": progress})
}

// Delete handles DELETE /api/v1/progress/{courseId}
func (h *ProgressHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor := identity.FromContext(r.Context())
	courseID := chi.URLParam(r, "courseId")

	if err := h.service.Delete(r.Context(), actor, courseID); err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to delete progress")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Stats handles GET /api/v1/progress/stats
func (h *ProgressHandler) Stats(w http.ResponseWriter, r *http.Request) {
	actor := identity.FromContext(r.Context())

	stats, err := h.service.Stats(r.Context(), actor)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to build stats")
		return
	}
	h.respondJSON(w, http.StatusOK, stats)
}
