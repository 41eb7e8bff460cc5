package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/qrsafety/backend/internal/models"
	"github.com/qrsafety/backend/internal/remote"
)

// CoursesService is the interface that wraps methods for course catalog
// business logic.
type CoursesService interface {
	List(ctx context.Context, forceRefresh bool) ([]models.Course, models.ReadStatus, error)
	ListPage(ctx context.Context, cursor string, pageSize int) (models.CoursePage, error)
	ListByCategory(ctx context.Context, leaf string) ([]models.Course, models.ReadStatus, error)
	GetByID(ctx context.Context, courseID string, forceRefresh bool) (*models.Course, models.ReadStatus, error)
	GetBatch(ctx context.Context, courseIDs []string) ([]models.Course, error)
	ResolveVideo(ctx context.Context, courseID, language string) (models.VideoResolution, error)
	AvailableLanguages(ctx context.Context, courseID string) ([]models.LanguageOption, error)
}

// CoursesHandler handles HTTP requests for the course catalog
type CoursesHandler struct {
	BaseHandler
	service CoursesService
}

// NewCoursesHandler creates a new course handler
func NewCoursesHandler(svc CoursesService, logger *zap.Logger) *CoursesHandler {
	return &CoursesHandler{
		service:     svc,
		BaseHandler: BaseHandler{logger: logger},
	}
}

// RegisterRoutes registers all course handler routes
func (h *CoursesHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/courses", func(r chi.Router) {
		r.Get("/", h.List)
		r.Get("/categories", h.Categories)
		r.Post("/batch", h.GetBatch)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetByID)
			r.Get("/video", h.ResolveVideo)
			r.Get("/languages", h.AvailableLanguages)
		})
	})
}

// List handles GET /api/v1/courses. A category query filters to one leaf
// category; a cursor switches to explicit pagination.
func (h *CoursesHandler) List(w http.ResponseWriter, r *http.Request) {
	if leaf := r.URL.Query().Get("category"); leaf != "" {
		courses, status, err := h.service.ListByCategory(r.Context(), leaf)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.respondJSON(w, http.StatusOK, map[string]any{
			"courses":   courses,
			"fromCache": status.FromCache,
			"degraded":  status.Degraded,
		})
		return
	}

	if cursor := r.URL.Query().Get("cursor"); cursor != "" {
		pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
		page, err := h.service.ListPage(r.Context(), cursor, pageSize)
		if err != nil {
			h.respondError(w, http.StatusInternalServerError, "failed to list courses")
			return
		}
		h.respondJSON(w, http.StatusOK, page)
		return
	}

	forceRefresh := r.URL.Query().Get("refresh") == "true"
	courses, status, err := h.service.List(r.Context(), forceRefresh)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to list courses")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{
		"courses":   courses,
		"fromCache": status.FromCache,
		"degraded":  status.Degraded,
	})
}

// Categories handles GET /api/v1/courses/categories. The taxonomy is fixed
// data, served without touching any tier.
func (h *CoursesHandler) Categories(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]any{
		"main":   models.MainCategories,
		"middle": models.MiddleCategories,
		"leaf":   models.LeafCategories,
	})
}

// GetByID handles GET /api/v1/courses/{id}
func (h *CoursesHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "id")
	forceRefresh := r.URL.Query().Get("refresh") == "true"

	course, status, err := h.service.GetByID(r.Context(), courseID, forceRefresh)
	if err != nil {
		if remote.IsNotFound(err) {
			h.respondError(w, http.StatusNotFound, "course not found")
			return
		}
		h.respondError(w, http.StatusInternalServerError, "failed to get course")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{
		"course":    course,
		"fromCache": status.FromCache,
		"degraded":  status.Degraded,
	})
}

// GetBatch handles POST /api/v1/courses/batch
func (h *CoursesHandler) GetBatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IDs []string `json:"ids"`
	}
	if !h.decodeBody(w, r, &body) {
		return
	}
	if len(body.IDs) == 0 {
		h.respondError(w, http.StatusBadRequest, "ids are required")
		return
	}

	courses, err := h.service.GetBatch(r.Context(), body.IDs)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to fetch courses")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"courses": courses})
}

// ResolveVideo handles GET /api/v1/courses/{id}/video
func (h *CoursesHandler) ResolveVideo(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "id")
	language := r.URL.Query().Get("language")

	resolution, err := h.service.ResolveVideo(r.Context(), courseID, language)
	if err != nil {
		if remote.IsNotFound(err) {
			h.respondError(w, http.StatusNotFound, "course not found")
			return
		}
		h.respondError(w, http.StatusInternalServerError, "failed to resolve video")
		return
	}
	h.respondJSON(w, http.StatusOK, resolution)
}

// AvailableLanguages handles GET /api/v1/courses/{id}/languages
func (h *CoursesHandler) AvailableLanguages(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "id")

	options, err := h.service.AvailableLanguages(r.Context(), courseID)
	if err != nil {
		if remote.IsNotFound(err) {
			h.respondError(w, http.StatusNotFound, "course not found")
			return
		}
		h.respondError(w, http.StatusInternalServerError, "failed to list languages")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"languages": options})
}
