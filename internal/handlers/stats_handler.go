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

// StatsService is the interface that wraps methods for dashboard statistics
// business logic.
type StatsService interface {
	Dashboard(ctx context.Context, actor identity.Actor, forceRefresh bool) (models.DashboardStats, models.ReadStatus, error)
	RecentCourses(ctx context.Context, actor identity.Actor, forceRefresh bool) ([]models.RecentCourse, models.ReadStatus, error)
	Categories(ctx context.Context, actor identity.Actor) ([]models.CategoryStats, error)
}

// StatsHandler handles HTTP requests for the learning dashboard
type StatsHandler struct {
	BaseHandler
	service StatsService
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(svc StatsService, logger *zap.Logger) *StatsHandler {
	return &StatsHandler{
		service:     svc,
		BaseHandler: BaseHandler{logger: logger},
	}
}

// RegisterRoutes registers all stats handler routes
func (h *StatsHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/stats", func(r chi.Router) {
		r.Use(auth.RequireKnownActor)
		r.Get("/dashboard", h.Dashboard)
		r.Get("/recent", h.RecentCourses)
		r.Get("/categories", h.Categories)
	})
}

// Dashboard handles GET /api/v1/stats/dashboard
func (h *StatsHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	actor := identity.FromContext(r.Context())
	forceRefresh := r.URL.Query().Get("refresh") == "true"

	stats, status, err := h.service.Dashboard(r.Context(), actor, forceRefresh)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to build dashboard")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{
		"stats":     stats,
		"fromCache": status.FromCache,
		"degraded":  status.Degraded,
	})
}

// RecentCourses handles GET /api/v1/stats/recent
func (h *StatsHandler) RecentCourses(w http.ResponseWriter, r *http.Request) {
	actor := identity.FromContext(r.Context())
	forceRefresh := r.URL.Query().Get("refresh") == "true"

	recent, status, err := h.service.RecentCourses(r.Context(), actor, forceRefresh)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to list recent courses")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{
		"courses":   recent,
		"fromCache": status.FromCache,
		"degraded":  status.Degraded,
	})
}

// Categories handles GET /api/v1/stats/categories
func (h *StatsHandler) Categories(w http.ResponseWriter, r *http.Request) {
	actor := identity.FromContext(r.Context())

	categories, err := h.service.Categories(r.Context(), actor)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to build category stats")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"categories": categories})
}
