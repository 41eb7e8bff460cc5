package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/qrsafety/backend/internal/identity"
	"github.com/qrsafety/backend/internal/models"
	"github.com/qrsafety/backend/internal/syncer"
)

// The stats service consumes narrow slices of its sibling services so the
// dashboard works identically for guests and account holders.

// EnrollmentLister lists an actor's enrollments.
type EnrollmentLister interface {
	ListForUser(ctx context.Context, actor identity.Actor, forceRefresh bool) ([]models.Enrollment, models.ReadStatus, error)
}

// ProgressReader reads an actor's progress records.
type ProgressReader interface {
	LoadAll(ctx context.Context, actor identity.Actor) (map[string]models.Progress, error)
}

// CertificateLister lists an actor's certificates.
type CertificateLister interface {
	ListForUser(ctx context.Context, actor identity.Actor, forceRefresh bool) ([]models.Certificate, models.ReadStatus, error)
}

// CourseBatcher fetches courses by ID.
type CourseBatcher interface {
	GetBatch(ctx context.Context, courseIDs []string) ([]models.Course, error)
}

const recentCourseLimit = 5

// errDegradedSources marks a rollup built from degraded listings. It keeps
// the rollup out of the cache tiers; the caller still serves it, flagged.
var errDegradedSources = errors.New("rollup sources degraded")

type statsService struct {
	sync         Loader
	enrollments  EnrollmentLister
	progress     ProgressReader
	certificates CertificateLister
	courses      CourseBatcher
	desc         Descriptors
	logger       *zap.Logger
}

// NewStatsService creates a new stats service
func NewStatsService(sync Loader, enrollments EnrollmentLister, progress ProgressReader, certificates CertificateLister, courses CourseBatcher, desc Descriptors, logger *zap.Logger) *statsService {
	return &statsService{
		sync:         sync,
		enrollments:  enrollments,
		progress:     progress,
		certificates: certificates,
		courses:      courses,
		desc:         desc,
		logger:       logger,
	}
}

// Dashboard returns the actor's learning dashboard rollup through the
// tiered pipeline. The three source listings are fetched concurrently. A
// rollup built from degraded listings is served flagged but never cached.
func (s *statsService) Dashboard(ctx context.Context, actor identity.Actor, forceRefresh bool) (models.DashboardStats, models.ReadStatus, error) {
	var fallback *models.DashboardStats
	result, err := s.sync.Load(ctx, s.desc.Dashboard, keyDashboard(actor.UserID), func(ctx context.Context) (any, error) {
		stats, degraded, err := s.computeDashboard(ctx, actor)
		if err != nil {
			return nil, err
		}
		if degraded {
			fallback = stats
			return nil, errDegradedSources
		}
		return stats, nil
	}, syncer.LoadOptions{ForceRefresh: forceRefresh})
	if err != nil {
		if fallback != nil && errors.Is(err, errDegradedSources) {
			return *fallback, models.ReadStatus{Degraded: true}, nil
		}
		s.logger.Error("failed to build dashboard stats", zap.String("userId", actor.UserID), zap.Error(err))
		return models.DashboardStats{}, models.ReadStatus{}, err
	}
	return *result.Value.(*models.DashboardStats), readStatus(result), nil
}

func (s *statsService) computeDashboard(ctx context.Context, actor identity.Actor) (*models.DashboardStats, bool, error) {
	type enrollmentsResult struct {
		enrollments []models.Enrollment
		status      models.ReadStatus
		err         error
	}
	type progressResult struct {
		progress map[string]models.Progress
		err      error
	}
	type certificatesResult struct {
		count  int
		status models.ReadStatus
		err    error
	}

	enrollmentsCh := make(chan enrollmentsResult, 1)
	progressCh := make(chan progressResult, 1)
	certificatesCh := make(chan certificatesResult, 1)

	go func() {
		enrollments, status, err := s.enrollments.ListForUser(ctx, actor, false)
		enrollmentsCh <- enrollmentsResult{enrollments: enrollments, status: status, err: err}
	}()
	go func() {
		progress, err := s.progress.LoadAll(ctx, actor)
		progressCh <- progressResult{progress: progress, err: err}
	}()
	go func() {
		certs, status, err := s.certificates.ListForUser(ctx, actor, false)
		certificatesCh <- certificatesResult{count: len(certs), status: status, err: err}
	}()

	er := <-enrollmentsCh
	pr := <-progressCh
	cr := <-certificatesCh
	if er.err != nil {
		return nil, false, fmt.Errorf("failed to load enrollments: %w", er.err)
	}
	if pr.err != nil {
		return nil, false, fmt.Errorf("failed to load progress: %w", pr.err)
	}
	if cr.err != nil {
		return nil, false, fmt.Errorf("failed to load certificates: %w", cr.err)
	}
	degraded := er.status.Degraded || cr.status.Degraded

	stats := models.DashboardStats{Certificates: cr.count}
	totalStudyMinutes := 0
	totalPercent := 0
	var lastActivity time.Time

	for _, e := range er.enrollments {
		stats.TotalEnrolled++
		totalStudyMinutes += e.StudyTimeMinutes

		percent := e.Progress
		if p, ok := pr.progress[e.CourseID]; ok && p.Percent > percent {
			percent = p.Percent
		}
		totalPercent += percent

		switch {
		case e.Completed() || percent >= 100:
			stats.Completed++
		case percent > 0:
			stats.InProgress++
		default:
			stats.NotStarted++
		}

		if e.LastAccessedAt.After(lastActivity) {
			lastActivity = e.LastAccessedAt
		}
	}
	for _, p := range pr.progress {
		if p.UpdatedAt != nil && p.UpdatedAt.After(lastActivity) {
			lastActivity = *p.UpdatedAt
		}
	}

	stats.TotalHours = totalStudyMinutes / 60
	if stats.TotalEnrolled > 0 {
		stats.AverageProgress = (totalPercent + stats.TotalEnrolled/2) / stats.TotalEnrolled
		stats.CompletionRate = stats.Completed * 100 / stats.TotalEnrolled
	}
	if !lastActivity.IsZero() {
		stats.LastActivityAt = &lastActivity
	}
	return &stats, degraded, nil
}

// RecentCourses returns the actor's most recently accessed enrollments
// joined with course detail and live progress, through the tiered pipeline.
func (s *statsService) RecentCourses(ctx context.Context, actor identity.Actor, forceRefresh bool) ([]models.RecentCourse, models.ReadStatus, error) {
	var fallback []models.RecentCourse
	result, err := s.sync.Load(ctx, s.desc.RecentCourses, keyRecent(actor.UserID), func(ctx context.Context) (any, error) {
		recent, degraded, err := s.computeRecent(ctx, actor)
		if err != nil {
			return nil, err
		}
		if degraded {
			fallback = recent
			return nil, errDegradedSources
		}
		return &recent, nil
	}, syncer.LoadOptions{ForceRefresh: forceRefresh})
	if err != nil {
		if fallback != nil && errors.Is(err, errDegradedSources) {
			return fallback, models.ReadStatus{Degraded: true}, nil
		}
		s.logger.Error("failed to build recent courses", zap.String("userId", actor.UserID), zap.Error(err))
		return nil, models.ReadStatus{}, err
	}
	return *result.Value.(*[]models.RecentCourse), readStatus(result), nil
}

func (s *statsService) computeRecent(ctx context.Context, actor identity.Actor) ([]models.RecentCourse, bool, error) {
	enrollments, status, err := s.enrollments.ListForUser(ctx, actor, false)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load enrollments: %w", err)
	}
	if len(enrollments) == 0 {
		return []models.RecentCourse{}, status.Degraded, nil
	}

	sort.Slice(enrollments, func(i, j int) bool {
		return enrollments[i].LastAccessedAt.After(enrollments[j].LastAccessedAt)
	})
	if len(enrollments) > recentCourseLimit {
		enrollments = enrollments[:recentCourseLimit]
	}

	courseIDs := make([]string, len(enrollments))
	for i, e := range enrollments {
		courseIDs[i] = e.CourseID
	}

	courses, err := s.courses.GetBatch(ctx, courseIDs)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load courses: %w", err)
	}
	coursesByID := make(map[string]models.Course, len(courses))
	for _, c := range courses {
		coursesByID[c.ID] = c
	}

	progress, err := s.progress.LoadAll(ctx, actor)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load progress: %w", err)
	}

	recent := make([]models.RecentCourse, 0, len(enrollments))
	for _, e := range enrollments {
		entry := models.RecentCourse{
			CourseID:       e.CourseID,
			Progress:       e.Progress,
			Status:         e.Status,
			EnrolledAt:     e.EnrolledAt,
			LastAccessedAt: e.LastAccessedAt,
		}
		if course, ok := coursesByID[e.CourseID]; ok {
			entry.Title = course.Title
			entry.Category = course.Category.CategoryLabel()
			entry.ThumbnailURL = course.ThumbnailURL
			entry.Duration = course.Duration
		}
		if p, ok := progress[e.CourseID]; ok && p.Percent > entry.Progress {
			entry.Progress = p.Percent
		}
		recent = append(recent, entry)
	}
	return recent, status.Degraded, nil
}

// Categories aggregates the actor's learning per main category.
func (s *statsService) Categories(ctx context.Context, actor identity.Actor) ([]models.CategoryStats, error) {
	enrollments, _, err := s.enrollments.ListForUser(ctx, actor, false)
	if err != nil {
		return nil, err
	}
	if len(enrollments) == 0 {
		return []models.CategoryStats{}, nil
	}

	courseIDs := make([]string, len(enrollments))
	for i, e := range enrollments {
		courseIDs[i] = e.CourseID
	}
	courses, err := s.courses.GetBatch(ctx, courseIDs)
	if err != nil {
		return nil, err
	}
	mainByCourse := make(map[string]string, len(courses))
	for _, c := range courses {
		mainByCourse[c.ID] = c.Category.Main
	}

	byMain := make(map[string]*models.CategoryStats)
	percentByMain := make(map[string]int)
	for _, e := range enrollments {
		main := mainByCourse[e.CourseID]
		if main == "" {
			main = "미분류"
		}
		stats, ok := byMain[main]
		if !ok {
			stats = &models.CategoryStats{Name: main}
			byMain[main] = stats
		}
		stats.TotalCourses++
		percentByMain[main] += e.Progress
		switch {
		case e.Completed():
			stats.CompletedCourses++
		case e.Progress > 0:
			stats.InProgressCourses++
		}
	}

	// Fixed taxonomy order first, then anything uncategorized
	ordered := make([]models.CategoryStats, 0, len(byMain))
	appendMain := func(main string) {
		if stats, ok := byMain[main]; ok {
			if stats.TotalCourses > 0 {
				stats.AverageProgress = (percentByMain[main] + stats.TotalCourses/2) / stats.TotalCourses
			}
			ordered = append(ordered, *stats)
			delete(byMain, main)
		}
	}
	for _, main := range models.MainCategories {
		appendMain(main)
	}
	appendMain("미분류")
	return ordered, nil
}
