package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/qrsafety/backend/internal/identity"
	"github.com/qrsafety/backend/internal/models"
)

type stubEnrollmentLister struct {
	enrollments []models.Enrollment
	status      models.ReadStatus
	err         error
}

func (s *stubEnrollmentLister) ListForUser(context.Context, identity.Actor, bool) ([]models.Enrollment, models.ReadStatus, error) {
	return s.enrollments, s.status, s.err
}

type stubProgressReader struct {
	progress map[string]models.Progress
	err      error
}

func (s *stubProgressReader) LoadAll(context.Context, identity.Actor) (map[string]models.Progress, error) {
	return s.progress, s.err
}

type stubCertificateLister struct {
	certificates []models.Certificate
	status       models.ReadStatus
}

func (s *stubCertificateLister) ListForUser(context.Context, identity.Actor, bool) ([]models.Certificate, models.ReadStatus, error) {
	return s.certificates, s.status, nil
}

type stubCourseBatcher struct {
	courses []models.Course
	asked   []string
}

func (s *stubCourseBatcher) GetBatch(_ context.Context, courseIDs []string) ([]models.Course, error) {
	s.asked = courseIDs
	return s.courses, nil
}

func at(day int) time.Time {
	return time.Date(2026, 6, day, 10, 0, 0, 0, time.UTC)
}

func TestStatsService_Dashboard(t *testing.T) {
	updated := at(20)
	enrollments := &stubEnrollmentLister{enrollments: []models.Enrollment{
		{CourseID: "c1", Status: "completed", Progress: 100, StudyTimeMinutes: 90, LastAccessedAt: at(10)},
		{CourseID: "c2", Status: "enrolled", Progress: 20, StudyTimeMinutes: 45, LastAccessedAt: at(15)},
		{CourseID: "c3", Status: "enrolled", LastAccessedAt: at(5)},
	}}
	progress := &stubProgressReader{progress: map[string]models.Progress{
		// Live progress is ahead of the enrollment's coarse percent
		"c2": {CourseID: "c2", Percent: 50, UpdatedAt: &updated},
	}}
	certificates := &stubCertificateLister{certificates: []models.Certificate{{ID: "cert1"}}}

	svc := NewStatsService(&passthroughLoader{}, enrollments, progress, certificates, &stubCourseBatcher{}, testDescriptors(), zap.NewNop())

	stats, status, err := svc.Dashboard(context.Background(), userActor, false)

	require.NoError(t, err)
	assert.False(t, status.Degraded)
	assert.Equal(t, 3, stats.TotalEnrolled)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 1, stats.InProgress)
	assert.Equal(t, 1, stats.NotStarted)
	assert.Equal(t, 2, stats.TotalHours)
	assert.Equal(t, 1, stats.Certificates)
	assert.Equal(t, 50, stats.AverageProgress, "(100+50+0)/3 with live progress winning")
	assert.Equal(t, 33, stats.CompletionRate)
	require.NotNil(t, stats.LastActivityAt)
	assert.Equal(t, updated, *stats.LastActivityAt, "progress heartbeats count as activity")
}

func TestStatsService_DashboardEmpty(t *testing.T) {
	svc := NewStatsService(&passthroughLoader{}, &stubEnrollmentLister{}, &stubProgressReader{}, &stubCertificateLister{}, &stubCourseBatcher{}, testDescriptors(), zap.NewNop())

	stats, _, err := svc.Dashboard(context.Background(), userActor, false)

	require.NoError(t, err)
	assert.Zero(t, stats.TotalEnrolled)
	assert.Zero(t, stats.AverageProgress)
	assert.Nil(t, stats.LastActivityAt)
}

func TestStatsService_DashboardPropagatesSourceError(t *testing.T) {
	enrollments := &stubEnrollmentLister{err: assert.AnError}
	svc := NewStatsService(&passthroughLoader{}, enrollments, &stubProgressReader{}, &stubCertificateLister{}, &stubCourseBatcher{}, testDescriptors(), zap.NewNop())

	_, _, err := svc.Dashboard(context.Background(), userActor, false)

	assert.ErrorContains(t, err, "failed to load enrollments")
}

func TestStatsService_DashboardDegradedSourcesServedFlagged(t *testing.T) {
	enrollments := &stubEnrollmentLister{
		enrollments: []models.Enrollment{{CourseID: "c1", Progress: 40, LastAccessedAt: at(3)}},
		status:      models.ReadStatus{Degraded: true},
	}
	svc := NewStatsService(&passthroughLoader{}, enrollments, &stubProgressReader{}, &stubCertificateLister{}, &stubCourseBatcher{}, testDescriptors(), zap.NewNop())

	stats, status, err := svc.Dashboard(context.Background(), userActor, false)

	require.NoError(t, err, "a rollup over degraded listings is served, not failed")
	assert.True(t, status.Degraded)
	assert.Equal(t, 1, stats.TotalEnrolled, "the rollup still reflects what the listings returned")
}

func TestStatsService_RecentCourses(t *testing.T) {
	enrollments := &stubEnrollmentLister{enrollments: []models.Enrollment{
		{CourseID: "c1", Progress: 10, LastAccessedAt: at(1)},
		{CourseID: "c2", Progress: 20, LastAccessedAt: at(6)},
		{CourseID: "c3", Progress: 30, LastAccessedAt: at(3)},
		{CourseID: "c4", Progress: 40, LastAccessedAt: at(5)},
		{CourseID: "c5", Progress: 50, LastAccessedAt: at(2)},
		{CourseID: "c6", Progress: 60, LastAccessedAt: at(4)},
	}}
	batcher := &stubCourseBatcher{courses: []models.Course{
		{ID: "c2", Title: "크레인 작업 안전", Category: models.CategoryPath{Main: "기계", Middle: "건설기계", Leaf: "크레인"}, Duration: "20:00"},
	}}
	progress := &stubProgressReader{progress: map[string]models.Progress{
		"c2": {CourseID: "c2", Percent: 35},
	}}

	svc := NewStatsService(&passthroughLoader{}, enrollments, progress, &stubCertificateLister{}, batcher, testDescriptors(), zap.NewNop())

	recent, status, err := svc.RecentCourses(context.Background(), userActor, false)

	require.NoError(t, err)
	assert.False(t, status.Degraded)
	require.Len(t, recent, 5, "the list is capped")
	assert.Equal(t, "c2", recent[0].CourseID, "most recently accessed first")
	assert.Equal(t, "크레인 작업 안전", recent[0].Title)
	assert.Equal(t, "기계 > 건설기계 > 크레인", recent[0].Category)
	assert.Equal(t, 35, recent[0].Progress, "live progress wins over the enrollment percent")
	assert.NotContains(t, batcher.asked, "c1", "the oldest enrollment falls off")
}

func TestStatsService_RecentCoursesDegradedSourcesServedFlagged(t *testing.T) {
	enrollments := &stubEnrollmentLister{
		enrollments: []models.Enrollment{{CourseID: "c1", Progress: 10, LastAccessedAt: at(1)}},
		status:      models.ReadStatus{Degraded: true},
	}
	svc := NewStatsService(&passthroughLoader{}, enrollments, &stubProgressReader{}, &stubCertificateLister{}, &stubCourseBatcher{}, testDescriptors(), zap.NewNop())

	recent, status, err := svc.RecentCourses(context.Background(), userActor, false)

	require.NoError(t, err)
	assert.True(t, status.Degraded)
	require.Len(t, recent, 1)
	assert.Equal(t, "c1", recent[0].CourseID)
}

func TestStatsService_Categories(t *testing.T) {
	enrollments := &stubEnrollmentLister{enrollments: []models.Enrollment{
		{CourseID: "c1", Status: "completed", Progress: 100},
		{CourseID: "c2", Progress: 50},
		{CourseID: "c3"},
	}}
	batcher := &stubCourseBatcher{courses: []models.Course{
		{ID: "c1", Category: models.CategoryPath{Main: "기계"}},
		{ID: "c2", Category: models.CategoryPath{Main: "기계"}},
		// c3 has no course document, so it lands in the uncategorized bucket
	}}

	svc := NewStatsService(&passthroughLoader{}, enrollments, &stubProgressReader{}, &stubCertificateLister{}, batcher, testDescriptors(), zap.NewNop())

	categories, err := svc.Categories(context.Background(), userActor)

	require.NoError(t, err)
	require.Len(t, categories, 2)

	assert.Equal(t, "기계", categories[0].Name)
	assert.Equal(t, 2, categories[0].TotalCourses)
	assert.Equal(t, 1, categories[0].CompletedCourses)
	assert.Equal(t, 1, categories[0].InProgressCourses)
	assert.Equal(t, 75, categories[0].AverageProgress)

	assert.Equal(t, "미분류", categories[1].Name)
	assert.Equal(t, 1, categories[1].TotalCourses)
}
