package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/qrsafety/backend/internal/identity"
	"github.com/qrsafety/backend/internal/models"
	"github.com/qrsafety/backend/internal/remote"
	"github.com/qrsafety/backend/internal/syncer"
)

type enrollmentService struct {
	sync   Loader
	store  DocumentStore
	guests GuestBridge
	desc   Descriptors
	logger *zap.Logger
	now    func() time.Time
}

// NewEnrollmentService creates a new enrollment service
func NewEnrollmentService(sync Loader, store DocumentStore, guests GuestBridge, desc Descriptors, logger *zap.Logger) *enrollmentService {
	return &enrollmentService{
		sync:   sync,
		store:  store,
		guests: guests,
		desc:   desc,
		logger: logger,
		now:    time.Now,
	}
}

// ListForUser returns the actor's enrollments. Guest enrollments come from
// the local store only. A denied listing degrades to an empty list with the
// flag set instead of caching the empty list as fresh.
func (s *enrollmentService) ListForUser(ctx context.Context, actor identity.Actor, forceRefresh bool) ([]models.Enrollment, models.ReadStatus, error) {
	if actor.Guest {
		enrollments, err := s.guests.Enrollments(ctx, actor.UserID)
		return enrollments, models.ReadStatus{}, err
	}

	result, err := s.sync.Load(ctx, s.desc.Enrollments, keyEnrollments(actor.UserID), func(ctx context.Context) (any, error) {
		page, err := s.store.FetchMany(ctx, remote.CollectionEnrollments, remote.Query{
			Filters:  map[string]string{"userId": actor.UserID},
			OrderBy:  "enrolledAt",
			Desc:     true,
			PageSize: 500,
		})
		if err != nil {
			return nil, err
		}

		enrollments := make([]models.Enrollment, 0, len(page.Items))
		for _, doc := range page.Items {
			enrollments = append(enrollments, remote.EnrollmentFromDocument(doc))
		}
		return &enrollments, nil
	}, syncer.LoadOptions{ForceRefresh: forceRefresh})
	if err != nil {
		if remote.IsPermissionDenied(err) {
			s.logger.Warn("enrollment listing denied, serving empty list",
				zap.String("userId", actor.UserID),
				zap.Error(err),
			)
			return []models.Enrollment{}, models.ReadStatus{Degraded: true}, nil
		}
		s.logger.Error("failed to list enrollments", zap.String("userId", actor.UserID), zap.Error(err))
		return nil, models.ReadStatus{}, err
	}
	return *result.Value.(*[]models.Enrollment), readStatus(result), nil
}

// Get returns the actor's enrollment for one course, or nil when not
// enrolled.
func (s *enrollmentService) Get(ctx context.Context, actor identity.Actor, courseID string) (*models.Enrollment, error) {
	if actor.Guest {
		return s.guests.Enrollment(ctx, actor.UserID, courseID)
	}

	doc, err := s.store.FetchOne(ctx, remote.CollectionEnrollments, models.EnrollmentKey(actor.UserID, courseID))
	if err != nil {
		if remote.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get enrollment: %w", err)
	}
	enrollment := remote.EnrollmentFromDocument(doc)
	return &enrollment, nil
}

// Enroll enrolls the actor in a course. Enrolling twice returns the existing
// record with AlreadyEnrolled set instead of failing.
func (s *enrollmentService) Enroll(ctx context.Context, actor identity.Actor, courseID, language string, isQRAccess bool) (models.EnrollResult, error) {
	if courseID == "" {
		return models.EnrollResult{}, fmt.Errorf("course id is required")
	}

	// The course must exist before anyone can enroll in it
	if _, err := s.store.FetchOne(ctx, remote.CollectionCourses, courseID); err != nil {
		if remote.IsNotFound(err) {
			return models.EnrollResult{Success: false, Message: "존재하지 않는 강의입니다"}, nil
		}
		return models.EnrollResult{}, fmt.Errorf("failed to check course: %w", err)
	}

	if actor.Guest {
		return s.guests.Enroll(ctx, actor.UserID, courseID, language)
	}

	existing, err := s.Get(ctx, actor, courseID)
	if err != nil {
		return models.EnrollResult{}, err
	}
	if existing != nil {
		return models.EnrollResult{
			Success:         false,
			AlreadyEnrolled: true,
			Message:         "이미 수강 중인 강의입니다",
			EnrollmentID:    existing.ID,
			Enrollment:      existing,
		}, nil
	}

	now := s.now()
	enrollment := models.Enrollment{
		ID:                models.EnrollmentKey(actor.UserID, courseID),
		UserID:            actor.UserID,
		CourseID:          courseID,
		Status:            models.EnrollmentStatusEnrolled,
		PreferredLanguage: language,
		IsQRAccess:        isQRAccess,
		EnrolledAt:        now,
		LastAccessedAt:    now,
	}

	_, err = s.sync.Mutate(ctx, s.desc.Enrollments, keyEnrollments(actor.UserID),
		func(ctx context.Context) (any, error) {
			if err := s.store.Write(ctx, remote.CollectionEnrollments, enrollment.ID, remote.EnrollmentToDocument(enrollment)); err != nil {
				return nil, fmt.Errorf("failed to save enrollment: %w", err)
			}
			return nil, nil
		},
		keyDashboard(actor.UserID), keyRecent(actor.UserID),
	)
	if err != nil {
		s.logger.Error("failed to enroll",
			zap.String("userId", actor.UserID),
			zap.String("courseId", courseID),
			zap.Error(err),
		)
		return models.EnrollResult{}, err
	}

	if isQRAccess {
		s.recordQRAccess(ctx, actor.UserID, courseID, now)
	}

	s.logger.Info("enrolled",
		zap.String("userId", actor.UserID),
		zap.String("courseId", courseID),
		zap.Bool("qrAccess", isQRAccess),
	)
	return models.EnrollResult{
		Success:      true,
		Message:      "수강 신청이 완료되었습니다",
		EnrollmentID: enrollment.ID,
		Enrollment:   &enrollment,
	}, nil
}

// recordQRAccess logs a QR-code enrollment to the access-log collection.
// The write is best effort; a failed log never fails the enrollment.
func (s *enrollmentService) recordQRAccess(ctx context.Context, userID, courseID string, at time.Time) {
	doc := remote.Document{
		"userId":     userID,
		"courseId":   courseID,
		"accessedAt": at.Format(time.RFC3339),
	}
	if err := s.store.Write(ctx, remote.CollectionAccessLogs, uuid.NewString(), doc); err != nil {
		s.logger.Warn("failed to record qr access log",
			zap.String("userId", userID),
			zap.String("courseId", courseID),
			zap.Error(err),
		)
	}
}

// EnrollMany enrolls the actor in several courses. Each course succeeds or
// fails on its own.
func (s *enrollmentService) EnrollMany(ctx context.Context, actor identity.Actor, courseIDs []string, language string) (models.BatchEnrollResult, error) {
	var batch models.BatchEnrollResult
	for _, courseID := range courseIDs {
		result, err := s.Enroll(ctx, actor, courseID, language, false)
		if err != nil {
			batch.Failed = append(batch.Failed, struct {
				CourseID string `json:"courseId"`
				Message  string `json:"message"`
			}{CourseID: courseID, Message: err.Error()})
			continue
		}
		if !result.Success && !result.AlreadyEnrolled {
			batch.Failed = append(batch.Failed, struct {
				CourseID string `json:"courseId"`
				Message  string `json:"message"`
			}{CourseID: courseID, Message: result.Message})
			continue
		}
		batch.Succeeded = append(batch.Succeeded, result)
	}
	return batch, nil
}

// RecordAccess stamps the enrollment's last access and adds study time.
func (s *enrollmentService) RecordAccess(ctx context.Context, actor identity.Actor, courseID string, studyMinutes int) error {
	if actor.Guest {
		return s.guests.UpdateEnrollment(ctx, actor.UserID, courseID, func(e *models.Enrollment) {
			e.StudyTimeMinutes += studyMinutes
		})
	}

	id := models.EnrollmentKey(actor.UserID, courseID)
	existing, err := s.Get(ctx, actor, courseID)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("enrollment not found for course %s", courseID)
	}

	doc := remote.Document{
		"lastAccessedAt": s.now().Format(time.RFC3339),
		"studyTime":      existing.StudyTimeMinutes + studyMinutes,
	}
	_, err = s.sync.Mutate(ctx, s.desc.Enrollments, keyEnrollments(actor.UserID),
		func(ctx context.Context) (any, error) {
			if err := s.store.Write(ctx, remote.CollectionEnrollments, id, doc); err != nil {
				return nil, fmt.Errorf("failed to record access: %w", err)
			}
			return nil, nil
		},
		keyRecent(actor.UserID),
	)
	return err
}

// Complete marks the actor's enrollment completed. Completing an already
// completed enrollment is a no-op.
func (s *enrollmentService) Complete(ctx context.Context, actor identity.Actor, courseID string) error {
	now := s.now()

	if actor.Guest {
		return s.guests.UpdateEnrollment(ctx, actor.UserID, courseID, func(e *models.Enrollment) {
			if e.Status != models.EnrollmentStatusCompleted {
				e.Status = models.EnrollmentStatusCompleted
				e.Progress = 100
				e.CompletedAt = &now
			}
		})
	}

	existing, err := s.Get(ctx, actor, courseID)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("enrollment not found for course %s", courseID)
	}
	if existing.Status == models.EnrollmentStatusCompleted {
		return nil
	}

	doc := remote.Document{
		"status":      models.EnrollmentStatusCompleted,
		"progress":    100,
		"completedAt": now.Format(time.RFC3339),
	}
	_, err = s.sync.Mutate(ctx, s.desc.Enrollments, keyEnrollments(actor.UserID),
		func(ctx context.Context) (any, error) {
			if err := s.store.Write(ctx, remote.CollectionEnrollments, existing.ID, doc); err != nil {
				return nil, fmt.Errorf("failed to complete enrollment: %w", err)
			}
			return nil, nil
		},
		keyDashboard(actor.UserID), keyRecent(actor.UserID),
	)
	if err != nil {
		s.logger.Error("failed to complete enrollment",
			zap.String("userId", actor.UserID),
			zap.String("courseId", courseID),
			zap.Error(err),
		)
	}
	return err
}

// Cancel removes the actor's enrollment and soft-deletes its progress.
func (s *enrollmentService) Cancel(ctx context.Context, actor identity.Actor, courseID string) error {
	if actor.Guest {
		return s.guests.Cancel(ctx, actor.UserID, courseID)
	}

	id := models.EnrollmentKey(actor.UserID, courseID)
	_, err := s.sync.Mutate(ctx, s.desc.Enrollments, keyEnrollments(actor.UserID),
		func(ctx context.Context) (any, error) {
			if err := s.store.Delete(ctx, remote.CollectionEnrollments, id); err != nil {
				return nil, fmt.Errorf("failed to cancel enrollment: %w", err)
			}
			// Progress is kept but flagged so history survives the cancel
			if err := s.store.Write(ctx, remote.CollectionProgress, id, remote.Document{"deleted": true}); err != nil {
				s.logger.Warn("failed to flag progress after cancel",
					zap.String("id", id),
					zap.Error(err),
				)
			}
			return nil, nil
		},
		keyProgress(actor.UserID, courseID), keyDashboard(actor.UserID), keyRecent(actor.UserID),
	)
	if err != nil {
		s.logger.Error("failed to cancel enrollment",
			zap.String("userId", actor.UserID),
			zap.String("courseId", courseID),
			zap.Error(err),
		)
	}
	return err
}

// Stats rolls up the actor's enrollments.
func (s *enrollmentService) Stats(ctx context.Context, actor identity.Actor) (models.EnrollmentStats, error) {
	enrollments, _, err := s.ListForUser(ctx, actor, false)
	if err != nil {
		return models.EnrollmentStats{}, err
	}

	var stats models.EnrollmentStats
	for _, e := range enrollments {
		stats.Total++
		stats.TotalStudyTime += e.StudyTimeMinutes
		switch {
		case e.Completed():
			stats.Completed++
		case e.Progress > 0:
			stats.InProgress++
		default:
			stats.NotStarted++
		}
	}
	return stats, nil
}
