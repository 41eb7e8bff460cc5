// Package guest keeps guest learning data entirely on the local store, so a
// visitor can enroll and watch courses without an account, and migrates that
// data to the remote store once the visitor signs up.
package guest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/qrsafety/backend/internal/localstore"
	"github.com/qrsafety/backend/internal/models"
	"github.com/qrsafety/backend/internal/remote"
)

// Namespace is the local-store namespace holding all guest data. Guest
// records never reach the remote store until migration.
const Namespace = "guest"

// Store is the persistent tier consumed by the bridge.
type Store interface {
	GetJSON(ctx context.Context, namespace, key string, dest any) (localstore.Entry, bool, error)
	Set(ctx context.Context, namespace, key string, value any) error
	Remove(ctx context.Context, namespace, key string) error
	RemoveAll(ctx context.Context, namespace, prefix string) error
	Keys(ctx context.Context, namespace, prefix string) ([]string, error)
}

// Remote is the document store consumed by migration.
type Remote interface {
	FetchOne(ctx context.Context, collection, id string) (remote.Document, error)
	Write(ctx context.Context, collection, id string, doc remote.Document) error
}

// MigrationReport summarizes a guest-to-account migration. Failures are
// per course; a partial migration leaves the failed guest records in place
// for a later retry.
type MigrationReport struct {
	Migrated        int      `json:"migrated"`
	AlreadyExisting int      `json:"alreadyExisting"`
	Failed          []string `json:"failed,omitempty"`
}

// Bridge stores and migrates guest enrollments and progress.
type Bridge struct {
	store  Store
	remote Remote
	logger *zap.Logger
	now    func() time.Time
}

// NewBridge creates a guest bridge over the given tiers.
func NewBridge(store Store, remoteClient Remote, logger *zap.Logger) *Bridge {
	return &Bridge{
		store:  store,
		remote: remoteClient,
		logger: logger,
		now:    time.Now,
	}
}

func enrollmentKey(guestID, courseID string) string {
	return guestID + ":enrollment:" + courseID
}

func progressKey(guestID, courseID string) string {
	return guestID + ":progress:" + courseID
}

// Enrollments lists the guest's enrollments.
func (b *Bridge) Enrollments(ctx context.Context, guestID string) ([]models.Enrollment, error) {
	keys, err := b.store.Keys(ctx, Namespace, guestID+":enrollment:")
	if err != nil {
		return nil, fmt.Errorf("failed to list guest enrollments: %w", err)
	}

	enrollments := make([]models.Enrollment, 0, len(keys))
	for _, key := range keys {
		var e models.Enrollment
		_, ok, err := b.store.GetJSON(ctx, Namespace, key, &e)
		if err != nil {
			b.logger.Warn("skipping unreadable guest enrollment",
				zap.String("key", key),
				zap.Error(err),
			)
			continue
		}
		if ok {
			enrollments = append(enrollments, e)
		}
	}
	return enrollments, nil
}

// Enrollment returns the guest's enrollment for one course.
func (b *Bridge) Enrollment(ctx context.Context, guestID, courseID string) (*models.Enrollment, error) {
	var e models.Enrollment
	_, ok, err := b.store.GetJSON(ctx, Namespace, enrollmentKey(guestID, courseID), &e)
	if err != nil {
		return nil, fmt.Errorf("failed to load guest enrollment: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &e, nil
}

// Enroll records a guest enrollment. Re-enrolling in the same course returns
// the existing record with AlreadyEnrolled set.
func (b *Bridge) Enroll(ctx context.Context, guestID, courseID, language string) (models.EnrollResult, error) {
	existing, err := b.Enrollment(ctx, guestID, courseID)
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

	now := b.now()
	enrollment := models.Enrollment{
		ID:                models.EnrollmentKey(guestID, courseID),
		UserID:            guestID,
		CourseID:          courseID,
		Status:            models.EnrollmentStatusEnrolled,
		PreferredLanguage: language,
		EnrolledAt:        now,
		LastAccessedAt:    now,
	}
	if err := b.store.Set(ctx, Namespace, enrollmentKey(guestID, courseID), enrollment); err != nil {
		return models.EnrollResult{}, fmt.Errorf("failed to save guest enrollment: %w", err)
	}

	return models.EnrollResult{
		Success:      true,
		Message:      "수강 신청이 완료되었습니다",
		EnrollmentID: enrollment.ID,
		Enrollment:   &enrollment,
	}, nil
}

// UpdateEnrollment applies fn to the stored enrollment and saves the result.
func (b *Bridge) UpdateEnrollment(ctx context.Context, guestID, courseID string, fn func(*models.Enrollment)) error {
	existing, err := b.Enrollment(ctx, guestID, courseID)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("guest enrollment not found for course %s", courseID)
	}

	fn(existing)
	existing.LastAccessedAt = b.now()
	if err := b.store.Set(ctx, Namespace, enrollmentKey(guestID, courseID), existing); err != nil {
		return fmt.Errorf("failed to update guest enrollment: %w", err)
	}
	return nil
}

// Cancel removes the guest's enrollment and its progress.
func (b *Bridge) Cancel(ctx context.Context, guestID, courseID string) error {
	if err := b.store.Remove(ctx, Namespace, enrollmentKey(guestID, courseID)); err != nil {
		return fmt.Errorf("failed to remove guest enrollment: %w", err)
	}
	if err := b.store.Remove(ctx, Namespace, progressKey(guestID, courseID)); err != nil {
		return fmt.Errorf("failed to remove guest progress: %w", err)
	}
	return nil
}

// SaveProgress records playback progress for a guest. The stored percent
// never regresses.
func (b *Bridge) SaveProgress(ctx context.Context, guestID, courseID string, input models.SaveProgressInput) (models.SaveProgressResult, error) {
	percent := input.Percent
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	existing, err := b.LoadProgress(ctx, guestID, courseID)
	if err != nil {
		return models.SaveProgressResult{}, err
	}
	if existing != nil && existing.Percent > percent {
		percent = existing.Percent
	}

	now := b.now()
	progress := models.Progress{
		UserID:          guestID,
		CourseID:        courseID,
		Percent:         percent,
		LastWatchedTime: input.CurrentTime,
		DurationSeconds: input.Duration,
		Language:        input.Language,
		Completed:       percent >= 100,
		UpdatedAt:       &now,
	}
	if err := b.store.Set(ctx, Namespace, progressKey(guestID, courseID), progress); err != nil {
		return models.SaveProgressResult{}, fmt.Errorf("failed to save guest progress: %w", err)
	}

	// Keep the enrollment's coarse progress in step when one exists
	if enr, err := b.Enrollment(ctx, guestID, courseID); err == nil && enr != nil {
		err := b.UpdateEnrollment(ctx, guestID, courseID, func(e *models.Enrollment) {
			e.Progress = percent
			if progress.Completed && e.Status != models.EnrollmentStatusCompleted {
				e.Status = models.EnrollmentStatusCompleted
				e.CompletedAt = &now
			}
		})
		if err != nil {
			b.logger.Warn("failed to sync guest enrollment progress",
				zap.String("guestId", guestID),
				zap.String("courseId", courseID),
				zap.Error(err),
			)
		}
	}

	return models.SaveProgressResult{
		Success:     true,
		Progress:    percent,
		IsCompleted: progress.Completed,
	}, nil
}

// LoadProgress returns the guest's progress for one course, or nil.
func (b *Bridge) LoadProgress(ctx context.Context, guestID, courseID string) (*models.Progress, error) {
	var p models.Progress
	_, ok, err := b.store.GetJSON(ctx, Namespace, progressKey(guestID, courseID), &p)
	if err != nil {
		return nil, fmt.Errorf("failed to load guest progress: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// AllProgress returns the guest's progress keyed by course ID.
func (b *Bridge) AllProgress(ctx context.Context, guestID string) (map[string]models.Progress, error) {
	keys, err := b.store.Keys(ctx, Namespace, guestID+":progress:")
	if err != nil {
		return nil, fmt.Errorf("failed to list guest progress: %w", err)
	}

	progress := make(map[string]models.Progress, len(keys))
	for _, key := range keys {
		var p models.Progress
		_, ok, err := b.store.GetJSON(ctx, Namespace, key, &p)
		if err != nil || !ok {
			continue
		}
		progress[p.CourseID] = p
	}
	return progress, nil
}

// Migrate copies the guest's enrollments and progress to the remote store
// under the new user ID. It is best effort: each course migrates
// independently, migrated guest records are deleted, failed ones stay for a
// retry. Courses the user already has remotely are counted but not
// overwritten.
func (b *Bridge) Migrate(ctx context.Context, guestID, userID string) (MigrationReport, error) {
	enrollments, err := b.Enrollments(ctx, guestID)
	if err != nil {
		return MigrationReport{}, err
	}

	var report MigrationReport
	for _, enrollment := range enrollments {
		courseID := enrollment.CourseID

		existing, err := b.remote.FetchOne(ctx, remote.CollectionEnrollments, models.EnrollmentKey(userID, courseID))
		if err != nil && !remote.IsNotFound(err) {
			b.logger.Warn("guest migration: remote lookup failed",
				zap.String("courseId", courseID),
				zap.Error(err),
			)
			report.Failed = append(report.Failed, courseID)
			continue
		}
		if existing != nil {
			report.AlreadyExisting++
			b.cleanup(ctx, guestID, courseID)
			continue
		}

		if err := b.migrateCourse(ctx, guestID, userID, enrollment); err != nil {
			b.logger.Warn("guest migration: course failed",
				zap.String("courseId", courseID),
				zap.Error(err),
			)
			report.Failed = append(report.Failed, courseID)
			continue
		}

		report.Migrated++
		b.cleanup(ctx, guestID, courseID)
	}

	b.logger.Info("guest migration finished",
		zap.String("guestId", guestID),
		zap.String("userId", userID),
		zap.Int("migrated", report.Migrated),
		zap.Int("alreadyExisting", report.AlreadyExisting),
		zap.Int("failed", len(report.Failed)),
	)
	return report, nil
}

func (b *Bridge) migrateCourse(ctx context.Context, guestID, userID string, enrollment models.Enrollment) error {
	enrollment.ID = models.EnrollmentKey(userID, enrollment.CourseID)
	enrollment.UserID = userID
	if err := b.remote.Write(ctx, remote.CollectionEnrollments, enrollment.ID, remote.EnrollmentToDocument(enrollment)); err != nil {
		return fmt.Errorf("failed to migrate enrollment: %w", err)
	}

	progress, err := b.LoadProgress(ctx, guestID, enrollment.CourseID)
	if err != nil {
		return err
	}
	if progress != nil {
		progress.UserID = userID
		key := models.EnrollmentKey(userID, enrollment.CourseID)
		if err := b.remote.Write(ctx, remote.CollectionProgress, key, remote.ProgressToDocument(*progress)); err != nil {
			return fmt.Errorf("failed to migrate progress: %w", err)
		}
	}
	return nil
}

// cleanup drops a migrated course's guest records. Deletion failures only
// log; the migration itself already succeeded.
func (b *Bridge) cleanup(ctx context.Context, guestID, courseID string) {
	if err := b.store.Remove(ctx, Namespace, enrollmentKey(guestID, courseID)); err != nil {
		b.logger.Warn("failed to remove migrated guest enrollment", zap.Error(err))
	}
	if err := b.store.Remove(ctx, Namespace, progressKey(guestID, courseID)); err != nil {
		b.logger.Warn("failed to remove migrated guest progress", zap.Error(err))
	}
}
