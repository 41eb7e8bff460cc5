package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/qrsafety/backend/internal/identity"
	"github.com/qrsafety/backend/internal/models"
	"github.com/qrsafety/backend/internal/remote"
	"github.com/qrsafety/backend/internal/syncer"
)

// Enroller is the slice of the enrollment service consumed on completion.
type Enroller interface {
	Complete(ctx context.Context, actor identity.Actor, courseID string) error
}

type progressService struct {
	sync        Loader
	store       DocumentStore
	guests      GuestBridge
	enrollments Enroller
	desc        Descriptors
	logger      *zap.Logger
	now         func() time.Time
}

// NewProgressService creates a new progress service
func NewProgressService(sync Loader, store DocumentStore, guests GuestBridge, enrollments Enroller, desc Descriptors, logger *zap.Logger) *progressService {
	return &progressService{
		sync:        sync,
		store:       store,
		guests:      guests,
		enrollments: enrollments,
		desc:        desc,
		logger:      logger,
		now:         time.Now,
	}
}

// Load returns the actor's progress for one course, or nil when no
// heartbeat has been recorded.
func (s *progressService) Load(ctx context.Context, actor identity.Actor, courseID string) (*models.Progress, error) {
	if actor.Guest {
		return s.guests.LoadProgress(ctx, actor.UserID, courseID)
	}

	result, err := s.sync.Load(ctx, s.desc.Progress, keyProgress(actor.UserID, courseID), func(ctx context.Context) (any, error) {
		doc, err := s.store.FetchOne(ctx, remote.CollectionProgress, models.EnrollmentKey(actor.UserID, courseID))
		if err != nil {
			return nil, err
		}
		p := remote.ProgressFromDocument(doc)
		return &p, nil
	}, syncer.LoadOptions{})
	if err != nil {
		if remote.IsNotFound(err) {
			return nil, nil
		}
		s.logger.Error("failed to load progress",
			zap.String("userId", actor.UserID),
			zap.String("courseId", courseID),
			zap.Error(err),
		)
		return nil, err
	}

	p := result.Value.(*models.Progress)
	if p.Deleted {
		return nil, nil
	}
	return p, nil
}

// Save records a playback heartbeat. The percent is clamped to [0, 100] and
// never regresses below the committed value; reaching 100 completes the
// enrollment and refreshes the derived views.
func (s *progressService) Save(ctx context.Context, actor identity.Actor, courseID string, input models.SaveProgressInput) (models.SaveProgressResult, error) {
	if courseID == "" {
		return models.SaveProgressResult{}, fmt.Errorf("course id is required")
	}

	if actor.Guest {
		return s.guests.SaveProgress(ctx, actor.UserID, courseID, input)
	}

	percent := input.Percent
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	existing, err := s.Load(ctx, actor, courseID)
	if err != nil {
		return models.SaveProgressResult{}, err
	}
	if existing != nil && existing.Percent > percent {
		percent = existing.Percent
	}

	now := s.now()
	progress := models.Progress{
		UserID:          actor.UserID,
		CourseID:        courseID,
		Percent:         percent,
		LastWatchedTime: input.CurrentTime,
		DurationSeconds: input.Duration,
		Language:        input.Language,
		Completed:       percent >= 100,
		UpdatedAt:       &now,
	}

	key := models.EnrollmentKey(actor.UserID, courseID)
	derived := []string{keyEnrollments(actor.UserID), keyDashboard(actor.UserID), keyRecent(actor.UserID)}

	_, err = s.sync.Mutate(ctx, s.desc.Progress, keyProgress(actor.UserID, courseID),
		func(ctx context.Context) (any, error) {
			if err := s.store.Write(ctx, remote.CollectionProgress, key, remote.ProgressToDocument(progress)); err != nil {
				return nil, fmt.Errorf("failed to save progress: %w", err)
			}
			return &progress, nil
		},
		derived...,
	)
	if err != nil {
		s.logger.Error("failed to save progress",
			zap.String("userId", actor.UserID),
			zap.String("courseId", courseID),
			zap.Error(err),
		)
		return models.SaveProgressResult{}, err
	}

	if progress.Completed {
		if err := s.enrollments.Complete(ctx, actor, courseID); err != nil {
			// The heartbeat is committed; completion catches up on the next one
			s.logger.Warn("progress completed but enrollment update failed",
				zap.String("userId", actor.UserID),
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

// LoadAll returns the actor's progress records keyed by course ID.
// Soft-deleted records are excluded.
func (s *progressService) LoadAll(ctx context.Context, actor identity.Actor) (map[string]models.Progress, error) {
	if actor.Guest {
		return s.guests.AllProgress(ctx, actor.UserID)
	}

	page, err := s.store.FetchMany(ctx, remote.CollectionProgress, remote.Query{
		Filters:  map[string]string{"userId": actor.UserID},
		PageSize: 500,
	})
	if err != nil {
		if remote.IsPermissionDenied(err) {
			return map[string]models.Progress{}, nil
		}
		s.logger.Error("failed to load all progress", zap.String("userId", actor.UserID), zap.Error(err))
		return nil, fmt.Errorf("failed to load progress: %w", err)
	}

	progress := make(map[string]models.Progress, len(page.Items))
	for _, doc := range page.Items {
		p := remote.ProgressFromDocument(doc)
		if p.Deleted {
			continue
		}
		progress[p.CourseID] = p
	}
	return progress, nil
}

// LoadBatch returns the actor's progress for the given courses.
func (s *progressService) LoadBatch(ctx context.Context, actor identity.Actor, courseIDs []string) (map[string]models.Progress, error) {
	if len(courseIDs) == 0 {
		return map[string]models.Progress{}, nil
	}
	if actor.Guest {
		all, err := s.guests.AllProgress(ctx, actor.UserID)
		if err != nil {
			return nil, err
		}
		batch := make(map[string]models.Progress, len(courseIDs))
		for _, courseID := range courseIDs {
			if p, ok := all[courseID]; ok {
				batch[courseID] = p
			}
		}
		return batch, nil
	}

	ids := make([]string, len(courseIDs))
	for i, courseID := range courseIDs {
		ids[i] = models.EnrollmentKey(actor.UserID, courseID)
	}

	docs, err := s.store.FetchBatch(ctx, remote.CollectionProgress, ids)
	if err != nil {
		s.logger.Error("failed to batch-load progress", zap.String("userId", actor.UserID), zap.Error(err))
		return nil, fmt.Errorf("failed to load progress: %w", err)
	}

	progress := make(map[string]models.Progress, len(docs))
	for i, doc := range docs {
		if doc == nil {
			continue
		}
		p := remote.ProgressFromDocument(doc)
		if p.Deleted {
			continue
		}
		progress[courseIDs[i]] = p
	}
	return progress, nil
}

// Delete soft-deletes the actor's progress for one course. The record stays
// remotely with its Deleted flag set so history is recoverable.
func (s *progressService) Delete(ctx context.Context, actor identity.Actor, courseID string) error {
	if actor.Guest {
		// Guest progress has no retention requirement
		return s.guests.Cancel(ctx, actor.UserID, courseID)
	}

	key := models.EnrollmentKey(actor.UserID, courseID)
	_, err := s.sync.Mutate(ctx, s.desc.Progress, keyProgress(actor.UserID, courseID),
		func(ctx context.Context) (any, error) {
			doc := remote.Document{
				"deleted":   true,
				"updatedAt": s.now().Format(time.RFC3339),
			}
			if err := s.store.Write(ctx, remote.CollectionProgress, key, doc); err != nil {
				return nil, fmt.Errorf("failed to delete progress: %w", err)
			}
			return nil, nil
		},
		keyDashboard(actor.UserID), keyRecent(actor.UserID),
	)
	return err
}

// Stats rolls up the actor's progress records.
func (s *progressService) Stats(ctx context.Context, actor identity.Actor) (models.ProgressStats, error) {
	all, err := s.LoadAll(ctx, actor)
	if err != nil {
		return models.ProgressStats{}, err
	}
	return models.CalculateProgressStats(all), nil
}
