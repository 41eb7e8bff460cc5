package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/qrsafety/backend/internal/guest"
)

type migrationService struct {
	sync   Loader
	guests GuestBridge
	desc   Descriptors
	logger *zap.Logger
}

// NewMigrationService creates a new migration service
func NewMigrationService(sync Loader, guests GuestBridge, desc Descriptors, logger *zap.Logger) *migrationService {
	return &migrationService{
		sync:   sync,
		guests: guests,
		desc:   desc,
		logger: logger,
	}
}

// Migrate moves a guest's local learning data to the given account and
// drops the account's cached views so the next read sees the merged state.
func (s *migrationService) Migrate(ctx context.Context, guestID, userID string) (guest.MigrationReport, error) {
	if guestID == "" || userID == "" {
		return guest.MigrationReport{}, fmt.Errorf("guest id and user id are required")
	}
	if guestID == userID {
		return guest.MigrationReport{}, fmt.Errorf("cannot migrate an identity onto itself")
	}

	report, err := s.guests.Migrate(ctx, guestID, userID)
	if err != nil {
		s.logger.Error("guest migration failed",
			zap.String("guestId", guestID),
			zap.String("userId", userID),
			zap.Error(err),
		)
		return guest.MigrationReport{}, err
	}

	if report.Migrated > 0 {
		s.sync.Invalidate(ctx, s.desc.Enrollments, keyEnrollments(userID))
		s.sync.Invalidate(ctx, s.desc.Dashboard, keyDashboard(userID))
		s.sync.Invalidate(ctx, s.desc.RecentCourses, keyRecent(userID))
		s.sync.InvalidatePrefix(ctx, cacheNamespace, keyProgressPrefix(userID))
	}
	return report, nil
}
