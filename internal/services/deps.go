// Package services implements the application's business operations over the
// tiered synchronization pipeline, the remote document store and the guest
// bridge.
package services

import (
	"context"

	"github.com/qrsafety/backend/internal/guest"
	"github.com/qrsafety/backend/internal/models"
	"github.com/qrsafety/backend/internal/remote"
	"github.com/qrsafety/backend/internal/syncer"
)

// Loader is the tiered read/write pipeline consumed by the services.
type Loader interface {
	Load(ctx context.Context, desc syncer.Descriptor, key string, fetch syncer.Fetch, opts syncer.LoadOptions) (syncer.Result, error)
	Mutate(ctx context.Context, desc syncer.Descriptor, key string, apply func(ctx context.Context) (any, error), derived ...string) (any, error)
	Invalidate(ctx context.Context, desc syncer.Descriptor, key string)
	InvalidatePrefix(ctx context.Context, namespace, prefix string)
}

// readStatus maps a pipeline result onto the flags a caller sees.
func readStatus(result syncer.Result) models.ReadStatus {
	return models.ReadStatus{
		FromCache: result.Source != syncer.SourceRemote,
		Degraded:  result.Degraded,
	}
}

// DocumentStore is the remote document store surface consumed by the
// services.
type DocumentStore interface {
	FetchOne(ctx context.Context, collection, id string) (remote.Document, error)
	FetchMany(ctx context.Context, collection string, query remote.Query) (remote.Page, error)
	FetchBatch(ctx context.Context, collection string, ids []string) ([]remote.Document, error)
	FetchSub(ctx context.Context, collection, id, sub string) ([]remote.Document, error)
	AppendSub(ctx context.Context, collection, id, sub string, doc remote.Document) error
	Write(ctx context.Context, collection, id string, doc remote.Document) error
	Delete(ctx context.Context, collection, id string) error
}

// GuestBridge is the guest data surface consumed by the services. Guest
// reads and writes never touch the remote store.
type GuestBridge interface {
	Enrollments(ctx context.Context, guestID string) ([]models.Enrollment, error)
	Enrollment(ctx context.Context, guestID, courseID string) (*models.Enrollment, error)
	Enroll(ctx context.Context, guestID, courseID, language string) (models.EnrollResult, error)
	UpdateEnrollment(ctx context.Context, guestID, courseID string, fn func(*models.Enrollment)) error
	Cancel(ctx context.Context, guestID, courseID string) error
	SaveProgress(ctx context.Context, guestID, courseID string, input models.SaveProgressInput) (models.SaveProgressResult, error)
	LoadProgress(ctx context.Context, guestID, courseID string) (*models.Progress, error)
	AllProgress(ctx context.Context, guestID string) (map[string]models.Progress, error)
	Migrate(ctx context.Context, guestID, userID string) (guest.MigrationReport, error)
}
