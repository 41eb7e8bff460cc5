package guest

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/qrsafety/backend/internal/localstore"
	"github.com/qrsafety/backend/internal/models"
	"github.com/qrsafety/backend/internal/remote"
)

type fakeStore struct {
	mu          sync.Mutex
	entries     map[string][]byte
	failSetKeys map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[string][]byte), failSetKeys: make(map[string]bool)}
}

func (f *fakeStore) GetJSON(_ context.Context, namespace, key string, dest any) (localstore.Entry, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.entries[namespace+"|"+key]
	if !ok {
		return localstore.Entry{}, false, nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return localstore.Entry{}, false, err
	}
	return localstore.Entry{Value: raw, StoredAt: time.Now()}, true, nil
}

func (f *fakeStore) Set(_ context.Context, namespace, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSetKeys[key] {
		return errors.New("store write failed")
	}
	f.entries[namespace+"|"+key] = raw
	return nil
}

func (f *fakeStore) Remove(_ context.Context, namespace, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, namespace+"|"+key)
	return nil
}

func (f *fakeStore) RemoveAll(_ context.Context, namespace, prefix string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k := range f.entries {
		if strings.HasPrefix(k, namespace+"|"+prefix) {
			delete(f.entries, k)
		}
	}
	return nil
}

func (f *fakeStore) Keys(_ context.Context, namespace, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.entries {
		if strings.HasPrefix(k, namespace+"|"+prefix) {
			keys = append(keys, strings.TrimPrefix(k, namespace+"|"))
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (f *fakeStore) has(namespace, key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entries[namespace+"|"+key]
	return ok
}

type fakeRemote struct {
	mu      sync.Mutex
	docs    map[string]remote.Document
	failIDs map[string]bool
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{docs: make(map[string]remote.Document), failIDs: make(map[string]bool)}
}

func (f *fakeRemote) FetchOne(_ context.Context, collection, id string) (remote.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[collection+"/"+id]
	if !ok {
		return nil, &remote.Error{Op: "fetch", Collection: collection, Err: remote.ErrNotFound}
	}
	return doc, nil
}

func (f *fakeRemote) Write(_ context.Context, collection, id string, doc remote.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failIDs[id] {
		return errors.New("remote write failed")
	}
	f.docs[collection+"/"+id] = doc
	return nil
}

func setupBridge() (*Bridge, *fakeStore, *fakeRemote) {
	store := newFakeStore()
	rem := newFakeRemote()
	return NewBridge(store, rem, zap.NewNop()), store, rem
}

func TestBridge_EnrollAndList(t *testing.T) {
	b, _, _ := setupBridge()
	ctx := context.Background()

	result, err := b.Enroll(ctx, "g1", "c1", "ko")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "g1_c1", result.EnrollmentID)

	// Re-enrolling is reported, not duplicated
	again, err := b.Enroll(ctx, "g1", "c1", "ko")
	require.NoError(t, err)
	assert.False(t, again.Success)
	assert.True(t, again.AlreadyEnrolled)

	_, err = b.Enroll(ctx, "g1", "c2", "en")
	require.NoError(t, err)

	enrollments, err := b.Enrollments(ctx, "g1")
	require.NoError(t, err)
	assert.Len(t, enrollments, 2)

	// Another guest sees nothing
	other, err := b.Enrollments(ctx, "g2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestBridge_SaveProgressNeverRegresses(t *testing.T) {
	b, _, _ := setupBridge()
	ctx := context.Background()

	_, err := b.Enroll(ctx, "g1", "c1", "ko")
	require.NoError(t, err)

	result, err := b.SaveProgress(ctx, "g1", "c1", models.SaveProgressInput{Percent: 60, CurrentTime: 300, Duration: 500})
	require.NoError(t, err)
	assert.Equal(t, 60, result.Progress)

	// A lower heartbeat keeps the committed percent
	result, err = b.SaveProgress(ctx, "g1", "c1", models.SaveProgressInput{Percent: 40, CurrentTime: 200, Duration: 500})
	require.NoError(t, err)
	assert.Equal(t, 60, result.Progress)

	progress, err := b.LoadProgress(ctx, "g1", "c1")
	require.NoError(t, err)
	require.NotNil(t, progress)
	assert.Equal(t, 60, progress.Percent)
	assert.Equal(t, float64(200), progress.LastWatchedTime, "playback position may move backward")
}

func TestBridge_SaveProgressCompletesEnrollment(t *testing.T) {
	b, _, _ := setupBridge()
	ctx := context.Background()

	_, err := b.Enroll(ctx, "g1", "c1", "ko")
	require.NoError(t, err)

	result, err := b.SaveProgress(ctx, "g1", "c1", models.SaveProgressInput{Percent: 100, Duration: 500})
	require.NoError(t, err)
	assert.True(t, result.IsCompleted)

	enrollment, err := b.Enrollment(ctx, "g1", "c1")
	require.NoError(t, err)
	require.NotNil(t, enrollment)
	assert.Equal(t, models.EnrollmentStatusCompleted, enrollment.Status)
	assert.NotNil(t, enrollment.CompletedAt)
}

func TestBridge_SaveProgressSurvivesEnrollmentSyncFailure(t *testing.T) {
	b, store, _ := setupBridge()
	ctx := context.Background()

	_, err := b.Enroll(ctx, "g1", "c1", "ko")
	require.NoError(t, err)
	store.failSetKeys[enrollmentKey("g1", "c1")] = true

	result, err := b.SaveProgress(ctx, "g1", "c1", models.SaveProgressInput{Percent: 40})

	require.NoError(t, err, "the enrollment sync is best effort")
	assert.True(t, result.Success)
	progress, err := b.LoadProgress(ctx, "g1", "c1")
	require.NoError(t, err)
	require.NotNil(t, progress)
	assert.Equal(t, 40, progress.Percent)
}

func TestBridge_SaveProgressClampsPercent(t *testing.T) {
	b, _, _ := setupBridge()
	ctx := context.Background()

	result, err := b.SaveProgress(ctx, "g1", "c1", models.SaveProgressInput{Percent: 150})
	require.NoError(t, err)
	assert.Equal(t, 100, result.Progress)

	result, err = b.SaveProgress(ctx, "g1", "c2", models.SaveProgressInput{Percent: -5})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Progress)
}

func TestBridge_Cancel(t *testing.T) {
	b, store, _ := setupBridge()
	ctx := context.Background()

	_, err := b.Enroll(ctx, "g1", "c1", "ko")
	require.NoError(t, err)
	_, err = b.SaveProgress(ctx, "g1", "c1", models.SaveProgressInput{Percent: 30})
	require.NoError(t, err)

	require.NoError(t, b.Cancel(ctx, "g1", "c1"))

	assert.False(t, store.has(Namespace, "g1:enrollment:c1"))
	assert.False(t, store.has(Namespace, "g1:progress:c1"))
}

func TestBridge_Migrate(t *testing.T) {
	b, store, rem := setupBridge()
	ctx := context.Background()

	_, err := b.Enroll(ctx, "g1", "c1", "ko")
	require.NoError(t, err)
	_, err = b.SaveProgress(ctx, "g1", "c1", models.SaveProgressInput{Percent: 70, CurrentTime: 400, Duration: 600})
	require.NoError(t, err)
	_, err = b.Enroll(ctx, "g1", "c2", "en")
	require.NoError(t, err)

	report, err := b.Migrate(ctx, "g1", "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Migrated)
	assert.Empty(t, report.Failed)

	// Remote now holds the records under the account's keys
	enrollmentDoc, err := rem.FetchOne(ctx, remote.CollectionEnrollments, "u1_c1")
	require.NoError(t, err)
	assert.Equal(t, "u1", enrollmentDoc["userId"])
	assert.Equal(t, "u1_c1", enrollmentDoc["id"])

	progressDoc, err := rem.FetchOne(ctx, remote.CollectionProgress, "u1_c1")
	require.NoError(t, err)
	assert.Equal(t, "u1", progressDoc["userId"])

	// Migrated guest records are gone
	assert.False(t, store.has(Namespace, "g1:enrollment:c1"))
	assert.False(t, store.has(Namespace, "g1:progress:c1"))
	assert.False(t, store.has(Namespace, "g1:enrollment:c2"))
}

func TestBridge_MigrateSkipsExistingRemoteEnrollment(t *testing.T) {
	b, store, rem := setupBridge()
	ctx := context.Background()

	rem.docs[remote.CollectionEnrollments+"/u1_c1"] = remote.Document{
		"id": "u1_c1", "userId": "u1", "courseId": "c1", "progress": float64(90),
	}

	_, err := b.Enroll(ctx, "g1", "c1", "ko")
	require.NoError(t, err)

	report, err := b.Migrate(ctx, "g1", "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, report.Migrated)
	assert.Equal(t, 1, report.AlreadyExisting)

	// The remote record is untouched and the guest copy is cleaned up
	doc, err := rem.FetchOne(ctx, remote.CollectionEnrollments, "u1_c1")
	require.NoError(t, err)
	assert.Equal(t, float64(90), doc["progress"])
	assert.False(t, store.has(Namespace, "g1:enrollment:c1"))
}

func TestBridge_MigrateKeepsFailedCoursesForRetry(t *testing.T) {
	b, store, rem := setupBridge()
	ctx := context.Background()

	_, err := b.Enroll(ctx, "g1", "c1", "ko")
	require.NoError(t, err)
	_, err = b.Enroll(ctx, "g1", "c2", "ko")
	require.NoError(t, err)
	rem.failIDs["u1_c2"] = true

	report, err := b.Migrate(ctx, "g1", "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Migrated)
	assert.Equal(t, []string{"c2"}, report.Failed)

	// The failed course stays locally so a retry can pick it up
	assert.True(t, store.has(Namespace, "g1:enrollment:c2"))
	assert.False(t, store.has(Namespace, "g1:enrollment:c1"))

	// Retrying after the remote recovers migrates the remainder
	rem.failIDs["u1_c2"] = false
	report, err = b.Migrate(ctx, "g1", "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Migrated)
	assert.Empty(t, report.Failed)
}
