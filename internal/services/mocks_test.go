package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/qrsafety/backend/internal/config"
	"github.com/qrsafety/backend/internal/guest"
	"github.com/qrsafety/backend/internal/models"
	"github.com/qrsafety/backend/internal/remote"
	"github.com/qrsafety/backend/internal/syncer"
)

// passthroughLoader runs every Load fetch and Mutate apply directly and
// records invalidations, so service tests exercise business logic without a
// real tiered pipeline.
type passthroughLoader struct {
	mu          sync.Mutex
	loads       []string
	mutations   []string
	invalidated []string

	// source and degraded override the reported Result when set, standing in
	// for a pipeline that served a cached or stale copy.
	source   syncer.Source
	degraded bool
}

func (l *passthroughLoader) Load(ctx context.Context, desc syncer.Descriptor, key string, fetch syncer.Fetch, opts syncer.LoadOptions) (syncer.Result, error) {
	l.mu.Lock()
	l.loads = append(l.loads, key)
	l.mu.Unlock()

	value, err := fetch(ctx)
	if err != nil {
		return syncer.Result{}, err
	}
	source := l.source
	if source == "" {
		source = syncer.SourceRemote
	}
	return syncer.Result{Value: value, Source: source, Degraded: l.degraded}, nil
}

func (l *passthroughLoader) Mutate(ctx context.Context, desc syncer.Descriptor, key string, apply func(ctx context.Context) (any, error), derived ...string) (any, error) {
	value, err := apply(ctx)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.mutations = append(l.mutations, key)
	l.invalidated = append(l.invalidated, derived...)
	l.mu.Unlock()
	return value, nil
}

func (l *passthroughLoader) Invalidate(ctx context.Context, desc syncer.Descriptor, key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.invalidated = append(l.invalidated, key)
}

func (l *passthroughLoader) InvalidatePrefix(ctx context.Context, namespace, prefix string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.invalidated = append(l.invalidated, prefix)
}

func (l *passthroughLoader) didInvalidate(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, k := range l.invalidated {
		if k == key {
			return true
		}
	}
	return false
}

// fakeDocStore is an in-memory DocumentStore with equality filters and
// merge-on-write semantics.
type fakeDocStore struct {
	mu       sync.Mutex
	docs     map[string]remote.Document
	subs     map[string][]remote.Document
	writeErr error
	fetchErr error
}

func newFakeDocStore() *fakeDocStore {
	return &fakeDocStore{
		docs: make(map[string]remote.Document),
		subs: make(map[string][]remote.Document),
	}
}

func (f *fakeDocStore) seed(collection, id string, doc remote.Document) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc["id"] = id
	f.docs[collection+"/"+id] = doc
}

func (f *fakeDocStore) get(collection, id string) remote.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.docs[collection+"/"+id]
}

func (f *fakeDocStore) FetchOne(_ context.Context, collection, id string) (remote.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	doc, ok := f.docs[collection+"/"+id]
	if !ok {
		return nil, &remote.Error{Op: "fetch", Collection: collection, Err: remote.ErrNotFound}
	}
	return doc, nil
}

func (f *fakeDocStore) FetchMany(_ context.Context, collection string, query remote.Query) (remote.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return remote.Page{}, f.fetchErr
	}

	var items []remote.Document
	for key, doc := range f.docs {
		if !strings.HasPrefix(key, collection+"/") {
			continue
		}
		match := true
		for field, want := range query.Filters {
			if docFilterValue(doc, field) != want {
				match = false
				break
			}
		}
		if match {
			items = append(items, doc)
		}
	}
	return remote.Page{Items: items}, nil
}

// docFilterValue resolves a possibly dotted filter field to a string.
func docFilterValue(doc remote.Document, field string) string {
	parts := strings.Split(field, ".")
	var current any = map[string]any(doc)
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return ""
		}
		current = m[part]
	}
	if s, ok := current.(string); ok {
		return s
	}
	return ""
}

func (f *fakeDocStore) FetchBatch(_ context.Context, collection string, ids []string) ([]remote.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	docs := make([]remote.Document, len(ids))
	for i, id := range ids {
		docs[i] = f.docs[collection+"/"+id]
	}
	return docs, nil
}

func (f *fakeDocStore) FetchSub(_ context.Context, collection, id, sub string) ([]remote.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[collection+"/"+id+"/"+sub], nil
}

func (f *fakeDocStore) AppendSub(_ context.Context, collection, id, sub string, doc remote.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := collection + "/" + id + "/" + sub
	f.subs[key] = append(f.subs[key], doc)
	return nil
}

func (f *fakeDocStore) Write(_ context.Context, collection, id string, doc remote.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	existing, ok := f.docs[collection+"/"+id]
	if !ok {
		existing = remote.Document{}
		f.docs[collection+"/"+id] = existing
	}
	for k, v := range doc {
		existing[k] = v
	}
	if _, ok := existing["id"]; !ok {
		existing["id"] = id
	}
	return nil
}

func (f *fakeDocStore) Delete(_ context.Context, collection, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs, collection+"/"+id)
	return nil
}

var errGuestUnsupported = errors.New("not expected in this test")

// stubGuestBridge satisfies GuestBridge with canned data.
type stubGuestBridge struct {
	enrollments  []models.Enrollment
	progress     map[string]models.Progress
	enrollResult models.EnrollResult
	report       guest.MigrationReport
	migrateErr   error
	migrations   []string
}

func (g *stubGuestBridge) Enrollments(context.Context, string) ([]models.Enrollment, error) {
	return g.enrollments, nil
}

func (g *stubGuestBridge) Enrollment(_ context.Context, _, courseID string) (*models.Enrollment, error) {
	for i := range g.enrollments {
		if g.enrollments[i].CourseID == courseID {
			return &g.enrollments[i], nil
		}
	}
	return nil, nil
}

func (g *stubGuestBridge) Enroll(context.Context, string, string, string) (models.EnrollResult, error) {
	return g.enrollResult, nil
}

func (g *stubGuestBridge) UpdateEnrollment(_ context.Context, _, courseID string, fn func(*models.Enrollment)) error {
	for i := range g.enrollments {
		if g.enrollments[i].CourseID == courseID {
			fn(&g.enrollments[i])
			return nil
		}
	}
	return errGuestUnsupported
}

func (g *stubGuestBridge) Cancel(context.Context, string, string) error { return nil }

func (g *stubGuestBridge) SaveProgress(_ context.Context, guestID, courseID string, input models.SaveProgressInput) (models.SaveProgressResult, error) {
	return models.SaveProgressResult{Success: true, Progress: input.Percent}, nil
}

func (g *stubGuestBridge) LoadProgress(_ context.Context, _, courseID string) (*models.Progress, error) {
	if p, ok := g.progress[courseID]; ok {
		return &p, nil
	}
	return nil, nil
}

func (g *stubGuestBridge) AllProgress(context.Context, string) (map[string]models.Progress, error) {
	return g.progress, nil
}

func (g *stubGuestBridge) Migrate(_ context.Context, guestID, userID string) (guest.MigrationReport, error) {
	g.migrations = append(g.migrations, guestID+"->"+userID)
	if g.migrateErr != nil {
		return guest.MigrationReport{}, g.migrateErr
	}
	return g.report, nil
}

func testDescriptors() Descriptors {
	return NewDescriptors(config.CacheConfig{
		MaxEntries:     100,
		CourseListTTL:  5 * time.Minute,
		EnrollmentTTL:  3 * time.Minute,
		ProgressTTL:    3 * time.Minute,
		CertificateTTL: 5 * time.Minute,
		StatsTTL:       10 * time.Minute,
	})
}
