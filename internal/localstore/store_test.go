package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// setupTestStore creates a store with a mock database
func setupTestStore(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	store := New(db, zap.NewNop(), 1024, 4096)

	cleanup := func() {
		db.Close()
	}

	return store, mock, cleanup
}

func TestStore_Get(t *testing.T) {
	tests := []struct {
		name          string
		setupMock     func(sqlmock.Sqlmock)
		expectFound   bool
		expectedError bool
	}{
		{
			name: "hit",
			setupMock: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows([]string{"value", "stored_at"}).
					AddRow([]byte(`{"id":"c1"}`), time.Now().UnixMilli())
				mock.ExpectQuery(`SELECT value, stored_at.*FROM cache_entries`).
					WithArgs("cache", "course:c1").
					WillReturnRows(rows)
			},
			expectFound: true,
		},
		{
			name: "miss",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT value, stored_at.*FROM cache_entries`).
					WithArgs("cache", "course:c1").
					WillReturnError(errors.New("sql: no rows in result set"))
			},
			expectedError: true,
		},
		{
			name: "database error",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT value, stored_at.*FROM cache_entries`).
					WithArgs("cache", "course:c1").
					WillReturnError(errors.New("database error"))
			},
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock, cleanup := setupTestStore(t)
			defer cleanup()

			tt.setupMock(mock)

			entry, found, err := store.Get(context.Background(), "cache", "course:c1")

			if tt.expectedError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.expectFound, found)
				if found {
					assert.JSONEq(t, `{"id":"c1"}`, string(entry.Value))
					assert.WithinDuration(t, time.Now(), entry.StoredAt, time.Minute)
				}
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStore_GetMiss(t *testing.T) {
	store, mock, cleanup := setupTestStore(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT value, stored_at.*FROM cache_entries`).
		WithArgs("cache", "missing").
		WillReturnRows(sqlmock.NewRows([]string{"value", "stored_at"}))

	_, found, err := store.Get(context.Background(), "cache", "missing")

	assert.NoError(t, err)
	assert.False(t, found)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Set(t *testing.T) {
	store, mock, cleanup := setupTestStore(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT COALESCE\(SUM\(size\), 0\) FROM cache_entries`).
		WillReturnRows(sqlmock.NewRows([]string{"total"}).AddRow(100))
	mock.ExpectExec(`INSERT INTO cache_entries`).
		WithArgs("cache", "course:c1", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.Set(context.Background(), "cache", "course:c1", map[string]string{"id": "c1"})

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_SetDropsOversizedValue(t *testing.T) {
	store, mock, cleanup := setupTestStore(t)
	defer cleanup()

	// No INSERT is expected: the write is dropped before touching the db
	big := make([]byte, 2048)
	for i := range big {
		big[i] = 'x'
	}

	err := store.Set(context.Background(), "cache", "big", string(big))

	assert.NoError(t, err, "quota violations must not surface as errors")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_SetDropsWhenQuotaExceeded(t *testing.T) {
	store, mock, cleanup := setupTestStore(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT COALESCE\(SUM\(size\), 0\) FROM cache_entries`).
		WillReturnRows(sqlmock.NewRows([]string{"total"}).AddRow(4090))

	err := store.Set(context.Background(), "cache", "course:c1", map[string]string{"id": "c1"})

	assert.NoError(t, err, "quota violations must not surface as errors")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Remove(t *testing.T) {
	store, mock, cleanup := setupTestStore(t)
	defer cleanup()

	mock.ExpectExec(`DELETE FROM cache_entries WHERE namespace = \? AND key = \?`).
		WithArgs("guest", "g1:enrollment:c1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Remove(context.Background(), "guest", "g1:enrollment:c1")

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_RemoveAll(t *testing.T) {
	store, mock, cleanup := setupTestStore(t)
	defer cleanup()

	mock.ExpectExec(`DELETE FROM cache_entries WHERE namespace = \? AND key LIKE \?`).
		WithArgs("guest", "g1:%").
		WillReturnResult(sqlmock.NewResult(0, 3))

	err := store.RemoveAll(context.Background(), "guest", "g1:")

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Keys(t *testing.T) {
	store, mock, cleanup := setupTestStore(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"key"}).
		AddRow("g1:enrollment:c1").
		AddRow("g1:enrollment:c2")
	mock.ExpectQuery(`SELECT key.*FROM cache_entries`).
		WithArgs("guest", "g1:enrollment:%").
		WillReturnRows(rows)

	keys, err := store.Keys(context.Background(), "guest", "g1:enrollment:")

	require.NoError(t, err)
	assert.Equal(t, []string{"g1:enrollment:c1", "g1:enrollment:c2"}, keys)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetJSON(t *testing.T) {
	store, mock, cleanup := setupTestStore(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"value", "stored_at"}).
		AddRow([]byte(`{"id":"c1","title":"크레인 안전"}`), time.Now().UnixMilli())
	mock.ExpectQuery(`SELECT value, stored_at.*FROM cache_entries`).
		WithArgs("cache", "course:c1").
		WillReturnRows(rows)

	var dest struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	_, found, err := store.GetJSON(context.Background(), "cache", "course:c1", &dest)

	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "c1", dest.ID)
	assert.Equal(t, "크레인 안전", dest.Title)
}

func TestEntry_Age(t *testing.T) {
	now := time.Now()
	entry := Entry{Value: json.RawMessage(`{}`), StoredAt: now.Add(-2 * time.Minute)}

	assert.InDelta(t, (2 * time.Minute).Seconds(), entry.Age(now).Seconds(), 0.01)
}
