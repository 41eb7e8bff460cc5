// Package localstore implements the local persistent tier: a synchronous,
// size-bounded, namespaced key-value store that survives process restarts.
// It serves both as the second cache tier for remote reads and as the sole
// storage for guest-mode entities.
//
// The store is TTL-agnostic: every entry carries its own storedAt and the
// synchronizer applies per-entity policy on read.
package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Entry is a stored value with its write timestamp.
type Entry struct {
	Value    json.RawMessage
	StoredAt time.Time
}

// Age returns how long ago the entry was written.
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.StoredAt)
}

// Store is a namespaced KV store over a local SQLite database. Writes that
// would exceed the configured quota are dropped with a warning instead of
// failing the caller's operation.
type Store struct {
	db            *sql.DB
	logger        *zap.Logger
	maxValueBytes int
	maxTotalBytes int64
	now           func() time.Time
}

// New creates a store over db. maxValueBytes caps a single serialized value
// and maxTotalBytes caps the whole store; zero disables the respective cap.
func New(db *sql.DB, logger *zap.Logger, maxValueBytes int, maxTotalBytes int64) *Store {
	return &Store{
		db:            db,
		logger:        logger,
		maxValueBytes: maxValueBytes,
		maxTotalBytes: maxTotalBytes,
		now:           time.Now,
	}
}

// Get retrieves the entry under (namespace, key). The second return value
// reports whether the entry exists.
func (s *Store) Get(ctx context.Context, namespace, key string) (Entry, bool, error) {
	query := `
		SELECT value, stored_at
		FROM cache_entries
		WHERE namespace = ? AND key = ?
		LIMIT 1
	`

	var raw []byte
	var storedAtMillis int64
	err := s.db.QueryRowContext(ctx, query, namespace, key).Scan(&raw, &storedAtMillis)

	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to get local entry: %w", err)
	}

	return Entry{
		Value:    json.RawMessage(raw),
		StoredAt: time.UnixMilli(storedAtMillis),
	}, true, nil
}

// GetJSON retrieves the entry and unmarshals its value into dest.
func (s *Store) GetJSON(ctx context.Context, namespace, key string, dest any) (Entry, bool, error) {
	entry, ok, err := s.Get(ctx, namespace, key)
	if err != nil || !ok {
		return entry, ok, err
	}
	if err := json.Unmarshal(entry.Value, dest); err != nil {
		return Entry{}, false, fmt.Errorf("failed to decode local entry: %w", err)
	}
	return entry, true, nil
}

// Set stores value under (namespace, key), stamping it with the current
// time. Quota violations drop the write and log a warning; they are never
// returned as errors so a caller's mutation cannot be aborted by a full
// local store.
func (s *Store) Set(ctx context.Context, namespace, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode local entry: %w", err)
	}

	if s.maxValueBytes > 0 && len(raw) > s.maxValueBytes {
		s.logger.Warn("local store write dropped: value exceeds size cap",
			zap.String("namespace", namespace),
			zap.String("key", key),
			zap.Int("size", len(raw)),
			zap.Int("max", s.maxValueBytes),
		)
		return nil
	}

	if s.maxTotalBytes > 0 {
		total, err := s.totalSize(ctx)
		if err != nil {
			return fmt.Errorf("failed to check local store quota: %w", err)
		}
		if total+int64(len(raw)) > s.maxTotalBytes {
			s.logger.Warn("local store write dropped: quota exceeded",
				zap.String("namespace", namespace),
				zap.String("key", key),
				zap.Int64("total", total),
				zap.Int64("quota", s.maxTotalBytes),
			)
			return nil
		}
	}

	query := `
		INSERT INTO cache_entries (namespace, key, value, size, stored_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET
			value = excluded.value,
			size = excluded.size,
			stored_at = excluded.stored_at
	`

	_, err = s.db.ExecContext(ctx, query, namespace, key, raw, len(raw), s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to set local entry: %w", err)
	}

	return nil
}

// Remove deletes the entry under (namespace, key). Removing an absent entry
// is not an error.
func (s *Store) Remove(ctx context.Context, namespace, key string) error {
	query := "DELETE FROM cache_entries WHERE namespace = ? AND key = ?"

	if _, err := s.db.ExecContext(ctx, query, namespace, key); err != nil {
		return fmt.Errorf("failed to remove local entry: %w", err)
	}

	return nil
}

// RemoveAll deletes every entry in namespace whose key starts with prefix.
// An empty prefix clears the namespace.
func (s *Store) RemoveAll(ctx context.Context, namespace, prefix string) error {
	query := "DELETE FROM cache_entries WHERE namespace = ? AND key LIKE ? ESCAPE '\\'"

	if _, err := s.db.ExecContext(ctx, query, namespace, escapeLike(prefix)+"%"); err != nil {
		return fmt.Errorf("failed to remove local entries: %w", err)
	}

	return nil
}

// Keys lists the keys in namespace starting with prefix, oldest first.
func (s *Store) Keys(ctx context.Context, namespace, prefix string) ([]string, error) {
	query := `
		SELECT key
		FROM cache_entries
		WHERE namespace = ? AND key LIKE ? ESCAPE '\'
		ORDER BY stored_at
	`

	rows, err := s.db.QueryContext(ctx, query, namespace, escapeLike(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to list local keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan local key: %w", err)
		}
		keys = append(keys, key)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating local keys: %w", err)
	}

	return keys, nil
}

// totalSize sums the stored payload sizes.
func (s *Store) totalSize(ctx context.Context) (int64, error) {
	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx, "SELECT COALESCE(SUM(size), 0) FROM cache_entries").Scan(&total)
	if err != nil {
		return 0, err
	}
	return total.Int64, nil
}

// escapeLike escapes LIKE metacharacters in a literal prefix.
func escapeLike(prefix string) string {
	out := make([]byte, 0, len(prefix))
	for i := 0; i < len(prefix); i++ {
		switch prefix[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, prefix[i])
	}
	return string(out)
}
