// Package localstore is the durable local cache behind chartd's record
// repository: a small fixed set of logical buckets, each persisted as
// one JSON blob in a single-file SQLite database.
//
// The facade is deliberately forgiving. Reads that fail for any reason
// (missing bucket, scan error, corrupt payload) fill nothing and report
// false; writes that fail become logged no-ops. Callers always proceed
// with whatever state they have. The only errors surfaced to callers
// are from Open and Close.
package localstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// Logical bucket names. The set is fixed; Load and Save reject names
// outside it.
const (
	BucketPatients      = "patients"
	BucketEpisodes      = "episodes"
	BucketEncounters    = "encounters"
	BucketNotifications = "notifications"
	BucketSettings      = "settings"
	BucketExtensions    = "extensions"
	BucketSyncLog       = "synclog"
)

var buckets = map[string]struct{}{
	BucketPatients:      {},
	BucketEpisodes:      {},
	BucketEncounters:    {},
	BucketNotifications: {},
	BucketSettings:      {},
	BucketExtensions:    {},
	BucketSyncLog:       {},
}

// timeNow is swapped out by tests.
var timeNow = time.Now

// Store is the bucket-blob cache. Safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	path   string
	logger *zap.Logger
	closed bool
}

// Open creates or opens the cache database at path.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("localstore: path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS buckets (
		name TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		updated_at TEXT NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create buckets table: %w", err)
	}
	return &Store{db: db, path: path, logger: logger}, nil
}

// Load unmarshals the named bucket into out. It returns false, leaving
// out untouched, when the bucket is absent or unreadable; callers keep
// their pre-filled defaults. out must be a pointer.
func (s *Store) Load(bucket string, out any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.validBucket(bucket) || s.closed {
		return false
	}

	var payload []byte
	err := s.db.QueryRow(`SELECT payload FROM buckets WHERE name = ?`, bucket).Scan(&payload)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false
	case err != nil:
		s.logger.Warn("cache read failed, treating bucket as empty",
			zap.String("bucket", bucket),
			zap.Error(err))
		return false
	}

	if err := json.Unmarshal(payload, out); err != nil {
		s.logger.Warn("cache bucket corrupt, treating as empty",
			zap.String("bucket", bucket),
			zap.Error(err))
		return false
	}
	return true
}

// Save marshals v and upserts it as the named bucket's blob. Failures
// are logged and swallowed; the previous blob, if any, stays in place.
func (s *Store) Save(bucket string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.validBucket(bucket) || s.closed {
		return
	}

	payload, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("cache write skipped, value not serializable",
			zap.String("bucket", bucket),
			zap.Error(err))
		return
	}
	_, err = s.db.Exec(
		`INSERT INTO buckets(name, payload, updated_at) VALUES(?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		bucket, payload, timeNow().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		s.logger.Warn("cache write failed",
			zap.String("bucket", bucket),
			zap.Error(err))
	}
}

// Close releases the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Store) validBucket(bucket string) bool {
	if _, ok := buckets[bucket]; ok {
		return true
	}
	s.logger.Warn("unknown cache bucket", zap.String("bucket", bucket))
	return false
}
