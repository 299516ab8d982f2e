// Package extensions stores client-only record enrichments: fields
// the remote schema does not recognize, keyed by record id. The store
// lives in the durable local cache and has a lifecycle independent of
// the canonical record, except that deleting the record deletes its
// extensions.
package extensions

import (
	"sync"

	"go.uber.org/zap"

	"github.com/verdanthealth/chartd/internal/localstore"
)

// Fields is one record's extension data.
type Fields map[string]any

// Store persists extension fields in the cache's extensions bucket.
type Store struct {
	mu     sync.Mutex
	cache  *localstore.Store
	logger *zap.Logger
}

// NewStore wraps the cache. A nil logger falls back to a no-op.
func NewStore(cache *localstore.Store, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{cache: cache, logger: logger}
}

// Set merges fields into the record's existing extensions, key by
// key, with the new value winning per key. Nil and empty input is a
// no-op so bare canonical writes never disturb existing enrichments.
func (s *Store) Set(recordID string, fields Fields) {
	if recordID == "" || len(fields) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.loadAll()
	existing, ok := all[recordID]
	if !ok {
		existing = make(Fields, len(fields))
	}
	for k, v := range fields {
		existing[k] = v
	}
	all[recordID] = existing
	s.cache.Save(localstore.BucketExtensions, all)
}

// Get returns a copy of the record's extension fields; an empty map
// when there are none.
func (s *Store) Get(recordID string) Fields {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.loadAll()
	existing := all[recordID]
	out := make(Fields, len(existing))
	for k, v := range existing {
		out[k] = v
	}
	return out
}

// Delete removes all extension fields for the record.
func (s *Store) Delete(recordID string) {
	if recordID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.loadAll()
	if _, ok := all[recordID]; !ok {
		return
	}
	delete(all, recordID)
	s.cache.Save(localstore.BucketExtensions, all)
}

func (s *Store) loadAll() map[string]Fields {
	all := make(map[string]Fields)
	s.cache.Load(localstore.BucketExtensions, &all)
	return all
}

// Merge returns ext minus any key that names a canonical field.
// Enrichment is additive: extension data may add to a record but
// never replace what the backend owns. Dropped keys are logged once
// per call at debug.
func (s *Store) Merge(canonical map[string]struct{}, ext Fields) Fields {
	if len(ext) == 0 {
		return nil
	}
	out := make(Fields, len(ext))
	var dropped []string
	for k, v := range ext {
		if _, reserved := canonical[k]; reserved {
			dropped = append(dropped, k)
			continue
		}
		out[k] = v
	}
	if len(dropped) > 0 {
		s.logger.Debug("extension keys collide with canonical fields, dropped",
			zap.Strings("keys", dropped))
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
