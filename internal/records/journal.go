package records

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/verdanthealth/chartd/internal/localstore"
	"github.com/verdanthealth/chartd/internal/recordid"
)

// Operation names for journal entries.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Stream names for journal entries and events.
const (
	StreamPatients   = "patients"
	StreamSessions   = "sessions"
	StreamEncounters = "encounters"
)

// JournalEntry records one write that only reached the local cache.
// Entries stay in the journal until a replay pushes them to the
// backend.
type JournalEntry struct {
	ID        string    `json:"id"`
	Op        string    `json:"op"`
	Stream    string    `json:"stream"`
	RecordID  string    `json:"recordId"`
	At        time.Time `json:"at"`
	Synced    bool      `json:"synced"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"lastError,omitempty"`
}

// journal is the durable log of writes awaiting backend sync. It lives
// in the local cache's synclog bucket so pending work survives
// restarts.
type journal struct {
	mu     sync.Mutex
	cache  *localstore.Store
	logger *zap.Logger
}

func newJournal(cache *localstore.Store, logger *zap.Logger) *journal {
	return &journal{cache: cache, logger: logger}
}

// record appends a pending entry for a write that fell back to the
// local cache.
func (j *journal) record(op, stream, recordID string, cause error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	entries := j.loadLocked()
	entry := JournalEntry{
		ID:       recordid.New(recordid.KindSyncEntry),
		Op:       op,
		Stream:   stream,
		RecordID: recordID,
		At:       timeNow().UTC(),
	}
	if cause != nil {
		entry.LastError = cause.Error()
	}
	entries = append(entries, entry)
	j.cache.Save(localstore.BucketSyncLog, entries)
	j.logger.Debug("journaled pending sync",
		zap.String("op", op),
		zap.String("stream", stream),
		zap.String("record_id", recordID))
}

// pending returns the entries that have not synced yet, oldest first.
func (j *journal) pending() []JournalEntry {
	j.mu.Lock()
	defer j.mu.Unlock()

	var out []JournalEntry
	for _, e := range j.loadLocked() {
		if !e.Synced {
			out = append(out, e)
		}
	}
	return out
}

// pendingIDs returns the record ids with unsynced writes on a stream.
func (j *journal) pendingIDs(stream string) map[string]struct{} {
	j.mu.Lock()
	defer j.mu.Unlock()

	ids := make(map[string]struct{})
	for _, e := range j.loadLocked() {
		if !e.Synced && e.Stream == stream {
			ids[e.RecordID] = struct{}{}
		}
	}
	return ids
}

// get returns the current state of one entry by id.
func (j *journal) get(entryID string) (JournalEntry, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	for _, e := range j.loadLocked() {
		if e.ID == entryID {
			return e, true
		}
	}
	return JournalEntry{}, false
}

// markSynced flags an entry as pushed to the backend.
func (j *journal) markSynced(entryID string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	entries := j.loadLocked()
	for i := range entries {
		if entries[i].ID == entryID {
			entries[i].Synced = true
			entries[i].Attempts++
			entries[i].LastError = ""
		}
	}
	j.cache.Save(localstore.BucketSyncLog, entries)
}

// markFailed bumps the attempt count and keeps the entry pending.
func (j *journal) markFailed(entryID string, cause error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	entries := j.loadLocked()
	for i := range entries {
		if entries[i].ID == entryID {
			entries[i].Attempts++
			if cause != nil {
				entries[i].LastError = cause.Error()
			}
		}
	}
	j.cache.Save(localstore.BucketSyncLog, entries)
}

// rewriteRecordID repoints pending entries after a replayed create is
// assigned a backend id.
func (j *journal) rewriteRecordID(stream, oldID, newID string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	entries := j.loadLocked()
	for i := range entries {
		if !entries[i].Synced && entries[i].Stream == stream && entries[i].RecordID == oldID {
			entries[i].RecordID = newID
		}
	}
	j.cache.Save(localstore.BucketSyncLog, entries)
}

func (j *journal) loadLocked() []JournalEntry {
	var entries []JournalEntry
	j.cache.Load(localstore.BucketSyncLog, &entries)
	return entries
}
