package records

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/verdanthealth/chartd/internal/events"
	"github.com/verdanthealth/chartd/internal/extensions"
	"github.com/verdanthealth/chartd/internal/localstore"
	"github.com/verdanthealth/chartd/internal/recordid"
)

const instrumentationName = "github.com/verdanthealth/chartd/internal/records"

// timeNow is swapped out by tests.
var timeNow = time.Now

// Options configures a Repository.
type Options struct {
	// Remote is the backend client tried first on every operation.
	Remote RemoteClient

	// Cache is the durable local store used for fallback and
	// write-through.
	Cache *localstore.Store

	// Extensions holds per-record unrecognized fields merged into
	// patients on the way out.
	Extensions *extensions.Store

	// Events receives lifecycle events. May be nil.
	Events *events.Publisher

	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

// Repository is the dual-persistence record store.
//
// Every operation goes remote-first. On success the result is written
// through to the local cache so reads keep working offline; on failure
// the operation is served from the cache, the write (if any) is
// journaled for later sync, and the failure is stored in the shared
// error slot. Operations never return an error; the Result's Outcome
// says which layer answered.
//
// Thread-safe.
type Repository struct {
	remote  RemoteClient
	cache   *localstore.Store
	ext     *extensions.Store
	events  *events.Publisher
	journal *journal
	logger  *zap.Logger

	tracer          trace.Tracer
	meter           metric.Meter
	opCounter       metric.Int64Counter
	fallbackCounter metric.Int64Counter

	mu      sync.RWMutex
	lastErr error
}

// NewRepository wires a Repository from its dependencies.
func NewRepository(opts Options) (*Repository, error) {
	if opts.Remote == nil {
		return nil, errors.New("records: remote client is required")
	}
	if opts.Cache == nil {
		return nil, errors.New("records: local cache is required")
	}
	if opts.Extensions == nil {
		return nil, errors.New("records: extension store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Repository{
		remote:  opts.Remote,
		cache:   opts.Cache,
		ext:     opts.Extensions,
		events:  opts.Events,
		journal: newJournal(opts.Cache, logger),
		logger:  logger,
		tracer:  otel.Tracer(instrumentationName),
		meter:   otel.Meter(instrumentationName),
	}
	r.initMetrics()
	return r, nil
}

func (r *Repository) initMetrics() {
	var err error

	r.opCounter, err = r.meter.Int64Counter(
		"chartd_records_operations_total",
		metric.WithDescription("Repository operations by op and answering source"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		r.logger.Warn("failed to create operations counter", zap.Error(err))
	}

	r.fallbackCounter, err = r.meter.Int64Counter(
		"chartd_records_fallbacks_total",
		metric.WithDescription("Operations that degraded to the local cache"),
		metric.WithUnit("{fallback}"),
	)
	if err != nil {
		r.logger.Warn("failed to create fallbacks counter", zap.Error(err))
	}
}

// LastError returns the most recent remote failure, or nil after the
// last operation was answered by the backend.
func (r *Repository) LastError() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastErr
}

// recordFailure stores err in the shared error slot.
func (r *Repository) recordFailure(err error) {
	r.mu.Lock()
	r.lastErr = err
	r.mu.Unlock()
}

// clearFailure empties the slot after an authoritative answer.
func (r *Repository) clearFailure() {
	r.mu.Lock()
	r.lastErr = nil
	r.mu.Unlock()
}

func (r *Repository) countOp(ctx context.Context, op string, src Source) {
	if r.opCounter != nil {
		r.opCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("source", string(src)),
		))
	}
	if src == SourceLocal && r.fallbackCounter != nil {
		r.fallbackCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("op", op),
		))
	}
}

// --- patients ---

// CreatePatient creates a patient, remote-first. When the backend is
// down the record is synthesized locally with a generated id and
// journaled for sync.
func (r *Repository) CreatePatient(ctx context.Context, in PatientInput) Result[PatientRecord] {
	ctx, span := r.tracer.Start(ctx, "records.create_patient")
	defer span.End()

	ext := in.Extensions
	in.Extensions = nil

	rec, err := r.remote.CreatePatient(ctx, in)
	if err == nil {
		r.clearFailure()
		if len(ext) > 0 {
			r.ext.Set(rec.ID, ext)
		}
		rec = r.enrichPatient(rec)
		r.upsertPatientLocal(rec)
		r.countOp(ctx, "create_patient", SourceRemote)
		r.publish(StreamPatients, rec.ID, events.ActionCreated, SourceRemote)
		span.SetAttributes(attribute.String("record_id", rec.ID))
		return remoteResult(rec)
	}

	span.RecordError(err)
	span.SetAttributes(attribute.String("source", string(SourceLocal)))
	r.recordFailure(err)
	r.logger.Warn("remote create failed, writing patient to local cache",
		zap.Error(err))

	now := timeNow().UTC()
	rec = in.record(recordid.New(recordid.KindPatient), now, now)
	if len(ext) > 0 {
		r.ext.Set(rec.ID, ext)
	}
	rec = r.enrichPatient(rec)
	r.upsertPatientLocal(rec)
	r.journal.record(OpCreate, StreamPatients, rec.ID, err)
	r.countOp(ctx, "create_patient", SourceLocal)
	r.publish(StreamPatients, rec.ID, events.ActionCreated, SourceLocal)
	return localResult(rec, err)
}

// GetPatient fetches one patient. A remote 404 is an authoritative
// answer and yields a nil record with no error; any other remote
// failure falls back to the cache.
func (r *Repository) GetPatient(ctx context.Context, id string) Result[*PatientRecord] {
	ctx, span := r.tracer.Start(ctx, "records.get_patient")
	defer span.End()

	rec, err := r.remote.GetPatient(ctx, id)
	switch {
	case err == nil:
		r.clearFailure()
		rec = r.enrichPatient(rec)
		r.upsertPatientLocal(rec)
		r.countOp(ctx, "get_patient", SourceRemote)
		return remoteResult(&rec)
	case errors.Is(err, ErrNotFound):
		r.clearFailure()
		r.countOp(ctx, "get_patient", SourceRemote)
		return remoteResult[*PatientRecord](nil)
	}

	span.RecordError(err)
	r.recordFailure(err)
	r.logger.Warn("remote get failed, reading patient from local cache",
		zap.String("record_id", id),
		zap.Error(err))

	r.countOp(ctx, "get_patient", SourceLocal)
	patients := r.loadPatientsLocal()
	if cached, ok := patients[id]; ok {
		cached = r.enrichPatient(cached)
		return localResult(&cached, err)
	}
	return localResult[*PatientRecord](nil, err)
}

// UpdatePatient updates a patient, remote-first. The local fallback
// upserts: a cache miss still records the write so nothing is lost.
func (r *Repository) UpdatePatient(ctx context.Context, id string, in PatientInput) Result[PatientRecord] {
	ctx, span := r.tracer.Start(ctx, "records.update_patient")
	defer span.End()

	ext := in.Extensions
	in.Extensions = nil
	if len(ext) > 0 {
		r.ext.Set(id, ext)
	}

	rec, err := r.remote.UpdatePatient(ctx, id, in)
	if err == nil {
		r.clearFailure()
		rec = r.enrichPatient(rec)
		r.upsertPatientLocal(rec)
		r.countOp(ctx, "update_patient", SourceRemote)
		r.publish(StreamPatients, rec.ID, events.ActionUpdated, SourceRemote)
		return remoteResult(rec)
	}

	span.RecordError(err)
	r.recordFailure(err)
	r.logger.Warn("remote update failed, writing patient to local cache",
		zap.String("record_id", id),
		zap.Error(err))

	now := timeNow().UTC()
	patients := r.loadPatientsLocal()
	createdAt := now
	if existing, ok := patients[id]; ok {
		createdAt = existing.CreatedAt
	}
	rec = in.record(id, createdAt, now)
	rec = r.enrichPatient(rec)
	r.upsertPatientLocal(rec)
	r.journal.record(OpUpdate, StreamPatients, id, err)
	r.countOp(ctx, "update_patient", SourceLocal)
	r.publish(StreamPatients, id, events.ActionUpdated, SourceLocal)
	return localResult(rec, err)
}

// DeletePatient removes a patient from whichever layers are reachable.
// A remote 404 counts as a successful delete.
func (r *Repository) DeletePatient(ctx context.Context, id string) Outcome {
	ctx, span := r.tracer.Start(ctx, "records.delete_patient")
	defer span.End()

	err := r.remote.DeletePatient(ctx, id)
	if err == nil || errors.Is(err, ErrNotFound) {
		r.clearFailure()
		r.removePatientLocal(id)
		r.ext.Delete(id)
		r.countOp(ctx, "delete_patient", SourceRemote)
		r.publish(StreamPatients, id, events.ActionDeleted, SourceRemote)
		return Outcome{Source: SourceRemote}
	}

	span.RecordError(err)
	r.recordFailure(err)
	r.logger.Warn("remote delete failed, removing patient from local cache",
		zap.String("record_id", id),
		zap.Error(err))

	r.removePatientLocal(id)
	r.journal.record(OpDelete, StreamPatients, id, err)
	r.countOp(ctx, "delete_patient", SourceLocal)
	r.publish(StreamPatients, id, events.ActionDeleted, SourceLocal)
	return Outcome{Source: SourceLocal, Err: err}
}

// ListPatients returns every patient, enriched with extension fields.
// On a remote answer the cache is refreshed, keeping records that only
// exist locally with pending sync entries so offline work never
// disappears from the list.
func (r *Repository) ListPatients(ctx context.Context) Result[[]PatientRecord] {
	ctx, span := r.tracer.Start(ctx, "records.list_patients")
	defer span.End()

	remoteRecs, err := r.remote.ListPatients(ctx)
	if err == nil {
		r.clearFailure()

		merged := make(map[string]PatientRecord, len(remoteRecs))
		for _, rec := range remoteRecs {
			merged[rec.ID] = r.enrichPatient(rec)
		}

		cached := r.loadPatientsLocal()
		for id := range r.journal.pendingIDs(StreamPatients) {
			if _, ok := merged[id]; ok {
				continue
			}
			if local, ok := cached[id]; ok {
				merged[id] = r.enrichPatient(local)
			}
		}

		r.cache.Save(localstore.BucketPatients, merged)
		r.countOp(ctx, "list_patients", SourceRemote)
		return remoteResult(sortPatients(merged))
	}

	span.RecordError(err)
	r.recordFailure(err)
	r.logger.Warn("remote list failed, reading patients from local cache",
		zap.Error(err))

	cached := r.loadPatientsLocal()
	for id, rec := range cached {
		cached[id] = r.enrichPatient(rec)
	}
	r.countOp(ctx, "list_patients", SourceLocal)
	return localResult(sortPatients(cached), err)
}

// --- sessions ---

// CreateSession persists a new in-progress session, remote-first.
func (r *Repository) CreateSession(ctx context.Context, in SessionInput) Result[Session] {
	ctx, span := r.tracer.Start(ctx, "records.create_session")
	defer span.End()

	ses, err := r.remote.CreateSession(ctx, in)
	if err == nil {
		r.clearFailure()
		r.upsertSessionLocal(ses)
		r.countOp(ctx, "create_session", SourceRemote)
		r.publish(StreamSessions, ses.ID, events.ActionCreated, SourceRemote)
		span.SetAttributes(attribute.String("record_id", ses.ID))
		return remoteResult(ses)
	}

	span.RecordError(err)
	r.recordFailure(err)
	r.logger.Warn("remote create failed, writing session to local cache",
		zap.Error(err))

	now := timeNow().UTC()
	ses = in.session(recordid.New(recordid.KindSession), now, now)
	r.upsertSessionLocal(ses)
	r.journal.record(OpCreate, StreamSessions, ses.ID, err)
	r.countOp(ctx, "create_session", SourceLocal)
	r.publish(StreamSessions, ses.ID, events.ActionCreated, SourceLocal)
	return localResult(ses, err)
}

// UpdateSession overwrites a session's draft, remote-first.
func (r *Repository) UpdateSession(ctx context.Context, id string, in SessionInput) Result[Session] {
	ctx, span := r.tracer.Start(ctx, "records.update_session")
	defer span.End()

	ses, err := r.remote.UpdateSession(ctx, id, in)
	if err == nil {
		r.clearFailure()
		r.upsertSessionLocal(ses)
		r.countOp(ctx, "update_session", SourceRemote)
		r.publish(StreamSessions, ses.ID, events.ActionUpdated, SourceRemote)
		return remoteResult(ses)
	}

	span.RecordError(err)
	r.recordFailure(err)
	r.logger.Warn("remote update failed, writing session to local cache",
		zap.String("record_id", id),
		zap.Error(err))

	now := timeNow().UTC()
	sessions := r.loadSessionsLocal()
	createdAt := now
	if existing, ok := sessions[id]; ok {
		createdAt = existing.CreatedAt
	}
	ses = in.session(id, createdAt, now)
	r.upsertSessionLocal(ses)
	r.journal.record(OpUpdate, StreamSessions, id, err)
	r.countOp(ctx, "update_session", SourceLocal)
	r.publish(StreamSessions, id, events.ActionUpdated, SourceLocal)
	return localResult(ses, err)
}

// GetSession fetches one session. A remote 404 yields nil with no
// error, matching GetPatient.
func (r *Repository) GetSession(ctx context.Context, id string) Result[*Session] {
	ctx, span := r.tracer.Start(ctx, "records.get_session")
	defer span.End()

	ses, err := r.remote.GetSession(ctx, id)
	switch {
	case err == nil:
		r.clearFailure()
		r.upsertSessionLocal(ses)
		r.countOp(ctx, "get_session", SourceRemote)
		return remoteResult(&ses)
	case errors.Is(err, ErrNotFound):
		r.clearFailure()
		r.countOp(ctx, "get_session", SourceRemote)
		return remoteResult[*Session](nil)
	}

	span.RecordError(err)
	r.recordFailure(err)
	r.logger.Warn("remote get failed, reading session from local cache",
		zap.String("record_id", id),
		zap.Error(err))

	r.countOp(ctx, "get_session", SourceLocal)
	sessions := r.loadSessionsLocal()
	if cached, ok := sessions[id]; ok {
		return localResult(&cached, err)
	}
	return localResult[*Session](nil, err)
}

// DeleteSession removes a session, typically after the encounter it
// backed was finalized or discarded.
func (r *Repository) DeleteSession(ctx context.Context, id string) Outcome {
	ctx, span := r.tracer.Start(ctx, "records.delete_session")
	defer span.End()

	err := r.remote.DeleteSession(ctx, id)
	if err == nil || errors.Is(err, ErrNotFound) {
		r.clearFailure()
		r.removeSessionLocal(id)
		r.countOp(ctx, "delete_session", SourceRemote)
		r.publish(StreamSessions, id, events.ActionDeleted, SourceRemote)
		return Outcome{Source: SourceRemote}
	}

	span.RecordError(err)
	r.recordFailure(err)
	r.logger.Warn("remote delete failed, removing session from local cache",
		zap.String("record_id", id),
		zap.Error(err))

	r.removeSessionLocal(id)
	r.journal.record(OpDelete, StreamSessions, id, err)
	r.countOp(ctx, "delete_session", SourceLocal)
	r.publish(StreamSessions, id, events.ActionDeleted, SourceLocal)
	return Outcome{Source: SourceLocal, Err: err}
}

// --- encounters ---

// FinalizeEncounter turns a completed draft into a permanent encounter
// record, remote-first.
func (r *Repository) FinalizeEncounter(ctx context.Context, in EncounterInput) Result[EncounterRecord] {
	ctx, span := r.tracer.Start(ctx, "records.finalize_encounter")
	defer span.End()

	enc, err := r.remote.CreateEncounter(ctx, in)
	if err == nil {
		r.clearFailure()
		r.upsertEncounterLocal(enc)
		r.countOp(ctx, "finalize_encounter", SourceRemote)
		r.publish(StreamEncounters, enc.ID, events.ActionFinalized, SourceRemote)
		span.SetAttributes(attribute.String("record_id", enc.ID))
		return remoteResult(enc)
	}

	span.RecordError(err)
	r.recordFailure(err)
	r.logger.Warn("remote create failed, writing encounter to local cache",
		zap.Error(err))

	enc = EncounterRecord{
		ID:            recordid.New(recordid.KindEncounter),
		PatientID:     in.PatientID,
		Documentation: in.Documentation.Clone(),
		Note:          in.Note,
		FinalizedAt:   timeNow().UTC(),
	}
	r.upsertEncounterLocal(enc)
	r.journal.record(OpCreate, StreamEncounters, enc.ID, err)
	r.countOp(ctx, "finalize_encounter", SourceLocal)
	r.publish(StreamEncounters, enc.ID, events.ActionFinalized, SourceLocal)
	return localResult(enc, err)
}

// ListEncounters returns a patient's finalized encounters, most recent
// last. The cache keeps encounters for every patient; only the slice
// for patientID is replaced on a remote answer, and locally finalized
// encounters with pending sync entries survive the merge.
func (r *Repository) ListEncounters(ctx context.Context, patientID string) Result[[]EncounterRecord] {
	ctx, span := r.tracer.Start(ctx, "records.list_encounters")
	defer span.End()

	remoteRecs, err := r.remote.ListEncounters(ctx, patientID)
	if err == nil {
		r.clearFailure()

		remoteIDs := make(map[string]struct{}, len(remoteRecs))
		for _, enc := range remoteRecs {
			remoteIDs[enc.ID] = struct{}{}
		}

		pending := r.journal.pendingIDs(StreamEncounters)
		merged := make([]EncounterRecord, 0, len(remoteRecs))
		for _, enc := range r.loadEncountersLocal() {
			if enc.PatientID != patientID {
				merged = append(merged, enc)
				continue
			}
			if _, fromRemote := remoteIDs[enc.ID]; fromRemote {
				continue
			}
			if _, isPending := pending[enc.ID]; isPending {
				merged = append(merged, enc)
			}
		}
		merged = append(merged, remoteRecs...)
		r.cache.Save(localstore.BucketEncounters, merged)

		r.countOp(ctx, "list_encounters", SourceRemote)
		return remoteResult(sortEncounters(filterEncounters(merged, patientID)))
	}

	span.RecordError(err)
	r.recordFailure(err)
	r.logger.Warn("remote list failed, reading encounters from local cache",
		zap.String("patient_id", patientID),
		zap.Error(err))

	r.countOp(ctx, "list_encounters", SourceLocal)
	return localResult(sortEncounters(filterEncounters(r.loadEncountersLocal(), patientID)), err)
}

// --- sync ---

// PendingSync returns the journal entries still awaiting a backend
// push, oldest first.
func (r *Repository) PendingSync() []JournalEntry {
	return r.journal.pending()
}

// ReplaySync pushes journaled writes to the backend in order, stopping
// at the first failure so later entries never overtake earlier ones.
// Returns how many entries synced and how many remain.
func (r *Repository) ReplaySync(ctx context.Context) (synced, remaining int) {
	ctx, span := r.tracer.Start(ctx, "records.replay_sync")
	defer span.End()

	for _, snapshot := range r.journal.pending() {
		// Re-read the entry: replaying an earlier create may have
		// repointed later entries at a backend-assigned id.
		entry, ok := r.journal.get(snapshot.ID)
		if !ok || entry.Synced {
			continue
		}
		if err := r.replayEntry(ctx, entry); err != nil {
			r.journal.markFailed(entry.ID, err)
			r.logger.Warn("sync replay stopped",
				zap.String("op", entry.Op),
				zap.String("stream", entry.Stream),
				zap.String("record_id", entry.RecordID),
				zap.Error(err))
			span.RecordError(err)
			return synced, len(r.journal.pending())
		}
		r.journal.markSynced(entry.ID)
		r.publish(entry.Stream, entry.RecordID, events.ActionSynced, SourceRemote)
		synced++
	}

	if synced > 0 {
		r.logger.Info("sync replay complete", zap.Int("synced", synced))
	}
	span.SetAttributes(attribute.Int("synced", synced))
	return synced, 0
}

func (r *Repository) replayEntry(ctx context.Context, entry JournalEntry) error {
	switch entry.Stream {
	case StreamPatients:
		return r.replayPatient(ctx, entry)
	case StreamSessions:
		return r.replaySession(ctx, entry)
	case StreamEncounters:
		return r.replayEncounter(ctx, entry)
	default:
		r.logger.Warn("skipping journal entry with unknown stream",
			zap.String("stream", entry.Stream))
		return nil
	}
}

func (r *Repository) replayPatient(ctx context.Context, entry JournalEntry) error {
	if entry.Op == OpDelete {
		if err := r.remote.DeletePatient(ctx, entry.RecordID); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		return nil
	}

	patients := r.loadPatientsLocal()
	local, ok := patients[entry.RecordID]
	if !ok {
		// Deleted locally before it ever synced; nothing to push.
		return nil
	}
	in := patientInputFrom(local)

	switch entry.Op {
	case OpCreate:
		rec, err := r.remote.CreatePatient(ctx, in)
		if err != nil {
			return err
		}
		r.adoptPatientID(entry.RecordID, rec)
	case OpUpdate:
		_, err := r.remote.UpdatePatient(ctx, entry.RecordID, in)
		if errors.Is(err, ErrNotFound) {
			// The backend never saw this record; create it instead.
			rec, createErr := r.remote.CreatePatient(ctx, in)
			if createErr != nil {
				return createErr
			}
			r.adoptPatientID(entry.RecordID, rec)
			return nil
		}
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown journal op %q", entry.Op)
	}
	return nil
}

func (r *Repository) replaySession(ctx context.Context, entry JournalEntry) error {
	if entry.Op == OpDelete {
		if err := r.remote.DeleteSession(ctx, entry.RecordID); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		return nil
	}

	sessions := r.loadSessionsLocal()
	local, ok := sessions[entry.RecordID]
	if !ok {
		return nil
	}
	in := SessionInput{PatientID: local.PatientID, Step: local.Step, Draft: local.Draft, Seq: local.Seq}

	switch entry.Op {
	case OpCreate:
		ses, err := r.remote.CreateSession(ctx, in)
		if err != nil {
			return err
		}
		r.adoptSessionID(entry.RecordID, ses)
	case OpUpdate:
		_, err := r.remote.UpdateSession(ctx, entry.RecordID, in)
		if errors.Is(err, ErrNotFound) {
			ses, createErr := r.remote.CreateSession(ctx, in)
			if createErr != nil {
				return createErr
			}
			r.adoptSessionID(entry.RecordID, ses)
			return nil
		}
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown journal op %q", entry.Op)
	}
	return nil
}

func (r *Repository) replayEncounter(ctx context.Context, entry JournalEntry) error {
	var local *EncounterRecord
	for _, enc := range r.loadEncountersLocal() {
		if enc.ID == entry.RecordID {
			e := enc
			local = &e
			break
		}
	}
	if local == nil {
		return nil
	}

	enc, err := r.remote.CreateEncounter(ctx, EncounterInput{
		PatientID:     local.PatientID,
		Documentation: local.Documentation,
		Note:          local.Note,
	})
	if err != nil {
		return err
	}

	if enc.ID != entry.RecordID {
		encounters := r.loadEncountersLocal()
		for i := range encounters {
			if encounters[i].ID == entry.RecordID {
				encounters[i] = enc
			}
		}
		r.cache.Save(localstore.BucketEncounters, encounters)
		r.journal.rewriteRecordID(StreamEncounters, entry.RecordID, enc.ID)
	}
	return nil
}

// adoptPatientID repoints a locally created patient at the id the
// backend assigned during replay.
func (r *Repository) adoptPatientID(localID string, rec PatientRecord) {
	if rec.ID == localID {
		r.upsertPatientLocal(r.enrichPatient(rec))
		return
	}

	patients := r.loadPatientsLocal()
	delete(patients, localID)

	if ext := r.ext.Get(localID); len(ext) > 0 {
		r.ext.Set(rec.ID, ext)
		r.ext.Delete(localID)
	}

	patients[rec.ID] = r.enrichPatient(rec)
	r.cache.Save(localstore.BucketPatients, patients)
	r.journal.rewriteRecordID(StreamPatients, localID, rec.ID)
}

func (r *Repository) adoptSessionID(localID string, ses Session) {
	if ses.ID == localID {
		r.upsertSessionLocal(ses)
		return
	}

	sessions := r.loadSessionsLocal()
	delete(sessions, localID)
	sessions[ses.ID] = ses
	r.cache.Save(localstore.BucketEpisodes, sessions)
	r.journal.rewriteRecordID(StreamSessions, localID, ses.ID)
}

// --- local cache helpers ---

func (r *Repository) loadPatientsLocal() map[string]PatientRecord {
	patients := make(map[string]PatientRecord)
	r.cache.Load(localstore.BucketPatients, &patients)
	return patients
}

func (r *Repository) upsertPatientLocal(rec PatientRecord) {
	patients := r.loadPatientsLocal()
	patients[rec.ID] = rec
	r.cache.Save(localstore.BucketPatients, patients)
}

func (r *Repository) removePatientLocal(id string) {
	patients := r.loadPatientsLocal()
	if _, ok := patients[id]; !ok {
		return
	}
	delete(patients, id)
	r.cache.Save(localstore.BucketPatients, patients)
}

func (r *Repository) loadSessionsLocal() map[string]Session {
	sessions := make(map[string]Session)
	r.cache.Load(localstore.BucketEpisodes, &sessions)
	return sessions
}

func (r *Repository) upsertSessionLocal(ses Session) {
	sessions := r.loadSessionsLocal()
	sessions[ses.ID] = ses
	r.cache.Save(localstore.BucketEpisodes, sessions)
}

func (r *Repository) removeSessionLocal(id string) {
	sessions := r.loadSessionsLocal()
	if _, ok := sessions[id]; !ok {
		return
	}
	delete(sessions, id)
	r.cache.Save(localstore.BucketEpisodes, sessions)
}

func (r *Repository) loadEncountersLocal() []EncounterRecord {
	var encounters []EncounterRecord
	r.cache.Load(localstore.BucketEncounters, &encounters)
	return encounters
}

func (r *Repository) upsertEncounterLocal(enc EncounterRecord) {
	encounters := r.loadEncountersLocal()
	for i := range encounters {
		if encounters[i].ID == enc.ID {
			encounters[i] = enc
			r.cache.Save(localstore.BucketEncounters, encounters)
			return
		}
	}
	encounters = append(encounters, enc)
	r.cache.Save(localstore.BucketEncounters, encounters)
}

// enrichPatient merges stored extension fields into the record,
// dropping any that collide with canonical field names.
func (r *Repository) enrichPatient(rec PatientRecord) PatientRecord {
	rec.Extensions = r.ext.Merge(canonicalPatientFields, r.ext.Get(rec.ID))
	return rec
}

func (r *Repository) publish(stream, recordID, action string, src Source) {
	r.events.Publish(stream, recordID, action, string(src), timeNow().UTC())
}

func patientInputFrom(rec PatientRecord) PatientInput {
	return PatientInput{
		FirstName:   rec.FirstName,
		LastName:    rec.LastName,
		DateOfBirth: rec.DateOfBirth,
		Gender:      rec.Gender,
		Phone:       rec.Phone,
		Email:       rec.Email,
		Address:     rec.Address,
		MRN:         rec.MRN,
	}
}

func sortPatients(m map[string]PatientRecord) []PatientRecord {
	out := make([]PatientRecord, 0, len(m))
	for _, rec := range m {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func filterEncounters(encounters []EncounterRecord, patientID string) []EncounterRecord {
	out := make([]EncounterRecord, 0, len(encounters))
	for _, enc := range encounters {
		if enc.PatientID == patientID {
			out = append(out, enc)
		}
	}
	return out
}

func sortEncounters(encounters []EncounterRecord) []EncounterRecord {
	sort.Slice(encounters, func(i, j int) bool {
		if !encounters[i].FinalizedAt.Equal(encounters[j].FinalizedAt) {
			return encounters[i].FinalizedAt.Before(encounters[j].FinalizedAt)
		}
		return encounters[i].ID < encounters[j].ID
	})
	return encounters
}
