package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/verdanthealth/chartd/internal/autosave"
	"github.com/verdanthealth/chartd/internal/encounter"
	"github.com/verdanthealth/chartd/internal/records"
)

const instrumentationName = "github.com/verdanthealth/chartd/internal/workflow"

// ErrNoActiveEncounter is returned when an operation names an encounter
// id with no open workflow behind it.
var ErrNoActiveEncounter = errors.New("no active encounter")

// Recorder is the slice of the record repository the service needs:
// session persistence for autosave, session lookup for resume, and
// encounter finalization.
type Recorder interface {
	CreateSession(ctx context.Context, in records.SessionInput) records.Result[records.Session]
	UpdateSession(ctx context.Context, id string, in records.SessionInput) records.Result[records.Session]
	GetSession(ctx context.Context, id string) records.Result[*records.Session]
	DeleteSession(ctx context.Context, id string) records.Outcome
	FinalizeEncounter(ctx context.Context, in records.EncounterInput) records.Result[records.EncounterRecord]
}

var _ Recorder = (*records.Repository)(nil)

// StartInput opens an encounter. SessionID resumes a persisted
// autosave session; when it is set PatientID is taken from the session
// and may be left empty.
type StartInput struct {
	PatientID string `json:"patientId"`
	SessionID string `json:"sessionId,omitempty"`
}

// State is a point-in-time snapshot of one active encounter, safe to
// hand across API boundaries.
type State struct {
	ID        string          `json:"id"`
	PatientID string          `json:"patientId"`
	Current   encounter.Step  `json:"current"`
	Highest   encounter.Step  `json:"highest"`
	Draft     encounter.Draft `json:"draft"`

	// SessionID is the backing autosave session, empty until the first
	// save completes.
	SessionID string `json:"sessionId,omitempty"`

	// Dirty reports edits not yet persisted: either an autosave is
	// still pending or the draft differs from the last committed save.
	Dirty bool `json:"dirty"`

	StartedAt time.Time  `json:"startedAt"`
	LastSaved *time.Time `json:"lastSaved,omitempty"`
}

// Service manages the encounters a clinician currently has open. Each
// active encounter composes a step Manager, a change Detector, and an
// autosave Scheduler; the service owns their lifecycle from Start to
// Finalize or Discard.
type Service interface {
	// Start opens a new encounter for a patient, or resumes one from a
	// persisted autosave session.
	Start(ctx context.Context, in StartInput) (State, error)

	// State returns a snapshot of an active encounter.
	State(ctx context.Context, id string) (State, error)

	// List returns snapshots of every active encounter, oldest first.
	List(ctx context.Context) []State

	// Navigate moves an active encounter to step.
	Navigate(ctx context.Context, id string, step encounter.Step) (State, error)

	// UpdateSection decodes a JSON payload into the section type owned
	// by step and stores it in the encounter's draft.
	UpdateSection(ctx context.Context, id string, step encounter.Step, payload []byte) (State, error)

	// WouldAffect reports whether editing step risks invalidating data
	// already entered in later steps.
	WouldAffect(ctx context.Context, id string, step encounter.Step) (bool, error)

	// Finalize flushes pending edits, writes the permanent encounter
	// record, deletes the backing session, and closes the workflow.
	Finalize(ctx context.Context, id, note string) (records.Result[records.EncounterRecord], error)

	// Reset clears an encounter's draft back to an empty chart. The
	// workflow stays open; the next edit starts a fresh session.
	Reset(ctx context.Context, id string) (State, error)

	// Discard abandons an active encounter, dropping unsaved edits and
	// deleting its autosave session.
	Discard(ctx context.Context, id string) error

	// Close flushes and shuts down every active encounter.
	Close(ctx context.Context) error
}

// ServiceConfig configures the workflow service.
type ServiceConfig struct {
	// AutosaveDelay is each encounter's debounce window.
	// Defaults to autosave.DefaultDelay.
	AutosaveDelay time.Duration

	// Clock is handed to each encounter's scheduler. Defaults to the
	// system clock.
	Clock autosave.Clock

	// MaxActive caps concurrently open encounters (default: 32).
	MaxActive int
}

// DefaultServiceConfig returns sensible defaults.
func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		AutosaveDelay: autosave.DefaultDelay,
		MaxActive:     32,
	}
}

// service implements the Service interface.
type service struct {
	config *ServiceConfig
	repo   Recorder
	logger *zap.Logger

	// Telemetry
	tracer          trace.Tracer
	meter           metric.Meter
	startCounter    metric.Int64Counter
	finalizeCounter metric.Int64Counter

	mu     sync.RWMutex
	active map[string]*activeEncounter
	closed bool
}

// activeEncounter is one open workflow and its collaborators.
type activeEncounter struct {
	id        string
	manager   *Manager
	detector  *Detector
	scheduler *autosave.Scheduler
	startedAt time.Time
}

// NewService creates a new workflow service.
func NewService(cfg *ServiceConfig, repo Recorder, logger *zap.Logger) (Service, error) {
	if cfg == nil {
		cfg = DefaultServiceConfig()
	}
	if repo == nil {
		return nil, errors.New("record repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.AutosaveDelay <= 0 {
		cfg.AutosaveDelay = autosave.DefaultDelay
	}
	if cfg.MaxActive <= 0 {
		cfg.MaxActive = DefaultServiceConfig().MaxActive
	}

	s := &service{
		config: cfg,
		repo:   repo,
		logger: logger.Named("workflow"),
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
		active: make(map[string]*activeEncounter),
	}

	s.initMetrics()

	return s, nil
}

// initMetrics initializes OpenTelemetry metrics.
func (s *service) initMetrics() {
	var err error

	s.startCounter, err = s.meter.Int64Counter(
		"chartd.workflow.encounters_started",
		metric.WithDescription("Encounters opened, new and resumed"),
		metric.WithUnit("{encounter}"),
	)
	if err != nil {
		s.logger.Warn("failed to create start counter", zap.Error(err))
	}

	s.finalizeCounter, err = s.meter.Int64Counter(
		"chartd.workflow.encounters_finalized",
		metric.WithDescription("Encounters turned into permanent records"),
		metric.WithUnit("{encounter}"),
	)
	if err != nil {
		s.logger.Warn("failed to create finalize counter", zap.Error(err))
	}
}

// Start opens a new encounter or resumes a persisted session.
func (s *service) Start(ctx context.Context, in StartInput) (State, error) {
	ctx, span := s.tracer.Start(ctx, "workflow.start")
	defer span.End()

	span.SetAttributes(
		attribute.String("patient_id", in.PatientID),
		attribute.Bool("resume", in.SessionID != ""),
	)

	patientID := in.PatientID
	var (
		mgr      *Manager
		detector = NewDetector()
	)

	if in.SessionID != "" {
		res := s.repo.GetSession(ctx, in.SessionID)
		if res.Value == nil {
			err := fmt.Errorf("session not found: %s", in.SessionID)
			if res.Outcome.Err != nil {
				err = fmt.Errorf("session %s unavailable: %w", in.SessionID, res.Outcome.Err)
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return State{}, err
		}
		ses := res.Value
		patientID = ses.PatientID
		mgr = Resume(ses.Draft, ses.Step, detector, s.logger)
		// The persisted draft is the last-saved baseline.
		detector.CommitSaved(ses.Draft, ses.Step)
	} else {
		if patientID == "" {
			err := errors.New("patient id is required")
			span.SetStatus(codes.Error, err.Error())
			return State{}, err
		}
		mgr = NewManager(patientID, detector, s.logger)
	}

	id := uuid.New().String()
	scheduler, err := autosave.NewScheduler(autosave.Options{
		Persister: s.repo,
		PatientID: patientID,
		SessionID: in.SessionID,
		Delay:     s.config.AutosaveDelay,
		Clock:     s.config.Clock,
		Baselines: detector,
		Logger:    s.logger.With(zap.String("encounter_id", id)),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return State{}, err
	}

	entry := &activeEncounter{
		id:        id,
		manager:   mgr,
		detector:  detector,
		scheduler: scheduler,
		startedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		scheduler.Close()
		return State{}, errors.New("service is closed")
	}
	if len(s.active) >= s.config.MaxActive {
		s.mu.Unlock()
		scheduler.Close()
		err := fmt.Errorf("too many active encounters (limit %d)", s.config.MaxActive)
		span.SetStatus(codes.Error, err.Error())
		return State{}, err
	}
	if in.SessionID != "" {
		for _, other := range s.active {
			if other.scheduler.SessionID() == in.SessionID {
				s.mu.Unlock()
				scheduler.Close()
				err := fmt.Errorf("session already open: %s", in.SessionID)
				span.SetStatus(codes.Error, err.Error())
				return State{}, err
			}
		}
	}
	s.active[id] = entry
	s.mu.Unlock()

	if s.startCounter != nil {
		s.startCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.Bool("resume", in.SessionID != ""),
		))
	}

	s.logger.Info("encounter started",
		zap.String("encounter_id", id),
		zap.String("patient_id", patientID),
		zap.Bool("resume", in.SessionID != ""),
	)

	span.SetAttributes(attribute.String("encounter_id", id))
	return s.snapshot(entry), nil
}

// State returns a snapshot of an active encounter.
func (s *service) State(ctx context.Context, id string) (State, error) {
	_, span := s.tracer.Start(ctx, "workflow.state")
	defer span.End()
	span.SetAttributes(attribute.String("encounter_id", id))

	entry, err := s.get(id)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return State{}, err
	}
	return s.snapshot(entry), nil
}

// List returns snapshots of every active encounter, oldest first.
func (s *service) List(ctx context.Context) []State {
	_, span := s.tracer.Start(ctx, "workflow.list")
	defer span.End()

	s.mu.RLock()
	entries := make([]*activeEncounter, 0, len(s.active))
	for _, entry := range s.active {
		entries = append(entries, entry)
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].startedAt.Equal(entries[j].startedAt) {
			return entries[i].id < entries[j].id
		}
		return entries[i].startedAt.Before(entries[j].startedAt)
	})

	states := make([]State, 0, len(entries))
	for _, entry := range entries {
		states = append(states, s.snapshot(entry))
	}

	span.SetAttributes(attribute.Int("result_count", len(states)))
	return states
}

// Navigate moves an active encounter to step and persists the new
// position through autosave.
func (s *service) Navigate(ctx context.Context, id string, step encounter.Step) (State, error) {
	_, span := s.tracer.Start(ctx, "workflow.navigate")
	defer span.End()

	span.SetAttributes(
		attribute.String("encounter_id", id),
		attribute.String("step", string(step)),
	)

	entry, err := s.get(id)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return State{}, err
	}

	if err := entry.manager.Navigate(step); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return State{}, err
	}

	entry.scheduler.NoteChange(entry.manager.Draft(), step)
	return s.snapshot(entry), nil
}

// UpdateSection stores a section payload in the encounter's draft and
// schedules an autosave.
func (s *service) UpdateSection(ctx context.Context, id string, step encounter.Step, payload []byte) (State, error) {
	_, span := s.tracer.Start(ctx, "workflow.update_section")
	defer span.End()

	span.SetAttributes(
		attribute.String("encounter_id", id),
		attribute.String("step", string(step)),
	)

	entry, err := s.get(id)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return State{}, err
	}

	data, err := encounter.DecodeSection(step, payload)
	if err != nil {
		err = fmt.Errorf("invalid section payload: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return State{}, err
	}

	if err := entry.manager.SetSection(step, data); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return State{}, err
	}

	entry.scheduler.NoteChange(entry.manager.Draft(), entry.manager.Current())
	return s.snapshot(entry), nil
}

// WouldAffect reports whether editing step risks invalidating later
// documentation.
func (s *service) WouldAffect(ctx context.Context, id string, step encounter.Step) (bool, error) {
	_, span := s.tracer.Start(ctx, "workflow.would_affect")
	defer span.End()

	span.SetAttributes(
		attribute.String("encounter_id", id),
		attribute.String("step", string(step)),
	)

	entry, err := s.get(id)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}
	return entry.manager.WouldChangesAffectSubsequentSteps(step), nil
}

// Finalize turns an active encounter into a permanent record.
func (s *service) Finalize(ctx context.Context, id, note string) (records.Result[records.EncounterRecord], error) {
	ctx, span := s.tracer.Start(ctx, "workflow.finalize")
	defer span.End()
	span.SetAttributes(attribute.String("encounter_id", id))

	entry, err := s.get(id)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return records.Result[records.EncounterRecord]{}, err
	}

	// Push any pending edit through so the record carries final state.
	entry.scheduler.Flush(ctx)

	draft := entry.manager.Draft()
	if draft.IsEmpty() {
		err := errors.New("cannot finalize an empty encounter")
		span.SetStatus(codes.Error, err.Error())
		return records.Result[records.EncounterRecord]{}, err
	}

	res := s.repo.FinalizeEncounter(ctx, records.EncounterInput{
		PatientID:     entry.manager.PatientID(),
		Documentation: draft,
		Note:          note,
	})

	if sessionID := entry.scheduler.SessionID(); sessionID != "" {
		s.repo.DeleteSession(ctx, sessionID)
	}
	entry.scheduler.Close()

	s.mu.Lock()
	delete(s.active, id)
	s.mu.Unlock()

	if s.finalizeCounter != nil {
		s.finalizeCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("source", string(res.Outcome.Source)),
		))
	}

	s.logger.Info("encounter finalized",
		zap.String("encounter_id", id),
		zap.String("record_id", res.Value.ID),
		zap.String("source", string(res.Outcome.Source)),
	)

	span.SetAttributes(attribute.String("record_id", res.Value.ID))
	return res, nil
}

// Reset clears an encounter back to an empty chart. The backing
// session id is forgotten, not deleted; the next edit starts a fresh
// session.
func (s *service) Reset(ctx context.Context, id string) (State, error) {
	_, span := s.tracer.Start(ctx, "workflow.reset")
	defer span.End()
	span.SetAttributes(attribute.String("encounter_id", id))

	entry, err := s.get(id)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return State{}, err
	}

	// Cancel the scheduler first so no save of the old draft lands
	// mid-reset.
	entry.scheduler.Reset()
	entry.manager.Reset()

	s.logger.Info("encounter reset", zap.String("encounter_id", id))
	return s.snapshot(entry), nil
}

// Discard abandons an active encounter.
func (s *service) Discard(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "workflow.discard")
	defer span.End()
	span.SetAttributes(attribute.String("encounter_id", id))

	entry, err := s.get(id)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	entry.scheduler.Close()
	if sessionID := entry.scheduler.SessionID(); sessionID != "" {
		s.repo.DeleteSession(ctx, sessionID)
	}

	s.mu.Lock()
	delete(s.active, id)
	s.mu.Unlock()

	s.logger.Info("encounter discarded", zap.String("encounter_id", id))
	return nil
}

// Close flushes and shuts down every active encounter.
func (s *service) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	entries := make([]*activeEncounter, 0, len(s.active))
	for _, entry := range s.active {
		entries = append(entries, entry)
	}
	s.active = make(map[string]*activeEncounter)
	s.mu.Unlock()

	for _, entry := range entries {
		entry.scheduler.Flush(ctx)
		entry.scheduler.Close()
	}

	s.logger.Info("workflow service closed", zap.Int("flushed", len(entries)))
	return nil
}

// get looks up an active encounter.
func (s *service) get(id string) (*activeEncounter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errors.New("service is closed")
	}
	entry, ok := s.active[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoActiveEncounter, id)
	}
	return entry, nil
}

// snapshot builds a State from an active encounter.
func (s *service) snapshot(entry *activeEncounter) State {
	draft := entry.manager.Draft()
	st := State{
		ID:        entry.id,
		PatientID: entry.manager.PatientID(),
		Current:   entry.manager.Current(),
		Highest:   entry.manager.Highest(),
		Draft:     draft,
		SessionID: entry.scheduler.SessionID(),
		Dirty:     entry.scheduler.Dirty() || entry.detector.HasUnsavedChanges(draft),
		StartedAt: entry.startedAt,
	}
	if ses, ok := entry.scheduler.LastSaved(); ok {
		saved := ses.UpdatedAt
		st.LastSaved = &saved
	}
	return st
}
