// Package autosave persists encounter drafts in the background. Edits
// are debounced behind a single cancellable timer; when it fires the
// scheduler lazily creates the backing session on the first save and
// updates it by id afterwards. Completions carry a monotonic sequence
// so a slow early save can never overwrite the baselines of a newer
// one.
package autosave

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/verdanthealth/chartd/internal/encounter"
	"github.com/verdanthealth/chartd/internal/records"
)

// DefaultDelay is how long the scheduler waits after the last edit
// before persisting.
const DefaultDelay = 2 * time.Second

// Clock creates timers. The system clock is replaced in tests.
type Clock interface {
	NewTimer(d time.Duration, fn func()) Timer
}

// Timer is a single armed countdown. Stop prevents a fire that has not
// happened yet.
type Timer interface {
	Stop() bool
}

type systemClock struct{}

func (systemClock) NewTimer(d time.Duration, fn func()) Timer {
	return systemTimer{timer: time.AfterFunc(d, fn)}
}

type systemTimer struct {
	timer *time.Timer
}

func (t systemTimer) Stop() bool {
	return t.timer.Stop()
}

// Persister is the slice of the record repository the scheduler needs.
type Persister interface {
	CreateSession(ctx context.Context, in records.SessionInput) records.Result[records.Session]
	UpdateSession(ctx context.Context, id string, in records.SessionInput) records.Result[records.Session]
}

// BaselineCommitter receives the persisted draft and the step it was
// saved on after each committed save, so change detection can move its
// saved baselines forward.
type BaselineCommitter interface {
	CommitSaved(draft encounter.Draft, step encounter.Step)
}

// Options configures a Scheduler.
type Options struct {
	// Persister performs the actual saves. Required.
	Persister Persister

	// PatientID binds saved sessions to a patient. Required.
	PatientID string

	// SessionID resumes an existing session; when empty the first
	// save creates one.
	SessionID string

	// Delay is the debounce window. Defaults to DefaultDelay.
	Delay time.Duration

	// Clock defaults to the system clock.
	Clock Clock

	// Baselines, when set, is committed after each save that is not
	// superseded by a newer one.
	Baselines BaselineCommitter

	// OnSaved, when set, observes each committed save result.
	OnSaved func(res records.Result[records.Session])

	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

// Scheduler debounces draft edits into session saves.
//
// One timer slot: every edit cancels the previous countdown and starts
// a new one, so a burst of edits produces a single save. Thread-safe.
type Scheduler struct {
	persister Persister
	patientID string
	delay     time.Duration
	clock     Clock
	baselines BaselineCommitter
	onSaved   func(res records.Result[records.Session])
	logger    *zap.Logger

	mu             sync.Mutex
	timer          Timer
	draft          encounter.Draft
	step           encounter.Step
	dirty          bool
	sessionID      string
	createInFlight bool
	rearmPending   bool
	seq            uint64
	gen            uint64
	lastSaved      records.Session
	hasSaved       bool
	closed         bool

	wg sync.WaitGroup
}

// NewScheduler wires a scheduler. The timer stays unarmed until the
// first NoteChange.
func NewScheduler(opts Options) (*Scheduler, error) {
	if opts.Persister == nil {
		return nil, errors.New("autosave: persister is required")
	}
	if opts.PatientID == "" {
		return nil, errors.New("autosave: patient id is required")
	}
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	if opts.Clock == nil {
		opts.Clock = systemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Scheduler{
		persister: opts.Persister,
		patientID: opts.PatientID,
		sessionID: opts.SessionID,
		delay:     opts.Delay,
		clock:     opts.Clock,
		baselines: opts.Baselines,
		onSaved:   opts.OnSaved,
		logger:    opts.Logger,
	}, nil
}

// NoteChange records the latest draft and restarts the debounce
// countdown. Only the newest draft is ever persisted; intermediate
// edits within the window coalesce into one save.
func (s *Scheduler) NoteChange(draft encounter.Draft, step encounter.Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	s.draft = draft.Clone()
	s.step = step
	s.dirty = true
	s.armLocked()
}

// armLocked replaces the timer slot with a fresh countdown.
func (s *Scheduler) armLocked() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = s.clock.NewTimer(s.delay, s.fire)
}

// fire runs when the debounce window elapses.
func (s *Scheduler) fire() {
	s.mu.Lock()
	s.timer = nil
	if s.closed || !s.dirty {
		s.mu.Unlock()
		return
	}

	// A create is still in flight and there is no id to update yet.
	// Leave the edit pending; the create's completion re-arms the
	// timer.
	if s.sessionID == "" && s.createInFlight {
		s.rearmPending = true
		s.mu.Unlock()
		return
	}

	creating, id, in, seq, gen := s.dispatchLocked()
	s.mu.Unlock()

	s.run(context.Background(), creating, id, in, seq, gen)
}

// dispatchLocked snapshots the pending edit as a save attempt.
func (s *Scheduler) dispatchLocked() (creating bool, id string, in records.SessionInput, seq, gen uint64) {
	s.seq++
	seq = s.seq
	gen = s.gen
	s.dirty = false

	creating = s.sessionID == ""
	if creating {
		s.createInFlight = true
	}
	id = s.sessionID
	in = records.SessionInput{
		PatientID: s.patientID,
		Step:      s.step,
		Draft:     s.draft.Clone(),
		Seq:       seq,
	}
	s.wg.Add(1)
	return creating, id, in, seq, gen
}

// run performs one save attempt and applies its completion.
func (s *Scheduler) run(ctx context.Context, creating bool, id string, in records.SessionInput, seq, gen uint64) {
	defer s.wg.Done()

	var res records.Result[records.Session]
	if creating {
		res = s.persister.CreateSession(ctx, in)
	} else {
		res = s.persister.UpdateSession(ctx, id, in)
	}
	s.apply(res, in, creating, seq, gen)
}

// apply folds a completed save back into scheduler state. Completions
// from before a Reset are dropped wholesale; completions older than
// the latest dispatched save adopt the session id but commit nothing.
func (s *Scheduler) apply(res records.Result[records.Session], in records.SessionInput, creating bool, seq, gen uint64) {
	s.mu.Lock()
	if creating {
		s.createInFlight = false
	}
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	if creating {
		if res.Value.ID != "" && s.sessionID == "" {
			s.sessionID = res.Value.ID
		}
		if s.rearmPending {
			s.rearmPending = false
			s.armLocked()
		}
	}
	if seq != s.seq {
		s.logger.Debug("discarding stale save completion",
			zap.Uint64("seq", seq),
			zap.Uint64("latest", s.seq))
		s.mu.Unlock()
		return
	}
	s.lastSaved = res.Value
	s.hasSaved = true
	s.mu.Unlock()

	if s.baselines != nil {
		s.baselines.CommitSaved(in.Draft, in.Step)
	}
	if s.onSaved != nil {
		s.onSaved(res)
	}
	if res.Outcome.Degraded() {
		s.logger.Warn("draft saved to local cache only",
			zap.String("session_id", res.Value.ID),
			zap.Error(res.Outcome.Err))
	} else {
		s.logger.Debug("draft saved",
			zap.String("session_id", res.Value.ID),
			zap.Uint64("seq", seq))
	}
}

// Flush cancels the countdown and persists any pending edit now,
// waiting first for in-flight saves so the flushed write carries the
// final state. Callers flush before finalizing an encounter.
func (s *Scheduler) Flush(ctx context.Context) {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	if s.closed || !s.dirty {
		s.mu.Unlock()
		return
	}
	creating, id, in, seq, gen := s.dispatchLocked()
	s.mu.Unlock()

	s.run(ctx, creating, id, in, seq, gen)
}

// Reset abandons pending edits and detaches from the current session.
// In-flight completions from before the reset are discarded when they
// land.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
	s.dirty = false
	s.draft = encounter.Draft{}
	s.step = ""
	s.sessionID = ""
	s.rearmPending = false
	s.lastSaved = records.Session{}
	s.hasSaved = false
}

// Close stops the scheduler and waits for in-flight saves. Pending
// unsaved edits are dropped; callers that need them persisted call
// Flush first.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// SessionID returns the backing session's id, or "" before the first
// create completes.
func (s *Scheduler) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// LastSaved returns the most recently committed save, if any.
func (s *Scheduler) LastSaved() (records.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSaved, s.hasSaved
}

// Dirty reports whether an edit is waiting to be persisted.
func (s *Scheduler) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}
