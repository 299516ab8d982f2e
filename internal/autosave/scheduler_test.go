package autosave

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/verdanthealth/chartd/internal/encounter"
	"github.com/verdanthealth/chartd/internal/records"
)

// fakeClock hands out manually fired timers.
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	mu      sync.Mutex
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := t.stopped
	t.stopped = true
	return !was
}

func (t *fakeTimer) fire() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	fn := t.fn
	t.mu.Unlock()
	fn()
}

func (c *fakeClock) NewTimer(_ time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{fn: fn}
	c.timers = append(c.timers, t)
	return t
}

// fireLatest fires the most recently armed timer.
func (c *fakeClock) fireLatest() {
	c.mu.Lock()
	var latest *fakeTimer
	if len(c.timers) > 0 {
		latest = c.timers[len(c.timers)-1]
	}
	c.mu.Unlock()
	if latest != nil {
		latest.fire()
	}
}

// fireAll attempts every timer ever armed; stopped ones are no-ops.
func (c *fakeClock) fireAll() {
	c.mu.Lock()
	timers := append([]*fakeTimer(nil), c.timers...)
	c.mu.Unlock()
	for _, t := range timers {
		t.fire()
	}
}

func (c *fakeClock) armed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// fakePersister is an in-memory Persister with an optional blocking
// gate keyed by save sequence.
type fakePersister struct {
	mu          sync.Mutex
	createCalls int
	updateCalls int
	updateIDs   []string
	inputs      []records.SessionInput
	nextID      int
	gate        func(op string, seq uint64)
}

func (p *fakePersister) CreateSession(_ context.Context, in records.SessionInput) records.Result[records.Session] {
	p.mu.Lock()
	p.createCalls++
	p.nextID++
	id := fmt.Sprintf("ses-%d", p.nextID)
	p.inputs = append(p.inputs, in)
	p.mu.Unlock()

	if p.gate != nil {
		p.gate("create", in.Seq)
	}
	ses := records.Session{
		ID:        id,
		PatientID: in.PatientID,
		Step:      in.Step,
		Draft:     in.Draft,
		Seq:       in.Seq,
	}
	return records.Result[records.Session]{Value: ses, Outcome: records.Outcome{Source: records.SourceRemote}}
}

func (p *fakePersister) UpdateSession(_ context.Context, id string, in records.SessionInput) records.Result[records.Session] {
	p.mu.Lock()
	p.updateCalls++
	p.updateIDs = append(p.updateIDs, id)
	p.inputs = append(p.inputs, in)
	p.mu.Unlock()

	if p.gate != nil {
		p.gate("update", in.Seq)
	}
	ses := records.Session{ID: id, PatientID: in.PatientID, Step: in.Step, Draft: in.Draft, Seq: in.Seq}
	return records.Result[records.Session]{Value: ses, Outcome: records.Outcome{Source: records.SourceRemote}}
}

func (p *fakePersister) counts() (creates, updates int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.createCalls, p.updateCalls
}

// recordingCommitter captures committed baselines in order.
type recordingCommitter struct {
	mu     sync.Mutex
	drafts []encounter.Draft
	steps  []encounter.Step
}

func (r *recordingCommitter) CommitSaved(d encounter.Draft, step encounter.Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drafts = append(r.drafts, d)
	r.steps = append(r.steps, step)
}

func (r *recordingCommitter) committed() []encounter.Draft {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]encounter.Draft(nil), r.drafts...)
}

func draftWithComplaint(c string) encounter.Draft {
	return encounter.Draft{
		PatientID:      "pat_1",
		ChiefComplaint: encounter.ChiefComplaint{Complaint: c},
	}
}

func TestNewSchedulerValidation(t *testing.T) {
	_, err := NewScheduler(Options{PatientID: "pat_1"})
	require.Error(t, err)

	_, err = NewScheduler(Options{Persister: &fakePersister{}})
	require.Error(t, err)

	s, err := NewScheduler(Options{Persister: &fakePersister{}, PatientID: "pat_1"})
	require.NoError(t, err)
	assert.Equal(t, DefaultDelay, s.delay)
	s.Close()
}

func TestDebounceCoalescesEdits(t *testing.T) {
	clock := &fakeClock{}
	persister := &fakePersister{}
	s, err := NewScheduler(Options{
		Persister: persister,
		PatientID: "pat_1",
		Clock:     clock,
		Logger:    zap.NewNop(),
	})
	require.NoError(t, err)
	defer s.Close()

	// Five edits inside the window arm five timers, each cancelling
	// the last.
	for i := 1; i <= 5; i++ {
		s.NoteChange(draftWithComplaint(fmt.Sprintf("edit %d", i)), encounter.StepChiefComplaint)
	}
	require.Equal(t, 5, clock.armed())

	// Even firing every timer slot produces exactly one save, carrying
	// the final edit.
	clock.fireAll()
	creates, updates := persister.counts()
	assert.Equal(t, 1, creates)
	assert.Equal(t, 0, updates)
	require.Len(t, persister.inputs, 1)
	assert.Equal(t, "edit 5", persister.inputs[0].Draft.ChiefComplaint.Complaint)
	assert.Equal(t, encounter.StepChiefComplaint, persister.inputs[0].Step)
}

func TestLazyCreateThenUpdate(t *testing.T) {
	clock := &fakeClock{}
	persister := &fakePersister{}
	s, err := NewScheduler(Options{
		Persister: persister,
		PatientID: "pat_1",
		Clock:     clock,
	})
	require.NoError(t, err)
	defer s.Close()

	s.NoteChange(draftWithComplaint("first"), encounter.StepChiefComplaint)
	clock.fireLatest()
	assert.Equal(t, "ses-1", s.SessionID())

	s.NoteChange(draftWithComplaint("second"), encounter.StepChiefComplaint)
	clock.fireLatest()

	creates, updates := persister.counts()
	assert.Equal(t, 1, creates)
	assert.Equal(t, 1, updates)
	require.Len(t, persister.updateIDs, 1)
	assert.Equal(t, "ses-1", persister.updateIDs[0])

	last, ok := s.LastSaved()
	require.True(t, ok)
	assert.Equal(t, "second", last.Draft.ChiefComplaint.Complaint)
}

func TestResumeExistingSessionSkipsCreate(t *testing.T) {
	clock := &fakeClock{}
	persister := &fakePersister{}
	s, err := NewScheduler(Options{
		Persister: persister,
		PatientID: "pat_1",
		SessionID: "ses-resumed",
		Clock:     clock,
	})
	require.NoError(t, err)
	defer s.Close()

	s.NoteChange(draftWithComplaint("edit"), encounter.StepChiefComplaint)
	clock.fireLatest()

	creates, updates := persister.counts()
	assert.Equal(t, 0, creates)
	assert.Equal(t, 1, updates)
	assert.Equal(t, "ses-resumed", persister.updateIDs[0])
}

func TestEditDuringCreateRearmsTimer(t *testing.T) {
	clock := &fakeClock{}
	release := make(chan struct{})
	started := make(chan uint64, 1)
	persister := &fakePersister{}
	persister.gate = func(op string, seq uint64) {
		if op == "create" {
			started <- seq
			<-release
		}
	}

	saved := make(chan records.Result[records.Session], 2)
	s, err := NewScheduler(Options{
		Persister: persister,
		PatientID: "pat_1",
		Clock:     clock,
		OnSaved:   func(res records.Result[records.Session]) { saved <- res },
	})
	require.NoError(t, err)
	defer s.Close()

	s.NoteChange(draftWithComplaint("first"), encounter.StepChiefComplaint)
	go clock.fireLatest()
	<-started

	// Edit lands while the create is still in flight; its timer fires
	// with no session id to update.
	s.NoteChange(draftWithComplaint("second"), encounter.StepChiefComplaint)
	clock.fireLatest()
	creates, updates := persister.counts()
	assert.Equal(t, 1, creates)
	assert.Equal(t, 0, updates, "no update can run before the create returns an id")

	armedBefore := clock.armed()
	close(release)
	first := <-saved
	assert.Equal(t, "first", first.Value.Draft.ChiefComplaint.Complaint)

	// The create's completion re-armed the countdown for the waiting
	// edit.
	require.Greater(t, clock.armed(), armedBefore)
	clock.fireLatest()
	second := <-saved
	assert.Equal(t, "second", second.Value.Draft.ChiefComplaint.Complaint)

	creates, updates = persister.counts()
	assert.Equal(t, 1, creates)
	assert.Equal(t, 1, updates)
	assert.Equal(t, "ses-1", persister.updateIDs[0])
}

func TestStaleCompletionIsDiscarded(t *testing.T) {
	clock := &fakeClock{}
	started := make(chan uint64, 2)
	release := map[uint64]chan struct{}{
		1: make(chan struct{}),
		2: make(chan struct{}),
	}
	persister := &fakePersister{}
	persister.gate = func(_ string, seq uint64) {
		started <- seq
		<-release[seq]
	}

	committer := &recordingCommitter{}
	saved := make(chan records.Result[records.Session], 2)
	s, err := NewScheduler(Options{
		Persister: persister,
		PatientID: "pat_1",
		SessionID: "ses-1",
		Clock:     clock,
		Baselines: committer,
		OnSaved:   func(res records.Result[records.Session]) { saved <- res },
	})
	require.NoError(t, err)

	// Two saves in flight at once: seq 1 stalls, seq 2 overtakes it.
	s.NoteChange(draftWithComplaint("older"), encounter.StepChiefComplaint)
	go clock.fireLatest()
	require.Equal(t, uint64(1), <-started)

	s.NoteChange(draftWithComplaint("newer"), encounter.StepChiefComplaint)
	go clock.fireLatest()
	require.Equal(t, uint64(2), <-started)

	close(release[2])
	res := <-saved
	assert.Equal(t, "newer", res.Value.Draft.ChiefComplaint.Complaint)

	// The older save finishes last; its completion must not move
	// baselines or the last-saved state backwards.
	close(release[1])
	s.Close()

	select {
	case extra := <-saved:
		t.Fatalf("stale completion was committed: %v", extra.Value.Draft.ChiefComplaint.Complaint)
	default:
	}

	committed := committer.committed()
	require.Len(t, committed, 1)
	assert.Equal(t, "newer", committed[0].ChiefComplaint.Complaint)
	assert.Equal(t, []encounter.Step{encounter.StepChiefComplaint}, committer.steps)

	last, ok := s.LastSaved()
	require.True(t, ok)
	assert.Equal(t, "newer", last.Draft.ChiefComplaint.Complaint)
}

func TestFlushPersistsPendingEditNow(t *testing.T) {
	clock := &fakeClock{}
	persister := &fakePersister{}
	committer := &recordingCommitter{}
	s, err := NewScheduler(Options{
		Persister: persister,
		PatientID: "pat_1",
		Clock:     clock,
		Baselines: committer,
	})
	require.NoError(t, err)
	defer s.Close()

	s.NoteChange(draftWithComplaint("pending"), encounter.StepChiefComplaint)
	require.True(t, s.Dirty())

	s.Flush(context.Background())
	assert.False(t, s.Dirty())

	creates, _ := persister.counts()
	assert.Equal(t, 1, creates)
	require.Len(t, committer.committed(), 1)

	// The debounce timer was cancelled; firing it saves nothing more.
	clock.fireAll()
	creates, updates := persister.counts()
	assert.Equal(t, 1, creates)
	assert.Equal(t, 0, updates)
}

func TestFlushWithNothingPendingIsNoop(t *testing.T) {
	persister := &fakePersister{}
	s, err := NewScheduler(Options{
		Persister: persister,
		PatientID: "pat_1",
		Clock:     &fakeClock{},
	})
	require.NoError(t, err)
	defer s.Close()

	s.Flush(context.Background())
	creates, updates := persister.counts()
	assert.Zero(t, creates)
	assert.Zero(t, updates)
}

func TestResetDiscardsInFlightCompletion(t *testing.T) {
	clock := &fakeClock{}
	release := make(chan struct{})
	started := make(chan uint64, 1)
	persister := &fakePersister{}
	persister.gate = func(op string, seq uint64) {
		if op == "create" {
			started <- seq
			<-release
		}
	}

	committer := &recordingCommitter{}
	s, err := NewScheduler(Options{
		Persister: persister,
		PatientID: "pat_1",
		Clock:     clock,
		Baselines: committer,
	})
	require.NoError(t, err)

	s.NoteChange(draftWithComplaint("doomed"), encounter.StepChiefComplaint)
	go clock.fireLatest()
	<-started

	s.Reset()
	close(release)
	s.Close()

	assert.Empty(t, s.SessionID(), "a completion from before the reset must not attach a session")
	assert.Empty(t, committer.committed())
	_, ok := s.LastSaved()
	assert.False(t, ok)
}

func TestCloseStopsScheduling(t *testing.T) {
	clock := &fakeClock{}
	persister := &fakePersister{}
	s, err := NewScheduler(Options{
		Persister: persister,
		PatientID: "pat_1",
		Clock:     clock,
	})
	require.NoError(t, err)

	s.NoteChange(draftWithComplaint("edit"), encounter.StepChiefComplaint)
	s.Close()

	clock.fireAll()
	creates, updates := persister.counts()
	assert.Zero(t, creates)
	assert.Zero(t, updates)

	s.NoteChange(draftWithComplaint("late"), encounter.StepChiefComplaint)
	assert.False(t, s.Dirty())
}
