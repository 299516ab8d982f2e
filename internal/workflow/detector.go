package workflow

import (
	"sync"

	"github.com/verdanthealth/chartd/internal/encounter"
)

// Detector answers "has anything changed" against three baselines: the
// per-step snapshot taken at navigation, the whole draft at the last
// successful save, and the per-step data at the last successful save.
//
// A missing baseline always means "no change". Comparisons are
// structural, so a nil slice and an empty slice are the same data and
// reordering JSON keys can never register as an edit. Thread-safe.
type Detector struct {
	mu          sync.RWMutex
	navData     map[encounter.Step]encounter.StepData
	saved       *encounter.Draft
	savedByStep map[encounter.Step]encounter.StepData
}

// NewDetector returns a detector with no baselines.
func NewDetector() *Detector {
	return &Detector{
		navData:     make(map[encounter.Step]encounter.StepData),
		savedByStep: make(map[encounter.Step]encounter.StepData),
	}
}

// CaptureNavigation snapshots step's data as the clinician lands on
// it. Passing nil data for a valid step records an explicit empty
// baseline.
func (d *Detector) CaptureNavigation(step encounter.Step, data encounter.StepData) {
	if !step.Valid() {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if data != nil {
		data = data.Clone()
	}
	d.navData[step] = data
}

// CommitSaved records draft as the last successfully persisted state,
// refreshing the whole-draft baseline and the per-step baseline of the
// step that was saved. Steps that have never been part of a save keep
// no baseline, so HasStepDataChanged stays false for them.
func (d *Detector) CommitSaved(draft encounter.Draft, step encounter.Step) {
	d.mu.Lock()
	defer d.mu.Unlock()

	saved := draft.Clone()
	d.saved = &saved
	if step.Valid() {
		d.savedByStep[step] = draft.Relevant(step)
	}
}

// HasChangedSinceNavigation reports whether step's data differs from
// the snapshot captured when the clinician navigated to it. False when
// the step was never navigated to.
func (d *Detector) HasChangedSinceNavigation(step encounter.Step, current encounter.StepData) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	baseline, ok := d.navData[step]
	if !ok {
		return false
	}
	return !encounter.Equal(baseline, current)
}

// HasUnsavedChanges reports whether draft differs from the last
// committed save. False before the first commit.
func (d *Detector) HasUnsavedChanges(draft encounter.Draft) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.saved == nil {
		return false
	}
	return !d.saved.Equal(draft)
}

// HasStepDataChanged reports whether step's data differs from its
// state at the last commit. False when the step has no saved baseline.
func (d *Detector) HasStepDataChanged(step encounter.Step, current encounter.StepData) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	baseline, ok := d.savedByStep[step]
	if !ok {
		return false
	}
	return !encounter.Equal(baseline, current)
}

// Reset drops every baseline.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.navData = make(map[encounter.Step]encounter.StepData)
	d.saved = nil
	d.savedByStep = make(map[encounter.Step]encounter.StepData)
}
