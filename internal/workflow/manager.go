// Package workflow drives a clinical encounter through its ordered
// documentation steps and answers the questions the UI and the
// autosave scheduler ask about it: where the clinician is, how far
// they have been, what data belongs to a step, what has changed, and
// whether editing an earlier step would invalidate later work.
package workflow

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/verdanthealth/chartd/internal/encounter"
)

// Manager tracks one encounter's draft and step position.
//
// Navigation is free in both directions but the highest step reached
// only moves forward, so a clinician stepping back to review never
// loses their place. Thread-safe.
type Manager struct {
	mu        sync.RWMutex
	patientID string
	draft     encounter.Draft
	current   encounter.Step
	highest   encounter.Step
	detector  *Detector
	logger    *zap.Logger
}

// NewManager starts a fresh encounter at the demographics step.
// detector may be nil when change tracking is not needed.
func NewManager(patientID string, detector *Detector, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		patientID: patientID,
		draft:     encounter.Draft{PatientID: patientID},
		current:   encounter.StepDemographics,
		highest:   encounter.StepDemographics,
		detector:  detector,
		logger:    logger,
	}
	if detector != nil {
		detector.CaptureNavigation(m.current, m.draft.Relevant(m.current))
	}
	return m
}

// Resume rebuilds a manager from a persisted draft, placing the
// clinician back on current. The highest step reached is re-derived as
// the furthest step that is current or already holds data.
func Resume(draft encounter.Draft, current encounter.Step, detector *Detector, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !current.Valid() {
		current = encounter.StepDemographics
	}

	highest := current
	for _, step := range encounter.AllSteps() {
		if !step.After(highest) {
			continue
		}
		if data := draft.Relevant(step); data != nil && !data.IsEmpty() {
			highest = step
		}
	}

	m := &Manager{
		patientID: draft.PatientID,
		draft:     draft.Clone(),
		current:   current,
		highest:   highest,
		detector:  detector,
		logger:    logger,
	}
	if detector != nil {
		detector.CaptureNavigation(m.current, m.draft.Relevant(m.current))
	}
	return m
}

// PatientID returns the patient this encounter documents.
func (m *Manager) PatientID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.patientID
}

// Navigate moves the clinician to step. The step becomes current, a
// navigation snapshot of its data is captured for change detection,
// and the highest step reached advances if step is past it.
func (m *Manager) Navigate(step encounter.Step) error {
	if !step.Valid() {
		return fmt.Errorf("workflow: unknown step %q", step)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.current = step
	if step.After(m.highest) {
		m.highest = step
	}
	if m.detector != nil {
		m.detector.CaptureNavigation(step, m.draft.Relevant(step))
	}
	m.logger.Debug("navigated",
		zap.String("step", string(step)),
		zap.String("highest", string(m.highest)))
	return nil
}

// Current returns the step the clinician is on.
func (m *Manager) Current() encounter.Step {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Highest returns the furthest step reached so far.
func (m *Manager) Highest() encounter.Step {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.highest
}

// RelevantData returns a copy of the draft data owned by step, or nil
// for an unknown step.
func (m *Manager) RelevantData(step encounter.Step) encounter.StepData {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.draft.Relevant(step)
}

// SetSection replaces step's data in the draft. The data must match
// the step's section type.
func (m *Manager) SetSection(step encounter.Step, data encounter.StepData) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	updated, err := m.draft.WithSection(step, data)
	if err != nil {
		return err
	}
	m.draft = updated
	return nil
}

// Draft returns a deep copy of the working draft.
func (m *Manager) Draft() encounter.Draft {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.draft.Clone()
}

// WouldChangesAffectSubsequentSteps reports whether any step after
// step already holds data. Emptiness is judged per section type, so a
// lone empty slice or blank string does not count as dependent work.
// Editing an earlier step while this is true risks invalidating later
// documentation; callers use it to decide whether to warn first.
func (m *Manager) WouldChangesAffectSubsequentSteps(step encounter.Step) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, later := range encounter.StepsAfter(step) {
		if data := m.draft.Relevant(later); data != nil && !data.IsEmpty() {
			return true
		}
	}
	return false
}

// ReplaceDraft swaps in a whole draft, keeping the current position.
// Used when a persisted session is reloaded underneath an open
// encounter.
func (m *Manager) ReplaceDraft(draft encounter.Draft) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.draft = draft.Clone()
}

// Reset clears the draft back to an empty encounter at demographics,
// keeping the patient binding.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.draft = encounter.Draft{PatientID: m.patientID}
	m.current = encounter.StepDemographics
	m.highest = encounter.StepDemographics
	if m.detector != nil {
		m.detector.Reset()
		m.detector.CaptureNavigation(m.current, m.draft.Relevant(m.current))
	}
	m.logger.Debug("workflow reset", zap.String("patient_id", m.patientID))
}
