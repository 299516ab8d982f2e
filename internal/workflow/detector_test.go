package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/verdanthealth/chartd/internal/encounter"
)

func TestDetectorNoBaselinesMeansNoChanges(t *testing.T) {
	d := NewDetector()

	assert.False(t, d.HasChangedSinceNavigation(encounter.StepExam, encounter.Exam{General: "alert"}))
	assert.False(t, d.HasUnsavedChanges(encounter.Draft{PatientID: "pat_1"}))
	assert.False(t, d.HasStepDataChanged(encounter.StepExam, encounter.Exam{General: "alert"}))
}

func TestDetectorNavigationBaseline(t *testing.T) {
	d := NewDetector()
	d.CaptureNavigation(encounter.StepChiefComplaint, encounter.ChiefComplaint{})

	assert.False(t, d.HasChangedSinceNavigation(encounter.StepChiefComplaint, encounter.ChiefComplaint{}))
	assert.True(t, d.HasChangedSinceNavigation(encounter.StepChiefComplaint, encounter.ChiefComplaint{Complaint: "cough"}))

	// Re-capture moves the baseline.
	d.CaptureNavigation(encounter.StepChiefComplaint, encounter.ChiefComplaint{Complaint: "cough"})
	assert.False(t, d.HasChangedSinceNavigation(encounter.StepChiefComplaint, encounter.ChiefComplaint{Complaint: "cough"}))
}

func TestDetectorUnsavedChanges(t *testing.T) {
	d := NewDetector()
	draft := encounter.Draft{
		PatientID:      "pat_1",
		ChiefComplaint: encounter.ChiefComplaint{Complaint: "cough"},
	}

	d.CommitSaved(draft, encounter.StepChiefComplaint)
	assert.False(t, d.HasUnsavedChanges(draft))

	edited := draft
	edited.ChiefComplaint.Severity = "moderate"
	assert.True(t, d.HasUnsavedChanges(edited))

	d.CommitSaved(edited, encounter.StepChiefComplaint)
	assert.False(t, d.HasUnsavedChanges(edited))
}

func TestDetectorStepDataChanged(t *testing.T) {
	d := NewDetector()
	draft := encounter.Draft{
		Assessment: encounter.Assessment{Symptoms: []string{"cough", "fever"}},
	}
	d.CommitSaved(draft, encounter.StepAssessment)

	assert.False(t, d.HasStepDataChanged(encounter.StepAssessment, encounter.Assessment{Symptoms: []string{"cough", "fever"}}))
	assert.True(t, d.HasStepDataChanged(encounter.StepAssessment, encounter.Assessment{Symptoms: []string{"cough"}}))
}

func TestDetectorCommitCoversOnlySavedStep(t *testing.T) {
	d := NewDetector()
	d.CommitSaved(encounter.Draft{
		ChiefComplaint: encounter.ChiefComplaint{Complaint: "cough"},
	}, encounter.StepChiefComplaint)

	// A step that has never been part of a save has no baseline, so
	// typing into it is not "changed since last save".
	assert.False(t, d.HasStepDataChanged(encounter.StepPlan, encounter.Plan{FollowUp: "2 weeks"}))

	// Once that step is saved, edits register against its baseline.
	d.CommitSaved(encounter.Draft{
		ChiefComplaint: encounter.ChiefComplaint{Complaint: "cough"},
		Plan:           encounter.Plan{FollowUp: "2 weeks"},
	}, encounter.StepPlan)
	assert.False(t, d.HasStepDataChanged(encounter.StepPlan, encounter.Plan{FollowUp: "2 weeks"}))
	assert.True(t, d.HasStepDataChanged(encounter.StepPlan, encounter.Plan{FollowUp: "1 week"}))
	// The earlier step's baseline survives the later commit.
	assert.True(t, d.HasStepDataChanged(encounter.StepChiefComplaint, encounter.ChiefComplaint{Complaint: "wheeze"}))
}

func TestDetectorNilAndEmptyCollectionsAreEqual(t *testing.T) {
	d := NewDetector()
	d.CommitSaved(encounter.Draft{
		Assessment: encounter.Assessment{Symptoms: nil},
	}, encounter.StepAssessment)

	// An empty slice is the same data as a nil one; round-tripping
	// through storage must not read as an edit.
	assert.False(t, d.HasStepDataChanged(encounter.StepAssessment, encounter.Assessment{Symptoms: []string{}}))
	assert.False(t, d.HasStepDataChanged(encounter.StepAssessment, encounter.Assessment{ReviewOfSystems: map[string]string{}}))
}

func TestDetectorBaselineIsIsolatedFromCaller(t *testing.T) {
	d := NewDetector()
	data := encounter.Assessment{Symptoms: []string{"cough"}}
	d.CaptureNavigation(encounter.StepAssessment, data)

	// Mutating the captured value must not move the baseline.
	data.Symptoms[0] = "fever"
	assert.False(t, d.HasChangedSinceNavigation(encounter.StepAssessment, encounter.Assessment{Symptoms: []string{"cough"}}))
}

func TestDetectorReset(t *testing.T) {
	d := NewDetector()
	d.CaptureNavigation(encounter.StepExam, encounter.Exam{General: "alert"})
	d.CommitSaved(encounter.Draft{Exam: encounter.Exam{General: "alert"}}, encounter.StepExam)

	d.Reset()
	assert.False(t, d.HasChangedSinceNavigation(encounter.StepExam, encounter.Exam{General: "changed"}))
	assert.False(t, d.HasUnsavedChanges(encounter.Draft{Exam: encounter.Exam{General: "changed"}}))
	assert.False(t, d.HasStepDataChanged(encounter.StepExam, encounter.Exam{General: "changed"}))
}
