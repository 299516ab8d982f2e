package encounter

import (
	"encoding/json"
	"fmt"
)

// Draft is the sparsely populated working document for one
// in-progress encounter. Zero values are the documented defaults;
// a freshly constructed Draft is valid and entirely empty.
type Draft struct {
	PatientID      string         `json:"patientId,omitempty"`
	Demographics   Demographics   `json:"demographics"`
	ChiefComplaint ChiefComplaint `json:"chiefComplaint"`
	Assessment     Assessment     `json:"assessment"`
	Exam           Exam           `json:"exam"`
	Diagnosis      Diagnosis      `json:"diagnosis"`
	Tests          Tests          `json:"tests"`
	Results        Results        `json:"results"`
	Plan           Plan           `json:"plan"`
	Summary        Summary        `json:"summary"`
}

// Relevant returns a deep copy of the section the given step is
// responsible for, or nil for the zero step and unknown steps.
func (d Draft) Relevant(step Step) StepData {
	switch step {
	case StepDemographics:
		return d.Demographics.Clone()
	case StepChiefComplaint:
		return d.ChiefComplaint.Clone()
	case StepAssessment:
		return d.Assessment.Clone()
	case StepExam:
		return d.Exam.Clone()
	case StepDiagnosis:
		return d.Diagnosis.Clone()
	case StepTests:
		return d.Tests.Clone()
	case StepResults:
		return d.Results.Clone()
	case StepPlan:
		return d.Plan.Clone()
	case StepSummary:
		return d.Summary.Clone()
	default:
		return nil
	}
}

// WithSection returns a copy of the draft with the step's section
// replaced by a deep copy of data. Unknown steps and mismatched
// section types return an error and leave the draft unchanged.
func (d Draft) WithSection(step Step, data StepData) (Draft, error) {
	if data == nil {
		return d, fmt.Errorf("nil section data for step %q", step)
	}
	cloned := data.Clone()
	switch step {
	case StepDemographics:
		v, ok := cloned.(Demographics)
		if !ok {
			return d, sectionTypeError(step, data)
		}
		d.Demographics = v
	case StepChiefComplaint:
		v, ok := cloned.(ChiefComplaint)
		if !ok {
			return d, sectionTypeError(step, data)
		}
		d.ChiefComplaint = v
	case StepAssessment:
		v, ok := cloned.(Assessment)
		if !ok {
			return d, sectionTypeError(step, data)
		}
		d.Assessment = v
	case StepExam:
		v, ok := cloned.(Exam)
		if !ok {
			return d, sectionTypeError(step, data)
		}
		d.Exam = v
	case StepDiagnosis:
		v, ok := cloned.(Diagnosis)
		if !ok {
			return d, sectionTypeError(step, data)
		}
		d.Diagnosis = v
	case StepTests:
		v, ok := cloned.(Tests)
		if !ok {
			return d, sectionTypeError(step, data)
		}
		d.Tests = v
	case StepResults:
		v, ok := cloned.(Results)
		if !ok {
			return d, sectionTypeError(step, data)
		}
		d.Results = v
	case StepPlan:
		v, ok := cloned.(Plan)
		if !ok {
			return d, sectionTypeError(step, data)
		}
		d.Plan = v
	case StepSummary:
		v, ok := cloned.(Summary)
		if !ok {
			return d, sectionTypeError(step, data)
		}
		d.Summary = v
	default:
		return d, fmt.Errorf("unknown step %q", step)
	}
	return d, nil
}

func sectionTypeError(step Step, data StepData) error {
	return fmt.Errorf("section type %T does not belong to step %q", data, step)
}

// Clone returns a deep copy of the draft.
func (d Draft) Clone() Draft {
	d.Assessment = d.Assessment.Clone().(Assessment)
	d.Exam = d.Exam.Clone().(Exam)
	d.Diagnosis = d.Diagnosis.Clone().(Diagnosis)
	d.Tests = d.Tests.Clone().(Tests)
	d.Results = d.Results.Clone().(Results)
	d.Plan = d.Plan.Clone().(Plan)
	return d
}

// Equal reports structural equality of two drafts: every section
// compared field by field, slices element-wise and order-sensitively,
// nil and empty collections treated as equal.
func (d Draft) Equal(other Draft) bool {
	return d.PatientID == other.PatientID &&
		d.Demographics.Equal(other.Demographics) &&
		d.ChiefComplaint.Equal(other.ChiefComplaint) &&
		d.Assessment.Equal(other.Assessment) &&
		d.Exam.Equal(other.Exam) &&
		d.Diagnosis.Equal(other.Diagnosis) &&
		d.Tests.Equal(other.Tests) &&
		d.Results.Equal(other.Results) &&
		d.Plan.Equal(other.Plan) &&
		d.Summary.Equal(other.Summary)
}

// IsEmpty reports whether no section holds entered data. PatientID is
// association, not entered data, and is ignored.
func (d Draft) IsEmpty() bool {
	for _, step := range AllSteps() {
		if data := d.Relevant(step); data != nil && !data.IsEmpty() {
			return false
		}
	}
	return true
}

// Equal compares two step-relevant slices structurally. Both nil is
// equal; nil against anything else is not. Mismatched section types
// are unequal.
func Equal(a, b StepData) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case Demographics:
		bv, ok := b.(Demographics)
		return ok && av.Equal(bv)
	case ChiefComplaint:
		bv, ok := b.(ChiefComplaint)
		return ok && av.Equal(bv)
	case Assessment:
		bv, ok := b.(Assessment)
		return ok && av.Equal(bv)
	case Exam:
		bv, ok := b.(Exam)
		return ok && av.Equal(bv)
	case Diagnosis:
		bv, ok := b.(Diagnosis)
		return ok && av.Equal(bv)
	case Tests:
		bv, ok := b.(Tests)
		return ok && av.Equal(bv)
	case Results:
		bv, ok := b.(Results)
		return ok && av.Equal(bv)
	case Plan:
		bv, ok := b.(Plan)
		return ok && av.Equal(bv)
	case Summary:
		bv, ok := b.(Summary)
		return ok && av.Equal(bv)
	default:
		return false
	}
}

// DecodeSection unmarshals a JSON payload into the section type owned
// by step. Used by transport layers to turn wire payloads into typed
// section values.
func DecodeSection(step Step, payload []byte) (StepData, error) {
	var target StepData
	switch step {
	case StepDemographics:
		var v Demographics
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, err
		}
		target = v
	case StepChiefComplaint:
		var v ChiefComplaint
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, err
		}
		target = v
	case StepAssessment:
		var v Assessment
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, err
		}
		target = v
	case StepExam:
		var v Exam
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, err
		}
		target = v
	case StepDiagnosis:
		var v Diagnosis
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, err
		}
		target = v
	case StepTests:
		var v Tests
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, err
		}
		target = v
	case StepResults:
		var v Results
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, err
		}
		target = v
	case StepPlan:
		var v Plan
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, err
		}
		target = v
	case StepSummary:
		var v Summary
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, err
		}
		target = v
	default:
		return nil, fmt.Errorf("unknown step %q", step)
	}
	return target, nil
}
