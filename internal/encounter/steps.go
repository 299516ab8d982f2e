// Package encounter defines the typed clinical encounter draft: the
// ordered documentation steps, one section struct per step, and the
// cloning, emptiness, and structural-equality rules the workflow and
// change-detection layers are built on.
package encounter

// Step identifies one stage of the documentation wizard. The zero
// value marks "not in the wizard" (landing and list views) and is
// never persisted.
type Step string

// Documentation steps in their fixed order.
const (
	StepDemographics   Step = "demographics"
	StepChiefComplaint Step = "chief-complaint"
	StepAssessment     Step = "assessment"
	StepExam           Step = "exam"
	StepDiagnosis      Step = "diagnosis"
	StepTests          Step = "tests"
	StepResults        Step = "results"
	StepPlan           Step = "plan"
	StepSummary        Step = "summary"
)

var stepOrder = []Step{
	StepDemographics,
	StepChiefComplaint,
	StepAssessment,
	StepExam,
	StepDiagnosis,
	StepTests,
	StepResults,
	StepPlan,
	StepSummary,
}

// AllSteps returns the steps in wizard order.
func AllSteps() []Step {
	steps := make([]Step, len(stepOrder))
	copy(steps, stepOrder)
	return steps
}

// Index returns the step's position in the wizard order, or -1 for
// the zero value and unknown strings.
func (s Step) Index() int {
	for i, step := range stepOrder {
		if step == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s names a wizard step.
func (s Step) Valid() bool {
	return s.Index() >= 0
}

// After reports whether s comes strictly after other in wizard order.
// Invalid steps are after nothing.
func (s Step) After(other Step) bool {
	si, oi := s.Index(), other.Index()
	return si >= 0 && oi >= 0 && si > oi
}

// StepsAfter returns the steps strictly after s in wizard order. The
// final step, the zero value, and unknown steps yield an empty slice.
func StepsAfter(s Step) []Step {
	i := s.Index()
	if i < 0 || i+1 >= len(stepOrder) {
		return nil
	}
	out := make([]Step, len(stepOrder)-i-1)
	copy(out, stepOrder[i+1:])
	return out
}
