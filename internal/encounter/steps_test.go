package encounter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllStepsOrder(t *testing.T) {
	steps := AllSteps()
	assert.Len(t, steps, 9)
	assert.Equal(t, StepDemographics, steps[0])
	assert.Equal(t, StepSummary, steps[8])

	for i, step := range steps {
		assert.Equal(t, i, step.Index())
	}
}

func TestStepValid(t *testing.T) {
	assert.True(t, StepExam.Valid())
	assert.False(t, Step("").Valid())
	assert.False(t, Step("billing").Valid())
}

func TestStepAfter(t *testing.T) {
	assert.True(t, StepDiagnosis.After(StepChiefComplaint))
	assert.False(t, StepChiefComplaint.After(StepDiagnosis))
	assert.False(t, StepExam.After(StepExam))
	assert.False(t, Step("").After(StepDemographics))
	assert.False(t, StepPlan.After(Step("")))
}

func TestStepsAfter(t *testing.T) {
	after := StepsAfter(StepPlan)
	assert.Equal(t, []Step{StepSummary}, after)

	assert.Empty(t, StepsAfter(StepSummary), "final step has no later steps")
	assert.Empty(t, StepsAfter(Step("")))

	all := StepsAfter(StepDemographics)
	assert.Len(t, all, 8)
	assert.Equal(t, StepChiefComplaint, all[0])
}
