package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorkflow(t *testing.T, workflowType string) *Workflow {
	t.Helper()
	stages, err := StagesFor(workflowType)
	require.NoError(t, err)
	return newWorkflow(workflowType, stages, nil, "", time.Now())
}

func TestStagesForKnownTypes(t *testing.T) {
	for _, typ := range []string{TypeClaimProcessing, TypeEligibilityCheck, TypePreauthorization} {
		stages, err := StagesFor(typ)
		require.NoError(t, err)
		assert.Equal(t, StageReceived, stages[0])
		assert.Equal(t, StageCompleted, stages[len(stages)-1])
	}

	claim, _ := StagesFor(TypeClaimProcessing)
	assert.Len(t, claim, 7)
	eligibility, _ := StagesFor(TypeEligibilityCheck)
	assert.Len(t, eligibility, 4)
}

func TestStagesForUnknownType(t *testing.T) {
	_, err := StagesFor("bulk_resubmission")
	assert.Error(t, err)
}

func TestProgressComputedFromStagePosition(t *testing.T) {
	w := newTestWorkflow(t, TypeClaimProcessing)
	assert.Equal(t, float64(0), w.Progress())

	w.CurrentStage = StageFinancialRules
	assert.InDelta(t, 50.0, w.Progress(), 0.01)

	w.CurrentStage = StageCompleted
	assert.Equal(t, float64(100), w.Progress())
}

func TestProgressReaches100OnlyAtCompleted(t *testing.T) {
	w := newTestWorkflow(t, TypeClaimProcessing)
	for _, s := range w.stages[:len(w.stages)-1] {
		w.CurrentStage = s
		assert.Less(t, w.Progress(), float64(100), s)
	}
}

func TestStatusTransitionsAreMonotone(t *testing.T) {
	w := newTestWorkflow(t, TypeClaimProcessing)
	now := time.Now()

	require.NoError(t, w.fire(triggerRun, now))
	assert.Equal(t, StatusRunning, w.Status)
	require.NoError(t, w.fire(triggerComplete, now))
	assert.Equal(t, StatusCompleted, w.Status)

	assert.Error(t, w.fire(triggerRun, now), "no terminal to non-terminal transition")
	assert.Error(t, w.fire(triggerCancel, now))
	assert.Equal(t, StatusCompleted, w.Status, "failed transition must not change status")
}

func TestPendingCanOnlyRunOrCancel(t *testing.T) {
	w := newTestWorkflow(t, TypeEligibilityCheck)
	assert.Error(t, w.fire(triggerComplete, time.Now()))

	require.NoError(t, w.fire(triggerCancel, time.Now()))
	assert.True(t, w.Terminal())
}
