package workflow

import (
	"time"

	"github.com/google/uuid"
	"github.com/qmuntal/stateless"

	"github.com/sahl/claims-bridge/internal/platform/apperrors"
	"github.com/sahl/claims-bridge/internal/platform/eventbus"
)

// Workflow statuses. pending and running are live; the rest are terminal
// and have no outgoing transitions.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Workflow types. Each selects a fixed ordered stage list.
const (
	TypeClaimProcessing  = "claim_processing"
	TypeEligibilityCheck = "eligibility_check"
	TypePreauthorization = "preauthorization"
)

// Stage names. received is the intake marker and completed the terminal
// marker; the stages between them perform work.
const (
	StageReceived         = "received"
	StageComplianceAudit  = "compliance_audit"
	StageNormalization    = "normalization"
	StageFinancialRules   = "financial_rules"
	StageSigning          = "signing"
	StageNphiesSubmission = "nphies_submission"
	StageCompleted        = "completed"
)

var stageLists = map[string][]string{
	TypeClaimProcessing: {
		StageReceived, StageComplianceAudit, StageNormalization,
		StageFinancialRules, StageSigning, StageNphiesSubmission, StageCompleted,
	},
	TypeEligibilityCheck: {
		StageReceived, StageComplianceAudit, StageNphiesSubmission, StageCompleted,
	},
	TypePreauthorization: {
		StageReceived, StageComplianceAudit, StageNormalization,
		StageSigning, StageNphiesSubmission, StageCompleted,
	},
}

// StagesFor returns the ordered stage list for a workflow type.
func StagesFor(workflowType string) ([]string, error) {
	stages, ok := stageLists[workflowType]
	if !ok {
		return nil, apperrors.Validation("unknown workflow type").
			WithCode("WORKFLOW-UNKNOWN-TYPE").
			WithDetail("workflow_type", workflowType)
	}
	return stages, nil
}

// Workflow is one claim's journey through its type's stage pipeline. It is
// process-local and owned exclusively by the orchestrator; current_stage is
// always a member of the type's stage list and status moves monotonically
// to a terminal state.
type Workflow struct {
	ID           uuid.UUID      `json:"workflow_id"`
	Type         string         `json:"workflow_type"`
	Status       string         `json:"status"`
	CurrentStage string         `json:"current_stage"`
	Data         map[string]any `json:"data,omitempty"`
	Result       map[string]any `json:"result,omitempty"`
	Requester    string         `json:"requester,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`

	stages []string
	fsm    *stateless.StateMachine
}

// Status machine triggers.
const (
	triggerRun      = "run"
	triggerComplete = "complete"
	triggerFail     = "fail"
	triggerCancel   = "cancel"
)

func newWorkflow(workflowType string, stages []string, data map[string]any, requester string, now time.Time) *Workflow {
	w := &Workflow{
		ID:           uuid.New(),
		Type:         workflowType,
		Status:       StatusPending,
		CurrentStage: StageReceived,
		Data:         data,
		Requester:    requester,
		CreatedAt:    now,
		UpdatedAt:    now,
		stages:       stages,
	}

	// Terminal states have no outgoing transitions, so any attempt to leave
	// them fails the Fire call instead of corrupting state.
	w.fsm = stateless.NewStateMachine(StatusPending)
	w.fsm.Configure(StatusPending).
		Permit(triggerRun, StatusRunning).
		Permit(triggerCancel, StatusCancelled)
	w.fsm.Configure(StatusRunning).
		Permit(triggerComplete, StatusCompleted).
		Permit(triggerFail, StatusFailed).
		Permit(triggerCancel, StatusCancelled)
	w.fsm.Configure(StatusCompleted)
	w.fsm.Configure(StatusFailed)
	w.fsm.Configure(StatusCancelled)
	return w
}

// fire advances the status machine and mirrors the new state into Status.
// Caller holds the store lock.
func (w *Workflow) fire(trigger string, now time.Time) error {
	if err := w.fsm.Fire(trigger); err != nil {
		return apperrors.New(apperrors.CategoryValidation, apperrors.SeverityError, "invalid workflow status transition").
			WithCode("WORKFLOW-INVALID-TRANSITION").
			WithDetail("from", w.Status).
			WithDetail("trigger", trigger).
			WithCause(err)
	}
	w.Status = w.fsm.MustState().(string)
	w.UpdatedAt = now
	return nil
}

// Terminal reports whether the workflow has reached a final status.
func (w *Workflow) Terminal() bool {
	switch w.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Progress is computed, never stored: the current stage's position in the
// type's stage list as a percentage. It reaches 100 only at the completed
// stage.
func (w *Workflow) Progress() float64 {
	if len(w.stages) < 2 {
		return 0
	}
	for i, stage := range w.stages {
		if stage == w.CurrentStage {
			return float64(i) / float64(len(w.stages)-1) * 100
		}
	}
	return 0
}

// snapshot copies the workflow for handing out after the store lock is
// released. The status machine stays with the original.
func (w *Workflow) snapshot() *Workflow {
	c := *w
	c.fsm = nil
	return &c
}

// View is the workflow-status response shape: the workflow plus its
// computed progress and event history.
type View struct {
	*Workflow
	Progress float64          `json:"progress"`
	Events   []eventbus.Event `json:"events"`
}
