package workflow

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sahl/claims-bridge/internal/domain/submission"
	"github.com/sahl/claims-bridge/internal/domain/terminology"
	"github.com/sahl/claims-bridge/internal/platform/apperrors"
	"github.com/sahl/claims-bridge/internal/platform/eventbus"
	"github.com/sahl/claims-bridge/internal/platform/fhir"
	"github.com/sahl/claims-bridge/internal/platform/stage"
)

type mockSubmitter struct {
	result *submission.SubmitResult
	err    error
	calls  int
	gotSig string
}

func (m *mockSubmitter) Submit(ctx context.Context, requestType string, req submission.SubmitRequest) (*submission.SubmitResult, error) {
	m.calls++
	m.gotSig = req.Signature
	if m.err != nil {
		return nil, m.err
	}
	if m.result != nil {
		return m.result, nil
	}
	status := http.StatusOK
	return &submission.SubmitResult{
		TransactionUUID: uuid.New(),
		Status:          submission.StatusAccepted,
		HTTPStatus:      &status,
	}, nil
}

type mockStages struct {
	priceErr       error
	normalizeCalls int
	priceCalls     int
	signCalls      int
}

func (m *mockStages) Normalize(ctx context.Context, facilityID int64, internalCode, description string) (map[string]any, error) {
	m.normalizeCalls++
	return map[string]any{"mapped_code": "N-" + internalCode, "confidence": 0.99}, nil
}

func (m *mockStages) Price(ctx context.Context, claim map[string]any) (map[string]any, error) {
	m.priceCalls++
	if m.priceErr != nil {
		return nil, m.priceErr
	}
	return map[string]any{
		"items": claim["item"],
		"total": map[string]any{"value": float64(275), "currency": "SAR"},
	}, nil
}

func (m *mockStages) Sign(ctx context.Context, facilityID int64, payload map[string]any) (*stage.Signature, error) {
	m.signCalls++
	return &stage.Signature{Signature: "c2lnbmVk", Algorithm: "RS256"}, nil
}

type passingTerms struct{}

func (passingTerms) ValidatePayloadCodings(payload any) *terminology.PayloadValidation {
	return &terminology.PayloadValidation{Valid: true, CheckedCount: 3}
}

type failingTerms struct{}

func (failingTerms) ValidatePayloadCodings(payload any) *terminology.PayloadValidation {
	return &terminology.PayloadValidation{
		Valid:      false,
		ErrorCount: 1,
		Errors: []terminology.CodingIssue{{
			Severity: "error",
			Code:     terminology.CodeUnknownCode,
			Path:     "/type/coding/0",
		}},
	}
}

func validClaimData() map[string]any {
	return map[string]any{
		"facility_id": float64(12),
		"fhir_payload": map[string]any{
			"resourceType": "Claim",
			"status":       "active",
			"type": map[string]any{"coding": []any{
				map[string]any{"system": "http://nphies.sa/terminology/CodeSystem/claim-type", "code": "institutional"},
			}},
			"patient":  map[string]any{"reference": "Patient/pat-1"},
			"provider": map[string]any{"reference": "Organization/provider-1"},
			"insurance": []any{
				map[string]any{"coverage": map[string]any{"reference": "Coverage/cov-1"}},
			},
			"diagnosis": []any{
				map[string]any{"diagnosisCodeableConcept": map[string]any{"coding": []any{
					map[string]any{"system": "http://hl7.org/fhir/sid/icd-10", "code": "R07.1"},
				}}},
			},
			"item": []any{
				map[string]any{
					"productOrService": map[string]any{"coding": []any{
						map[string]any{"code": "LAB-001", "display": "lab panel"},
					}},
					"quantity":  map[string]any{"value": float64(2)},
					"unitPrice": map[string]any{"value": float64(150), "currency": "SAR"},
				},
			},
			"total": map[string]any{"value": float64(300), "currency": "SAR"},
		},
	}
}

type testHarness struct {
	service   *Service
	submitter *mockSubmitter
	stages    *mockStages
	cancel    context.CancelFunc
}

func newHarness(t *testing.T, terms CodingValidator, opts Options) *testHarness {
	t.Helper()
	h := &testHarness{submitter: &mockSubmitter{}, stages: &mockStages{}}
	h.service = NewService(
		NewStore(),
		eventbus.New(zerolog.Nop(), nil),
		fhir.NewValidator(),
		terms,
		h.submitter,
		h.stages,
		opts,
		zerolog.Nop(),
	)
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go h.service.Run(ctx)
	t.Cleanup(cancel)
	return h
}

// waitTerminal polls until the workflow reaches a terminal status.
func waitTerminal(t *testing.T, s *Service, id uuid.UUID) *View {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		view, err := s.Get(id)
		require.NoError(t, err)
		if view.Terminal() {
			return view
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("workflow did not reach a terminal state")
	return nil
}

func eventStages(events []eventbus.Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Stage
	}
	return out
}

// Status reads are the designed polling usage while workers execute
// stages, so snapshots must stay safe to marshal mid-execution and the
// stored intake payload must keep its original codes.
func TestStatusReadsDuringExecution(t *testing.T) {
	h := newHarness(t, passingTerms{}, Options{Workers: 4})

	var ids []uuid.UUID
	for i := 0; i < 8; i++ {
		id, err := h.service.Start(TypeClaimProcessing, validClaimData(), "facility-12")
		require.NoError(t, err)
		ids = append(ids, id)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				view, err := h.service.Get(id)
				if err != nil {
					continue
				}
				if _, err := json.Marshal(view); err != nil {
					t.Error(err)
					return
				}
			}
		}(id)
	}

	for _, id := range ids {
		view := waitTerminal(t, h.service, id)
		assert.Equal(t, StatusCompleted, view.Status)
	}
	close(done)
	wg.Wait()

	view, err := h.service.Get(ids[0])
	require.NoError(t, err)
	payload, ok := view.Data["fhir_payload"].(map[string]any)
	require.True(t, ok)
	item := payload["item"].([]any)[0].(map[string]any)
	coding := item["productOrService"].(map[string]any)["coding"].([]any)[0].(map[string]any)
	assert.Equal(t, "LAB-001", coding["code"], "normalization must rewrite a copy, not the intake payload")
}

func TestClaimWorkflowCompletes(t *testing.T) {
	h := newHarness(t, passingTerms{}, Options{Workers: 2})

	id, err := h.service.Start(TypeClaimProcessing, validClaimData(), "facility-12")
	require.NoError(t, err)

	view := waitTerminal(t, h.service, id)
	assert.Equal(t, StatusCompleted, view.Status)
	assert.Equal(t, StageCompleted, view.CurrentStage)
	assert.Equal(t, float64(100), view.Progress)
	require.NotNil(t, view.Result)
	assert.NotEmpty(t, view.Result["transaction_uuid"])

	assert.Equal(t, []string{
		StageReceived, StageComplianceAudit, StageNormalization,
		StageFinancialRules, StageSigning, StageNphiesSubmission, StageCompleted,
	}, eventStages(view.Events))

	assert.Equal(t, 1, h.stages.normalizeCalls)
	assert.Equal(t, 1, h.stages.priceCalls)
	assert.Equal(t, 1, h.stages.signCalls)
	assert.Equal(t, 1, h.submitter.calls)
	assert.Equal(t, "c2lnbmVk", h.submitter.gotSig, "submission must carry the signing stage's signature")
}

func TestEligibilityWorkflowSkipsPreparationStages(t *testing.T) {
	h := newHarness(t, passingTerms{}, Options{Workers: 1})

	id, err := h.service.Start(TypeEligibilityCheck, validClaimData(), "")
	require.NoError(t, err)

	view := waitTerminal(t, h.service, id)
	assert.Equal(t, StatusCompleted, view.Status)
	assert.Equal(t, 0, h.stages.normalizeCalls)
	assert.Equal(t, 0, h.stages.priceCalls)
	assert.Equal(t, 0, h.stages.signCalls)
	assert.Equal(t, 1, h.submitter.calls)
}

func TestStageFailureStopsPipeline(t *testing.T) {
	h := newHarness(t, passingTerms{}, Options{Workers: 1})
	h.stages.priceErr = apperrors.ExternalAPI("pricing returned HTTP 422", http.StatusUnprocessableEntity, "")

	id, err := h.service.Start(TypeClaimProcessing, validClaimData(), "")
	require.NoError(t, err)

	view := waitTerminal(t, h.service, id)
	assert.Equal(t, StatusFailed, view.Status)
	assert.Equal(t, StageFinancialRules, view.CurrentStage)
	assert.Equal(t, 0, h.stages.signCalls, "stages after the failure must not run")
	assert.Equal(t, 0, h.submitter.calls)

	last := view.Events[len(view.Events)-1]
	assert.Equal(t, StageFinancialRules, last.Stage)
	assert.Equal(t, "failed", last.Status)
	assert.NotEmpty(t, last.Message)
}

func TestProtocolErrorFailsComplianceAudit(t *testing.T) {
	h := newHarness(t, passingTerms{}, Options{Workers: 1})

	data := validClaimData()
	payload := data["fhir_payload"].(map[string]any)
	delete(payload, "patient")

	id, err := h.service.Start(TypeClaimProcessing, data, "")
	require.NoError(t, err)

	view := waitTerminal(t, h.service, id)
	assert.Equal(t, StatusFailed, view.Status)
	assert.Equal(t, StageComplianceAudit, view.CurrentStage)
	assert.Equal(t, 0, h.stages.normalizeCalls)
}

func TestStrictModeFailsOnUnregisteredCodes(t *testing.T) {
	h := newHarness(t, failingTerms{}, Options{Workers: 1, Strict: true})

	id, err := h.service.Start(TypeClaimProcessing, validClaimData(), "")
	require.NoError(t, err)

	view := waitTerminal(t, h.service, id)
	assert.Equal(t, StatusFailed, view.Status)
	assert.Equal(t, StageComplianceAudit, view.CurrentStage)
	assert.Equal(t, 0, h.stages.normalizeCalls)
}

func TestLenientModeIgnoresCodingErrors(t *testing.T) {
	h := newHarness(t, failingTerms{}, Options{Workers: 1})

	id, err := h.service.Start(TypeClaimProcessing, validClaimData(), "")
	require.NoError(t, err)

	view := waitTerminal(t, h.service, id)
	assert.Equal(t, StatusCompleted, view.Status)
}

func TestRejectedSubmissionFailsWorkflow(t *testing.T) {
	h := newHarness(t, passingTerms{}, Options{Workers: 1})
	status := http.StatusBadRequest
	h.submitter.result = &submission.SubmitResult{
		TransactionUUID: uuid.New(),
		Status:          submission.StatusRejected,
		HTTPStatus:      &status,
		Message:         "member not covered",
	}

	id, err := h.service.Start(TypeClaimProcessing, validClaimData(), "")
	require.NoError(t, err)

	view := waitTerminal(t, h.service, id)
	assert.Equal(t, StatusFailed, view.Status)
	assert.Equal(t, StageNphiesSubmission, view.CurrentStage)
}

func TestProgressMonotoneAcrossEvents(t *testing.T) {
	h := newHarness(t, passingTerms{}, Options{Workers: 1})

	id, err := h.service.Start(TypeClaimProcessing, validClaimData(), "")
	require.NoError(t, err)
	view := waitTerminal(t, h.service, id)

	stages, err := StagesFor(TypeClaimProcessing)
	require.NoError(t, err)
	index := func(name string) int {
		for i, s := range stages {
			if s == name {
				return i
			}
		}
		return -1
	}

	prev := -1
	for _, ev := range view.Events {
		i := index(ev.Stage)
		require.GreaterOrEqual(t, i, 0)
		assert.GreaterOrEqual(t, i, prev, "stage events must never move backwards")
		prev = i
	}
}

func TestStartUnknownTypeRejected(t *testing.T) {
	h := newHarness(t, passingTerms{}, Options{Workers: 1})
	_, err := h.service.Start("claims_batch", nil, "")
	assert.Error(t, err)
}

func TestCancelPendingWorkflow(t *testing.T) {
	// No Run call: the workflow stays queued in pending.
	svc := NewService(
		NewStore(),
		eventbus.New(zerolog.Nop(), nil),
		fhir.NewValidator(),
		passingTerms{},
		&mockSubmitter{},
		&mockStages{},
		Options{Workers: 1},
		zerolog.Nop(),
	)

	id, err := svc.Start(TypeClaimProcessing, validClaimData(), "")
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(id))
	view, err := svc.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, view.Status)

	assert.Error(t, svc.Cancel(id), "terminal states have no outgoing transitions")
}

func TestListFilteredAndSorted(t *testing.T) {
	h := newHarness(t, passingTerms{}, Options{Workers: 2})

	first, err := h.service.Start(TypeClaimProcessing, validClaimData(), "")
	require.NoError(t, err)
	second, err := h.service.Start(TypeEligibilityCheck, validClaimData(), "")
	require.NoError(t, err)
	waitTerminal(t, h.service, first)
	waitTerminal(t, h.service, second)

	all := h.service.List("", 0)
	require.Len(t, all, 2)
	assert.False(t, all[0].CreatedAt.Before(all[1].CreatedAt), "newest first")

	completed := h.service.List(StatusCompleted, 0)
	assert.Len(t, completed, 2)
	assert.Empty(t, h.service.List(StatusFailed, 0))
}
