// Package workflow drives a claim through its type's fixed stage pipeline:
// protocol and terminology audit, code normalization, pricing, signing, and
// finally submission to the exchange. Execution is asynchronous on a
// bounded worker pool; every stage transition is published to the event
// bus. A stage failure terminates only its own workflow, and nothing done
// by earlier stages is rolled back.
package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sahl/claims-bridge/internal/domain/submission"
	"github.com/sahl/claims-bridge/internal/domain/terminology"
	"github.com/sahl/claims-bridge/internal/platform/apperrors"
	"github.com/sahl/claims-bridge/internal/platform/eventbus"
	"github.com/sahl/claims-bridge/internal/platform/fhir"
	"github.com/sahl/claims-bridge/internal/platform/stage"
)

// Submitter is the submission pipeline as the orchestrator sees it.
type Submitter interface {
	Submit(ctx context.Context, requestType string, req submission.SubmitRequest) (*submission.SubmitResult, error)
}

// CodingValidator is the terminology catalog's payload walk.
type CodingValidator interface {
	ValidatePayloadCodings(payload any) *terminology.PayloadValidation
}

// StageServices are the external normalization, pricing and signing calls.
type StageServices interface {
	Normalize(ctx context.Context, facilityID int64, internalCode, description string) (map[string]any, error)
	Price(ctx context.Context, claim map[string]any) (map[string]any, error)
	Sign(ctx context.Context, facilityID int64, payload map[string]any) (*stage.Signature, error)
}

// Options configures the orchestrator.
type Options struct {
	Workers      int
	QueueSize    int
	StageTimeout time.Duration
	Strict       bool
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 8
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.StageTimeout <= 0 {
		o.StageTimeout = 60 * time.Second
	}
	return o
}

// Service is the workflow orchestrator.
type Service struct {
	store     *Store
	bus       *eventbus.Bus
	protocol  *fhir.Validator
	terms     CodingValidator
	submitter Submitter
	stages    StageServices
	opts      Options
	queue     chan uuid.UUID
	logger    zerolog.Logger
	now       func() time.Time
}

// NewService creates the orchestrator. Run must be called before started
// workflows execute.
func NewService(store *Store, bus *eventbus.Bus, protocol *fhir.Validator, terms CodingValidator, submitter Submitter, stages StageServices, opts Options, logger zerolog.Logger) *Service {
	opts = opts.withDefaults()
	return &Service{
		store:     store,
		bus:       bus,
		protocol:  protocol,
		terms:     terms,
		submitter: submitter,
		stages:    stages,
		opts:      opts,
		queue:     make(chan uuid.UUID, opts.QueueSize),
		logger:    logger,
		now:       time.Now,
	}
}

// Run owns the worker pool. It blocks until ctx is cancelled and every
// worker has returned; in-flight stages observe the cancellation through
// their stage contexts.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < s.opts.Workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case id := <-s.queue:
					s.execute(ctx, id)
				}
			}
		})
	}
	return g.Wait()
}

// Start creates a pending workflow, emits its intake event and hands it to
// the worker pool. It returns the workflow id immediately; execution never
// happens inline.
func (s *Service) Start(workflowType string, data map[string]any, requester string) (uuid.UUID, error) {
	stages, err := StagesFor(workflowType)
	if err != nil {
		return uuid.Nil, err
	}

	w := newWorkflow(workflowType, stages, data, requester, s.now())
	s.store.put(w)
	s.bus.Publish(w.ID.String(), eventbus.Event{
		Stage:   StageReceived,
		Status:  "completed",
		Message: "workflow received",
	})

	select {
	case s.queue <- w.ID:
	default:
		// The pool is saturated and the queue full. Refuse intake rather
		// than block the caller; the workflow stays pending and cancellable.
		return uuid.Nil, apperrors.New(apperrors.CategoryValidation, apperrors.SeverityError, "workflow queue is full").
			WithCode("WORKFLOW-QUEUE-FULL")
	}

	s.logger.Info().
		Str("workflow_id", w.ID.String()).
		Str("workflow_type", workflowType).
		Str("requester", requester).
		Msg("workflow started")
	return w.ID, nil
}

// Get returns one workflow with its computed progress and event history.
func (s *Service) Get(id uuid.UUID) (*View, error) {
	w, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	return &View{
		Workflow: w,
		Progress: w.Progress(),
		Events:   s.bus.GetEvents(id.String(), 0),
	}, nil
}

// List returns workflows sorted by creation time descending.
func (s *Service) List(status string, limit int) []*Workflow {
	return s.store.List(status, limit)
}

// Cancel moves a not-yet-terminal workflow to cancelled. A workflow whose
// execution already reached a terminal state is left untouched.
func (s *Service) Cancel(id uuid.UUID) error {
	err := s.store.update(id, func(w *Workflow) error {
		return w.fire(triggerCancel, s.now())
	})
	if err != nil {
		return err
	}
	s.bus.Publish(id.String(), eventbus.Event{
		Stage:   StageCompleted,
		Status:  "cancelled",
		Message: "workflow cancelled",
	})
	return nil
}

// execState is the working state threaded through one execution: later
// stages consume what earlier stages produced.
type execState struct {
	facilityID  int64
	payload     map[string]any
	signature   string
	mockOutcome string
	requestType string
}

func (s *Service) execute(ctx context.Context, id uuid.UUID) {
	var stages []string
	err := s.store.update(id, func(w *Workflow) error {
		if err := w.fire(triggerRun, s.now()); err != nil {
			return err
		}
		stages = w.stages
		return nil
	})
	if err != nil {
		// Cancelled while queued, or already terminal. Nothing to run.
		s.logger.Debug().Err(err).Str("workflow_id", id.String()).Msg("workflow not runnable")
		return
	}

	w, err := s.store.Get(id)
	if err != nil {
		return
	}
	st := newExecState(w)

	var lastResponse map[string]any
	for _, name := range stages[1 : len(stages)-1] {
		if s.store.update(id, func(w *Workflow) error {
			w.CurrentStage = name
			w.UpdatedAt = s.now()
			return nil
		}) != nil {
			return
		}

		stageCtx, cancel := context.WithTimeout(ctx, s.opts.StageTimeout)
		response, stageErr := s.runStage(stageCtx, name, st)
		cancel()

		if stageErr != nil {
			s.fail(id, name, stageErr)
			return
		}

		lastResponse = response
		s.bus.Publish(id.String(), eventbus.Event{
			Stage:   name,
			Status:  "completed",
			Message: fmt.Sprintf("stage %s completed", name),
			Data:    response,
		})
	}

	finishErr := s.store.update(id, func(w *Workflow) error {
		if err := w.fire(triggerComplete, s.now()); err != nil {
			return err
		}
		w.CurrentStage = StageCompleted
		w.Result = lastResponse
		return nil
	})
	if finishErr != nil {
		// Cancelled mid-flight; the cancel event was already published.
		return
	}
	s.bus.Publish(id.String(), eventbus.Event{
		Stage:   StageCompleted,
		Status:  "completed",
		Message: "workflow completed",
	})
	s.logger.Info().Str("workflow_id", id.String()).Msg("workflow completed")
}

// fail marks the workflow failed and publishes the terminal failure event.
// Subsequent stages are never attempted and earlier stages' side effects
// (a generated signature, a priced claim) are not compensated.
func (s *Service) fail(id uuid.UUID, stageName string, stageErr error) {
	err := s.store.update(id, func(w *Workflow) error {
		return w.fire(triggerFail, s.now())
	})
	if err != nil {
		return
	}
	s.bus.Publish(id.String(), eventbus.Event{
		Stage:   stageName,
		Status:  "failed",
		Message: apperrors.UserMessage(stageErr),
		Data:    map[string]any{"error": stageErr.Error()},
	})
	s.logger.Warn().Err(stageErr).
		Str("workflow_id", id.String()).
		Str("stage", stageName).
		Msg("workflow failed")
}

func newExecState(w *Workflow) *execState {
	payload := w.Data
	if p, ok := w.Data["fhir_payload"].(map[string]any); ok {
		payload = p
	}
	// Stages rewrite the payload in place (code normalization, pricing).
	// Work on a deep copy: the stored intake data is shared with every
	// concurrent status read through the store's snapshots.
	st := &execState{payload: clonePayload(payload), requestType: requestTypeFor(w.Type)}
	if v, ok := toInt64(w.Data["facility_id"]); ok {
		st.facilityID = v
	}
	if v, ok := w.Data["mock_outcome"].(string); ok {
		st.mockOutcome = v
	}
	if v, ok := w.Data["signature"].(string); ok {
		st.signature = v
	}
	return st
}

func clonePayload(m map[string]any) map[string]any {
	cloned, _ := cloneTree(m).(map[string]any)
	return cloned
}

// cloneTree deep-copies a decoded-JSON value. Scalars are immutable and
// pass through unchanged.
func cloneTree(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = cloneTree(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = cloneTree(vv)
		}
		return out
	default:
		return v
	}
}

func requestTypeFor(workflowType string) string {
	switch workflowType {
	case TypePreauthorization:
		return submission.RequestTypePreauth
	case TypeEligibilityCheck:
		return submission.RequestTypeEligibility
	default:
		return submission.RequestTypeClaim
	}
}

func (s *Service) runStage(ctx context.Context, name string, st *execState) (map[string]any, error) {
	switch name {
	case StageComplianceAudit:
		return s.runComplianceAudit(st)
	case StageNormalization:
		return s.runNormalization(ctx, st)
	case StageFinancialRules:
		return s.runFinancialRules(ctx, st)
	case StageSigning:
		return s.runSigning(ctx, st)
	case StageNphiesSubmission:
		return s.runSubmission(ctx, st)
	default:
		return nil, apperrors.New(apperrors.CategoryValidation, apperrors.SeverityError, "unknown stage").
			WithDetail("stage", name)
	}
}

// runComplianceAudit checks the payload's protocol shape and its clinical
// codings. Protocol errors always fail the stage; coding errors fail it
// only in strict mode.
func (s *Service) runComplianceAudit(st *execState) (map[string]any, error) {
	var result *fhir.ValidationResult
	if resourceType, _ := st.payload["resourceType"].(string); resourceType == "Bundle" {
		result = s.protocol.ValidateSubmissionBundle(st.payload)
	} else {
		result = s.protocol.ValidateResource(st.payload)
	}
	if !result.IsValid() {
		return nil, apperrors.Validation(fmt.Sprintf("protocol validation failed: %d error(s)", len(result.Errors))).
			WithCode("PROTOCOL-INVALID").
			WithDetail("errors", result.Errors)
	}

	coding := s.terms.ValidatePayloadCodings(st.payload)
	if s.opts.Strict && coding.ErrorCount > 0 {
		return nil, apperrors.Validation(fmt.Sprintf("terminology validation failed: %d unregistered code(s)", coding.ErrorCount)).
			WithCode("TERMINOLOGY-REJECTED").
			WithDetail("errors", coding.Errors)
	}

	return map[string]any{
		"protocol_warnings": len(result.Warnings),
		"codings_checked":   coding.CheckedCount,
		"coding_errors":     coding.ErrorCount,
		"coding_warnings":   coding.WarningCount,
	}, nil
}

// runNormalization maps each claim item's facility-internal code through
// the normalization service, rewriting the item coding in place.
func (s *Service) runNormalization(ctx context.Context, st *execState) (map[string]any, error) {
	normalized := 0
	for _, item := range itemCodings(st.payload) {
		code, _ := item["code"].(string)
		display, _ := item["display"].(string)
		if code == "" {
			continue
		}
		resp, err := s.stages.Normalize(ctx, st.facilityID, code, display)
		if err != nil {
			return nil, err
		}
		if mapped, _ := resp["mapped_code"].(string); mapped != "" {
			item["code"] = mapped
			normalized++
		}
	}
	return map[string]any{"normalized_items": normalized}, nil
}

// itemCodings returns the first coding map of every claim item, walking
// into Bundle entries when the payload is a bundle.
func itemCodings(payload map[string]any) []map[string]any {
	if entries, ok := payload["entry"].([]any); ok {
		var out []map[string]any
		for _, e := range entries {
			entry, _ := e.(map[string]any)
			if resource, ok := entry["resource"].(map[string]any); ok {
				out = append(out, itemCodings(resource)...)
			}
		}
		return out
	}

	items, _ := payload["item"].([]any)
	var out []map[string]any
	for _, it := range items {
		item, _ := it.(map[string]any)
		product, _ := item["productOrService"].(map[string]any)
		codings, _ := product["coding"].([]any)
		if len(codings) == 0 {
			continue
		}
		if coding, ok := codings[0].(map[string]any); ok {
			out = append(out, coding)
		}
	}
	return out
}

// runFinancialRules prices the claim. The priced items and total replace
// the working payload's so the signed and submitted claim carries them.
func (s *Service) runFinancialRules(ctx context.Context, st *execState) (map[string]any, error) {
	resp, err := s.stages.Price(ctx, st.payload)
	if err != nil {
		return nil, err
	}
	if items, ok := resp["items"]; ok && items != nil {
		st.payload["item"] = items
	}
	if total, ok := resp["total"]; ok && total != nil {
		st.payload["total"] = total
	}
	return resp, nil
}

func (s *Service) runSigning(ctx context.Context, st *execState) (map[string]any, error) {
	sig, err := s.stages.Sign(ctx, st.facilityID, st.payload)
	if err != nil {
		return nil, err
	}
	st.signature = sig.Signature
	return map[string]any{
		"algorithm":          sig.Algorithm,
		"timestamp":          sig.Timestamp,
		"certificate_serial": sig.CertificateSerial,
	}, nil
}

// runSubmission hands the prepared payload to the submission pipeline. A
// rejected or errored exchange outcome fails the stage; the audit
// transaction was already written by the pipeline either way.
func (s *Service) runSubmission(ctx context.Context, st *execState) (map[string]any, error) {
	result, err := s.submitter.Submit(ctx, st.requestType, submission.SubmitRequest{
		FacilityID:  st.facilityID,
		FHIRPayload: st.payload,
		Signature:   st.signature,
		MockOutcome: st.mockOutcome,
	})
	if err != nil {
		return nil, err
	}

	response := map[string]any{
		"transaction_uuid": result.TransactionUUID.String(),
		"status":           result.Status,
	}
	if result.HTTPStatus != nil {
		response["http_status"] = *result.HTTPStatus
	}
	if result.NphiesResponse != nil {
		response["nphies_response"] = result.NphiesResponse
	}

	if result.Status != submission.StatusAccepted {
		msg := result.Message
		if msg == "" {
			msg = fmt.Sprintf("exchange outcome %s", result.Status)
		}
		return nil, apperrors.New(apperrors.CategoryExternalAPI, apperrors.SeverityError, msg).
			WithCode("SUBMISSION-" + strings.ToUpper(result.Status)).
			WithDetail("transaction_uuid", result.TransactionUUID.String())
	}
	return response, nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}
