package submission

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sahl/claims-bridge/internal/domain/terminology"
	"github.com/sahl/claims-bridge/internal/platform/apperrors"
)

// ExchangeClient abstracts the retrying HTTP client for tests.
type ExchangeClient interface {
	Submit(ctx context.Context, endpoint string, payload map[string]any, signature string) (*Response, error)
}

// CodingValidator abstracts the terminology catalog's payload walk.
type CodingValidator interface {
	ValidatePayloadCodings(payload any) *terminology.PayloadValidation
}

// Options configures the pipeline.
type Options struct {
	BaseURL  string
	MockMode bool
	Strict   bool
}

// Service is the resilient submission pipeline: it validates payload
// codings, submits to the exchange (or fabricates a mock outcome),
// normalizes the response, and writes exactly one audit transaction per
// call regardless of outcome.
type Service struct {
	repo   Repository
	client ExchangeClient
	terms  CodingValidator
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// NewService creates the pipeline.
func NewService(repo Repository, client ExchangeClient, terms CodingValidator, opts Options, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		client: client,
		terms:  terms,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

func endpointPath(requestType string) string {
	switch requestType {
	case RequestTypePreauth:
		return "/preauthorization"
	case RequestTypeEligibility:
		return "/eligibility"
	default:
		return "/claim"
	}
}

// Submit drives one submission end to end. The returned SubmitResult is
// non-nil whenever a transaction was recorded, even for failed attempts.
func (s *Service) Submit(ctx context.Context, requestType string, req SubmitRequest) (*SubmitResult, error) {
	submittedAt := s.now()
	tx := &Transaction{
		TransactionUUID: uuid.New(),
		FacilityID:      req.FacilityID,
		RequestType:     requestType,
		Payload:         req.FHIRPayload,
		Signature:       req.Signature,
		SubmittedAt:     submittedAt,
	}

	var termResult *terminology.PayloadValidation
	if s.terms != nil {
		termResult = s.terms.ValidatePayloadCodings(req.FHIRPayload)
	}

	// Strict mode rejects unregistered codes before anything leaves the
	// system. The rejection is still audited.
	if s.opts.Strict && termResult != nil && termResult.ErrorCount > 0 {
		status := http.StatusUnprocessableEntity
		msg := fmt.Sprintf("terminology validation failed: %d unregistered code(s)", termResult.ErrorCount)
		tx.Status = StatusRejected
		tx.HTTPStatus = &status
		tx.ErrorMessage = &msg
		s.record(ctx, tx)
		return &SubmitResult{
			TransactionID:         tx.ID,
			TransactionUUID:       tx.TransactionUUID,
			Status:                StatusRejected,
			HTTPStatus:            tx.HTTPStatus,
			TerminologyValidation: termResult,
			Message:               apperrors.UserMessage(apperrors.Validation(msg).WithCode("TERMINOLOGY-REJECTED")),
		}, nil
	}

	var resp *Response
	var submitErr error
	if s.opts.MockMode || req.MockOutcome != "" {
		resp = s.mockResponse(req.MockOutcome)
		s.logger.Warn().
			Str("transaction_uuid", tx.TransactionUUID.String()).
			Str("mock_outcome", req.MockOutcome).
			Msg("mock mode: submission fabricated, exchange not contacted")
	} else {
		endpoint := strings.TrimRight(s.opts.BaseURL, "/") + endpointPath(requestType)
		resp, submitErr = s.client.Submit(ctx, endpoint, req.FHIRPayload, req.Signature)
	}

	respondedAt := s.now()
	result := &SubmitResult{
		TransactionUUID:       tx.TransactionUUID,
		TerminologyValidation: termResult,
	}

	if resp != nil {
		tx.HTTPStatus = &resp.StatusCode
		tx.ResponsePayload = resp.Parsed
		tx.RespondedAt = &respondedAt
		tx.NphiesID = extractNphiesID(resp.Parsed)
		tx.Status = NormalizeOutcome(resp.StatusCode, resp.Parsed)
		result.NphiesResponse = resp.Parsed
		result.HTTPStatus = tx.HTTPStatus
	} else {
		// The exchange was never reached; the failure is still audited.
		tx.Status = StatusError
	}
	if submitErr != nil {
		msg := submitErr.Error()
		tx.ErrorMessage = &msg
		if tx.Status == "" || resp == nil {
			tx.Status = StatusError
		}
		result.Message = apperrors.UserMessage(submitErr)
	}

	s.record(ctx, tx)
	result.TransactionID = tx.ID
	result.Status = tx.Status
	return result, nil
}

// record writes the single audit transaction for this attempt. A storage
// failure is logged loudly but does not mask the submission outcome.
func (s *Service) record(ctx context.Context, tx *Transaction) {
	if err := s.repo.Create(ctx, tx); err != nil {
		s.logger.Error().Err(err).
			Str("transaction_uuid", tx.TransactionUUID.String()).
			Int64("facility_id", tx.FacilityID).
			Msg("failed to persist submission transaction; audit trail has a gap")
	}
}

// mockResponse fabricates a deterministic exchange reply for the requested
// outcome without touching the network. Unknown outcomes default to
// accepted.
func (s *Service) mockResponse(outcome string) *Response {
	id := "NPHIES-MOCK-" + strings.ToUpper(uuid.New().String()[:8])
	switch outcome {
	case StatusRejected:
		return &Response{
			StatusCode: http.StatusBadRequest,
			Parsed: map[string]any{
				"status":  "rejected",
				"issues":  []any{map[string]any{"code": "MOCK_REJECTION", "details": "fabricated rejection"}},
				"message": "mock rejection",
			},
		}
	case StatusError:
		return &Response{
			StatusCode: http.StatusInternalServerError,
			Parsed: map[string]any{
				"status":  "error",
				"message": "mock exchange failure",
			},
		}
	default:
		return &Response{
			StatusCode: http.StatusOK,
			Parsed: map[string]any{
				"status":    "submitted",
				"nphies_id": id,
				"message":   "mock submission accepted",
			},
		}
	}
}

// GetTransaction returns one audit record by its uuid.
func (s *Service) GetTransaction(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	return s.repo.GetByUUID(ctx, id)
}

// ListTransactions returns a facility's audit records, newest first.
func (s *Service) ListTransactions(ctx context.Context, facilityID int64, limit, offset int) ([]*Transaction, int, error) {
	return s.repo.ListByFacility(ctx, facilityID, limit, offset)
}
