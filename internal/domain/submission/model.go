package submission

import (
	"time"

	"github.com/google/uuid"

	"github.com/sahl/claims-bridge/internal/domain/terminology"
)

// Normalized transaction status values.
const (
	StatusSubmitted = "submitted"
	StatusAccepted  = "accepted"
	StatusRejected  = "rejected"
	StatusError     = "error"
)

// Request types accepted by the pipeline.
const (
	RequestTypeClaim       = "claim"
	RequestTypePreauth     = "preauth"
	RequestTypeEligibility = "eligibility"
)

// Transaction is the durable audit record for one submission attempt.
// Exactly one is written per call to Submit, mock or real, including
// failures that never reached the exchange. Append-only: never updated
// after creation.
type Transaction struct {
	ID              int64          `json:"transaction_id"`
	TransactionUUID uuid.UUID      `json:"transaction_uuid"`
	FacilityID      int64          `json:"facility_id"`
	RequestType     string         `json:"request_type"`
	Payload         map[string]any `json:"payload,omitempty"`
	Signature       string         `json:"signature,omitempty"`
	NphiesID        *string        `json:"nphies_id,omitempty"`
	HTTPStatus      *int           `json:"http_status,omitempty"`
	ResponsePayload map[string]any `json:"response_payload,omitempty"`
	Status          string         `json:"status"`
	ErrorMessage    *string        `json:"error_message,omitempty"`
	SubmittedAt     time.Time      `json:"submitted_at"`
	RespondedAt     *time.Time     `json:"responded_at,omitempty"`
}

// SubmitRequest is the inbound submission body.
type SubmitRequest struct {
	FacilityID   int64          `json:"facility_id"`
	FHIRPayload  map[string]any `json:"fhir_payload"`
	Signature    string         `json:"signature"`
	ResourceType string         `json:"resource_type,omitempty"`
	MockOutcome  string         `json:"mock_outcome,omitempty"`
}

// SubmitResult is the pipeline's response to the caller.
type SubmitResult struct {
	TransactionID         int64                          `json:"transaction_id"`
	TransactionUUID       uuid.UUID                      `json:"transaction_uuid"`
	Status                string                         `json:"status"`
	NphiesResponse        map[string]any                 `json:"nphies_response,omitempty"`
	HTTPStatus            *int                           `json:"http_status,omitempty"`
	TerminologyValidation *terminology.PayloadValidation `json:"terminology_validation,omitempty"`
	Message               string                         `json:"message,omitempty"`
}
