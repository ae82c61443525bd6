// Package apperrors defines the error taxonomy shared across the claims
// bridge: every failure is classified by category and severity, carries a
// machine code, and can be translated into a user-facing message.
package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

// Category classifies the broad kind of failure.
type Category string

const (
	CategoryAuthentication Category = "AUTH"
	CategoryAuthorization  Category = "AUTHZ"
	CategoryValidation     Category = "VALIDATION"
	CategoryNetwork        Category = "NETWORK"
	CategoryExternalAPI    Category = "EXTERNAL_API"
	CategoryDatabase       Category = "DATABASE"
	CategoryConfiguration  Category = "CONFIG"
)

// Severity ranks how serious an error is. Configuration errors are critical
// and prevent startup; everything else surfaces per-request.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityError    Severity = "ERROR"
	SeverityWarning  Severity = "WARNING"
	SeverityInfo     Severity = "INFO"
)

// Error is the canonical error type. Code defaults to
// "<CATEGORY>-<SEVERITY>" but a more specific override may be set.
type Error struct {
	Category Category
	Severity Severity
	Code     string
	Message  string
	Details  map[string]any
	Wrapped  error

	// Exchange responses keep the raw body and HTTP status for auditing.
	HTTPStatus int
	RawBody    string
}

// New creates an Error with the default machine code for its category and
// severity.
func New(category Category, severity Severity, message string) *Error {
	return &Error{
		Category: category,
		Severity: severity,
		Code:     fmt.Sprintf("%s-%s", category, severity),
		Message:  message,
	}
}

// WithCode overrides the machine code with a more specific identifier.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithDetail attaches contextual metadata such as request id, resource type
// or endpoint.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause records the underlying error for unwrapping.
func (e *Error) WithCause(err error) *Error {
	e.Wrapped = err
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Code)
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Wrapped != nil {
		b.WriteString(": ")
		b.WriteString(e.Wrapped.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Wrapped
}

// Validation builds a request-scoped validation error.
func Validation(message string) *Error {
	return New(CategoryValidation, SeverityError, message)
}

// NetworkTimeout builds a timeout error for an outbound call.
func NetworkTimeout(endpoint string) *Error {
	return New(CategoryNetwork, SeverityError, "request timed out").
		WithCode("NETWORK-TIMEOUT").
		WithDetail("endpoint", endpoint)
}

// ExternalAPI builds an exchange-side error carrying the HTTP status and raw
// response body.
func ExternalAPI(message string, httpStatus int, rawBody string) *Error {
	e := New(CategoryExternalAPI, SeverityError, message)
	e.HTTPStatus = httpStatus
	e.RawBody = rawBody
	return e
}

// Config builds a critical configuration error. Callers should treat it as
// fatal at startup.
func Config(message string) *Error {
	return New(CategoryConfiguration, SeverityCritical, message)
}

// userMessages maps machine codes to user-facing descriptions. Codes absent
// from the table fall back to the raw internal message.
var userMessages = map[string]string{
	"VALIDATION-ERROR":     "The submitted resource failed validation.",
	"NETWORK-TIMEOUT":      "The exchange did not respond in time. The submission was retried and will be reported once resolved.",
	"NETWORK-RATE_LIMIT":   "The exchange is throttling requests. Please retry shortly.",
	"EXTERNAL_API-ERROR":   "The insurance exchange reported an error for this submission.",
	"DATABASE-ERROR":       "A storage error occurred. The operation was not completed.",
	"CONFIG-CRITICAL":      "The service is misconfigured and cannot process requests.",
	"AUTH-ERROR":           "Authentication failed.",
	"AUTHZ-ERROR":          "You are not authorized to perform this operation.",
	"UNKNOWN_CODE":         "A clinical code in the submission is not registered in the NPHIES terminology.",
	"UNKNOWN_CODE_SYSTEM":  "A code system in the submission is not part of the NPHIES terminology.",
	"TERMINOLOGY-REJECTED": "The submission was rejected because it contains unregistered clinical codes.",
}

// UserMessage translates err into a human-readable message. Non-taxonomy
// errors and unknown codes return the raw error text.
func UserMessage(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		if msg, ok := userMessages[ae.Code]; ok {
			return msg
		}
		return ae.Message
	}
	return err.Error()
}

// CategoryOf extracts the category of err, or empty when err is not a
// taxonomy error.
func CategoryOf(err error) Category {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Category
	}
	return ""
}
