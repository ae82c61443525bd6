package submission

import "strings"

// statusSynonyms maps response-embedded status strings to normalized
// outcomes. The exchange and its intermediaries are not consistent about
// vocabulary, so the table is deliberately generous.
var statusSynonyms = map[string]string{
	"submitted": StatusAccepted,
	"processed": StatusAccepted,
	"ok":        StatusAccepted,
	"accepted":  StatusAccepted,
	"complete":  StatusAccepted,
	"queued":    StatusAccepted,
	"rejected":  StatusRejected,
	"denied":    StatusRejected,
	"invalid":   StatusRejected,
	"error":     StatusError,
	"failed":    StatusError,
	"failure":   StatusError,
	"timeout":   StatusError,
}

// embeddedStatus extracts a recognizable status string from the decoded
// response body, checking the common field names.
func embeddedStatus(parsed map[string]any) (string, bool) {
	for _, field := range []string{"status", "outcome", "result"} {
		if raw, ok := parsed[field].(string); ok {
			if normalized, ok := statusSynonyms[strings.ToLower(strings.TrimSpace(raw))]; ok {
				return normalized, true
			}
		}
	}
	return "", false
}

// NormalizeOutcome maps a raw exchange response into exactly one of
// accepted, rejected or error. A response-embedded status string wins;
// when the body carries no recognizable status the HTTP range decides:
// 2xx accepted, 4xx rejected, everything else error.
func NormalizeOutcome(httpStatus int, parsed map[string]any) string {
	if parsed != nil {
		if status, ok := embeddedStatus(parsed); ok {
			return status
		}
	}
	switch {
	case httpStatus >= 200 && httpStatus < 300:
		return StatusAccepted
	case httpStatus >= 400 && httpStatus < 500:
		return StatusRejected
	default:
		return StatusError
	}
}

// extractNphiesID pulls the exchange-assigned identifier out of a response
// body, tolerating the field names seen in practice.
func extractNphiesID(parsed map[string]any) *string {
	if parsed == nil {
		return nil
	}
	for _, field := range []string{"nphies_id", "nphiesId", "id", "reference"} {
		if raw, ok := parsed[field].(string); ok && raw != "" {
			return &raw
		}
	}
	return nil
}
