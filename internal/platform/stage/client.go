// Package stage calls the external pipeline services a workflow passes
// through before submission: code normalization, pricing and bundle rules,
// and payload signing. The contracts are consumed as-is; the services
// themselves are deployed and owned elsewhere. Stage calls are not retried
// here, a non-2xx reply fails the calling workflow's current stage.
package stage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/sahl/claims-bridge/internal/platform/apperrors"
)

// Signature is the signing service's reply.
type Signature struct {
	Signature         string `json:"signature"`
	Algorithm         string `json:"algorithm"`
	Timestamp         string `json:"timestamp"`
	CertificateSerial string `json:"certificate_serial"`
}

// Services is the client for the three stage endpoints. An empty endpoint
// URL puts that stage in local mode: the call is answered with a fabricated
// reply and a warning log instead of a network round trip, mirroring the
// exchange mock mode so the full pipeline runs on a laptop.
type Services struct {
	httpClient       *http.Client
	normalizationURL string
	pricingURL       string
	signingURL       string
	logger           zerolog.Logger
}

// NewServices creates the stage client. Any of the URLs may be empty.
func NewServices(normalizationURL, pricingURL, signingURL string, timeout time.Duration, logger zerolog.Logger) *Services {
	return &Services{
		httpClient:       &http.Client{Timeout: timeout},
		normalizationURL: normalizationURL,
		pricingURL:       pricingURL,
		signingURL:       signingURL,
		logger:           logger,
	}
}

// Normalize maps a facility-internal code to the exchange vocabulary.
func (s *Services) Normalize(ctx context.Context, facilityID int64, internalCode, description string) (map[string]any, error) {
	if s.normalizationURL == "" {
		s.local("normalization")
		return map[string]any{
			"mapped_code": internalCode,
			"confidence":  1.0,
			"local":       true,
		}, nil
	}
	return s.post(ctx, s.normalizationURL, map[string]any{
		"facility_id":   facilityID,
		"internal_code": internalCode,
		"description":   description,
	})
}

// Price applies pricing and bundle rules to a claim-shaped payload and
// returns the priced items and total.
func (s *Services) Price(ctx context.Context, claim map[string]any) (map[string]any, error) {
	if s.pricingURL == "" {
		s.local("pricing")
		return map[string]any{
			"items": claim["item"],
			"total": claim["total"],
			"local": true,
		}, nil
	}
	return s.post(ctx, s.pricingURL, claim)
}

// Sign requests a detached signature over the payload.
func (s *Services) Sign(ctx context.Context, facilityID int64, payload map[string]any) (*Signature, error) {
	if s.signingURL == "" {
		s.local("signing")
		return &Signature{
			Signature: fmt.Sprintf("local-unsigned-%d", facilityID),
			Algorithm: "none",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}, nil
	}
	raw, err := s.post(ctx, s.signingURL, map[string]any{
		"facility_id": facilityID,
		"payload":     payload,
	})
	if err != nil {
		return nil, err
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryExternalAPI, apperrors.SeverityError, "signing reply is not serializable").WithCause(err)
	}
	var sig Signature
	if err := json.Unmarshal(buf, &sig); err != nil {
		return nil, apperrors.New(apperrors.CategoryExternalAPI, apperrors.SeverityError, "signing reply has unexpected shape").WithCause(err)
	}
	if sig.Signature == "" {
		return nil, apperrors.New(apperrors.CategoryExternalAPI, apperrors.SeverityError, "signing service returned an empty signature")
	}
	return &sig, nil
}

func (s *Services) local(stage string) {
	s.logger.Warn().Str("stage", stage).Msg("stage endpoint not configured, answering locally")
}

func (s *Services) post(ctx context.Context, endpoint string, body map[string]any) (map[string]any, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, apperrors.Validation("stage request is not serializable").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(buf))
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryNetwork, apperrors.SeverityError, "build stage request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryNetwork, apperrors.SeverityError, "stage service unreachable").
			WithDetail("endpoint", endpoint).
			WithCause(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryNetwork, apperrors.SeverityError, "read stage response").WithCause(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperrors.ExternalAPI(
			fmt.Sprintf("stage service returned HTTP %d", resp.StatusCode),
			resp.StatusCode, string(raw))
	}

	var parsed map[string]any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, apperrors.New(apperrors.CategoryExternalAPI, apperrors.SeverityError, "stage response is not JSON").WithCause(err)
	}
	return parsed, nil
}
