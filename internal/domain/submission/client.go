package submission

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/sahl/claims-bridge/internal/platform/apperrors"
)

// Response is the raw exchange reply: HTTP status, body bytes and the
// decoded JSON body when it parses.
type Response struct {
	StatusCode int
	Body       []byte
	Parsed     map[string]any
}

// Client submits signed payloads to the exchange, retrying transient
// failures (5xx, 429, timeouts, connection errors) with exponential
// backoff: the delay before re-attempt k is backoffBase * 2^(k-1), so the
// default 1s base yields 1s, 2s, 4s. Non-retriable 4xx responses and retry
// exhaustion return immediately with the response body and an error.
type Client struct {
	httpClient  *http.Client
	maxRetries  uint64
	backoffBase time.Duration
	logger      zerolog.Logger
}

// NewClient creates a Client. maxRetries is the number of re-attempts
// after the initial call; timeout applies per attempt.
func NewClient(timeout time.Duration, maxRetries int, logger zerolog.Logger) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		maxRetries:  uint64(maxRetries),
		backoffBase: time.Second,
		logger:      logger,
	}
}

// Submit posts the payload to endpoint with the detached signature in the
// X-Payload-Signature header. The returned Response is non-nil whenever
// the exchange replied, even when err is set.
func (c *Client) Submit(ctx context.Context, endpoint string, payload map[string]any, signature string) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.Validation("payload is not serializable").WithCause(err)
	}

	var last *Response
	attempt := 0
	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewExponential(c.backoffBase))

	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		resp, attemptErr := c.attempt(ctx, endpoint, body, signature)
		if resp != nil {
			last = resp
		}
		if attemptErr == nil {
			return nil
		}
		if isRetriable(resp, attemptErr) {
			c.logger.Warn().
				Int("attempt", attempt).
				Str("endpoint", endpoint).
				Err(attemptErr).
				Msg("transient exchange failure, backing off")
			return retry.RetryableError(attemptErr)
		}
		return attemptErr
	})
	if err != nil {
		return last, err
	}
	return last, nil
}

func (c *Client) attempt(ctx context.Context, endpoint string, body []byte, signature string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryNetwork, apperrors.SeverityError, "build exchange request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/fhir+json")
	if signature != "" {
		req.Header.Set("X-Payload-Signature", signature)
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, apperrors.NetworkTimeout(endpoint).WithCause(err)
		}
		return nil, apperrors.New(apperrors.CategoryNetwork, apperrors.SeverityError, "exchange unreachable").
			WithCode("NETWORK-CONNECTION").
			WithDetail("endpoint", endpoint).
			WithCause(err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryNetwork, apperrors.SeverityError, "read exchange response").WithCause(err)
	}

	resp := &Response{StatusCode: httpResp.StatusCode, Body: raw}
	var parsed map[string]any
	if json.Unmarshal(raw, &parsed) == nil {
		resp.Parsed = parsed
	}

	if httpResp.StatusCode >= 400 {
		return resp, apperrors.ExternalAPI(
			fmt.Sprintf("exchange returned HTTP %d", httpResp.StatusCode),
			httpResp.StatusCode, string(raw))
	}
	return resp, nil
}

// isRetriable reports whether the attempt failed transiently: 5xx, 429,
// a timeout, or a connection error. Other 4xx responses are final.
func isRetriable(resp *Response, err error) bool {
	if resp != nil {
		if resp.StatusCode == http.StatusTooManyRequests {
			return true
		}
		return resp.StatusCode >= 500
	}
	var ae *apperrors.Error
	if errors.As(err, &ae) {
		return ae.Category == apperrors.CategoryNetwork
	}
	return false
}

func isTimeout(err error) bool {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
