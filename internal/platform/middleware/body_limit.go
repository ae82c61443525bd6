package middleware

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// BodyLimit caps request body sizes. defaultLimit applies to most
// endpoints; payloadLimit applies to the routes that carry full claim
// bundles (submissions and workflow starts), which run much larger.
//
// Limits are human-readable strings: "1M", "512K", "10M". A bare number is
// bytes.
func BodyLimit(defaultLimit, payloadLimit string) echo.MiddlewareFunc {
	defaultBytes := parseLimit(defaultLimit)
	payloadBytes := parseLimit(payloadLimit)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Body == nil || c.Request().Body == http.NoBody {
				return next(c)
			}

			limit := defaultBytes
			if carriesClaimPayload(c.Request()) {
				limit = payloadBytes
			}

			// Content-Length gives an early rejection when present.
			if c.Request().ContentLength > limit {
				return payloadTooLargeError(c, limit)
			}

			// The limiting reader enforces it even when Content-Length is
			// missing or lies.
			c.Request().Body = &limitedReadCloser{
				ReadCloser: c.Request().Body,
				remaining:  limit,
			}
			return next(c)
		}
	}
}

func carriesClaimPayload(r *http.Request) bool {
	if r.Method != http.MethodPost {
		return false
	}
	switch {
	case strings.HasSuffix(r.URL.Path, "/submit-claim"),
		strings.HasSuffix(r.URL.Path, "/submit-preauth"),
		strings.HasSuffix(r.URL.Path, "/workflows/start"),
		strings.HasSuffix(r.URL.Path, "/terminology/validate-payload"):
		return true
	}
	return false
}

type limitedReadCloser struct {
	io.ReadCloser
	remaining int64
	exceeded  bool
}

func (r *limitedReadCloser) Read(p []byte) (n int, err error) {
	if r.exceeded {
		return 0, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
	}

	toRead := int64(len(p))
	if toRead > r.remaining+1 {
		toRead = r.remaining + 1
	}

	n, err = r.ReadCloser.Read(p[:toRead])
	r.remaining -= int64(n)

	if r.remaining < 0 {
		r.exceeded = true
		return 0, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
	}
	return n, err
}

func payloadTooLargeError(c echo.Context, limit int64) error {
	return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{
		"error": fmt.Sprintf("request body exceeds maximum allowed size of %d bytes", limit),
	})
}

// parseLimit parses "1M", "512K", "10G" or a bare byte count. Unparseable
// input falls back to 1 MB.
func parseLimit(s string) int64 {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 1 << 20
	}

	var multiplier int64 = 1
	switch {
	case strings.HasSuffix(s, "G") || strings.HasSuffix(s, "GB"):
		multiplier = 1 << 30
		s = strings.TrimRight(s, "GB")
	case strings.HasSuffix(s, "M") || strings.HasSuffix(s, "MB"):
		multiplier = 1 << 20
		s = strings.TrimRight(s, "MB")
	case strings.HasSuffix(s, "K") || strings.HasSuffix(s, "KB"):
		multiplier = 1 << 10
		s = strings.TrimRight(s, "KB")
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 1 << 20
	}
	return n * multiplier
}
