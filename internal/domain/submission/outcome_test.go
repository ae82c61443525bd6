package submission

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeOutcomeEmbeddedStatusWins(t *testing.T) {
	cases := []struct {
		embedded string
		http     int
		want     string
	}{
		{"submitted", 500, StatusAccepted},
		{"Processed", 404, StatusAccepted},
		{"ok", 503, StatusAccepted},
		{"rejected", 200, StatusRejected},
		{"DENIED", 200, StatusRejected},
		{"invalid", 200, StatusRejected},
		{"error", 200, StatusError},
		{"failed", 200, StatusError},
		{"timeout", 200, StatusError},
	}
	for _, tc := range cases {
		got := NormalizeOutcome(tc.http, map[string]any{"status": tc.embedded})
		assert.Equal(t, tc.want, got, "embedded %q with http %d", tc.embedded, tc.http)
	}
}

func TestNormalizeOutcomeFallsBackToHTTPRange(t *testing.T) {
	assert.Equal(t, StatusAccepted, NormalizeOutcome(200, nil))
	assert.Equal(t, StatusAccepted, NormalizeOutcome(201, map[string]any{"status": "weird"}))
	assert.Equal(t, StatusRejected, NormalizeOutcome(400, nil))
	assert.Equal(t, StatusRejected, NormalizeOutcome(422, map[string]any{}))
	assert.Equal(t, StatusError, NormalizeOutcome(500, nil))
	assert.Equal(t, StatusError, NormalizeOutcome(0, nil))
}

func TestNormalizeOutcomeChecksAlternateFields(t *testing.T) {
	assert.Equal(t, StatusRejected, NormalizeOutcome(200, map[string]any{"outcome": "denied"}))
	assert.Equal(t, StatusAccepted, NormalizeOutcome(500, map[string]any{"result": "processed"}))
}

func TestExtractNphiesID(t *testing.T) {
	assert.Nil(t, extractNphiesID(nil))
	assert.Nil(t, extractNphiesID(map[string]any{"status": "submitted"}))

	id := extractNphiesID(map[string]any{"nphies_id": "NPHIES-123"})
	if assert.NotNil(t, id) {
		assert.Equal(t, "NPHIES-123", *id)
	}

	id = extractNphiesID(map[string]any{"reference": "REF-9"})
	if assert.NotNil(t, id) {
		assert.Equal(t, "REF-9", *id)
	}
}
