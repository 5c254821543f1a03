package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmetrics/vmetrics/internal/core/fetchqueue"
	"github.com/vmetrics/vmetrics/internal/core/redtrack"
)

func TestFromUpstreamClassification(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name   string
		err    error
		code   string
		status int
	}{
		{"invalid query", fmt.Errorf("%w: bad date", redtrack.ErrInvalidQuery), CodeInvalidInput, http.StatusBadRequest},
		{"rate limited", fmt.Errorf("fetch redtrack: %w", fetchqueue.ErrRateLimited), CodeRateLimited, http.StatusServiceUnavailable},
		{"closed", fetchqueue.ErrClosed, CodeServiceUnavailable, http.StatusServiceUnavailable},
		{"deadline", context.DeadlineExceeded, CodeTimeout, http.StatusGatewayTimeout},
		{"upstream", &fetchqueue.UpstreamError{URL: "https://api.example", StatusCode: 500}, CodeExternalService, http.StatusBadGateway},
		{"other", fmt.Errorf("boom"), CodeInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			envelope := FromUpstream(ctx, tc.err)
			require.NotNil(t, envelope)
			assert.Equal(t, tc.code, envelope.Code)
			assert.Equal(t, tc.status, HTTPStatusFromEnvelope(envelope))
			assert.NotEmpty(t, envelope.CorrelationID)
		})
	}
}

func TestRespondWithErrorUpstream(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/reports/campaigns", nil)
	rec := httptest.NewRecorder()

	RespondWithError(rec, req, &fetchqueue.UpstreamError{URL: "https://api.example/report?api_key=%2A%2A%2A", StatusCode: 500, Message: "boom"})

	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, CodeExternalService, body.Error.Code)
	assert.EqualValues(t, 500, body.Error.Details["upstream_status"])
	assert.NotContains(t, rec.Body.String(), "wrapped_error")
}

func TestRespondWithErrorRateLimitedSetsRetryAfter(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/campaigns", nil)
	rec := httptest.NewRecorder()

	RespondWithError(rec, req, fetchqueue.ErrRateLimited)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "10", rec.Header().Get("Retry-After"))
}

func TestEnsureEnvelopePassesThrough(t *testing.T) {
	original := NewNotFoundError("missing")
	assert.Same(t, original, EnsureEnvelope(original))

	nilEnvelope := EnsureEnvelope(nil)
	assert.Equal(t, CodeInternal, nilEnvelope.Code)
}

func TestSetRetryAfterRoundsUp(t *testing.T) {
	t.Cleanup(func() { SetRetryAfter(DefaultRetryAfter) })

	SetRetryAfter(2500 * time.Millisecond)
	rec := httptest.NewRecorder()
	RespondWithError(rec, httptest.NewRequest(http.MethodGet, "/v1/campaigns", nil), fetchqueue.ErrRateLimited)
	assert.Equal(t, "3", rec.Header().Get("Retry-After"))

	SetRetryAfter(0)
	rec = httptest.NewRecorder()
	RespondWithError(rec, httptest.NewRequest(http.MethodGet, "/v1/campaigns", nil), fetchqueue.ErrRateLimited)
	assert.Equal(t, "10", rec.Header().Get("Retry-After"))
}

func TestHTTPStatusFromCodeUnknown(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusFromCode("SOMETHING_NEW"))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusFromEnvelope(nil))
}
