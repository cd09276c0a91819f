package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPredicatesSeeThroughWrapping(t *testing.T) {
	conflict := NewConcurrencyConflict("acme/policy/p-1", 1, 2)
	wrapped := fmt.Errorf("save policy: %w", conflict)

	assert.True(t, IsConcurrencyConflict(wrapped))
	assert.False(t, IsInvariantViolation(wrapped))
	assert.Equal(t, ErrorTypeConcurrencyConflict, TypeOf(wrapped))
	assert.Equal(t, 2, GetAppError(wrapped).Details["actual_version"])
}

func TestRetriesExhaustedKeepsLastConflict(t *testing.T) {
	conflict := NewConcurrencyConflict("acme/policy/p-1", 1, 2)

	err := NewRetriesExhausted(3, conflict)

	assert.True(t, IsRetriesExhausted(err))
	assert.True(t, errors.Is(err, conflict))
	assert.Equal(t, http.StatusServiceUnavailable, err.HTTPStatus)
	assert.Contains(t, err.Message, "try again")
}

func TestIsExpected(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"validation", NewValidationError("bad"), true},
		{"not found", NewNotFoundError("policy"), true},
		{"invariant", NewInvariantViolation("POLICY_ALREADY_CANCELLED", "already cancelled"), true},
		{"conflict", NewConcurrencyConflict("s", 0, 1), false},
		{"lock timeout", NewLockTimeout("lock:acme:policy:p-1", time.Second), false},
		{"retries exhausted", NewRetriesExhausted(3, nil), false},
		{"foreign error", errors.New("boom"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsExpected(tt.err))
		})
	}
}

func TestWrapPreservesType(t *testing.T) {
	err := Wrap(NewInvariantViolation("USER_ALREADY_ACTIVE", "user is already active"), "activate user")

	require.Error(t, err)
	assert.True(t, IsInvariantViolation(err))
	assert.Equal(t, "USER_ALREADY_ACTIVE", GetAppError(err).Code)

	foreign := Wrap(errors.New("disk full"), "append events")
	assert.True(t, IsInternal(foreign))
	assert.Nil(t, Wrap(nil, "noop"))
}

func TestValidationErrorsAsError(t *testing.T) {
	v := NewValidationErrors()
	assert.NoError(t, v.AsError())

	v.Add("tenant", "tenant is required")
	v.Add("tenant", "tenant is invalid")
	err := v.AsError()

	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Equal(t, map[string][]string{"tenant": {"tenant is required", "tenant is invalid"}},
		GetAppError(err).Details["fields"])
}

func TestHandlerMapsErrorKinds(t *testing.T) {
	conflict := NewConcurrencyConflict("acme/policy/p-1", 1, 2)

	tests := []struct {
		name       string
		err        error
		status     int
		errType    ErrorType
		code       string
		retryAfter string
		retryable  bool
		message    string
	}{
		{
			name:    "invariant violation keeps its code",
			err:     fmt.Errorf("adjust: %w", NewInvariantViolation("POLICY_ALREADY_CANCELLED", "policy p-1 is already cancelled")),
			status:  http.StatusUnprocessableEntity,
			errType: ErrorTypeInvariant,
			code:    "POLICY_ALREADY_CANCELLED",
			message: "policy p-1 is already cancelled",
		},
		{
			name:       "concurrency conflict",
			err:        conflict,
			status:     http.StatusConflict,
			errType:    ErrorTypeConcurrencyConflict,
			code:       "CONCURRENCY_CONFLICT",
			retryAfter: "1",
			retryable:  true,
		},
		{
			name:       "lock timeout",
			err:        NewLockTimeout("lock:acme:policy:p-1", 5*time.Second),
			status:     http.StatusLocked,
			errType:    ErrorTypeLockTimeout,
			code:       "LOCK_TIMEOUT",
			retryAfter: "1",
			retryable:  true,
		},
		{
			name:       "retries exhausted asks the caller to try again",
			err:        NewRetriesExhausted(3, conflict),
			status:     http.StatusServiceUnavailable,
			errType:    ErrorTypeRetriesExhausted,
			code:       "RETRIES_EXHAUSTED",
			retryAfter: "2",
			retryable:  true,
			message:    "the resource is being modified concurrently, please try again",
		},
		{
			name:      "projection failure is hidden",
			err:       NewProjectionFailure("policy_summary", "e-1", "PolicyIssued", errors.New("table missing")),
			status:    http.StatusInternalServerError,
			errType:   ErrorTypeProjection,
			code:      "PROJECTION_FAILED",
			retryable: true,
			message:   "An internal error occurred",
		},
		{
			name:    "foreign error",
			err:     errors.New("disk full"),
			status:  http.StatusInternalServerError,
			errType: ErrorTypeInternal,
			message: "An internal error occurred",
		},
	}

	handler := NewErrorHandler(zap.NewNop(), false)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/policies/p-1/adjustments", nil)
			req.Header.Set("X-Correlation-ID", "corr-1")

			handler.Handle(rec, req, tt.err)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.status, StatusFor(tt.err))
			assert.Equal(t, tt.retryAfter, rec.Header().Get("Retry-After"))

			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.True(t, body.Error)
			assert.Equal(t, string(tt.errType), body.Type)
			assert.Equal(t, tt.code, body.Code)
			assert.Equal(t, tt.retryable, body.Retryable)
			assert.Equal(t, "corr-1", body.CorrelationID)
			if tt.message != "" {
				assert.Equal(t, tt.message, body.Message)
			}
		})
	}
}

func TestHandlerDebugExposesCause(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	NewErrorHandler(zap.NewNop(), true).Handle(rec, req, NewDatabaseError("put policy_summary", errors.New("throttled")))

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "database operation 'put policy_summary' failed", body.Message)
	assert.Equal(t, "throttled", body.Details["cause"])
}

func TestHandleStatusAndPanics(t *testing.T) {
	handler := NewErrorHandler(zap.NewNop(), false)

	rec := httptest.NewRecorder()
	handler.HandleStatus(rec, httptest.NewRequest(http.MethodGet, "/", nil), http.StatusTooManyRequests, "Rate limit exceeded")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), string(ErrorTypeRateLimited))

	rec = httptest.NewRecorder()
	panicking := handler.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	panicking.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "boom")
}
