package errors

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromHTTPStatus(t *testing.T) {
	tests := []struct {
		status    int
		wantType  ErrorType
		retryable bool
	}{
		{http.StatusUnauthorized, ErrorTypeSessionExpired, false},
		{http.StatusForbidden, ErrorTypeAuthentication, false},
		{http.StatusTooManyRequests, ErrorTypeRateLimit, true},
		{http.StatusRequestTimeout, ErrorTypeTimeout, true},
		{http.StatusInternalServerError, ErrorTypeConnection, true},
		{http.StatusServiceUnavailable, ErrorTypeConnection, true},
		{http.StatusBadRequest, ErrorTypeValidation, false},
		{http.StatusNotFound, ErrorTypeValidation, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			err := FromHTTPStatus(tt.status, "provider call failed")
			assert.Equal(t, tt.wantType, err.Type)
			assert.Equal(t, tt.retryable, IsRetryable(err))
			assert.Equal(t, tt.status, err.Details["status_code"])
		})
	}
}

func TestWrapPreservesType(t *testing.T) {
	inner := New(ErrorTypeAuthentication, "bad credentials")
	outer := Wrap(inner, ErrorTypeAuthentication, "login failed")

	require.Error(t, outer)
	assert.True(t, IsAuthFailure(outer))
	assert.False(t, IsRetryable(outer))
	assert.ErrorIs(t, outer, inner)
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrorTypeInternal, "whatever"))
}

func TestRetryClassification(t *testing.T) {
	assert.True(t, IsRetryable(New(ErrorTypeTimeout, "deadline")))
	assert.True(t, IsRetryable(New(ErrorTypeRateLimit, "throttled")))
	assert.True(t, IsRetryable(New(ErrorTypeConnection, "refused")))
	assert.True(t, IsRetryable(context.DeadlineExceeded))

	assert.False(t, IsRetryable(New(ErrorTypeAuthentication, "bad password")))
	assert.False(t, IsRetryable(New(ErrorTypeValidation, "malformed request")))
	assert.False(t, IsRetryable(New(ErrorTypeData, "unexpected shape")))
	assert.False(t, IsRetryable(nil))
}

func TestSessionExpiredIsNotRetryableButRecoverable(t *testing.T) {
	err := FromHTTPStatus(http.StatusUnauthorized, "stale session")
	assert.True(t, IsSessionExpired(err))
	assert.False(t, IsRetryable(err))
	assert.False(t, IsAuthFailure(err))
}

func TestIsCancelled(t *testing.T) {
	assert.True(t, IsCancelled(context.Canceled))
	assert.True(t, IsCancelled(New(ErrorTypeCancelled, "shutting down")))
	assert.True(t, IsCancelled(Wrap(context.Canceled, ErrorTypeCancelled, "tick interrupted")))
	assert.False(t, IsCancelled(New(ErrorTypeTimeout, "slow")))
}

func TestWithDetail(t *testing.T) {
	err := New(ErrorTypeData, "bad record").WithDetail("index", 3)
	assert.Equal(t, 3, err.Details["index"])
	assert.Contains(t, err.Error(), "data: bad record")
}
