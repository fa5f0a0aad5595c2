package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReasonOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Reason
	}{
		{"nil", nil, ""},
		{"classified", New(ReasonPrivateTarget, ErrorTypeForbidden, 403, "private"), ReasonPrivateTarget},
		{"wrapped classified", fmt.Errorf("page 3: %w", New(ReasonRateLimited, ErrorTypeRateLimit, 429, "slow down")), ReasonRateLimited},
		{"context canceled", context.Canceled, ReasonCancelled},
		{"deadline", fmt.Errorf("fetch: %w", context.DeadlineExceeded), ReasonTransientFailure},
		{"plain", stderrors.New("boom"), ReasonTransientFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ReasonOf(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ReasonRateLimited))
	assert.True(t, IsRetryable(ReasonTransientFailure))
	assert.False(t, IsRetryable(ReasonUnauthorized))
	assert.False(t, IsRetryable(ReasonTargetNotFound))
	assert.False(t, IsRetryable(ReasonSessionRefreshFailed))
}

func TestWrapKeepsTypeAndCode(t *testing.T) {
	inner := New(ReasonTransientFailure, ErrorTypeServerError, 502, "bad gateway")
	wrapped := Wrap(inner, ReasonTransientFailure, "retries exhausted")

	assert.Equal(t, ErrorTypeServerError, wrapped.Type)
	assert.Equal(t, 502, wrapped.Code)
	assert.True(t, stderrors.Is(wrapped, inner))
	assert.Contains(t, wrapped.Error(), "retries exhausted")
}

func TestIsRetryableStatusCode(t *testing.T) {
	for _, code := range []int{0, 429, 500, 502, 503, 504} {
		assert.True(t, IsRetryableStatusCode(code), "code %d", code)
	}
	for _, code := range []int{401, 403, 404, 400} {
		assert.False(t, IsRetryableStatusCode(code), "code %d", code)
	}
}
