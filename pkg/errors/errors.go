package errors

import (
	"context"
	stderrors "errors"
	"fmt"
)

// ErrorType represents the transport-level category of a failure
type ErrorType string

const (
	ErrorTypeNetwork     ErrorType = "network"
	ErrorTypeRateLimit   ErrorType = "rate_limit"
	ErrorTypeAuth        ErrorType = "auth"
	ErrorTypeParsing     ErrorType = "parsing"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeForbidden   ErrorType = "forbidden"
	ErrorTypeServerError ErrorType = "server_error"
	ErrorTypeUnknown     ErrorType = "unknown"
)

// Reason is the machine-readable failure code stored on a failed check
type Reason string

const (
	ReasonTargetNotFound        Reason = "target_not_found"
	ReasonPrivateTarget         Reason = "private_target"
	ReasonRateLimited           Reason = "rate_limited"
	ReasonTransientFailure      Reason = "transient_failure"
	ReasonUnauthorized          Reason = "unauthorized"
	ReasonSessionRefreshFailed  Reason = "session_refresh_failed"
	ReasonRelationCountExceeded Reason = "relation_count_exceeded"
	ReasonCancelled             Reason = "cancelled"
)

// Error represents a classified failure with type and reason information
type Error struct {
	Type    ErrorType
	Reason  Reason
	Message string
	Code    int
	Err     error
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s error (code %d): %s", e.Reason, e.Code, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Reason, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error
func New(reason Reason, errType ErrorType, code int, message string) *Error {
	return &Error{
		Type:    errType,
		Reason:  reason,
		Message: message,
		Code:    code,
	}
}

// Wrap classifies an existing error under the given reason
func Wrap(err error, reason Reason, message string) *Error {
	errType := ErrorTypeUnknown
	code := 0
	var apiErr *Error
	if stderrors.As(err, &apiErr) {
		errType = apiErr.Type
		code = apiErr.Code
	}
	return &Error{
		Type:    errType,
		Reason:  reason,
		Message: message,
		Code:    code,
		Err:     err,
	}
}

// IsRetryable checks if a failure reason should be retried locally
func IsRetryable(reason Reason) bool {
	switch reason {
	case ReasonRateLimited, ReasonTransientFailure:
		return true
	default:
		return false
	}
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // Network error
		return true
	case 429:
		return true
	case 401, 403, 404:
		return false
	default:
		return statusCode >= 500
	}
}

// ReasonOf extracts the failure reason from any error
func ReasonOf(err error) Reason {
	if err == nil {
		return ""
	}

	var apiErr *Error
	if stderrors.As(err, &apiErr) && apiErr.Reason != "" {
		return apiErr.Reason
	}

	if stderrors.Is(err, context.Canceled) {
		return ReasonCancelled
	}

	// Timeouts and anything unclassified count as transient
	return ReasonTransientFailure
}

// Is reports whether err carries the given reason
func Is(err error, reason Reason) bool {
	return ReasonOf(err) == reason
}

// IsTerminal reports whether a reason always fails the whole check
func IsTerminal(reason Reason) bool {
	switch reason {
	case ReasonTargetNotFound, ReasonPrivateTarget, ReasonRelationCountExceeded,
		ReasonSessionRefreshFailed, ReasonCancelled:
		return true
	default:
		return false
	}
}
