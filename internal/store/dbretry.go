package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"zombiezen.com/go/sqlite"
)

var (
	maxElapsedTime  = 10 * time.Second
	initialInterval = 50 * time.Millisecond
	maxInterval     = time.Second
	maxRetries      = uint64(8)
)

// IsRetryableError reports whether err is a transient lock conflict
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	switch sqlite.ErrCode(err).ToPrimary() {
	case sqlite.ResultBusy, sqlite.ResultLocked:
		return true
	default:
		return false
	}
}

// retryOperation runs op until it succeeds, fails permanently, or the
// backoff budget is spent. Busy and locked databases are retried.
func retryOperation(ctx context.Context, op func() error) error {
	var lastErr error

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithMaxElapsedTime(maxElapsedTime),
		backoff.WithInitialInterval(initialInterval),
		backoff.WithMaxInterval(maxInterval),
	), maxRetries)

	err := backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !IsRetryableError(err) {
			return backoff.Permanent(err)
		}
		lastErr = err
		return err
	}, backoff.WithContext(b, ctx))
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return permanent.Err
		}
		if lastErr != nil {
			return fmt.Errorf("database operation failed after retries: %w", lastErr)
		}
		return err
	}
	return nil
}
