// Package retry runs operations with bounded attempts and backoff.
//
// Only rate-limited and transient failures are retried by default
// (see errors.IsRetryable). When attempts run out, the returned error keeps
// the original reason so callers can record it on the failed check.
//
//	page, err := retry.DoWithResult(ctx, func(ctx context.Context) (*Page, error) {
//		return s.fetchOnce(ctx, relation, target, cursor)
//	}, &retry.Config{
//		MaxAttempts: cfg.MaxAttempts + 1,
//		Backoff:     &retry.ExponentialBackoff{BaseDelay: time.Second, Multiplier: 2},
//	})
package retry
