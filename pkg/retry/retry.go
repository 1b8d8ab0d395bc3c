// Package retry wraps cenkalti/backoff/v5 with the two retry policies
// the outreach pipeline needs: a general transient-error policy (base
// 1s, max 10s, 3 attempts) and a separate rate-limit policy (random
// exponential, up to 5 attempts, max 60s).
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// GeneralPolicy retries transient failures (timeouts, connection resets,
// 5xx responses) up to 3 times with exponential backoff capped at 10s.
func GeneralPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 10 * time.Second
	return b
}

// RateLimitPolicy retries rate-limited calls up to 5 times with a
// randomized exponential backoff capped at 60s, spreading retries out
// so a burst of callers doesn't resynchronize against the same window.
func RateLimitPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.RandomizationFactor = 0.5
	b.MaxInterval = 60 * time.Second
	return b
}

// Do runs operation under the general transient policy, up to 3 attempts.
func Do[T any](ctx context.Context, operation func() (T, error)) (T, error) {
	return backoff.Retry(ctx, operation, backoff.WithBackOff(GeneralPolicy()), backoff.WithMaxTries(3))
}

// DoRateLimited runs operation under the rate-limit policy, up to 5 attempts.
func DoRateLimited[T any](ctx context.Context, operation func() (T, error)) (T, error) {
	return backoff.Retry(ctx, operation, backoff.WithBackOff(RateLimitPolicy()), backoff.WithMaxTries(5))
}

// Permanent wraps err so backoff.Retry stops retrying immediately,
// matching the spec's distinction between Transient and Permanent
// outreach failures.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
