package api

import (
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retry policy: up to maxRetries additional attempts after the first, with
// delays of retryInitialDelay, then retryInitialDelay*retryMultiplier
// (300ms, 900ms). No jitter, so the schedule is exact and testable.
const (
	maxRetries        = 2
	retryInitialDelay = 300 * time.Millisecond
	retryMultiplier   = 3
)

// WithRetry wraps an arbitrary operation with the shared retry policy.
// Retryable failures (see IsRetryable) are re-attempted with backoff;
// everything else propagates immediately with zero delay. The last error
// is returned when all attempts fail.
func WithRetry[T any](logger *log.Logger, op string, fn func() (T, error)) (T, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryInitialDelay
	policy.Multiplier = retryMultiplier
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0

	attempt := 0
	return backoff.RetryWithData(func() (T, error) {
		attempt++
		v, err := fn()
		if err == nil {
			return v, nil
		}
		if !IsRetryable(err) {
			return v, backoff.Permanent(err)
		}
		if logger != nil {
			logger.Printf("%s failed (attempt %d): %v", op, attempt, err)
		}
		return v, err
	}, backoff.WithMaxRetries(policy, maxRetries))
}
