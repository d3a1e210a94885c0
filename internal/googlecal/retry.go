package googlecal

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"google.golang.org/api/googleapi"
)

const (
	// defaultMaxAttempts is the number of tries before Retry gives up.
	defaultMaxAttempts = 3

	// baseDelay is the starting backoff interval (before jitter).
	baseDelay = 500 * time.Millisecond

	// maxDelay caps the backoff interval.
	maxDelay = 5 * time.Second
)

// Retry executes fn up to maxAttempts times with exponential backoff and
// jitter. Client errors the provider will keep rejecting (a stale token, a
// bad request) fail immediately; only transient failures are retried. The
// last failure is returned wrapped when all attempts are exhausted.
func Retry(ctx context.Context, maxAttempts int, fn func() error) error {
	var lastErr error
	for attempt := range maxAttempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}

		if attempt < maxAttempts-1 {
			delay := backoffDelay(attempt)
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}
	}
	return fmt.Errorf("all %d attempts failed: %w", maxAttempts, lastErr)
}

// retryable reports whether an error is worth another attempt. Rate limits
// and server-side failures are; every other provider status is
// deterministic and retrying it just burns quota.
func retryable(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		// Transport-level failure (reset, timeout): retry.
		return true
	}
	return gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500
}

// backoffDelay computes the delay for a given attempt index: exponential
// growth capped at maxDelay, with jitter uniform in [delay/2, delay).
func backoffDelay(attempt int) time.Duration {
	delay := min(baseDelay*(1<<attempt), maxDelay)
	jitter := time.Duration(rand.Int63n(int64(delay) / 2)) //nolint:gosec // jitter does not need crypto/rand
	return delay/2 + jitter
}
