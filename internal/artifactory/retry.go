package artifactory

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// retryableError marks a failure worth another attempt: transport errors
// and 5xx responses.
type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// retry executes fn up to maxAttempts times with jittered exponential
// backoff. Only errors wrapped in retryableError are retried. The returned
// error is unwrapped so callers never see the marker type.
func retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	var lastErr error
	delay := baseDelay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		var re *retryableError
		if !errors.As(lastErr, &re) {
			return lastErr
		}
		lastErr = re.err
		if attempt == maxAttempts || ctx.Err() != nil {
			break
		}
		var jitter time.Duration
		if half := int64(delay / 2); half > 0 {
			jitter = time.Duration(rand.Int63n(half))
		}
		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(delay + jitter):
		}
		delay *= 2
	}
	return lastErr
}
