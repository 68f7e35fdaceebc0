package worker

import (
	"context"
	"log/slog"
	"time"
)

// retryWithBackoff runs fn up to maxAttempts times, doubling the delay after
// each failure starting from baseDelay. Only errors that retryable approves
// are retried; the last error is returned on exhaustion.
func retryWithBackoff(ctx context.Context, maxAttempts int, baseDelay time.Duration, retryable func(error) bool, fn func() error) error {
	var err error
	delay := baseDelay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !retryable(err) || attempt == maxAttempts {
			return err
		}

		slog.Warn("retrying after transient failure",
			"attempt", attempt, "max_attempts", maxAttempts, "delay", delay, "error", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return err
}
