package pipeline

import (
	"context"
	"time"

	"github.com/pankaj139/pixelforge/internal/metrics"
)

// withRetry runs fn up to maxAttempts times with exponential backoff
// between attempts: delay = base * 2^(attempt-1) after failed attempt n.
// Fatal errors and context cancellation stop the loop early. Detection,
// crop and batch calls all retry through here so the backoff semantics stay
// identical across call sites.
func withRetry(ctx context.Context, maxAttempts int, base time.Duration, fn func(attempt int) error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if isFatalError(lastErr) || attempt == maxAttempts {
			break
		}
		metrics.IncRetry()
		delay := base << uint(attempt-1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}
