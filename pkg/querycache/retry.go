package querycache

import (
	"context"
	"fmt"
	"time"

	"chatcache/pkg/logger"
)

const (
	retryAttempts = 3
	retryDelay    = 2 * time.Second
)

// Retry runs fn up to three times with a fixed two-second delay in
// between; there is no exponential growth. Exhausted retries wrap the
// last error in ErrQueryFailed so callers can leave cached state at
// last-known-good and surface a degraded view.
func Retry(ctx context.Context, fn func(context.Context) error) error {
	var last error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		last = fn(ctx)
		if last == nil {
			return nil
		}
		logger.Log.Warn("query_attempt_failed", "attempt", attempt, "err", last)
		if attempt < retryAttempts {
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("%w: %v", ErrQueryFailed, last)
}
