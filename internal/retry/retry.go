// Package retry provides linear-backoff retries for transient failures at
// persistence and transport boundaries.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Do invokes fn up to attempts times, sleeping base*attempt between tries.
// The last error is returned once attempts are exhausted; a cancelled
// context aborts the wait immediately.
func Do(ctx context.Context, attempts int, base time.Duration, fn func() error) error {
	if attempts <= 0 {
		return fmt.Errorf("retry: attempts must be positive, got %d", attempts)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(base * time.Duration(attempt)):
		}
	}
	return lastErr
}
