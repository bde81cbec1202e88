package provider

import (
	"context"
	"time"
)

// BackoffDelay returns the exponential backoff delay for the given attempt
// number: base, 2*base, 4*base, ...
func BackoffDelay(base time.Duration, attempt int) time.Duration {
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// SleepWithContext waits for the specified duration or until the context is cancelled.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
