// Package waiter provides a single cancellable-sleep primitive used by
// ralphd's backoff waits (the sequential engine's rate-limit backoff and
// retry delay, the main-sync retry loop) so a context cancellation or
// explicit stop signal always wins over a pending wait.
package waiter

import (
	"context"
	"time"
)

// Sleep blocks for d, returning early with ctx.Err() if ctx is done, or
// nil if stop fires first.
func Sleep(ctx context.Context, d time.Duration, stop <-chan struct{}) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-stop:
		return nil
	}
}
