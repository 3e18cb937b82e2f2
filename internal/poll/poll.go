// Package poll provides the bounded wait loop shared by the readiness gate and
// the convergence verifier.
package poll

import (
	"context"
	"time"
)

// Until calls fn until it returns true, maxWait elapses, or ctx is done. fn
// is always called at least once. It returns whether fn succeeded, the number
// of calls made, and ctx.Err() when the context ended the wait.
func Until(ctx context.Context, maxWait, interval time.Duration, fn func(ctx context.Context) bool) (bool, int, error) {
	deadline := time.Now().Add(maxWait)
	polls := 0
	for {
		if err := ctx.Err(); err != nil {
			return false, polls, err
		}
		polls++
		if fn(ctx) {
			return true, polls, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, polls, nil
		}
		wait := interval
		if wait > remaining {
			wait = remaining
		}
		if err := Sleep(ctx, wait); err != nil {
			return false, polls, err
		}
	}
}

// Sleep pauses for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Personal.AI order the ending
