package core

import (
	"context"
	"time"
)

// dialRetryInterval is the fixed back-off between dial attempts during
// connection-pool bring-up (spec.md §4.2: "fixed 100 ms back-off").
// Exponential or jittered back-off would be the wrong tool here — the
// spec is explicit that the interval does not grow.
const dialRetryInterval = 100 * time.Millisecond

// retryUntilSuccess calls attempt repeatedly on a fixed interval until it
// succeeds or ctx is cancelled, returning the last error in the latter
// case. There is no attempt cap: bring-up is bounded only by the overall
// pool timeout applied around the caller.
func retryUntilSuccess(ctx context.Context, attempt func() error) error {
	var lastErr error
	for {
		if err := attempt(); err == nil {
			return nil
		} else {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(dialRetryInterval):
		}
	}
}
