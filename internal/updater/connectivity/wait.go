package connectivity

import (
	"context"
	"time"

	"k8s.io/utils/clock"
)

// waitFor blocks until ready returns true, the timeout elapses, or ctx is
// done. The predicate is re-evaluated every interval and on every event.
// It returns false exactly when the timeout elapsed first.
func waitFor(ctx context.Context, clk clock.Clock, events <-chan struct{}, timeout, interval time.Duration, ready func() bool) (bool, error) {
	deadline := clk.Now().Add(timeout)

	for {
		if ready() {
			return true, nil
		}

		remaining := deadline.Sub(clk.Now())
		if remaining <= 0 {
			return false, nil
		}

		timer := clk.NewTimer(min(interval, remaining))
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		case <-events:
			timer.Stop()
		case <-timer.C():
		}
	}
}
