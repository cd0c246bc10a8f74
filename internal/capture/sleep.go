package capture

import (
	"context"
	"time"
)

// Sleeper pauses for settle times. Tests swap it for a no-op.
type Sleeper func(ctx context.Context, d time.Duration) error

// ContextSleep waits for d or until ctx is done.
func ContextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
