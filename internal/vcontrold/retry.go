package vcontrold

import (
	"context"
	"time"
)

// Retry runs an operation a bounded number of times with a fixed pause
// between attempts. Both connecting and command execution use it.
type Retry struct {
	// Attempts is the maximum number of calls. Values below 1 mean 1.
	Attempts int

	// Backoff is the pause between attempts. Zero retries immediately.
	Backoff time.Duration

	// Sleep overrides the pause, mainly for tests. It must return early
	// with ctx.Err() when ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Do calls op until it returns nil or attempts run out, and returns the
// last error. The attempt number passed to op starts at 1. Cancelling ctx
// only interrupts the pause between attempts.
func (r Retry) Do(ctx context.Context, op func(attempt int) error) error {
	attempts := max(r.Attempts, 1)

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = op(attempt); err == nil {
			return nil
		}
		if attempt == attempts || r.Backoff <= 0 {
			continue
		}
		if serr := r.sleep(ctx, r.Backoff); serr != nil {
			return serr
		}
	}
	return err
}

func (r Retry) sleep(ctx context.Context, d time.Duration) error {
	if r.Sleep != nil {
		return r.Sleep(ctx, d)
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
