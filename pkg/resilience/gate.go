package resilience

import (
	"context"
	"errors"
	"time"
)

// ErrAttemptsExhausted is returned when a bounded wait gives up.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// GatePolicy controls how long a caller waits for a condition to hold.
type GatePolicy struct {
	// Interval is the pause between attempts. Zero retries immediately.
	Interval time.Duration
	// MaxAttempts caps the number of checks. Zero means no cap.
	MaxAttempts int
}

// Wait calls check until it returns true. After each failed check it calls
// onRetry (if set) and sleeps for the interval. It returns the number of
// checks performed.
func (p GatePolicy) Wait(ctx context.Context, sleep Sleeper, check func(attempt int) bool, onRetry func(attempt int, wait time.Duration)) (int, error) {
	if sleep == nil {
		sleep = Sleep
	}
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}
		if check(attempt) {
			return attempt, nil
		}
		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return attempt, ErrAttemptsExhausted
		}
		if onRetry != nil {
			onRetry(attempt, p.Interval)
		}
		if p.Interval > 0 {
			if err := sleep(ctx, p.Interval); err != nil {
				return attempt, err
			}
		}
	}
}
