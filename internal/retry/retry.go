// Package retry runs a step a bounded number of times with a fixed pause between tries.
package retry

import (
	"context"
	"errors"
	"time"
)

var ErrExhausted = errors.New("retry budget exhausted")

// SleepFunc pauses for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy is a hard cap, not a backoff curve.
type Policy struct {
	Attempts int
	Delay    time.Duration
	Sleep    SleepFunc
}

// Step is called with a 1-based attempt number. done stops the loop successfully;
// a non-nil error stops it immediately.
type Step func(ctx context.Context, attempt int) (done bool, err error)

// Do runs step until it reports done, fails, or the attempt budget is spent.
// The pause happens between attempts, never after the last one.
func Do(ctx context.Context, p Policy, step Step) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	for attempt := 1; attempt <= p.Attempts; attempt++ {
		done, err := step(ctx, attempt)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if attempt < p.Attempts && p.Delay > 0 {
			if err := sleep(ctx, p.Delay); err != nil {
				return err
			}
		}
	}
	return ErrExhausted
}

// Sleep is the default context-aware SleepFunc.
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

// NoSleep skips pauses; used by tests and bench runs.
func NoSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}
