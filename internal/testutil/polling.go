// Package testutil holds helpers for tests that wait on frames, hosts and
// stores reaching a state asynchronously.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Default timings for asynchronous assertions.
const (
	DefaultTimeout  = 5 * time.Second
	DefaultInterval = 5 * time.Millisecond
)

// ErrTimeout is returned, wrapped, when a wait outlives its timeout.
var ErrTimeout = errors.New("testutil: timed out")

// WaitForState samples getter every interval until predicate accepts the
// sample, timeout elapses, or ctx is done. The accepted sample is returned.
//
//	state, err := WaitForState(ctx, frame.State,
//		func(s sandbox.State) bool { return s == sandbox.StateIdle },
//		DefaultTimeout, DefaultInterval)
func WaitForState[T any](ctx context.Context, getter func() T, predicate func(T) bool, timeout, interval time.Duration) (T, error) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(interval)
	defer tick.Stop()

	var zero T
	for {
		if v := getter(); predicate(v) {
			return v, nil
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-deadline.C:
			return zero, fmt.Errorf("%w after %v waiting on %T", ErrTimeout, timeout, zero)
		case <-tick.C:
		}
	}
}

// Poll is WaitForState for a plain condition.
func Poll(ctx context.Context, condition func() bool, timeout, interval time.Duration) error {
	_, err := WaitForState(ctx, condition, func(ok bool) bool { return ok }, timeout, interval)
	return err
}
