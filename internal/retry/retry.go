// Package retry wraps external call sites with a bounded exponential
// backoff policy.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"feedpilot/internal/logging"
)

// Policy bounds a retried operation.
type Policy struct {
	MaxAttempts     uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultPolicy returns the policy used for platform and oracle calls:
// three attempts with exponential spacing starting at one second.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
	}
}

// Permanent marks err as non-retryable; Do returns it immediately.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs fn under the policy until it succeeds, returns a permanent error,
// the attempt budget is exhausted, or ctx is cancelled.
func Do(ctx context.Context, p Policy, op string, fn func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.MaxInterval = p.MaxInterval

	attempt := 0
	wrapped := func() error {
		attempt++
		err := fn()
		if err != nil {
			logging.Get(logging.CategoryAPI).Warn("%s attempt %d failed: %v", op, attempt, err)
		}
		return err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(eb, p.MaxAttempts-1), ctx)
	return backoff.Retry(wrapped, b)
}
