// Package retry expresses the gateway's retry contract as a reusable policy:
// a bounded number of attempts with a fixed pause, re-attempting only when
// the trigger predicate matches. The cost gateway uses it for its single
// retry after a credential rejection.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy describes when and how often an operation is re-attempted.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts uint

	// Delay is the fixed pause between attempts.
	Delay time.Duration

	// Retryable reports whether the error is worth another attempt.
	// A nil predicate retries nothing.
	Retryable func(error) bool
}

// Do runs op under the policy and returns the last result.
// Errors the predicate rejects are surfaced immediately.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}

	wrapped := func() (T, error) {
		v, err := op(ctx)
		if err != nil && (p.Retryable == nil || !p.Retryable(err)) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	return backoff.Retry(ctx, wrapped,
		backoff.WithBackOff(backoff.NewConstantBackOff(p.Delay)),
		backoff.WithMaxTries(attempts),
	)
}
