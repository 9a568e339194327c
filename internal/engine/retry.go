package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy is a fixed-delay retry policy: MaxAttempts tries in total,
// Delay between consecutive tries, no exponential growth.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultRetryPolicy is used for asset downloads.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	Delay:       1 * time.Second,
}

// Permanent marks err as non-retryable; RetryDo returns it without further attempts.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// RetryDo runs fn until it succeeds, returns a Permanent error, the attempts are
// exhausted, or ctx is done. The last error is returned unwrapped.
func RetryDo[T any](ctx context.Context, rp RetryPolicy, op string, fn func() (T, error)) (T, error) {
	attempts := rp.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	attempt := 0
	operation := func() (T, error) {
		attempt++
		return fn()
	}

	notify := func(err error, wait time.Duration) {
		slog.Warn("retrying",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
			slog.Duration("wait", wait),
			slog.Any("error", err),
		)
	}

	res, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(rp.Delay)),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	)
	if err != nil {
		return res, unwrapPermanent(err)
	}
	return res, nil
}

// unwrapPermanent strips the backoff wrapper that survives when the last
// allowed attempt itself returned a permanent error.
func unwrapPermanent(err error) error {
	if perm, ok := err.(*backoff.PermanentError); ok {
		return perm.Unwrap()
	}
	return err
}
