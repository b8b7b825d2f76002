package service

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/pesio-ai/be-scm-fulfillment/internal/errors"
)

// DefaultRetryAttempts bounds RetryOnContention when maxTries is 0
const DefaultRetryAttempts = 5

// RetryOnContention calls fn until it succeeds, fails with anything other
// than LOCK_CONTENTION, or maxTries attempts were made. Attempts are spaced
// with exponential backoff.
func RetryOnContention[T any](ctx context.Context, maxTries uint, fn func(ctx context.Context) (T, error)) (T, error) {
	if maxTries == 0 {
		maxTries = DefaultRetryAttempts
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond

	return backoff.Retry(ctx, func() (T, error) {
		v, err := fn(ctx)
		if err != nil && !errors.Retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(maxTries))
}
