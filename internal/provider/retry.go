package provider

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/photosync/cloudsync/internal/models"
)

const maxRetryAttempts = 4

// withRetry runs op with bounded exponential backoff. Only transient
// provider faults (network errors, 5xx, timeouts) are retried; a
// provider-signaled rate limit propagates immediately so the rate
// limiter's backoff bookkeeping can record it, and everything else fails
// on the first attempt.
func withRetry[T any](ctx context.Context, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second

	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err == nil {
			return v, nil
		}

		var transient *models.TransientProviderError
		if errors.As(err, &transient) {
			return v, err
		}
		return v, backoff.Permanent(err)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(maxRetryAttempts))
}
