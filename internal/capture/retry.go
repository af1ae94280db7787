package capture

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
)

// Retry runs op until it succeeds, attempts are exhausted or ctx ends, with
// exponential backoff between attempts. It is shared by the open and read
// paths of the capture loop.
func Retry[T any](ctx context.Context, what string, attempts int, initial, maxInterval time.Duration, op func() (T, error)) (T, error) {
	if attempts < 1 {
		attempts = 1
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = maxInterval
	b.Multiplier = 2
	b.RandomizationFactor = 0.1

	return backoff.Retry(ctx, backoff.Operation[T](op),
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Debug().
				Err(err).
				Str("component", "capture").
				Str("op", what).
				Dur("retry_in", next).
				Msg("retrying camera operation")
		}),
	)
}

func (c Config) retry(ctx context.Context, what string, attempts int, op func() (struct{}, error)) error {
	_, err := Retry(ctx, what, attempts, c.RetryInterval, c.RetryMaxInterval, op)
	return err
}
