package mega

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// backoff configures the wait between attempts of a chunk transfer.
type backoff struct {
	initial    time.Duration
	max        time.Duration
	multiplier float64
	jitter     float64
}

var defaultBackoff = backoff{
	initial:    200 * time.Millisecond,
	max:        5 * time.Second,
	multiplier: 2.0,
	jitter:     0.1,
}

// nolint:gosec
func (b backoff) wait(attempt int) time.Duration {
	wait := float64(b.initial) * math.Pow(b.multiplier, float64(attempt-1))
	if wait > float64(b.max) {
		wait = float64(b.max)
	}

	if b.jitter > 0 {
		wait += wait * b.jitter * (rand.Float64()*2 - 1)
	}

	return time.Duration(wait)
}

// retry calls fn until it succeeds, fails with a permanent error, or maxAttempts is reached.
// It returns the number of attempts made.
func retry(ctx context.Context, maxAttempts int, b backoff, fn func() error) (int, error) {
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return attempt, nil
		}

		lastErr = err

		if !isTransient(err) || ctx.Err() != nil || attempt == maxAttempts {
			return attempt, err
		}

		select {
		case <-ctx.Done():
			return attempt, ctx.Err()

		case <-time.After(b.wait(attempt)):
		}
	}

	return maxAttempts, lastErr
}

// isTransient reports whether a failed chunk transfer may succeed if attempted again.
// Local failures, crypto failures and definitive protocol errors are permanent.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var (
		ioErr     *IOError
		cryptoErr *CryptoError
		apiErr    Error
	)

	switch {
	case errors.As(err, &ioErr), errors.As(err, &cryptoErr), errors.Is(err, ErrIntegrity):
		return false

	case errors.As(err, &apiErr):
		switch apiErr.Code {
		case InternalError, TryAgain, RateLimited, TemporarilyUnavailable:
			return true

		default:
			return false
		}

	default:
		return true
	}
}
