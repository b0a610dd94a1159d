// Package retry repeats idempotent operations with exponential backoff. The
// default policy covers outbound reads; remote writes must never go through it.
package retry

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/iho/ynabimport/internal/domain"
)

// Retrier runs an operation again when it fails with a retryable error.
type Retrier struct {
	maxRetries      int
	initialInterval time.Duration
	maxInterval     time.Duration
	maxElapsedTime  time.Duration
	retryable       func(error) bool
	logger          zerolog.Logger
}

// New creates a Retrier that allows a single bounded retry.
func New(logger zerolog.Logger) *Retrier {
	return &Retrier{
		maxRetries:      1,
		initialInterval: 500 * time.Millisecond,
		maxInterval:     2 * time.Second,
		maxElapsedTime:  10 * time.Second,
		retryable:       IsRetryable,
		logger:          logger,
	}
}

// WithPolicy replaces the retry budget and the error classifier.
func (r *Retrier) WithPolicy(maxRetries int, retryable func(error) bool) *Retrier {
	r.maxRetries = maxRetries
	if retryable != nil {
		r.retryable = retryable
	}
	return r
}

// WithIntervals overrides the backoff intervals; used by tests.
func (r *Retrier) WithIntervals(initial, maxInterval time.Duration) *Retrier {
	r.initialInterval = initial
	r.maxInterval = maxInterval
	return r
}

// Retry executes operation, repeating it on retryable errors.
func (r *Retrier) Retry(ctx context.Context, op string, operation func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initialInterval
	b.MaxInterval = r.maxInterval
	b.MaxElapsedTime = r.maxElapsedTime

	retryCount := 0

	return backoff.Retry(func() error {
		err := operation()
		if err == nil {
			return nil
		}

		if !r.retryable(err) {
			return backoff.Permanent(err)
		}

		retryCount++
		if retryCount > r.maxRetries {
			return backoff.Permanent(err)
		}

		r.logger.Warn().
			Err(err).
			Str("operation", op).
			Int("retry", retryCount).
			Msg("retryable error, retrying")

		return err
	}, backoff.WithContext(b, ctx))
}

// IsRetryable reports whether err is a transient remote failure.
func IsRetryable(err error) bool {
	var remoteErr *domain.RemoteError
	if errors.As(err, &remoteErr) {
		return remoteErr.Retryable()
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
