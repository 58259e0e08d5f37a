package storage

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// RetryPolicy bounds how long backends keep retrying a failed connect.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy is 5 retries starting at 200ms, capped at 5s, with
// jittered exponential growth.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      5,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

// Permanent marks err as not worth retrying (bad DSN, auth failure).
func Permanent(err error) error { return backoff.Permanent(err) }

// Retry runs op until it succeeds, returns a Permanent error, ctx ends or the
// policy is exhausted. Only connection setup is retried: a failure inside a
// run transaction must abort the run instead.
func Retry[T any](ctx context.Context, p RetryPolicy, log *zap.Logger, what string, op func() (T, error)) (T, error) {
	if log == nil {
		log = zap.NewNop()
	}
	eb := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}
	eb.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(eb, p.MaxRetries), ctx)
	return backoff.RetryNotifyWithData(op, b, func(err error, wait time.Duration) {
		log.Warn("retrying",
			zap.String("op", what),
			zap.Duration("wait", wait),
			zap.Error(err))
	})
}
