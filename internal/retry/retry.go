// Package retry runs idempotent operations under an explicit backoff policy.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy describes bounded exponential backoff
type Policy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	BackoffFactor float64
	MaxDelay      time.Duration
}

// DefaultPolicy is the per-frame keyframe extraction policy
var DefaultPolicy = Policy{
	MaxAttempts:   5,
	BaseDelay:     1000 * time.Millisecond,
	BackoffFactor: 1.5,
	MaxDelay:      5000 * time.Millisecond,
}

// Delay returns the wait before the given retry (1-based), without jitter
func (p Policy) Delay(retry int) time.Duration {
	if retry < 1 {
		return 0
	}
	d := float64(p.BaseDelay)
	for i := 1; i < retry; i++ {
		d *= p.factor()
		if p.MaxDelay > 0 && d >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && time.Duration(d) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(d)
}

func (p Policy) factor() float64 {
	if p.BackoffFactor < 1 {
		return 1
	}
	return p.BackoffFactor
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = p.factor()
	b.MaxInterval = p.MaxDelay
	if b.MaxInterval <= 0 {
		b.MaxInterval = backoff.DefaultMaxInterval
	}
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

// Permanent marks err so Do stops retrying immediately
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Notify is called after every failed attempt that will be retried
type Notify func(attempt int, err error, wait time.Duration)

// Do calls op until it succeeds, returns a Permanent error, ctx ends, or
// MaxAttempts is reached. The last error is returned.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context, attempt int) (T, error), notify Notify) (T, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	attempt := 0
	operation := func() (T, error) {
		attempt++
		return op(ctx, attempt)
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(0),
	}
	if notify != nil {
		opts = append(opts, backoff.WithNotify(func(err error, wait time.Duration) {
			notify(attempt, err, wait)
		}))
	}

	result, err := backoff.Retry(ctx, operation, opts...)
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Unwrap()
		}
	}
	return result, err
}
