package providers

import (
	"context"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// RetryPolicy bounds how often an idempotent remote call is attempted.
type RetryPolicy struct {
	// Attempts is the total number of tries, including the first one.
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// NoRetry makes a single attempt.
var NoRetry = RetryPolicy{Attempts: 1}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// attempts run out. The delay doubles after every failed attempt. The last
// error from fn is returned, also when ctx ends the retries early.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error, retryable func(error) bool) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var last error
	op := func() error {
		last = fn(ctx)
		if last != nil && retryable != nil && !retryable(last) {
			return backoff.Permanent(last)
		}
		return last
	}
	b := backoff.WithContext(backoff.WithMaxRetries(p.newBackOff(), uint64(attempts-1)), ctx)
	if err := backoff.Retry(op, b); err != nil {
		if last != nil {
			return last
		}
		return err
	}
	return nil
}

func (p RetryPolicy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = p.MaxDelay
	if b.MaxInterval <= 0 {
		b.MaxInterval = math.MaxInt64
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// NewLimiter returns a limiter allowing rps requests per second. A
// non-positive rps means unlimited.
func NewLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}
