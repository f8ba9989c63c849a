// Package resilience provides retry and circuit breaker helpers for calls to
// rate-limited external services.
package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Policy controls retries with exponential backoff.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// BaseDelay is the wait before the first retry. Each later retry waits
	// Factor times longer, up to MaxDelay.
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Factor    float64

	// Jitter randomizes each delay by up to ±Jitter of its value.
	Jitter float64

	// Retryable decides whether an error is worth another attempt.
	// Defaults to IsTransient.
	Retryable func(err error) bool

	// OnRetry runs before each backoff sleep.
	OnRetry func(retry int, delay time.Duration, err error)

	// Sleep waits for d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// ExternalCallPolicy is the policy for geocoding and places lookups: three
// retries waiting 1s, 2s, then 4s, without jitter.
func ExternalCallPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Factor:     2,
	}
}

// PolicyFromConfig builds an ExternalCallPolicy with the given retry count
// (ignored when negative) and base delay (ignored unless positive).
func PolicyFromConfig(maxRetries, initialBackoffMs int) Policy {
	p := ExternalCallPolicy()
	if maxRetries >= 0 {
		p.MaxRetries = maxRetries
	}
	if initialBackoffMs > 0 {
		p.BaseDelay = time.Duration(initialBackoffMs) * time.Millisecond
	}
	return p
}

// Do runs fn until it succeeds, returns a non-retryable error, or the policy
// is exhausted. The last error is returned.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoVal is Do for functions returning a value.
func DoVal[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	p = p.withDefaults()

	var zero T
	for retry := 0; ; retry++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		if ctx.Err() != nil || !p.Retryable(err) || retry >= p.MaxRetries {
			return zero, err
		}

		delay := p.Delay(retry)
		if p.OnRetry != nil {
			p.OnRetry(retry+1, delay, err)
		}
		if sleepErr := p.Sleep(ctx, delay); sleepErr != nil {
			return zero, err
		}
	}
}

// Delay returns the backoff before the given zero-based retry.
func (p Policy) Delay(retry int) time.Duration {
	p = p.withDefaults()

	d := float64(p.BaseDelay) * math.Pow(p.Factor, float64(retry))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		d += (rand.Float64()*2 - 1) * d * p.Jitter
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

func (p Policy) withDefaults() Policy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.Factor <= 0 {
		p.Factor = 2
	}
	if p.Retryable == nil {
		p.Retryable = IsTransient
	}
	if p.Sleep == nil {
		p.Sleep = sleepCtx
	}
	return p
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// LogRetry returns an OnRetry callback that logs each retry at warn level.
func LogRetry(service, operation string) func(int, time.Duration, error) {
	return func(retry int, delay time.Duration, err error) {
		zap.L().Warn("retrying external call",
			zap.String("service", service),
			zap.String("operation", operation),
			zap.Int("retry", retry),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}
}
