// Package backoff provides exponential backoff and a bounded retry loop.
package backoff

import (
	"context"
	"math"
	"time"
)

// Config for exponential backoff. Zero values use defaults.
type Config struct {
	Initial  time.Duration // default: 100ms
	Max      time.Duration // default: 5s
	Attempts int           // total tries for Retry; default: 3
}

// Exponential returns the delay before retry number attempt.
// Attempt 1 returns initial, attempt 2 returns initial*2, capped at max.
func Exponential(attempt int, cfg *Config) time.Duration {
	initial, maxDelay := 100*time.Millisecond, 5*time.Second
	if cfg != nil {
		if cfg.Initial > 0 {
			initial = cfg.Initial
		}
		if cfg.Max > 0 {
			maxDelay = cfg.Max
		}
	}

	if attempt < 1 {
		return initial
	}
	delay := float64(initial) * math.Pow(2, float64(attempt-1))
	return time.Duration(min(delay, float64(maxDelay)))
}

// Retry calls fn until it succeeds, retryable reports false, the attempts
// run out or ctx ends. It returns the last error from fn, or ctx's error if
// the context ended while waiting. A nil retryable retries every error.
func Retry(ctx context.Context, cfg *Config, retryable func(error) bool, fn func(context.Context) error) error {
	attempts := 3
	if cfg != nil && cfg.Attempts > 0 {
		attempts = cfg.Attempts
	}

	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt >= attempts || (retryable != nil && !retryable(err)) {
			return err
		}

		timer := time.NewTimer(Exponential(attempt, cfg))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
