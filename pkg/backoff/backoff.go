// Package backoff provides exponential backoff and a retry helper for
// callers of the dataset client. The client itself never retries.
package backoff

import (
	"context"
	"math"
	"time"
)

// Config for exponential backoff. Zero values use defaults.
type Config struct {
	Initial  time.Duration // default: 500ms
	Max      time.Duration // default: 30s
	Attempts int           // total tries made by Retry (default: 3)
}

const (
	defaultInitial  = 500 * time.Millisecond
	defaultMax      = 30 * time.Second
	defaultAttempts = 3
)

// Exponential calculates exponential backoff for a given attempt.
// Attempt 1 returns initial, attempt 2 returns initial*2, etc.
func Exponential(attempt int, cfg *Config) time.Duration {
	initial := defaultInitial
	maxBackoff := defaultMax
	if cfg != nil {
		if cfg.Initial > 0 {
			initial = cfg.Initial
		}
		if cfg.Max > 0 {
			maxBackoff = cfg.Max
		}
	}

	if attempt < 1 {
		return initial
	}
	backoff := float64(initial) * math.Pow(2.0, float64(attempt-1))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}
	return time.Duration(backoff)
}

// Retry calls fn until it succeeds, returns an error retryable rejects, or
// cfg.Attempts tries have been made. It waits Exponential(n) after the n-th
// failure and returns the last error from fn, or ctx.Err() if ctx ends while
// waiting. A nil retryable retries every error.
func Retry(ctx context.Context, cfg *Config, fn func(context.Context) error, retryable func(error) bool) error {
	attempts := defaultAttempts
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
