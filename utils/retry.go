// Package utils provides utility functions for the application.
package utils

import (
	"context"
	"time"
)

// RetryConfig controls the behavior of Retry.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Deadline     time.Duration
	// Retryable decides whether an error is worth another attempt.
	// A nil Retryable treats every error as retryable.
	Retryable func(error) bool
}

// DefaultRetryConfig returns a conservative retry policy: 3 attempts,
// exponential backoff starting at 500ms, capped at 5s, 30s overall deadline.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Deadline:     30 * time.Second,
	}
}

// Retry executes fn with bounded attempts and exponential backoff. It stops
// early when the context is cancelled, the overall deadline elapses, or the
// error is classified as non-retryable.
func Retry(ctx context.Context, cfg RetryConfig, fn func(context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 500 * time.Millisecond
	}
	if cfg.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Deadline)
		defer cancel()
	}

	delay := cfg.InitialDelay
	var err error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return err
}
