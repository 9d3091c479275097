// Package retry runs an operation with exponential backoff.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Config holds configuration for retry behavior.
type Config struct {
	// MaxAttempts counts the first call; values below 1 mean a single attempt.
	MaxAttempts int
	// InitialBackoff is the wait before the second attempt.
	InitialBackoff time.Duration
	// MaxBackoff caps the exponential growth.
	MaxBackoff time.Duration
	// Multiplier is applied to the backoff after each retry.
	Multiplier int
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2,
	}
}

// IsRetryableFunc decides whether an error is worth another attempt.
type IsRetryableFunc func(error) bool

// OnRetryFunc is called before each retry (attempt is 1-indexed).
type OnRetryFunc func(attempt int, err error, backoff time.Duration)

// Do calls fn until it succeeds, returns a non-retryable error, or the
// attempts are used up. The last error is returned.
func Do[T any](ctx context.Context, cfg Config, isRetryable IsRetryableFunc, onRetry OnRetryFunc, fn func() (T, error)) (T, error) {
	var zero T

	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := cfg.InitialBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}

	var lastErr error
	for i := 1; i <= attempts; i++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if isRetryable != nil && !isRetryable(err) {
			return zero, err
		}
		if i == attempts {
			break
		}

		sleep := backoff
		if cfg.MaxBackoff > 0 && sleep > cfg.MaxBackoff {
			sleep = cfg.MaxBackoff
		}
		if onRetry != nil {
			onRetry(i, err, sleep)
		}
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return zero, fmt.Errorf("context cancelled while retrying: %w", ctx.Err())
		}

		if cfg.Multiplier > 1 {
			backoff *= time.Duration(cfg.Multiplier)
		}
	}
	return zero, fmt.Errorf("exhausted %d attempts: %w", attempts, lastErr)
}
