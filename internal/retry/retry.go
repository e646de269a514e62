// Package retry provides a reusable retry mechanism with exponential backoff
// for transient failures such as network timeouts and connection errors.
package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrMaxAttemptsExceeded is returned when all retry attempts are exhausted.
	ErrMaxAttemptsExceeded = errors.New("maximum retry attempts exceeded")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled during retry")
)

// Config holds retry configuration parameters.
type Config struct {
	// MaxAttempts is the maximum number of attempts (including the first).
	MaxAttempts int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the exponential backoff delay.
	MaxDelay time.Duration

	// Multiplier is the backoff multiplier applied after each attempt.
	Multiplier float64

	// IsRetryable decides whether an error is worth retrying.
	// When nil, DefaultIsRetryable is used.
	IsRetryable func(error) bool

	// OnRetry, when set, is called before each retry sleep with the attempt
	// number that just failed, its error, and the upcoming delay.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig returns a sensible default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		IsRetryable:  DefaultIsRetryable,
	}
}

// DefaultIsRetryable treats common transient network and I/O failures as
// retryable based on error message patterns.
func DefaultIsRetryable(err error) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())
	patterns := []string{
		"timeout",
		"deadline exceeded",
		"connection refused",
		"connection reset",
		"no such host",
		"temporary failure",
		"network is unreachable",
		"i/o timeout",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// Do executes fn with retries according to cfg. Zero fields in cfg are filled
// from DefaultConfig. Non-retryable errors are returned immediately; once the
// attempts are exhausted the last error is wrapped in ErrMaxAttemptsExceeded.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = DefaultConfig().InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultConfig().MaxDelay
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = DefaultConfig().Multiplier
	}
	if cfg.IsRetryable == nil {
		cfg.IsRetryable = DefaultIsRetryable
	}

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrContextCancelled, err)
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !cfg.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, lastErr, delay)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrMaxAttemptsExceeded, cfg.MaxAttempts, lastErr)
}
