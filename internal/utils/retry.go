package utils

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"wa-bot-go/internal/logger"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// RetryConfig configures retry behavior
type RetryConfig struct {
	MaxAttempts int
	Delay       time.Duration
	// Retryable reports whether err is worth another attempt; nil retries everything.
	Retryable func(error) bool
}

// DefaultRetryConfig retries transient store errors three times, two seconds apart.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		Delay:       2 * time.Second,
		Retryable:   IsRetryableError,
	}
}

// WithRetry runs fn until it succeeds, returns a permanent error, runs out
// of attempts, or ctx is done.
func WithRetry[T any](ctx context.Context, cfg RetryConfig, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	attempts := max(cfg.MaxAttempts, 1)
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return zero, err
		}
		if attempt == attempts {
			break
		}

		logger.Warn("Retrying after failure", "attempt", attempt, "delay", cfg.Delay, "error", err)
		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr)
		case <-time.After(cfg.Delay):
		}
	}

	return zero, fmt.Errorf("max retries exceeded: %w", lastErr)
}

var retryablePatterns = []string{
	"connection reset",
	"connection refused",
	"timeout",
	"temporary failure",
	"unavailable",
	"database is locked",
}

// IsRetryableError reports transient Firestore (gRPC) and SQLite failures.
func IsRetryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	if s, ok := status.FromError(err); ok && s.Code() != codes.Unknown {
		switch s.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
			return true
		default:
			return false
		}
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range retryablePatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
