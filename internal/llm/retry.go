package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// RetryConfig configures the retry behavior for external model calls.
type RetryConfig struct {
	MaxRetries      int           // Maximum number of retry attempts
	InitialInterval time.Duration // Initial backoff interval
	MaxInterval     time.Duration // Maximum backoff interval
}

// DefaultRetryConfig returns sensible defaults for model API calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// retryablePatterns groups error substrings by category.
// Matched case-insensitively against err.Error().
//
// NOTE: String matching is used because Genkit and the provider SDKs do not
// expose typed errors for transient failures. Re-evaluate if Genkit adds
// structured error types.
var retryablePatterns = [][]string{
	{"rate limit", "quota exceeded", "resource exhausted", "429"}, // rate limiting
	{"500", "502", "503", "504", "unavailable", "overloaded"},     // transient server errors
	{"connection reset", "timeout", "temporary", "broken pipe"},   // network errors
}

// Retryable reports whether err is transient and should trigger a retry.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	for _, group := range retryablePatterns {
		if containsAny(errStr, group...) {
			return true
		}
	}
	return false
}

// RetryableStatus reports whether an HTTP status code is transient.
// Used by callers that talk to raw HTTP inference endpoints so that every
// external call in the system shares one retry classification.
func RetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// containsAny checks if s contains any of the substrings (case-insensitive).
func containsAny(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}

// withRetry runs fn with exponential backoff on retryable errors.
// Each attempt waits on the rate limiter first, so retries cannot burst
// past the provider quota. Non-retryable errors fail immediately.
func withRetry[T any](
	ctx context.Context,
	cfg RetryConfig,
	limiter *rate.Limiter,
	logger *slog.Logger,
	op string,
	fn func(context.Context) (T, error),
) (T, error) {
	var zero T
	var lastErr error
	delay := cfg.InitialInterval
	start := time.Now()

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return zero, fmt.Errorf("rate limit wait: %w", err)
			}
		}

		result, err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				logger.Debug("call succeeded after retry",
					"op", op,
					"attempts", attempt+1,
					"elapsed", time.Since(start),
				)
			}
			return result, nil
		}

		lastErr = err

		if !Retryable(err) {
			return zero, fmt.Errorf("%w: %s: %w", ErrGenerationFailed, op, err)
		}

		if attempt == cfg.MaxRetries {
			break
		}

		logger.Debug("retrying after transient error",
			"op", op,
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("context canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, cfg.MaxInterval)
		}
	}

	return zero, fmt.Errorf("%w: %s after %d retries (elapsed: %v): %w",
		ErrRetryBudgetExceeded, op, cfg.MaxRetries, time.Since(start), lastErr)
}
