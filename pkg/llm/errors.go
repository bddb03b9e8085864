package llm

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"
)

// LLMError is the base error type for all LLM client errors.
type LLMError struct {
	Code    int
	Message string
	Cause   error
}

func (e *LLMError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("llm error %d: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("llm error %d: %s", e.Code, e.Message)
}

func (e *LLMError) Unwrap() error { return e.Cause }

// RateLimitError is returned when the provider rate-limits the request.
type RateLimitError struct{ LLMError }

// ServerError is returned on 5xx responses from the provider.
type ServerError struct{ LLMError }

// AuthError is returned on authentication/authorization failures.
type AuthError struct{ LLMError }

// BadRequestError is returned when the provider rejects the request itself,
// e.g. an oversized prompt or an unsupported image.
type BadRequestError struct{ LLMError }

// ContentFilterError is returned when the request is blocked by the provider's safety filter.
type ContentFilterError struct{ LLMError }

// StatusError classifies a failed HTTP exchange by status code.
func StatusError(code int, msg string, cause error) error {
	base := LLMError{Code: code, Message: msg, Cause: cause}
	switch {
	case code == http.StatusTooManyRequests:
		return &RateLimitError{LLMError: base}
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return &AuthError{LLMError: base}
	case code == http.StatusBadRequest || code == http.StatusRequestEntityTooLarge:
		return &BadRequestError{LLMError: base}
	case code >= 500:
		return &ServerError{LLMError: base}
	default:
		return &base
	}
}

// Retryable returns true if the error is transient and the request may be retried.
func Retryable(err error) bool {
	var rl *RateLimitError
	var se *ServerError
	return errors.As(err, &rl) || errors.As(err, &se)
}

// Backoff returns the wait before retry attempt i (0-based): exponential
// from 1s, capped at 30s, with ±25% jitter.
func Backoff(i int) time.Duration {
	base := time.Duration(1<<uint(min(i, 5))) * time.Second
	if base > 30*time.Second {
		base = 30 * time.Second
	}
	jitter := time.Duration(rand.Float64() * 0.5 * float64(base))
	return base/4*3 + jitter
}

// WithRetry runs fn up to maxAttempts times, retrying only Retryable errors.
// maxAttempts <= 1 means a single attempt. It respects context cancellation
// between attempts but never bounds fn itself.
func WithRetry(ctx context.Context, maxAttempts int, fn func() error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var lastErr error
	for i := range maxAttempts {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !Retryable(lastErr) || maxAttempts == 1 {
			return lastErr
		}
		if i == maxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(Backoff(i)):
		}
	}
	return fmt.Errorf("max retries (%d) exceeded: %w", maxAttempts, lastErr)
}
