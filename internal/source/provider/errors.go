package provider

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Sentinel errors for provider failures.
var (
	// ErrUnauthorized indicates the provider rejected the credentials (401/403)
	ErrUnauthorized = errors.New("provider unauthorized")

	// ErrRateLimited indicates the provider answered 429
	ErrRateLimited = errors.New("provider rate limited")

	// ErrProviderUnavailable indicates a network failure, timeout, or 5xx response
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrMalformedRequest indicates the provider rejected the request as invalid (4xx)
	ErrMalformedRequest = errors.New("malformed request")

	// ErrMalformedResponse indicates an undecodable body or schema violation
	ErrMalformedResponse = errors.New("malformed response")
)

// APIError represents a failed provider request.
type APIError struct {
	Resource   string
	StatusCode int
	Message    string
	// RetryAfter is the delay requested by the provider, if any.
	RetryAfter time.Duration
	Err        error
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s (status %d): %s", e.Resource, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider %s: %s", e.Resource, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *APIError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *APIError) Is(target error) bool {
	switch {
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return target == ErrUnauthorized
	case e.StatusCode == http.StatusTooManyRequests:
		return target == ErrRateLimited
	case e.StatusCode >= 500:
		return target == ErrProviderUnavailable
	case e.StatusCode >= 400:
		return target == ErrMalformedRequest
	}
	return false
}

// IsRetryable reports whether err is transient and the request may be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrProviderUnavailable)
}

// IsFatal reports whether err should stop fetching the current entity kind.
func IsFatal(err error) bool {
	return err != nil && !IsRetryable(err)
}
