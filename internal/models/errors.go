package models

import (
	"fmt"
	"time"
)

// AuthError indicates an invalid or revoked credential. It is terminal:
// the connection is marked disconnected and the user must re-authenticate.
type AuthError struct {
	Provider string
	Message  string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.Provider, e.Message)
}

// QuotaExceededError indicates a non-priority operation was refused because
// the local quota counters for the provider are exhausted.
type QuotaExceededError struct {
	Provider  string
	Operation string
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s on %s", e.Operation, e.Provider)
}

// BackoffError indicates the provider explicitly signaled throttling.
// Calls are suppressed until RetryAfter has elapsed.
type BackoffError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *BackoffError) Error() string {
	return fmt.Sprintf("provider %s in backoff, retry after %s", e.Provider, e.RetryAfter)
}

// NotFoundError indicates a missing connection, mapping, or record.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// TransientProviderError wraps a network error, timeout, or 5xx from a
// provider. The retry wrapper absorbs these; callers only see one if
// retries exhaust. RetryAfter is populated when the provider supplied a
// retry hint, so the core never inspects provider-specific error shapes.
type TransientProviderError struct {
	Provider   string
	RetryAfter time.Duration
	Err        error
}

func (e *TransientProviderError) Error() string {
	return fmt.Sprintf("transient provider error (%s): %v", e.Provider, e.Err)
}

func (e *TransientProviderError) Unwrap() error {
	return e.Err
}

// UnsupportedProviderError is a configuration or programming error: the
// provider identifier has no registered adapter. Never retried.
type UnsupportedProviderError struct {
	Provider string
}

func (e *UnsupportedProviderError) Error() string {
	return fmt.Sprintf("unsupported storage provider: %s", e.Provider)
}
