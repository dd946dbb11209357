package helpers

import (
	"fmt"
)

// -----------------------------------------------------------------------------
// Custom Error Types
// -----------------------------------------------------------------------------

type ObserverError struct {
	Message string
	Cause   error
}

func (e *ObserverError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ObserverError) Unwrap() error {
	return e.Cause
}

// -----------------------------------------------------------------------------

// NetworkError covers transport failures, timeouts and non-2xx responses
// surfaced to callers after retries are exhausted.
type NetworkError struct {
	ObserverError
	StatusCode int
}

// RateLimitError is returned when a 429 persists through every retry.
type RateLimitError struct {
	ObserverError
	Group string
}

// SubscriptionLimitError signals a caller-side contract violation: more
// symbols requested than the protocol allows on one connection.
type SubscriptionLimitError struct {
	ObserverError
	Requested int
	Limit     int
}

// DecodeError marks a malformed inbound frame. Dropped, never propagated
// past the subscription client.
type DecodeError struct {
	ObserverError
}

// ValidationError marks a trade with unusable fields. Dropped upstream.
type ValidationError struct {
	ObserverError
}

// -----------------------------------------------------------------------------
// Constructors
// -----------------------------------------------------------------------------

func NewNetworkError(message string, status int, cause error) *NetworkError {
	return &NetworkError{
		ObserverError: ObserverError{Message: message, Cause: cause},
		StatusCode:    status,
	}
}

// -----------------------------------------------------------------------------

func NewRateLimitError(group string, cause error) *RateLimitError {
	return &RateLimitError{
		ObserverError: ObserverError{Message: fmt.Sprintf("rate limit exhausted for group %q", group), Cause: cause},
		Group:         group,
	}
}

// -----------------------------------------------------------------------------

func NewSubscriptionLimitError(requested, limit int) *SubscriptionLimitError {
	return &SubscriptionLimitError{
		ObserverError: ObserverError{Message: fmt.Sprintf("requested %d symbols, protocol allows %d per connection", requested, limit)},
		Requested:     requested,
		Limit:         limit,
	}
}

// -----------------------------------------------------------------------------

func NewDecodeError(message string, cause error) *DecodeError {
	return &DecodeError{ObserverError{Message: message, Cause: cause}}
}

// -----------------------------------------------------------------------------

func NewValidationError(message string) *ValidationError {
	return &ValidationError{ObserverError{Message: message}}
}
