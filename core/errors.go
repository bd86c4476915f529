// Package core provides the shared completion and conversation types and the error taxonomy for relay.
package core

import (
	"errors"
	"fmt"
)

// Sentinel errors for completion operations.
var (
	ErrIncompleteStream = errors.New("stream ended without a final delta")
	ErrProviderDisabled = errors.New("provider is disabled")
)

// DuplicateProviderError is returned when a provider id is registered twice.
type DuplicateProviderError struct {
	ID string
}

func (e *DuplicateProviderError) Error() string {
	return "provider " + e.ID + " already registered"
}

// UnknownProviderError is returned when a request names a provider that is not registered.
type UnknownProviderError struct {
	ProviderID string
}

func (e *UnknownProviderError) Error() string {
	return "unknown provider " + e.ProviderID
}

// AuthenticationMissingError is returned when a provider requires an API key and none is configured.
type AuthenticationMissingError struct {
	ProviderID string
}

func (e *AuthenticationMissingError) Error() string {
	return "no API key configured for provider " + e.ProviderID
}

// UpstreamHTTPError carries a non-2xx response from a backend.
type UpstreamHTTPError struct {
	Status int
	Body   string
}

func (e *UpstreamHTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream returned status %d", e.Status)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.Status, e.Body)
}

// TransportExhaustedError is returned when every attempt of a request failed.
// Err is the error of the last attempt.
type TransportExhaustedError struct {
	Attempts int
	Err      error
}

func (e *TransportExhaustedError) Error() string {
	return fmt.Sprintf("transport exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *TransportExhaustedError) Unwrap() error { return e.Err }

// CancelledError reports a user-initiated cancellation. Cause is the context error.
type CancelledError struct {
	Cause error
}

func (e *CancelledError) Error() string {
	if e.Cause == nil {
		return "cancelled"
	}
	return "cancelled: " + e.Cause.Error()
}

func (e *CancelledError) Unwrap() error { return e.Cause }

// CompletionError wraps any failure that crosses the gateway boundary.
type CompletionError struct {
	ProviderID string
	Cause      error
}

func (e *CompletionError) Error() string {
	return "completion via " + e.ProviderID + ": " + e.Cause.Error()
}

func (e *CompletionError) Unwrap() error { return e.Cause }

// IsCancelled reports whether err is, or wraps, a CancelledError.
func IsCancelled(err error) bool {
	var c *CancelledError
	return errors.As(err, &c)
}
