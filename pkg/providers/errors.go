package providers

import (
	"fmt"
	"time"
)

// ProviderError represents an upstream failure that is not an ordinary HTTP
// response, such as a transport error on the unauthenticated path.
type ProviderError struct {
	// Provider is the name of the provider that returned the error
	Provider string

	// StatusCode is the HTTP status code (0 if not applicable)
	StatusCode int

	// Message is the error message
	Message string

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %q error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider %q error: %s", e.Provider, e.Message)
}

// Unwrap returns the underlying error for error chain support.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// PathValidationError is returned when an inbound path cannot be forwarded
// to the provider. It is answered with HTTP 400 and never retried.
type PathValidationError struct {
	// Provider is the name of the provider that rejected the path
	Provider string

	// Path is the rejected request path
	Path string

	// Message describes why the path was rejected
	Message string
}

// Error implements the error interface.
func (e *PathValidationError) Error() string {
	return fmt.Sprintf("provider %q rejected path %q: %s", e.Provider, e.Path, e.Message)
}

// AuthError represents a credential rejection, either by the upstream API or
// by the token endpoint during refresh.
type AuthError struct {
	// Provider is the name of the provider that rejected authentication
	Provider string

	// Account is the name of the rejected account
	Account string

	// StatusCode is the HTTP status code returned
	StatusCode int

	// Message is the error message from the provider
	Message string
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	return fmt.Sprintf("provider %q rejected credentials for account %q (status %d): %s",
		e.Provider, e.Account, e.StatusCode, e.Message)
}

// RateLimitError represents a rate limit exceeded error (HTTP 429).
type RateLimitError struct {
	// Provider is the name of the provider that rate limited the request
	Provider string

	// RetryAfter is the duration to wait before retrying (if provided)
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("provider %q rate limit exceeded (retry after %s)", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("provider %q rate limit exceeded", e.Provider)
}

// ConfigError represents a provider configuration error.
type ConfigError struct {
	// Provider is the name of the provider with invalid configuration
	Provider string

	// Field is the configuration field that is invalid
	Field string

	// Message describes the configuration error
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("provider %q configuration error for field %q: %s",
		e.Provider, e.Field, e.Message)
}
