package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"mercator-hq/relay/pkg/providers"
)

// Error types used in JSON error bodies.
const (
	ErrorTypeInvalidRequest = "invalid_request_error"
	ErrorTypeTooLarge       = "request_too_large"
	ErrorTypeAPI            = "api_error"
	ErrorTypeOverloaded     = "overloaded_error"
	ErrorTypeTimeout        = "timeout_error"
)

// ServiceUnavailableError is returned when every candidate account failed.
// It is answered with HTTP 503.
type ServiceUnavailableError struct {
	// Provider is the provider the accounts belong to.
	Provider string

	// Message is shown to the client. When credentials have likely expired
	// it names the accounts and the commands that re-authenticate them.
	Message string

	// ExpiredAccounts lists accounts judged to need re-authentication.
	ExpiredAccounts []string
}

// Error implements the error interface.
func (e *ServiceUnavailableError) Error() string {
	return fmt.Sprintf("provider %q unavailable: %s", e.Provider, e.Message)
}

// RequestTooLargeError is returned when the request body exceeds the
// configured limit. It is answered with HTTP 413.
type RequestTooLargeError struct {
	Limit int64
}

// Error implements the error interface.
func (e *RequestTooLargeError) Error() string {
	return fmt.Sprintf("request body exceeds maximum size of %d bytes", e.Limit)
}

// ErrorBody is the JSON shape of every error the relay answers itself.
type ErrorBody struct {
	Type  string      `json:"type"`
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is the inner error object of ErrorBody.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// StatusForError maps err to an HTTP status and error type.
func StatusForError(err error) (int, string) {
	var pathErr *providers.PathValidationError
	if errors.As(err, &pathErr) {
		return http.StatusBadRequest, ErrorTypeInvalidRequest
	}

	var tooLarge *RequestTooLargeError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge, ErrorTypeTooLarge
	}

	var unavailable *ServiceUnavailableError
	if errors.As(err, &unavailable) {
		return http.StatusServiceUnavailable, ErrorTypeOverloaded
	}

	var providerErr *providers.ProviderError
	if errors.As(err, &providerErr) {
		return http.StatusBadGateway, ErrorTypeAPI
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, ErrorTypeTimeout
	}

	return http.StatusInternalServerError, ErrorTypeAPI
}

// WriteError writes err as a JSON error response. Internal errors are
// reported with a generic message; their detail is only logged.
func WriteError(w http.ResponseWriter, err error) {
	status, errType := StatusForError(err)

	message := err.Error()
	var unavailable *ServiceUnavailableError
	if errors.As(err, &unavailable) {
		message = unavailable.Message
	}
	if status == http.StatusInternalServerError {
		slog.Error("internal error", "error", err)
		message = "An internal error occurred. Please try again later."
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorBody{
		Type:  "error",
		Error: ErrorDetail{Type: errType, Message: message},
	})
}
