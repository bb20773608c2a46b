package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"mercator-hq/relay/pkg/providers"
)

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
		wantMsg    string
	}{
		{
			name:       "path validation",
			err:        &providers.PathValidationError{Provider: "anthropic", Path: "/x", Message: "only /v1/"},
			wantStatus: http.StatusBadRequest,
			wantType:   ErrorTypeInvalidRequest,
			wantMsg:    "only /v1/",
		},
		{
			name:       "too large",
			err:        &RequestTooLargeError{Limit: 10},
			wantStatus: http.StatusRequestEntityTooLarge,
			wantType:   ErrorTypeTooLarge,
			wantMsg:    "10 bytes",
		},
		{
			name:       "service unavailable",
			err:        &ServiceUnavailableError{Provider: "anthropic", Message: "All 2 accounts failed"},
			wantStatus: http.StatusServiceUnavailable,
			wantType:   ErrorTypeOverloaded,
			wantMsg:    "All 2 accounts failed",
		},
		{
			name:       "wrapped provider error",
			err:        fmt.Errorf("forward: %w", &providers.ProviderError{Provider: "anthropic", Message: "dial failed"}),
			wantStatus: http.StatusBadGateway,
			wantType:   ErrorTypeAPI,
			wantMsg:    "dial failed",
		},
		{
			name:       "deadline",
			err:        context.DeadlineExceeded,
			wantStatus: http.StatusGatewayTimeout,
			wantType:   ErrorTypeTimeout,
		},
		{
			name:       "internal",
			err:        errors.New("secret internal detail"),
			wantStatus: http.StatusInternalServerError,
			wantType:   ErrorTypeAPI,
			wantMsg:    "internal error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tt.err)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var body ErrorBody
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			if body.Type != "error" || body.Error.Type != tt.wantType {
				t.Errorf("body = %+v", body)
			}
			if !strings.Contains(body.Error.Message, tt.wantMsg) {
				t.Errorf("message = %q, want it to contain %q", body.Error.Message, tt.wantMsg)
			}
			if strings.Contains(body.Error.Message, "secret") {
				t.Error("internal detail leaked")
			}
		})
	}
}

func TestServiceUnavailableError_Error(t *testing.T) {
	err := &ServiceUnavailableError{Provider: "anthropic", Message: "nope"}
	if !strings.Contains(err.Error(), "anthropic") || !strings.Contains(err.Error(), "nope") {
		t.Errorf("Error() = %q", err.Error())
	}
}
