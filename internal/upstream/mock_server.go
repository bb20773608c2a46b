// Package upstream provides a mock Anthropic-style upstream for tests.
package upstream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockServer is a mock HTTP upstream. Responses are chosen first by the
// credential the request carries (x-api-key or bearer token), then by path.
type MockServer struct {
	server      *httptest.Server
	responses   map[string]MockResponse
	credentials map[string]MockResponse
	requests    []RecordedRequest
	mu          sync.Mutex
}

// MockResponse defines a mock response configuration.
type MockResponse struct {
	StatusCode   int
	Body         interface{}
	Delay        time.Duration
	Headers      map[string]string
	StreamEvents []string // SSE event blocks, written and flushed one by one
}

// RecordedRequest is a request the mock server received.
type RecordedRequest struct {
	Method     string
	Path       string
	RawQuery   string
	Header     http.Header
	Body       []byte
	Credential string
}

// NewMockServer creates a new mock server.
func NewMockServer() *MockServer {
	ms := &MockServer{
		responses:   make(map[string]MockResponse),
		credentials: make(map[string]MockResponse),
	}
	ms.server = httptest.NewServer(http.HandlerFunc(ms.handler))
	return ms
}

// URL returns the mock server's base URL.
func (ms *MockServer) URL() string {
	return ms.server.URL
}

// Close closes the mock server.
func (ms *MockServer) Close() {
	ms.server.Close()
}

// SetResponse sets a mock response for a specific path.
func (ms *MockServer) SetResponse(path string, response MockResponse) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.responses[path] = response
}

// SetCredentialResponse sets the response for any request authenticated
// with credential. It takes precedence over path responses.
func (ms *MockServer) SetCredentialResponse(credential string, response MockResponse) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.credentials[credential] = response
}

// Requests returns the requests received so far.
func (ms *MockServer) Requests() []RecordedRequest {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	out := make([]RecordedRequest, len(ms.requests))
	copy(out, ms.requests)
	return out
}

// RequestCount returns the number of requests received.
func (ms *MockServer) RequestCount() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return len(ms.requests)
}

// Credential extracts the credential a request authenticates with.
func Credential(h http.Header) string {
	if k := h.Get("x-api-key"); k != "" {
		return k
	}
	return strings.TrimPrefix(h.Get("Authorization"), "Bearer ")
}

func (ms *MockServer) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	cred := Credential(r.Header)

	ms.mu.Lock()
	ms.requests = append(ms.requests, RecordedRequest{
		Method:     r.Method,
		Path:       r.URL.Path,
		RawQuery:   r.URL.RawQuery,
		Header:     r.Header.Clone(),
		Body:       body,
		Credential: cred,
	})
	response, ok := ms.credentials[cred]
	if !ok {
		response, ok = ms.responses[r.URL.Path]
	}
	ms.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}

	if response.Delay > 0 {
		select {
		case <-time.After(response.Delay):
		case <-r.Context().Done():
			return
		}
	}

	for key, value := range response.Headers {
		w.Header().Set(key, value)
	}

	if len(response.StreamEvents) > 0 {
		ms.handleStream(w, response)
		return
	}

	status := response.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(status)

	if response.Body != nil {
		switch v := response.Body.(type) {
		case string:
			_, _ = w.Write([]byte(v))
		case []byte:
			_, _ = w.Write(v)
		default:
			_ = json.NewEncoder(w).Encode(response.Body)
		}
	}
}

func (ms *MockServer) handleStream(w http.ResponseWriter, response MockResponse) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	status := response.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)

	for _, event := range response.StreamEvents {
		fmt.Fprint(w, event)
		flusher.Flush()
	}
}

// MessagesResponse creates a Messages API response body.
func MessagesResponse(content, model string, inputTokens, outputTokens int) map[string]interface{} {
	return map[string]interface{}{
		"id":   "msg_123",
		"type": "message",
		"role": "assistant",
		"content": []map[string]interface{}{
			{"type": "text", "text": content},
		},
		"model":       model,
		"stop_reason": "end_turn",
		"usage": map[string]interface{}{
			"input_tokens":  inputTokens,
			"output_tokens": outputTokens,
		},
	}
}

// StreamEvent formats one SSE event block.
func StreamEvent(eventType string, data interface{}) string {
	raw, _ := json.Marshal(data)
	return fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, raw)
}

// MessagesStream returns the SSE events of a short streamed reply.
func MessagesStream(content, model string, inputTokens, outputTokens int) []string {
	return []string{
		StreamEvent("message_start", map[string]interface{}{
			"type": "message_start",
			"message": map[string]interface{}{
				"id":    "msg_123",
				"model": model,
				"usage": map[string]interface{}{
					"input_tokens":  inputTokens,
					"output_tokens": 1,
				},
			},
		}),
		StreamEvent("content_block_delta", map[string]interface{}{
			"type":  "content_block_delta",
			"index": 0,
			"delta": map[string]interface{}{"type": "text_delta", "text": content},
		}),
		StreamEvent("message_delta", map[string]interface{}{
			"type":  "message_delta",
			"delta": map[string]interface{}{"stop_reason": "end_turn"},
			"usage": map[string]interface{}{"output_tokens": outputTokens},
		}),
		StreamEvent("message_stop", map[string]interface{}{"type": "message_stop"}),
	}
}

// ErrorResponse creates an Anthropic-style error response.
func ErrorResponse(statusCode int, errType, message string) MockResponse {
	return MockResponse{
		StatusCode: statusCode,
		Body: map[string]interface{}{
			"type": "error",
			"error": map[string]interface{}{
				"type":    errType,
				"message": message,
			},
		},
	}
}

// AuthError creates a 401 authentication error response.
func AuthError() MockResponse {
	return ErrorResponse(http.StatusUnauthorized, "authentication_error", "invalid x-api-key")
}

// RateLimitError creates a 429 response with a Retry-After header.
func RateLimitError(retryAfter int) MockResponse {
	response := ErrorResponse(http.StatusTooManyRequests, "rate_limit_error", "rate limit exceeded")
	response.Headers = map[string]string{
		"Retry-After": fmt.Sprintf("%d", retryAfter),
	}
	return response
}

// OverloadedError creates a 529 overloaded response.
func OverloadedError() MockResponse {
	return ErrorResponse(529, "overloaded_error", "overloaded")
}
