package providers

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestCloneHeaders(t *testing.T) {
	src := http.Header{}
	src.Set("Connection", "keep-alive")
	src.Set("Transfer-Encoding", "chunked")
	src.Set("Content-Length", "42")
	src.Set("Content-Type", "application/json")
	src.Set("X-Custom", "kept")

	got := CloneHeaders(src)

	for _, h := range []string{"Connection", "Transfer-Encoding", "Content-Length"} {
		if got.Get(h) != "" {
			t.Errorf("header %s should be stripped", h)
		}
	}
	if got.Get("Content-Type") != "application/json" || got.Get("X-Custom") != "kept" {
		t.Errorf("end-to-end headers lost: %v", got)
	}
	if src.Get("Connection") == "" {
		t.Error("source headers must not be modified")
	}
}

func TestCloneHeaders_Nil(t *testing.T) {
	if got := CloneHeaders(nil); got == nil {
		t.Error("CloneHeaders(nil) should return an empty header")
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		header string
		want   time.Duration
	}{
		{"empty", "", 0},
		{"seconds", "30", 30 * time.Second},
		{"negative", "-5", 0},
		{"http date", now.Add(time.Minute).Format(http.TimeFormat), time.Minute},
		{"past date", now.Add(-time.Minute).Format(http.TimeFormat), 0},
		{"garbage", "soon", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseRetryAfter(tt.header, now); got != tt.want {
				t.Errorf("ParseRetryAfter(%q) = %v, want %v", tt.header, got, tt.want)
			}
		})
	}
}

func TestProviderError(t *testing.T) {
	cause := errors.New("connection refused")
	err := &ProviderError{Provider: "anthropic", Message: "upstream unreachable", Cause: cause}

	if !errors.Is(err, cause) {
		t.Error("ProviderError should unwrap to its cause")
	}
	if !strings.Contains(err.Error(), "upstream unreachable") {
		t.Errorf("Error() = %q", err.Error())
	}

	withStatus := &ProviderError{Provider: "anthropic", StatusCode: 502, Message: "bad gateway"}
	if !strings.Contains(withStatus.Error(), "status 502") {
		t.Errorf("Error() = %q, want status", withStatus.Error())
	}
}

func TestPathValidationError(t *testing.T) {
	var err error = &PathValidationError{Provider: "anthropic", Path: "/admin", Message: "only /v1/ API paths are proxied"}

	var pve *PathValidationError
	if !errors.As(err, &pve) {
		t.Fatal("errors.As should find *PathValidationError")
	}
	if !strings.Contains(err.Error(), "/admin") {
		t.Errorf("Error() = %q, want path", err.Error())
	}
}

func TestNewHTTPClient_DoesNotFollowRedirects(t *testing.T) {
	c := NewHTTPClient(HTTPClientConfig{ResponseHeaderTimeout: time.Second})
	if c.CheckRedirect == nil {
		t.Fatal("CheckRedirect should be set")
	}
	if err := c.CheckRedirect(nil, nil); !errors.Is(err, http.ErrUseLastResponse) {
		t.Errorf("CheckRedirect() = %v, want ErrUseLastResponse", err)
	}
	tr, ok := c.Transport.(*http.Transport)
	if !ok {
		t.Fatal("transport should be *http.Transport")
	}
	if tr.ResponseHeaderTimeout != time.Second {
		t.Errorf("ResponseHeaderTimeout = %v", tr.ResponseHeaderTimeout)
	}
	if c.Timeout != 0 {
		t.Error("client timeout must be zero so streams are not cut off")
	}
}
