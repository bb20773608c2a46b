package providers

import (
	"fmt"
	"net"
	"net/http"
	"time"
)

// HTTPClientConfig configures the pooled client used for upstream attempts.
type HTTPClientConfig struct {
	// ResponseHeaderTimeout bounds the wait for upstream response headers.
	// The body itself is not bounded so long streams are not cut off.
	ResponseHeaderTimeout time.Duration

	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
}

// NewHTTPClient creates an HTTP client with connection pooling for upstream
// traffic. Redirects are returned to the caller rather than followed.
func NewHTTPClient(cfg HTTPClientConfig) *http.Client {
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 100
	}
	if cfg.MaxIdleConnsPerHost == 0 {
		cfg.MaxIdleConnsPerHost = 10
	}
	if cfg.IdleConnTimeout == 0 {
		cfg.IdleConnTimeout = 90 * time.Second
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		// Bodies are relayed byte-for-byte, including their encoding.
		DisableCompression: true,
		ForceAttemptHTTP2:  true,
	}

	return &http.Client{
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// ParseRetryAfter parses the Retry-After header value.
// It supports both delay-seconds and HTTP-date formats.
func ParseRetryAfter(header string, now time.Time) time.Duration {
	if header == "" {
		return 0
	}

	var seconds int
	if _, err := fmt.Sscanf(header, "%d", &seconds); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}

	if t, err := http.ParseTime(header); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}

	return 0
}
