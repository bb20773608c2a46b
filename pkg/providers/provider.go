package providers

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"mercator-hq/relay/pkg/accounts"
)

// Provider describes how requests are addressed, authenticated and forwarded
// to one upstream provider.
//
// A Provider never performs the proxied request itself; the proxy owns the
// request loop and asks the provider to validate paths, build target URLs,
// and prepare headers for each attempt.
//
// Example usage:
//
//	p, err := providers.New(cfg.Provider)
//	if err != nil {
//	    return err
//	}
//	if err := p.ValidatePath(r.URL.Path); err != nil {
//	    return err // *PathValidationError, answered with HTTP 400
//	}
//	target, _ := p.BuildURL(r.URL.Path, r.URL.RawQuery)
type Provider interface {
	// Name returns the provider name (e.g., "anthropic").
	Name() string

	// ValidatePath reports whether the inbound path may be forwarded.
	// It returns a *PathValidationError when the path is rejected.
	ValidatePath(path string) error

	// BuildURL returns the upstream URL for an inbound path and raw query.
	BuildURL(path, rawQuery string) (*url.URL, error)

	// PrepareHeaders returns the outbound headers for one attempt.
	// Hop-by-hop headers and client credentials are removed; the account's
	// credentials are applied. A nil account keeps the client's own
	// credentials (unauthenticated pass-through). clientVersion, when
	// non-empty, is used as the User-Agent if the client sent none.
	PrepareHeaders(src http.Header, account *accounts.Account, clientVersion string) http.Header

	// RefreshAccessToken exchanges the account's refresh token for a new
	// access token.
	RefreshAccessToken(ctx context.Context, client *http.Client, account *accounts.Account) (*TokenSet, error)

	// ParseRateLimitReset returns when a rate-limited account may be used
	// again, or the zero time when the response carries no hint.
	ParseRateLimitReset(resp *http.Response, now time.Time) time.Time
}

// TokenSet is the result of an access-token refresh.
type TokenSet struct {
	AccessToken string

	// RefreshToken is set when the provider rotated the refresh token.
	RefreshToken string

	ExpiresAt time.Time
}

// hopByHopHeaders are connection-scoped and never forwarded.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// CloneHeaders copies src without hop-by-hop headers or Content-Length.
func CloneHeaders(src http.Header) http.Header {
	dst := src.Clone()
	if dst == nil {
		dst = make(http.Header)
	}
	for _, h := range hopByHopHeaders {
		dst.Del(h)
	}
	dst.Del("Content-Length")
	dst.Del("Host")
	return dst
}
