package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"mercator-hq/relay/pkg/accounts"
	"mercator-hq/relay/pkg/config"
	"mercator-hq/relay/pkg/providers"
)

const (
	// Name is the provider name used in configuration and accounts.
	Name = "anthropic"

	// DefaultAnthropicVersion is sent when the client omits anthropic-version.
	DefaultAnthropicVersion = "2023-06-01"

	// OAuthBetaFlag must accompany bearer-token requests.
	OAuthBetaFlag = "oauth-2025-04-20"

	// DefaultClientID is the public OAuth client used for refresh grants.
	DefaultClientID = "9d1c250a-e61b-44d9-88ed-5944d1962f5e"

	// rateLimitResetHeader carries the unix time at which the account's
	// unified rate limit window resets.
	rateLimitResetHeader = "anthropic-ratelimit-unified-reset"
)

// credentialHeaders are stripped from client requests before an account's
// credentials are applied.
var credentialHeaders = []string{"Authorization", "X-Api-Key"}

// Provider is the Anthropic provider adapter.
type Provider struct {
	baseURL  *url.URL
	tokenURL string
	clientID string
	logger   *slog.Logger
}

// NewProvider creates a new Anthropic provider from the provider configuration.
func NewProvider(cfg config.ProviderConfig) (*Provider, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = config.DefaultProviderBaseURL
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, &providers.ConfigError{
			Provider: Name,
			Field:    "base_url",
			Message:  fmt.Sprintf("invalid base URL %q", baseURL),
		}
	}

	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = config.DefaultTokenURL
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = DefaultClientID
	}

	p := &Provider{
		baseURL:  u,
		tokenURL: tokenURL,
		clientID: clientID,
		logger:   slog.Default().With("component", "providers.anthropic"),
	}

	p.logger.Info("Anthropic provider initialized", "base_url", u.String())
	return p, nil
}

// Name returns "anthropic".
func (p *Provider) Name() string {
	return Name
}

// ValidatePath accepts only versioned API paths.
func (p *Provider) ValidatePath(path string) error {
	if !strings.HasPrefix(path, "/v1/") {
		return &providers.PathValidationError{
			Provider: Name,
			Path:     path,
			Message:  "only /v1/ API paths are proxied",
		}
	}
	if strings.Contains(path, "..") {
		return &providers.PathValidationError{
			Provider: Name,
			Path:     path,
			Message:  "path traversal is not allowed",
		}
	}
	return nil
}

// BuildURL joins the inbound path onto the configured base URL.
func (p *Provider) BuildURL(path, rawQuery string) (*url.URL, error) {
	if err := p.ValidatePath(path); err != nil {
		return nil, err
	}
	u := *p.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = rawQuery
	return &u, nil
}

// PrepareHeaders applies the account's credentials to a copy of the client
// headers.
func (p *Provider) PrepareHeaders(src http.Header, account *accounts.Account, clientVersion string) http.Header {
	h := providers.CloneHeaders(src)

	if h.Get("User-Agent") == "" && clientVersion != "" {
		h.Set("User-Agent", clientVersion)
	}
	if h.Get("anthropic-version") == "" {
		h.Set("anthropic-version", DefaultAnthropicVersion)
	}

	if account == nil {
		return h
	}

	for _, k := range credentialHeaders {
		h.Del(k)
	}
	if account.AccessToken != "" && account.IsOAuth() {
		h.Set("Authorization", "Bearer "+account.AccessToken)
		h.Set("anthropic-beta", addBetaFlag(h.Get("anthropic-beta"), OAuthBetaFlag))
	} else {
		h.Set("x-api-key", account.APIKey)
	}
	return h
}

func addBetaFlag(existing, flag string) string {
	if existing == "" {
		return flag
	}
	for _, f := range strings.Split(existing, ",") {
		if strings.TrimSpace(f) == flag {
			return existing
		}
	}
	return existing + "," + flag
}

type refreshRequest struct {
	GrantType    string `json:"grant_type"`
	RefreshToken string `json:"refresh_token"`
	ClientID     string `json:"client_id"`
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// RefreshAccessToken performs the OAuth refresh_token grant. A 4xx answer
// from the token endpoint is returned as *providers.AuthError.
func (p *Provider) RefreshAccessToken(ctx context.Context, client *http.Client, account *accounts.Account) (*providers.TokenSet, error) {
	if !account.IsOAuth() {
		return nil, fmt.Errorf("account %q has no refresh token", account.Name)
	}

	body, err := json.Marshal(refreshRequest{
		GrantType:    "refresh_token",
		RefreshToken: account.RefreshToken,
		ClientID:     p.clientID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, &providers.ProviderError{
			Provider: Name,
			Message:  "token refresh request failed",
			Cause:    err,
		}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &providers.ProviderError{
			Provider:   Name,
			StatusCode: resp.StatusCode,
			Message:    "failed to read token response",
			Cause:      err,
		}
	}

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, &providers.AuthError{
			Provider:   Name,
			Account:    account.Name,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(raw)),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &providers.ProviderError{
			Provider:   Name,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(raw)),
		}
	}

	var rr refreshResponse
	if err := json.Unmarshal(raw, &rr); err != nil {
		return nil, &providers.ProviderError{
			Provider:   Name,
			StatusCode: resp.StatusCode,
			Message:    "malformed token response",
			Cause:      err,
		}
	}
	if rr.AccessToken == "" {
		return nil, &providers.ProviderError{
			Provider:   Name,
			StatusCode: resp.StatusCode,
			Message:    "token response has no access_token",
		}
	}

	ts := &providers.TokenSet{
		AccessToken:  rr.AccessToken,
		RefreshToken: rr.RefreshToken,
	}
	if rr.ExpiresIn > 0 {
		ts.ExpiresAt = time.Now().Add(time.Duration(rr.ExpiresIn) * time.Second)
	}

	p.logger.Debug("access token refreshed", "account", account.Name, "expires_at", ts.ExpiresAt)
	return ts, nil
}

// ParseRateLimitReset reads the unified reset header, falling back to
// Retry-After.
func (p *Provider) ParseRateLimitReset(resp *http.Response, now time.Time) time.Time {
	if resp == nil {
		return time.Time{}
	}
	if v := resp.Header.Get(rateLimitResetHeader); v != "" {
		if sec, err := strconv.ParseInt(v, 10, 64); err == nil && sec > 0 {
			if t := time.Unix(sec, 0); t.After(now) {
				return t
			}
		}
	}
	if d := providers.ParseRetryAfter(resp.Header.Get("Retry-After"), now); d > 0 {
		return now.Add(d)
	}
	return time.Time{}
}
