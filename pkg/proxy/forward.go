package proxy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"mercator-hq/relay/pkg/accounts"
	"mercator-hq/relay/pkg/config"
	"mercator-hq/relay/pkg/providers"
	"mercator-hq/relay/pkg/telemetry/logging"
	"mercator-hq/relay/pkg/telemetry/metrics"
	"mercator-hq/relay/pkg/telemetry/tracing"
	"mercator-hq/relay/pkg/usage"
)

// Attempt outcomes recorded in metrics.
const (
	attemptSuccess       = "success"
	attemptRateLimited   = "rate_limited"
	attemptAuthFailed    = "auth_failed"
	attemptRefreshFailed = "refresh_failed"
	attemptStatus        = "status"
	attemptTransport     = "transport"
)

// maxErrorSnippet bounds how much of a declined response is read for logs.
const maxErrorSnippet = 2048

// UsagePoster receives fire-and-forget usage telemetry. *usage.Channel
// satisfies it.
type UsagePoster interface {
	Post(msg usage.Message)
}

// ForwarderConfig wires a Forwarder.
type ForwarderConfig struct {
	Provider providers.Provider
	Client   *http.Client
	Store    accounts.Store

	// Usage is optional. When set, every relayed response is reported as
	// start, chunk and end messages.
	Usage UsagePoster

	// FailoverStatusCodes are upstream statuses that decline the attempt.
	// Nil uses config.DefaultFailoverStatusCodes.
	FailoverStatusCodes []int

	// RateLimitCooldown is used when a 429 carries no reset hint.
	RateLimitCooldown time.Duration

	Metrics *metrics.Collector

	// Now returns the current time. Nil uses time.Now.
	Now func() time.Time
}

// Forwarder performs the per-account and unauthenticated upstream requests.
type Forwarder struct {
	provider providers.Provider
	client   *http.Client
	store    accounts.Store
	usage    UsagePoster
	failover map[int]bool
	cooldown time.Duration
	metrics  *metrics.Collector
	now      func() time.Time
	logger   *slog.Logger
}

// NewForwarder creates a Forwarder.
func NewForwarder(cfg ForwarderConfig) *Forwarder {
	codes := cfg.FailoverStatusCodes
	if codes == nil {
		codes = config.DefaultFailoverStatusCodes
	}
	failover := make(map[int]bool, len(codes))
	for _, code := range codes {
		failover[code] = true
	}

	client := cfg.Client
	if client == nil {
		client = providers.NewHTTPClient(providers.HTTPClientConfig{})
	}
	cooldown := cfg.RateLimitCooldown
	if cooldown <= 0 {
		cooldown = config.DefaultRateLimitCooldown
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Forwarder{
		provider: cfg.Provider,
		client:   client,
		store:    cfg.Store,
		usage:    cfg.Usage,
		failover: failover,
		cooldown: cooldown,
		metrics:  cfg.Metrics,
		now:      now,
		logger:   slog.Default().With("component", "proxy.forward"),
	}
}

// ProxyWithAccount forwards the request with account's credentials.
//
// It returns nil, nil when the account cannot serve the request: the token
// refresh failed, the transport failed, or the upstream answered with a
// failover status. Rate limits and credential rejections are recorded on the
// account. Context errors are returned.
func (f *Forwarder) ProxyWithAccount(ctx context.Context, r *http.Request, target *url.URL, account *accounts.Account, meta *RequestMetadata, body *BufferedBody, attempt int) (*http.Response, error) {
	acct := account.Clone()
	now := f.now()

	if acct.IsOAuth() && !acct.AccessTokenValid(now) {
		ok, err := f.refresh(ctx, acct)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
	}

	req, err := f.newRequest(ctx, r, target, acct, body)
	if err != nil {
		return nil, err
	}

	startedAt := f.now()
	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		f.logger.WarnContext(ctx, "upstream request failed",
			"account", acct.Name,
			"attempt", attempt,
			"error", err,
		)
		f.metrics.RecordAttempt(acct.Name, attemptTransport)
		return nil, nil
	}

	if f.failover[resp.StatusCode] {
		f.decline(ctx, acct, resp, attempt)
		return nil, nil
	}

	if err := f.store.RecordUsage(ctx, acct.ID, f.now()); err != nil {
		f.logger.WarnContext(ctx, "failed to record account usage", "account", acct.Name, "error", err)
	}
	f.metrics.RecordAttempt(acct.Name, attemptSuccess)

	f.track(resp, acct.Name, meta, body, attempt, startedAt)
	return resp, nil
}

// ProxyUnauthenticated forwards the request with the client's own
// credentials. Transport failures are returned as *providers.ProviderError.
func (f *Forwarder) ProxyUnauthenticated(ctx context.Context, r *http.Request, target *url.URL, meta *RequestMetadata, body *BufferedBody) (*http.Response, error) {
	req, err := f.newRequest(ctx, r, target, nil, body)
	if err != nil {
		return nil, err
	}
	f.metrics.RecordUnauthenticated()

	startedAt := f.now()
	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, &providers.ProviderError{
			Provider: f.provider.Name(),
			Message:  "upstream request failed",
			Cause:    err,
		}
	}

	f.track(resp, "", meta, body, 0, startedAt)
	return resp, nil
}

func (f *Forwarder) newRequest(ctx context.Context, r *http.Request, target *url.URL, acct *accounts.Account, body *BufferedBody) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, r.Method, target.String(), body.NewStream())
	if err != nil {
		return nil, err
	}
	req.ContentLength = int64(body.Len())
	if body.Len() == 0 {
		req.Body = http.NoBody
	}
	req.GetBody = func() (io.ReadCloser, error) { return body.NewStream(), nil }
	req.Header = f.provider.PrepareHeaders(r.Header, acct, ClientVersion())
	tracing.Inject(ctx, req.Header)
	return req, nil
}

// refresh renews acct's access token in place. ok is false when the account
// should be skipped.
func (f *Forwarder) refresh(ctx context.Context, acct *accounts.Account) (ok bool, err error) {
	ts, err := f.provider.RefreshAccessToken(ctx, f.client, acct)
	if err != nil {
		if ctx.Err() != nil {
			return false, err
		}
		var authErr *providers.AuthError
		if errors.As(err, &authErr) {
			f.logger.WarnContext(ctx, "refresh token rejected", "account", acct.Name, "status", authErr.StatusCode)
			f.markAuthFailure(ctx, acct)
			f.metrics.RecordAttempt(acct.Name, attemptAuthFailed)
			return false, nil
		}
		f.logger.WarnContext(ctx, "token refresh failed", "account", acct.Name, "error", err)
		f.metrics.RecordAttempt(acct.Name, attemptRefreshFailed)
		return false, nil
	}

	if err := f.store.UpdateTokens(ctx, acct.ID, ts.AccessToken, ts.RefreshToken, ts.ExpiresAt); err != nil {
		f.logger.WarnContext(ctx, "failed to persist refreshed tokens", "account", acct.Name, "error", err)
	}
	acct.AccessToken = ts.AccessToken
	if ts.RefreshToken != "" {
		acct.RefreshToken = ts.RefreshToken
	}
	acct.ExpiresAt = ts.ExpiresAt
	acct.LastAuthFailure = time.Time{}
	return true, nil
}

// decline consumes a failover response and records why the account could
// not serve it.
func (f *Forwarder) decline(ctx context.Context, acct *accounts.Account, resp *http.Response, attempt int) {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorSnippet))
	resp.Body.Close()

	outcome := attemptStatus
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		outcome = attemptRateLimited
		until := f.provider.ParseRateLimitReset(resp, f.now())
		if until.IsZero() {
			until = f.now().Add(f.cooldown)
		}
		if err := f.store.MarkRateLimited(ctx, acct.ID, until); err != nil {
			f.logger.WarnContext(ctx, "failed to mark account rate limited", "account", acct.Name, "error", err)
		}
	case http.StatusUnauthorized:
		outcome = attemptAuthFailed
		f.markAuthFailure(ctx, acct)
	}
	f.metrics.RecordAttempt(acct.Name, outcome)

	attrs := []any{
		"account", acct.Name,
		"attempt", attempt,
		"status", resp.StatusCode,
		"reason", outcome,
	}
	if logging.DebugEnabled() {
		attrs = append(attrs, "body", logging.RedactString(string(snippet)))
	}
	f.logger.WarnContext(ctx, "account declined by upstream", attrs...)
}

func (f *Forwarder) markAuthFailure(ctx context.Context, acct *accounts.Account) {
	if err := f.store.MarkAuthFailure(ctx, acct.ID, f.now()); err != nil {
		f.logger.WarnContext(ctx, "failed to record auth failure", "account", acct.Name, "error", err)
	}
}

// track posts the start message and wraps resp.Body so that the response is
// reported to the usage worker as it is read.
func (f *Forwarder) track(resp *http.Response, account string, meta *RequestMetadata, body *BufferedBody, attempt int, startedAt time.Time) {
	if f.usage == nil {
		return
	}

	f.usage.Post(usage.Message{
		Type:      usage.TypeStart,
		RequestID: meta.ID,
		Start: &usage.StartInfo{
			Account:       account,
			Provider:      f.provider.Name(),
			Method:        meta.Method,
			Path:          meta.Path,
			Agent:         meta.AgentUsed,
			ClientName:    meta.ClientName,
			ClientVersion: meta.ClientVersion,
			Attempt:       attempt,
			StatusCode:    resp.StatusCode,
			ContentType:   resp.Header.Get("Content-Type"),
			RequestBody:   body.Bytes(),
			StartedAt:     startedAt,
		},
	})
	resp.Body = &teeBody{
		ReadCloser: resp.Body,
		requestID:  meta.ID,
		usage:      f.usage,
		now:        f.now,
	}
}

// teeBody copies every chunk read from the upstream body to the usage worker
// and reports the end exactly once, on EOF, read error or Close.
type teeBody struct {
	io.ReadCloser
	requestID string
	usage     UsagePoster
	now       func() time.Time
	endOnce   sync.Once
}

func (t *teeBody) Read(p []byte) (int, error) {
	n, err := t.ReadCloser.Read(p)
	if n > 0 {
		t.usage.Post(usage.Message{
			Type:      usage.TypeChunk,
			RequestID: t.requestID,
			Data:      append([]byte(nil), p[:n]...),
		})
	}
	if err != nil {
		if err == io.EOF {
			t.end("")
		} else {
			t.end(err.Error())
		}
	}
	return n, err
}

func (t *teeBody) Close() error {
	t.end("")
	return t.ReadCloser.Close()
}

func (t *teeBody) end(errMsg string) {
	t.endOnce.Do(func() {
		t.usage.Post(usage.Message{
			Type:      usage.TypeEnd,
			RequestID: t.requestID,
			End:       &usage.EndInfo{Error: errMsg, EndedAt: t.now()},
		})
	})
}
