package proxy

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"mercator-hq/relay/pkg/accounts"
	"mercator-hq/relay/pkg/telemetry/logging"
	"mercator-hq/relay/pkg/telemetry/tracing"
)

// UpstreamProxy forwards one attempt upstream. Forwarder is the production
// implementation.
type UpstreamProxy interface {
	// ProxyWithAccount forwards the request with account's credentials. A
	// nil response with a nil error means the account could not serve the
	// request and the next candidate should be tried.
	ProxyWithAccount(ctx context.Context, r *http.Request, target *url.URL, account *accounts.Account, meta *RequestMetadata, body *BufferedBody, attempt int) (*http.Response, error)

	// ProxyUnauthenticated forwards the request with the client's own
	// credentials.
	ProxyUnauthenticated(ctx context.Context, r *http.Request, target *url.URL, meta *RequestMetadata, body *BufferedBody) (*http.Response, error)
}

// AccountLookup reads the current state of an account. accounts.Store
// satisfies it.
type AccountLookup interface {
	Get(ctx context.Context, id string) (*accounts.Account, error)
}

// Orchestrator tries candidate accounts in order until one serves the
// request.
type Orchestrator struct {
	provider string
	upstream UpstreamProxy
	lookup   AccountLookup
	expiry   accounts.ExpiryPolicy
	tracer   *tracing.Tracer
	logger   *slog.Logger
}

// NewOrchestrator creates an orchestrator. lookup and tracer may be nil.
// When lookup is set, failed candidates are re-read before classification so
// that credential rejections recorded during the attempts are seen.
func NewOrchestrator(provider string, upstream UpstreamProxy, lookup AccountLookup, expiry accounts.ExpiryPolicy, tracer *tracing.Tracer) *Orchestrator {
	return &Orchestrator{
		provider: provider,
		upstream: upstream,
		lookup:   lookup,
		expiry:   expiry,
		tracer:   tracer,
		logger:   slog.Default().With("component", "proxy.failover"),
	}
}

// Run attempts each candidate sequentially and returns the first response.
// Errors from an attempt, including context cancellation, are returned
// unchanged without trying further candidates. When every candidate declines,
// Run returns the error built by ClassifyExhaustion.
func (o *Orchestrator) Run(ctx context.Context, r *http.Request, target *url.URL, candidates []*accounts.Account, meta *RequestMetadata, body *BufferedBody) (*http.Response, error) {
	for attempt, acct := range candidates {
		resp, err := o.attempt(ctx, r, target, acct, meta, body, attempt)
		if err != nil {
			return nil, err
		}
		if resp != nil {
			if attempt > 0 {
				o.logger.InfoContext(ctx, "request served after failover",
					"account", acct.Name,
					"attempt", attempt,
				)
			}
			return resp, nil
		}

		o.logger.WarnContext(ctx, "account attempt failed",
			"account", acct.Name,
			"attempt", attempt,
			"remaining", len(candidates)-attempt-1,
		)
	}

	exhausted := ClassifyExhaustion(o.provider, o.current(ctx, candidates), o.expiry)
	o.logger.ErrorContext(ctx, "all accounts failed",
		"candidates", len(candidates),
		"expired", exhausted.ExpiredAccounts,
	)
	return nil, exhausted
}

func (o *Orchestrator) attempt(ctx context.Context, r *http.Request, target *url.URL, acct *accounts.Account, meta *RequestMetadata, body *BufferedBody, attempt int) (*http.Response, error) {
	ctx, span := o.tracer.Start(ctx, "relay.attempt")
	defer span.End()
	tracing.SetAttemptAttributes(span, acct.Name, attempt)

	ctx = logging.WithAccount(ctx, acct.Name)
	if logging.DebugEnabled() {
		o.logger.DebugContext(ctx, "attempting account", "attempt", attempt, "oauth", acct.IsOAuth())
	}

	resp, err := o.upstream.ProxyWithAccount(ctx, r, target, acct, meta, body, attempt)
	if err != nil {
		tracing.SetError(span, err)
		return nil, err
	}
	if resp == nil {
		span.SetAttributes(tracing.Outcome("declined"))
		return nil, nil
	}
	span.SetAttributes(tracing.Outcome("success"), tracing.StatusCode(resp.StatusCode))
	return resp, nil
}

// current returns the latest stored state of each candidate. A candidate
// that cannot be read is kept as it was selected.
func (o *Orchestrator) current(ctx context.Context, candidates []*accounts.Account) []*accounts.Account {
	if o.lookup == nil {
		return candidates
	}

	out := make([]*accounts.Account, len(candidates))
	for i, acct := range candidates {
		out[i] = acct
		if acct.ID == "" {
			continue
		}
		latest, err := o.lookup.Get(ctx, acct.ID)
		if err != nil {
			o.logger.DebugContext(ctx, "failed to re-read account", "account", acct.Name, "error", err)
			continue
		}
		out[i] = latest
	}
	return out
}
