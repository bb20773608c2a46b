package proxy

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"mercator-hq/relay/pkg/accounts"
	"mercator-hq/relay/pkg/providers"
	"mercator-hq/relay/pkg/telemetry/logging"
	"mercator-hq/relay/pkg/telemetry/metrics"
	"mercator-hq/relay/pkg/telemetry/tracing"
)

// AccountSelector orders the candidate accounts for a request. An empty list
// sends the request upstream without an account.
type AccountSelector interface {
	SelectAccountsForRequest(ctx context.Context, meta *RequestMetadata) ([]*accounts.Account, error)
}

// CoordinatorConfig wires a Coordinator.
type CoordinatorConfig struct {
	Provider providers.Provider
	Selector AccountSelector
	Upstream UpstreamProxy

	// Interceptor is optional.
	Interceptor Interceptor

	// Accounts is optional. When set, accounts that failed are re-read
	// before the exhaustion error is built.
	Accounts AccountLookup

	Expiry accounts.ExpiryPolicy

	// MaxBodyBytes bounds the buffered request body. Zero means unbounded.
	MaxBodyBytes int64

	Tracer  *tracing.Tracer
	Metrics *metrics.Collector
}

// Coordinator runs the request-scoped sequence for one proxied request.
type Coordinator struct {
	provider     providers.Provider
	selector     AccountSelector
	upstream     UpstreamProxy
	interceptor  Interceptor
	orchestrator *Orchestrator
	maxBodyBytes int64
	tracer       *tracing.Tracer
	metrics      *metrics.Collector
	logger       *slog.Logger
}

// NewCoordinator validates cfg and creates a Coordinator.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Provider == nil {
		return nil, errors.New("coordinator requires a provider")
	}
	if cfg.Selector == nil {
		return nil, errors.New("coordinator requires an account selector")
	}
	if cfg.Upstream == nil {
		return nil, errors.New("coordinator requires an upstream proxy")
	}

	return &Coordinator{
		provider:     cfg.Provider,
		selector:     cfg.Selector,
		upstream:     cfg.Upstream,
		interceptor:  cfg.Interceptor,
		orchestrator: NewOrchestrator(cfg.Provider.Name(), cfg.Upstream, cfg.Accounts, cfg.Expiry, cfg.Tracer),
		maxBodyBytes: cfg.MaxBodyBytes,
		tracer:       cfg.Tracer,
		metrics:      cfg.Metrics,
		logger:       slog.Default().With("component", "proxy.coordinator"),
	}, nil
}

// Handle proxies r and returns the upstream response. The caller owns the
// response body.
//
// The steps always run in this order: track the client version, validate the
// path, buffer the body, intercept, create metadata, select accounts, then
// either fail over across the candidates or, when there are none, forward
// without an account.
func (c *Coordinator) Handle(ctx context.Context, r *http.Request) (resp *http.Response, err error) {
	start := time.Now()
	outcome := "success"
	defer func() {
		c.metrics.RecordRequest(outcome, time.Since(start))
	}()

	ctx, span := c.tracer.Start(ctx, "relay.request")
	defer span.End()
	defer func() { tracing.SetError(span, err) }()

	TrackClientVersion(r.UserAgent())

	if err := c.provider.ValidatePath(r.URL.Path); err != nil {
		outcome = "invalid"
		return nil, err
	}
	target, err := c.provider.BuildURL(r.URL.Path, r.URL.RawQuery)
	if err != nil {
		outcome = "invalid"
		return nil, err
	}

	if c.maxBodyBytes > 0 && r.Body != nil && r.Body != http.NoBody {
		r.Body = http.MaxBytesReader(nil, r.Body, c.maxBodyBytes)
	}
	body, err := PrepareRequestBody(r)
	if err != nil {
		outcome = "invalid"
		return nil, err
	}

	var agent string
	if c.interceptor != nil {
		result, err := c.interceptor.InterceptAndModifyRequest(ctx, body)
		if err != nil {
			outcome = "error"
			return nil, err
		}
		if result == nil {
			result = &InterceptResult{}
		}
		agent = result.Agent
		if result.Body != nil {
			body = NewBufferedBody(result.Body)
		}
		if result.ModelChanged() {
			c.logger.InfoContext(ctx, "model rewritten for agent",
				"agent", result.Agent,
				"from", result.OriginalModel,
				"to", result.Model,
			)
			span.SetAttributes(attribute.String(tracing.AttrModel, result.Model))
		}
	}

	meta := CreateRequestMetadata(r, target)
	meta.AgentUsed = agent
	ctx = logging.WithAgent(ctx, agent)
	tracing.SetRequestAttributes(span, meta.ID, c.provider.Name(), agent)

	candidates, err := c.selector.SelectAccountsForRequest(ctx, meta)
	if err != nil {
		outcome = "error"
		return nil, err
	}
	span.SetAttributes(attribute.Int(tracing.AttrCandidates, len(candidates)))

	if len(candidates) == 0 {
		outcome = "unauthenticated"
		c.logger.DebugContext(ctx, "no accounts available, forwarding unauthenticated")
		return c.upstream.ProxyUnauthenticated(ctx, r, target, meta, body)
	}

	resp, err = c.orchestrator.Run(ctx, r, target, candidates, meta, body)
	if err != nil {
		var unavailable *ServiceUnavailableError
		if errors.As(err, &unavailable) {
			outcome = "exhausted"
		} else {
			outcome = "error"
		}
		return nil, err
	}
	return resp, nil
}
