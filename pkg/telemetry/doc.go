// Package telemetry groups the observability packages used by Relay.
//
// # Components
//
//   - logging: structured slog logging with request-scoped fields and
//     credential masking
//   - metrics: Prometheus collectors for proxied requests, account
//     selection, usage accounting and the worker channel
//   - tracing: OpenTelemetry spans exported over OTLP/gRPC
//   - health: liveness and readiness endpoints backed by named checks
//
// # Usage
//
//	logger, err := logging.New(logging.Config{Level: "info", Format: "json"})
//	if err != nil {
//		return err
//	}
//	slog.SetDefault(logger)
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, prometheus.NewRegistry())
//	collector.RecordRequest("success", time.Second)
//
//	tracer, err := tracing.New(&cfg.Telemetry.Tracing, version)
//	ctx, span := tracer.Start(ctx, "proxy.forward")
//	defer span.End()
//
// # Credential Protection
//
// Attributes keyed by api_key, access_token, refresh_token or
// authorization are masked before they reach the handler, and Anthropic
// keys or bearer tokens embedded in free-form strings are replaced with
// a short prefix followed by "***".
package telemetry
