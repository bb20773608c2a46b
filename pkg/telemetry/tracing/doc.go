// Package tracing provides OpenTelemetry tracing for the relay.
//
// Spans are exported over OTLP gRPC when telemetry.tracing.enabled is set;
// otherwise the Tracer is a noop. The proxy coordinator opens a
// "relay.request" span per request and the failover orchestrator opens one
// "relay.attempt" span per account tried.
//
//	tracer, err := tracing.New(&cfg.Telemetry.Tracing, version)
//	defer tracer.Shutdown(context.Background())
//
//	ctx, span := tracer.Start(ctx, "relay.request")
//	defer span.End()
package tracing
