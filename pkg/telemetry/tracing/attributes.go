package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for relay spans.
const (
	AttrProvider   = "relay.provider"
	AttrRequestID  = "relay.request_id"
	AttrAgent      = "relay.agent"
	AttrAccount    = "relay.account"
	AttrAttempt    = "relay.attempt"
	AttrCandidates = "relay.candidates"
	AttrOutcome    = "relay.outcome"
	AttrModel      = "relay.model"
	AttrStatusCode = "http.response.status_code"
)

// SetRequestAttributes sets attributes describing the inbound request.
func SetRequestAttributes(span trace.Span, requestID, provider, agent string) {
	attrs := []attribute.KeyValue{
		attribute.String(AttrRequestID, requestID),
		attribute.String(AttrProvider, provider),
	}
	if agent != "" {
		attrs = append(attrs, attribute.String(AttrAgent, agent))
	}
	span.SetAttributes(attrs...)
}

// SetAttemptAttributes sets attributes describing one account attempt.
func SetAttemptAttributes(span trace.Span, account string, attempt int) {
	span.SetAttributes(
		attribute.String(AttrAccount, account),
		attribute.Int(AttrAttempt, attempt),
	)
}

// Outcome returns the outcome attribute.
func Outcome(outcome string) attribute.KeyValue {
	return attribute.String(AttrOutcome, outcome)
}

// StatusCode returns the HTTP response status attribute.
func StatusCode(code int) attribute.KeyValue {
	return attribute.Int(AttrStatusCode, code)
}
