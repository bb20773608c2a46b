// Package middleware provides HTTP middleware for cross-cutting concerns.
//
// # Middleware Chain
//
//	handler = RecoveryMiddleware(RequestIDMiddleware(LoggingMiddleware(handler)))
//
//   - RecoveryMiddleware: recover from panics, answer 500 in the JSON error shape
//   - RequestIDMiddleware: assign a request ID, add it to the context and response
//   - LoggingMiddleware: log completion with status and latency; debug start logs
//
// The response writer used by LoggingMiddleware implements http.Flusher so
// streamed upstream responses reach the client as they arrive.
package middleware
