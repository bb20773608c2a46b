// Package server provides the relay's HTTP server.
//
// The server ties the proxy handler to its operational surface and manages
// the listener lifecycle.
//
// # Routes
//
//   - /v1/...                         proxied to the upstream provider
//   - GET /health                     liveness probe
//   - GET /ready                      readiness probe (accounts, history, worker)
//   - GET /metrics                    Prometheus metrics
//   - GET /api/accounts               configured accounts, without credentials
//   - POST /api/accounts/{name}/pause and /resume
//   - GET /api/requests               request history with filters
//
// # Middleware Chain
//
// Requests pass through, outermost first:
//  1. Recovery: converts panics into a 500 error body
//  2. RequestID: assigns or propagates X-Request-ID
//  3. Tracing: joins inbound W3C trace context (when enabled)
//  4. Logging: logs request completion with status and duration
//
// # Graceful Shutdown
//
// Start blocks until its context is cancelled, SIGINT/SIGTERM arrives or
// RequestShutdown is called. Shutdown then:
//  1. Stops accepting new connections
//  2. Waits for in-flight requests, including streams, up to the shutdown timeout
//  3. Terminates the telemetry worker, which flushes pending usage
package server
