// Package proxy forwards client requests to the upstream provider through a
// pool of accounts.
//
// # Architecture
//
// A request flows through three layers:
//
//   - Handler: the HTTP binding; relays the upstream response and flushes
//     each chunk so server-sent events stream through
//   - Coordinator: the request-scoped sequence (client version tracking,
//     path validation, body buffering, agent interception, metadata,
//     account selection)
//   - Orchestrator: tries each candidate account in order through an
//     UpstreamProxy and stops at the first response
//
// Forwarder is the production UpstreamProxy. It refreshes OAuth access
// tokens, marks rate-limited and rejected accounts, and reports every relayed
// response to the usage worker.
//
// # Request Bodies
//
// The body is read once into a BufferedBody. Every attempt, and the
// unauthenticated fallback, reads a fresh stream over the same bytes. When
// interception rewrites the model, the rewritten body replaces the buffer for
// all later attempts.
//
// # Errors
//
// When every candidate declines, ClassifyExhaustion builds a
// ServiceUnavailableError. If refresh tokens have likely expired the message
// names the accounts and lists a re-authentication command for each:
//
//	relay accounts reauth 'work account'
//
// WriteError maps errors to HTTP responses:
//
//   - *providers.PathValidationError: 400
//   - *RequestTooLargeError: 413
//   - *ServiceUnavailableError: 503
//   - *providers.ProviderError: 502
//   - anything else: 500 with a generic message
//
// # Basic Usage
//
//	coordinator, err := proxy.NewCoordinator(proxy.CoordinatorConfig{
//	    Provider: provider,
//	    Selector: selector,
//	    Upstream: proxy.NewForwarder(proxy.ForwarderConfig{
//	        Provider: provider,
//	        Store:    store,
//	        Usage:    channel,
//	    }),
//	})
//	if err != nil {
//	    return err
//	}
//	mux.Handle("/v1/", proxy.NewHandler(coordinator))
package proxy
