// Package anthropic implements the Anthropic provider adapter.
//
// The adapter validates that inbound paths target the versioned API, builds
// upstream URLs against the configured base URL, and authenticates each
// attempt with the selected account:
//
//   - API-key accounts send x-api-key.
//   - OAuth accounts send a bearer access token plus the OAuth beta flag.
//
// Access tokens are refreshed with the refresh_token grant against the
// configured token endpoint. Rate-limit responses are mapped to a reset time
// from the anthropic-ratelimit-unified-reset header or Retry-After.
//
// # Basic Usage
//
//	p, err := anthropic.NewProvider(cfg.Provider)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	target, err := p.BuildURL("/v1/messages", "")
package anthropic
