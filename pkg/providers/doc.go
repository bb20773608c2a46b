// Package providers defines how the relay talks to an upstream provider.
//
// # Overview
//
// A Provider validates inbound paths, builds target URLs, prepares the
// outbound headers for a given account, refreshes OAuth access tokens, and
// reads rate-limit reset hints from responses. It does not send proxied
// requests itself; the proxy package owns the attempt loop and uses the
// pooled client from NewHTTPClient.
//
// # Errors
//
//   - PathValidationError: the inbound path cannot be forwarded (HTTP 400).
//   - ProviderError: a transport or protocol failure talking to the upstream.
//   - AuthError: the token endpoint rejected the account's refresh token.
//   - RateLimitError: the upstream rate limited the account.
//   - ConfigError: the provider configuration is invalid.
//
// # Implementations
//
// The anthropic subpackage implements the Anthropic Messages API. The
// providerfactory package selects an implementation from configuration.
package providers
