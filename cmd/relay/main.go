// Relay is a multi-account reverse proxy for the Anthropic API.
//
// It forwards every /v1/ request with the credentials of one account from a
// local pool, failing over to the next account when one is rate limited or
// rejected, and records token usage per account and per request.
//
// Usage:
//
//	# Start the proxy with default configuration
//	relay run
//
//	# Start with a configuration file
//	relay run --config /etc/relay/relay.yaml
//
//	# Register an account
//	relay accounts add work --refresh-token "$TOKEN"
//
//	# List accounts and their state
//	relay accounts list
//
//	# Re-authenticate an account whose refresh token expired
//	relay accounts reauth 'work'
//
//	# Show recent requests
//	relay history query --since 1h
//
//	# Show version information
//	relay version
package main

func main() {
	Execute()
}
