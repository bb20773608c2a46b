// Package accounts holds the pool of upstream credential identities.
//
// Each Account authenticates with either an API key or an OAuth token pair.
// Stores persist accounts and per-agent model preferences; SQLiteStore is
// the durable backend (pure-Go driver) and MemoryStore backs tests.
//
// ExpiryPolicy implements the heuristic that decides whether an OAuth
// account's refresh token has likely expired, which turns an "all accounts
// failed" outcome into actionable re-authentication guidance.
package accounts
