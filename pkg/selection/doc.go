// Package selection orders the accounts a request is attempted with.
//
// Selector filters out paused and rate-limited accounts and hands the rest,
// in priority order, to one of four strategies:
//
//   - session: keep the account whose session window is active first; start
//     a new session on the first available account when none is
//   - round-robin: rotate the first account on every request
//   - priority: priority, then least recently used
//   - sticky: pin each client session key to an account, with a TTL and LRU
//     bounded cache, falling back to round-robin for new sessions
//
// Every strategy returns all eligible accounts; the accounts after the first
// are the failover order.
package selection
