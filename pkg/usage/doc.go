// Package usage collects request usage telemetry off the request path.
//
// A Channel owns at most one background worker at a time. The worker is
// started lazily by Acquire through a Source: InProcessSource runs it as a
// goroutine, SubprocessSource runs "relay worker" and exchanges JSON lines
// over stdin and stdout. Callers post start, chunk and end messages for each
// relayed response; posting never waits, and a full mailbox drops the
// message.
//
// The worker answers every finished request with a summary and a payload
// message. The channel republishes them verbatim on a Bus under the same
// event names:
//
//	{"type":"summary","summary":{...}}
//	{"type":"payload","payload":{...}}
//
// Terminate sends {"type":"shutdown"} and force-stops the worker if it has
// not exited within the shutdown delay. A worker fault is logged, the handle
// is dropped, and the next Acquire starts a fresh worker.
package usage
