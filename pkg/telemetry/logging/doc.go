// Package logging builds the process logger on top of log/slog.
//
// # Usage
//
//	logger, err := logging.New(logging.Config{Level: "info", Format: "json"})
//	if err != nil { ... }
//	slog.SetDefault(logger)
//
//	ctx = logging.WithRequestID(ctx, id)
//	slog.InfoContext(ctx, "Request proxied", "status", 200)
//
// Records logged with a context include request_id, account and agent when
// present. Attributes named after credentials (api_key, access_token,
// refresh_token, authorization) are masked, and so are Anthropic keys and
// bearer tokens embedded in string values.
//
// Setting RELAY_DEBUG or DEBUG to a truthy value forces the debug level and
// enables verbose per-request logs elsewhere in the module.
package logging
