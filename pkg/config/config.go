package config

import "time"

// Config is the root configuration structure for Mercator Relay.
// It contains all configuration sections for the proxy server, the upstream
// provider, the account pool, the usage worker, request history, and
// telemetry.
type Config struct {
	// Proxy contains HTTP proxy server configuration including listen address,
	// timeouts, and request size limits.
	Proxy ProxyConfig `yaml:"proxy"`

	// Provider describes the upstream API every account belongs to.
	Provider ProviderConfig `yaml:"provider"`

	// Accounts contains the account store location and the thresholds used
	// to decide whether an account's refresh token has likely expired.
	Accounts AccountsConfig `yaml:"accounts"`

	// Selection controls how candidate accounts are ordered for a request.
	Selection SelectionConfig `yaml:"selection"`

	// Agents lists interception rules that pin detected agents to a model.
	Agents []AgentRule `yaml:"agents"`

	// Worker contains configuration for the background usage worker.
	Worker WorkerConfig `yaml:"worker"`

	// History contains configuration for request history persistence and
	// retention.
	History HistoryConfig `yaml:"history"`

	// Telemetry contains configuration for observability including logging,
	// metrics, and distributed tracing.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ProxyConfig contains configuration for the HTTP proxy server.
type ProxyConfig struct {
	// ListenAddress is the address and port for the proxy to listen on.
	// Format: "host:port" (e.g., "127.0.0.1:8080", "0.0.0.0:8080").
	// Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request,
	// including the body.
	// Default: 60s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the
	// response. Streaming responses can run long, so zero disables it.
	// Default: 0 (no timeout)
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request
	// when keep-alives are enabled.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes limits the size of request headers.
	// Default: 1048576 (1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// MaxBodyBytes limits the size of a buffered request body.
	// Default: 33554432 (32MB)
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// ProviderConfig describes the upstream provider.
type ProviderConfig struct {
	// Name identifies the provider implementation ("anthropic").
	// Default: "anthropic"
	Name string `yaml:"name"`

	// BaseURL is the upstream API origin.
	// Default: "https://api.anthropic.com"
	BaseURL string `yaml:"base_url"`

	// TokenURL is the OAuth token endpoint used to refresh access tokens.
	// Default: "https://console.anthropic.com/v1/oauth/token"
	TokenURL string `yaml:"token_url"`

	// ClientID is the OAuth client identifier sent with refresh requests.
	ClientID string `yaml:"client_id"`

	// Timeout bounds a single upstream attempt, excluding streaming the body.
	// Default: 120s
	Timeout time.Duration `yaml:"timeout"`

	// FailoverStatusCodes are upstream statuses that make the proxy try the
	// next account instead of returning the response.
	// Default: [401, 403, 429, 529]
	FailoverStatusCodes []int `yaml:"failover_status_codes"`
}

// AccountsConfig configures the account store.
type AccountsConfig struct {
	// Path is the SQLite database file holding accounts.
	// Default: "data/accounts.db"
	Path string `yaml:"path"`

	// BusyTimeout is the SQLite busy timeout.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// RefreshTokenLifetime is how long after access-token expiry an unused
	// refresh token is still assumed valid.
	// Default: 720h (30 days)
	RefreshTokenLifetime time.Duration `yaml:"refresh_token_lifetime"`
}

// SelectionConfig controls account ordering.
type SelectionConfig struct {
	// Strategy is one of "session", "round-robin", "priority", "sticky".
	// Default: "session"
	Strategy string `yaml:"strategy"`

	// SessionDuration is how long the session strategy keeps preferring the
	// same account.
	// Default: 5h
	SessionDuration time.Duration `yaml:"session_duration"`

	// StickyTTL is how long a client stays pinned to an account under the
	// sticky strategy.
	// Default: 1h
	StickyTTL time.Duration `yaml:"sticky_ttl"`

	// StickyMaxEntries bounds the sticky affinity cache.
	// Default: 10000
	StickyMaxEntries int `yaml:"sticky_max_entries"`

	// RateLimitCooldown is used when an upstream 429 carries no reset hint.
	// Default: 60s
	RateLimitCooldown time.Duration `yaml:"rate_limit_cooldown"`
}

// AgentRule pins a detected agent to a model.
type AgentRule struct {
	// Name is the agent name recorded in request metadata.
	Name string `yaml:"name"`

	// Match is a regular expression searched for in the system prompt.
	Match string `yaml:"match"`

	// Model is the model the agent's requests are rewritten to. Empty keeps
	// the requested model unless a stored preference exists.
	Model string `yaml:"model"`
}

// WorkerConfig configures the background usage worker.
type WorkerConfig struct {
	// Mode is "inprocess" (goroutine) or "subprocess" (relay worker).
	// Default: "inprocess"
	Mode string `yaml:"mode"`

	// Command overrides the executable used in subprocess mode. Empty means
	// the running binary.
	Command string `yaml:"command"`

	// MailboxSize bounds the number of queued messages before posts are
	// dropped.
	// Default: 1024
	MailboxSize int `yaml:"mailbox_size"`

	// ShutdownDelay is the grace period between a shutdown request and a
	// forced stop.
	// Default: 10s
	ShutdownDelay time.Duration `yaml:"shutdown_delay"`

	// MaxCaptureBytes bounds how much of each request and response body is
	// kept in payload records.
	// Default: 262144 (256KB)
	MaxCaptureBytes int `yaml:"max_capture_bytes"`
}

// HistoryConfig configures request history.
type HistoryConfig struct {
	// Enabled controls whether payload events are persisted.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Backend is "sqlite" or "memory".
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// Path is the SQLite database file for request history.
	// Default: "data/history.db"
	Path string `yaml:"path"`

	// Retention controls pruning of old records.
	Retention RetentionConfig `yaml:"retention"`
}

// RetentionConfig configures history pruning.
type RetentionConfig struct {
	// Days is the age after which records are deleted. A negative value
	// disables age-based pruning.
	// Default: 30
	Days int `yaml:"days"`

	// Schedule is a cron expression for the pruning job.
	// Default: "0 3 * * *"
	Schedule string `yaml:"schedule"`

	// MaxRecords caps the number of stored records. Zero means unlimited.
	MaxRecords int64 `yaml:"max_records"`
}

// TelemetryConfig contains configuration for observability.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	// Default: "info"
	Level string `yaml:"level"`

	// Format is "json" or "text".
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line in log records.
	AddSource bool `yaml:"add_source"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled controls whether /metrics is served.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path for the metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace prefixes every metric name.
	// Default: "relay"
	Namespace string `yaml:"namespace"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	// Enabled controls whether spans are exported.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Endpoint is the OTLP gRPC collector address.
	// Default: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS to the collector.
	Insecure bool `yaml:"insecure"`

	// SampleRatio is the fraction of traces sampled.
	// Default: 1.0
	SampleRatio float64 `yaml:"sample_ratio"`

	// ServiceName is reported as the service.name resource attribute.
	// Default: "mercator-relay"
	ServiceName string `yaml:"service_name"`
}
