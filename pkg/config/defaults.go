package config

import "time"

// Default values for configuration fields.
const (
	// Proxy defaults
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 60 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxHeaderBytes  = 1048576  // 1MB
	DefaultMaxBodyBytes    = 33554432 // 32MB

	// Provider defaults
	DefaultProviderName    = "anthropic"
	DefaultProviderBaseURL = "https://api.anthropic.com"
	DefaultTokenURL        = "https://console.anthropic.com/v1/oauth/token"
	DefaultProviderTimeout = 120 * time.Second

	// Accounts defaults
	DefaultAccountsPath         = "data/accounts.db"
	DefaultAccountsBusyTimeout  = 5 * time.Second
	DefaultRefreshTokenLifetime = 30 * 24 * time.Hour

	// Selection defaults
	DefaultSelectionStrategy = "session"
	DefaultSessionDuration   = 5 * time.Hour
	DefaultStickyTTL         = time.Hour
	DefaultStickyMaxEntries  = 10000
	DefaultRateLimitCooldown = 60 * time.Second

	// Worker defaults
	DefaultWorkerMode            = "inprocess"
	DefaultWorkerMailboxSize     = 1024
	DefaultWorkerShutdownDelay   = 10 * time.Second
	DefaultWorkerMaxCaptureBytes = 256 * 1024

	// History defaults
	DefaultHistoryEnabled           = true
	DefaultHistoryBackend           = "sqlite"
	DefaultHistoryPath              = "data/history.db"
	DefaultHistoryRetentionDays     = 30
	DefaultHistoryRetentionSchedule = "0 3 * * *"

	// Telemetry defaults
	DefaultLoggingLevel       = "info"
	DefaultLoggingFormat      = "json"
	DefaultMetricsEnabled     = true
	DefaultMetricsPath        = "/metrics"
	DefaultMetricsNamespace   = "relay"
	DefaultTracingEndpoint    = "localhost:4317"
	DefaultTracingSampleRatio = 1.0
	DefaultTracingServiceName = "mercator-relay"
)

// DefaultFailoverStatusCodes are the upstream statuses that trigger failover
// to the next account.
var DefaultFailoverStatusCodes = []int{401, 403, 429, 529}

// NewDefaultConfig returns a configuration with every default applied. It is
// used when no configuration file is given.
func NewDefaultConfig() *Config {
	cfg := baseConfig()
	ApplyDefaults(cfg)
	return cfg
}

// baseConfig holds the boolean defaults that are true. YAML decoding starts
// from it so that an omitted key keeps its default.
func baseConfig() *Config {
	return &Config{
		History: HistoryConfig{Enabled: DefaultHistoryEnabled},
		Telemetry: TelemetryConfig{
			Metrics: MetricsConfig{Enabled: DefaultMetricsEnabled},
		},
	}
}

// ApplyDefaults fills zero-valued fields with their defaults. Boolean fields
// cannot be distinguished from an explicit false and are left untouched.
func ApplyDefaults(cfg *Config) {
	applyProxyDefaults(&cfg.Proxy)
	applyProviderDefaults(&cfg.Provider)
	applyAccountsDefaults(&cfg.Accounts)
	applySelectionDefaults(&cfg.Selection)
	applyWorkerDefaults(&cfg.Worker)
	applyHistoryDefaults(&cfg.History)
	applyTelemetryDefaults(&cfg.Telemetry)
}

func applyProxyDefaults(cfg *ProxyConfig) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = DefaultListenAddress
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.MaxHeaderBytes == 0 {
		cfg.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
}

func applyProviderDefaults(cfg *ProviderConfig) {
	if cfg.Name == "" {
		cfg.Name = DefaultProviderName
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultProviderBaseURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultProviderTimeout
	}
	if len(cfg.FailoverStatusCodes) == 0 {
		cfg.FailoverStatusCodes = append([]int(nil), DefaultFailoverStatusCodes...)
	}
}

func applyAccountsDefaults(cfg *AccountsConfig) {
	if cfg.Path == "" {
		cfg.Path = DefaultAccountsPath
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = DefaultAccountsBusyTimeout
	}
	if cfg.RefreshTokenLifetime == 0 {
		cfg.RefreshTokenLifetime = DefaultRefreshTokenLifetime
	}
}

func applySelectionDefaults(cfg *SelectionConfig) {
	if cfg.Strategy == "" {
		cfg.Strategy = DefaultSelectionStrategy
	}
	if cfg.SessionDuration == 0 {
		cfg.SessionDuration = DefaultSessionDuration
	}
	if cfg.StickyTTL == 0 {
		cfg.StickyTTL = DefaultStickyTTL
	}
	if cfg.StickyMaxEntries == 0 {
		cfg.StickyMaxEntries = DefaultStickyMaxEntries
	}
	if cfg.RateLimitCooldown == 0 {
		cfg.RateLimitCooldown = DefaultRateLimitCooldown
	}
}

func applyWorkerDefaults(cfg *WorkerConfig) {
	if cfg.Mode == "" {
		cfg.Mode = DefaultWorkerMode
	}
	if cfg.MailboxSize == 0 {
		cfg.MailboxSize = DefaultWorkerMailboxSize
	}
	if cfg.ShutdownDelay == 0 {
		cfg.ShutdownDelay = DefaultWorkerShutdownDelay
	}
	if cfg.MaxCaptureBytes == 0 {
		cfg.MaxCaptureBytes = DefaultWorkerMaxCaptureBytes
	}
}

func applyHistoryDefaults(cfg *HistoryConfig) {
	if cfg.Backend == "" {
		cfg.Backend = DefaultHistoryBackend
	}
	if cfg.Path == "" {
		cfg.Path = DefaultHistoryPath
	}
	if cfg.Retention.Days == 0 {
		cfg.Retention.Days = DefaultHistoryRetentionDays
	}
	if cfg.Retention.Schedule == "" {
		cfg.Retention.Schedule = DefaultHistoryRetentionSchedule
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Tracing.Endpoint == "" {
		cfg.Tracing.Endpoint = DefaultTracingEndpoint
	}
	if cfg.Tracing.SampleRatio == 0 {
		cfg.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = DefaultTracingServiceName
	}
}
