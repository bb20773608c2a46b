package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "proxy.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateProxy(&cfg.Proxy)...)
	errs = append(errs, validateProvider(&cfg.Provider)...)
	errs = append(errs, validateAccounts(&cfg.Accounts)...)
	errs = append(errs, validateSelection(&cfg.Selection)...)
	errs = append(errs, validateAgents(cfg.Agents)...)
	errs = append(errs, validateWorker(&cfg.Worker)...)
	errs = append(errs, validateHistory(&cfg.History)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

func validateProxy(cfg *ProxyConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{
			Field:   "proxy.listen_address",
			Message: "listen address is required",
		})
	}
	if cfg.ReadTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "proxy.read_timeout",
			Message: "read timeout must be positive",
		})
	}
	if cfg.WriteTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "proxy.write_timeout",
			Message: "write timeout must be positive",
		})
	}
	if cfg.IdleTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "proxy.idle_timeout",
			Message: "idle timeout must be positive",
		})
	}
	if cfg.MaxHeaderBytes < 0 || cfg.MaxHeaderBytes > 10*1024*1024 {
		errs = append(errs, FieldError{
			Field:   "proxy.max_header_bytes",
			Message: "max header bytes must be between 0 and 10MB",
		})
	}
	if cfg.MaxBodyBytes <= 0 {
		errs = append(errs, FieldError{
			Field:   "proxy.max_body_bytes",
			Message: "max body bytes must be positive",
		})
	}

	return errs
}

func validateProvider(cfg *ProviderConfig) []FieldError {
	var errs []FieldError

	if cfg.Name != "anthropic" {
		errs = append(errs, FieldError{
			Field:   "provider.name",
			Message: fmt.Sprintf("unsupported provider %q: must be 'anthropic'", cfg.Name),
		})
	}
	for field, raw := range map[string]string{"base_url": cfg.BaseURL, "token_url": cfg.TokenURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, FieldError{
				Field:   "provider." + field,
				Message: fmt.Sprintf("invalid URL %q", raw),
			})
		}
	}
	if cfg.Timeout < 0 {
		errs = append(errs, FieldError{
			Field:   "provider.timeout",
			Message: "timeout must be positive",
		})
	}
	for _, code := range cfg.FailoverStatusCodes {
		if code < 400 || code > 599 {
			errs = append(errs, FieldError{
				Field:   "provider.failover_status_codes",
				Message: fmt.Sprintf("status %d is not an error status", code),
			})
		}
	}

	return errs
}

func validateAccounts(cfg *AccountsConfig) []FieldError {
	var errs []FieldError

	if cfg.Path == "" {
		errs = append(errs, FieldError{
			Field:   "accounts.path",
			Message: "accounts database path is required",
		})
	}
	if cfg.RefreshTokenLifetime < 0 {
		errs = append(errs, FieldError{
			Field:   "accounts.refresh_token_lifetime",
			Message: "refresh token lifetime must be positive",
		})
	}

	return errs
}

func validateSelection(cfg *SelectionConfig) []FieldError {
	var errs []FieldError

	validStrategies := map[string]bool{"session": true, "round-robin": true, "priority": true, "sticky": true}
	if !validStrategies[cfg.Strategy] {
		errs = append(errs, FieldError{
			Field:   "selection.strategy",
			Message: fmt.Sprintf("invalid strategy %q: must be 'session', 'round-robin', 'priority', or 'sticky'", cfg.Strategy),
		})
	}
	if cfg.SessionDuration < 0 {
		errs = append(errs, FieldError{
			Field:   "selection.session_duration",
			Message: "session duration must be positive",
		})
	}
	if cfg.StickyMaxEntries < 0 {
		errs = append(errs, FieldError{
			Field:   "selection.sticky_max_entries",
			Message: "sticky max entries must be non-negative",
		})
	}

	return errs
}

func validateAgents(rules []AgentRule) []FieldError {
	var errs []FieldError

	seen := make(map[string]bool)
	for i, rule := range rules {
		prefix := fmt.Sprintf("agents[%d]", i)
		if rule.Name == "" {
			errs = append(errs, FieldError{Field: prefix + ".name", Message: "agent name is required"})
		} else if seen[rule.Name] {
			errs = append(errs, FieldError{Field: prefix + ".name", Message: fmt.Sprintf("duplicate agent %q", rule.Name)})
		}
		seen[rule.Name] = true

		if rule.Match == "" {
			errs = append(errs, FieldError{Field: prefix + ".match", Message: "match pattern is required"})
		} else if _, err := regexp.Compile(rule.Match); err != nil {
			errs = append(errs, FieldError{Field: prefix + ".match", Message: fmt.Sprintf("invalid pattern: %v", err)})
		}
	}

	return errs
}

func validateWorker(cfg *WorkerConfig) []FieldError {
	var errs []FieldError

	if cfg.Mode != "inprocess" && cfg.Mode != "subprocess" {
		errs = append(errs, FieldError{
			Field:   "worker.mode",
			Message: fmt.Sprintf("invalid mode %q: must be 'inprocess' or 'subprocess'", cfg.Mode),
		})
	}
	if cfg.MailboxSize <= 0 {
		errs = append(errs, FieldError{
			Field:   "worker.mailbox_size",
			Message: "mailbox size must be positive",
		})
	}
	if cfg.ShutdownDelay <= 0 {
		errs = append(errs, FieldError{
			Field:   "worker.shutdown_delay",
			Message: "shutdown delay must be positive",
		})
	}
	if cfg.MaxCaptureBytes < 0 {
		errs = append(errs, FieldError{
			Field:   "worker.max_capture_bytes",
			Message: "max capture bytes must be non-negative",
		})
	}

	return errs
}

func validateHistory(cfg *HistoryConfig) []FieldError {
	var errs []FieldError

	if !cfg.Enabled {
		return nil
	}
	switch cfg.Backend {
	case "sqlite":
		if cfg.Path == "" {
			errs = append(errs, FieldError{
				Field:   "history.path",
				Message: "history database path is required for the sqlite backend",
			})
		}
	case "memory":
	default:
		errs = append(errs, FieldError{
			Field:   "history.backend",
			Message: fmt.Sprintf("invalid backend %q: must be 'sqlite' or 'memory'", cfg.Backend),
		})
	}
	if _, err := cron.ParseStandard(cfg.Retention.Schedule); err != nil {
		errs = append(errs, FieldError{
			Field:   "history.retention.schedule",
			Message: fmt.Sprintf("invalid cron expression: %v", err),
		})
	}
	if cfg.Retention.MaxRecords < 0 {
		errs = append(errs, FieldError{
			Field:   "history.retention.max_records",
			Message: "max records must be non-negative",
		})
	}

	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid logging level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.Logging.Level),
		})
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.Logging.Format] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid logging format %q: must be 'json' or 'text'", cfg.Logging.Format),
		})
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.path",
			Message: "metrics path must start with '/'",
		})
	}

	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1.0 {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sample_ratio",
			Message: "sample ratio must be between 0.0 and 1.0",
		})
	}
	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.endpoint",
			Message: "endpoint is required when tracing is enabled",
		})
	}

	return errs
}
