// Package config provides configuration management for Mercator Relay.
//
// Configuration is read from a YAML file, completed with defaults, overridden
// by environment variables and validated before use.
//
// # Configuration Loading
//
//	cfg, err := config.LoadConfig("relay.yaml")
//	cfg, err := config.LoadConfigWithEnvOverrides("relay.yaml")
//
// LoadConfigWithEnvOverrides accepts an empty path, in which case the
// configuration is built from defaults and the environment alone.
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention RELAY_SECTION_FIELD:
//
//   - RELAY_PROXY_LISTEN_ADDRESS overrides proxy.listen_address
//   - RELAY_WORKER_SHUTDOWN_DELAY overrides worker.shutdown_delay
//   - RELAY_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// # Singleton and Hot Reload
//
//	if err := config.Initialize(path); err != nil { ... }
//	cfg := config.GetConfig()
//
// A Watcher observes the file and calls ReloadConfig on change; components
// that cache configuration register with OnReload.
package config
