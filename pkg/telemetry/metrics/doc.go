// Package metrics exposes Prometheus metrics for the relay.
//
// # Metrics
//
//   - relay_proxy_requests_total{outcome}
//   - relay_proxy_request_duration_seconds{outcome}
//   - relay_proxy_account_attempts_total{account,outcome}
//   - relay_proxy_unauthenticated_total
//   - relay_worker_starts_total{mode}
//   - relay_worker_faults_total
//   - relay_worker_forced_stops_total
//   - relay_worker_dropped_messages_total{type}
//   - relay_worker_events_total{type}
//   - relay_usage_tokens_total{account,model,kind}
//   - relay_usage_cost_usd_total{account,model}
//
// # Usage
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	mux.Handle(cfg.Telemetry.Metrics.Path, collector.Handler())
package metrics
