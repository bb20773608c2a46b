package metrics

import (
	"time"

	"mercator-hq/relay/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector owns every Prometheus metric exported by the relay.
//
// All recording methods are safe to call on a nil *Collector, which makes
// metrics optional for every component that takes one.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	proxy  *ProxyMetrics
	worker *WorkerMetrics
	usage  *UsageMetrics
}

// NewCollector creates a collector and registers its metrics with registry.
// A nil registry creates a fresh one.
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}

	return &Collector{
		config:   cfg,
		registry: registry,
		proxy:    NewProxyMetrics(cfg.Namespace, registry),
		worker:   NewWorkerMetrics(cfg.Namespace, registry),
		usage:    NewUsageMetrics(cfg.Namespace, registry),
	}
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) enabled() bool {
	return c != nil && c.config.Enabled
}

// RecordRequest records a finished proxied request. outcome is one of
// "success", "exhausted", "invalid", "unauthenticated" or "error".
func (c *Collector) RecordRequest(outcome string, duration time.Duration) {
	if !c.enabled() {
		return
	}
	c.proxy.requestsTotal.WithLabelValues(outcome).Inc()
	c.proxy.requestDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordAttempt records one per-account attempt. outcome is "success" or the
// reason the account was skipped ("rate_limited", "auth_failed", "status",
// "transport").
func (c *Collector) RecordAttempt(account, outcome string) {
	if !c.enabled() {
		return
	}
	c.proxy.attemptsTotal.WithLabelValues(account, outcome).Inc()
}

// RecordUnauthenticated records a request forwarded without an account.
func (c *Collector) RecordUnauthenticated() {
	if !c.enabled() {
		return
	}
	c.proxy.unauthenticatedTotal.Inc()
}

// RecordWorkerStart records creation of a new worker handle.
func (c *Collector) RecordWorkerStart(mode string) {
	if !c.enabled() {
		return
	}
	c.worker.startsTotal.WithLabelValues(mode).Inc()
}

// RecordWorkerFault records a worker crash.
func (c *Collector) RecordWorkerFault() {
	if !c.enabled() {
		return
	}
	c.worker.faultsTotal.Inc()
}

// RecordWorkerForcedStop records a worker stopped by the shutdown timer.
func (c *Collector) RecordWorkerForcedStop() {
	if !c.enabled() {
		return
	}
	c.worker.forcedStopsTotal.Inc()
}

// RecordWorkerDropped records a message dropped because the mailbox was full
// or the worker was gone.
func (c *Collector) RecordWorkerDropped(messageType string) {
	if !c.enabled() {
		return
	}
	c.worker.droppedTotal.WithLabelValues(messageType).Inc()
}

// RecordWorkerEvent records a message relayed from the worker to the bus.
func (c *Collector) RecordWorkerEvent(eventType string) {
	if !c.enabled() {
		return
	}
	c.worker.eventsTotal.WithLabelValues(eventType).Inc()
}

// RecordUsage records token counts and estimated cost for one request.
func (c *Collector) RecordUsage(account, model string, input, output, cacheRead, cacheCreation int64, costUSD float64) {
	if !c.enabled() {
		return
	}
	c.usage.tokensTotal.WithLabelValues(account, model, "input").Add(float64(input))
	c.usage.tokensTotal.WithLabelValues(account, model, "output").Add(float64(output))
	c.usage.tokensTotal.WithLabelValues(account, model, "cache_read").Add(float64(cacheRead))
	c.usage.tokensTotal.WithLabelValues(account, model, "cache_creation").Add(float64(cacheCreation))
	c.usage.costTotal.WithLabelValues(account, model).Add(costUSD)
}
