package metrics

import "github.com/prometheus/client_golang/prometheus"

// ProxyMetrics tracks request handling and account failover.
//
// Metrics:
//   - relay_proxy_requests_total: requests by outcome
//   - relay_proxy_request_duration_seconds: time to first upstream response
//   - relay_proxy_account_attempts_total: per-account attempts by outcome
//   - relay_proxy_unauthenticated_total: requests forwarded without an account
type ProxyMetrics struct {
	requestsTotal        *prometheus.CounterVec
	requestDuration      *prometheus.HistogramVec
	attemptsTotal        *prometheus.CounterVec
	unauthenticatedTotal prometheus.Counter
}

// NewProxyMetrics creates and registers proxy metrics.
func NewProxyMetrics(namespace string, registry *prometheus.Registry) *ProxyMetrics {
	pm := &ProxyMetrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "proxy",
				Name:      "requests_total",
				Help:      "Total number of proxied requests by outcome",
			},
			[]string{"outcome"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "proxy",
				Name:      "request_duration_seconds",
				Help:      "Time from request arrival to upstream response headers",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"outcome"},
		),
		attemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "proxy",
				Name:      "account_attempts_total",
				Help:      "Per-account upstream attempts by outcome",
			},
			[]string{"account", "outcome"},
		),
		unauthenticatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "proxy",
				Name:      "unauthenticated_total",
				Help:      "Requests forwarded without account credentials",
			},
		),
	}

	registry.MustRegister(pm.requestsTotal, pm.requestDuration, pm.attemptsTotal, pm.unauthenticatedTotal)
	return pm
}
