package metrics

import "github.com/prometheus/client_golang/prometheus"

// UsageMetrics tracks token consumption reported by the usage worker.
type UsageMetrics struct {
	tokensTotal *prometheus.CounterVec
	costTotal   *prometheus.CounterVec
}

// NewUsageMetrics creates and registers usage metrics.
func NewUsageMetrics(namespace string, registry *prometheus.Registry) *UsageMetrics {
	um := &UsageMetrics{
		tokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "usage",
				Name:      "tokens_total",
				Help:      "Tokens consumed by account, model and kind",
			},
			[]string{"account", "model", "kind"},
		),
		costTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "usage",
				Name:      "cost_usd_total",
				Help:      "Estimated spend in USD by account and model",
			},
			[]string{"account", "model"},
		),
	}

	registry.MustRegister(um.tokensTotal, um.costTotal)
	return um
}
