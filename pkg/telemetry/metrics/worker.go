package metrics

import "github.com/prometheus/client_golang/prometheus"

// WorkerMetrics tracks the background usage worker.
type WorkerMetrics struct {
	startsTotal      *prometheus.CounterVec
	faultsTotal      prometheus.Counter
	forcedStopsTotal prometheus.Counter
	droppedTotal     *prometheus.CounterVec
	eventsTotal      *prometheus.CounterVec
}

// NewWorkerMetrics creates and registers worker metrics.
func NewWorkerMetrics(namespace string, registry *prometheus.Registry) *WorkerMetrics {
	wm := &WorkerMetrics{
		startsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "worker",
				Name:      "starts_total",
				Help:      "Worker handles created, by mode",
			},
			[]string{"mode"},
		),
		faultsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "worker",
				Name:      "faults_total",
				Help:      "Worker crashes",
			},
		),
		forcedStopsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "worker",
				Name:      "forced_stops_total",
				Help:      "Workers stopped after the shutdown grace period elapsed",
			},
		),
		droppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "worker",
				Name:      "dropped_messages_total",
				Help:      "Messages not delivered to the worker",
			},
			[]string{"type"},
		),
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "worker",
				Name:      "events_total",
				Help:      "Worker messages relayed to the event bus",
			},
			[]string{"type"},
		),
	}

	registry.MustRegister(wm.startsTotal, wm.faultsTotal, wm.forcedStopsTotal, wm.droppedTotal, wm.eventsTotal)
	return wm
}
