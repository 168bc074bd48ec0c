// Package metrics exposes Prometheus counters/gauges for the queue and
// failover behavior called out in the concurrency model and provider
// failover sections: bounded-queue overflow, adaptive-buffer underruns, and
// provider failover events.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	QueueDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatta",
		Subsystem: "queue",
		Name:      "dropped_total",
		Help:      "Events dropped from a bounded cross-thread queue because it was full.",
	}, []string{"queue"})

	BufferUnderrun = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "chatta",
		Subsystem: "stream_buffer",
		Name:      "underrun_total",
		Help:      "Times playback drained the adaptive stream buffer before more audio arrived.",
	})

	ProviderFailover = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatta",
		Subsystem: "registry",
		Name:      "failover_total",
		Help:      "Times a provider request failed over to the next-priority endpoint.",
	}, []string{"role"})

	ProviderUnhealthy = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "chatta",
		Subsystem: "registry",
		Name:      "endpoint_unhealthy",
		Help:      "1 if a provider endpoint is currently marked unhealthy, else 0.",
	}, []string{"role", "endpoint"})
)

func init() {
	prometheus.MustRegister(QueueDropped, BufferUnderrun, ProviderFailover, ProviderUnhealthy)
}
