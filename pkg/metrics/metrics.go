// Package metrics exposes Prometheus instrumentation for runners and the
// shutdown coordinator. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "daemonutils"

// Metrics holds the collectors shared by runners and the coordinator.
type Metrics struct {
	invocations      *prometheus.CounterVec
	deliveryFailures *prometheus.CounterVec
	stopRequests     prometheus.Counter
	liveRefs         prometheus.Gauge
}

// New creates the collectors and registers them with reg.
// It panics if registration fails, like prometheus.MustRegister.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runner",
			Name:      "invocations_total",
			Help:      "Task unit invocations or deliveries per runner",
		}, []string{"kind", "runner"}),
		deliveryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runner",
			Name:      "delivery_failures_total",
			Help:      "Work deliveries rejected by a full or unreachable task inbox",
		}, []string{"runner"}),
		stopRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "shutdown",
			Name:      "stop_requests_total",
			Help:      "Stop requests broadcast to subscribers",
		}),
		liveRefs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "shutdown",
			Name:      "termination_refs",
			Help:      "Live references held on the termination token",
		}),
	}

	reg.MustRegister(m.invocations, m.deliveryFailures, m.stopRequests, m.liveRefs)
	return m
}

// Invoked counts one invocation of a runner's task unit.
func (m *Metrics) Invoked(kind, runner string) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(kind, runner).Inc()
}

// DeliveryFailed counts one rejected work delivery.
func (m *Metrics) DeliveryFailed(runner string) {
	if m == nil {
		return
	}
	m.deliveryFailures.WithLabelValues(runner).Inc()
}

// StopSent counts one stop request dispatched by the coordinator.
func (m *Metrics) StopSent() {
	if m == nil {
		return
	}
	m.stopRequests.Inc()
}

// SetLiveRefs records the termination token's live reference count.
func (m *Metrics) SetLiveRefs(n int64) {
	if m == nil {
		return
	}
	m.liveRefs.Set(float64(n))
}
