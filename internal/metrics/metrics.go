// Package metrics exposes the agent's Prometheus collectors.
//
// Every method is safe to call on a nil *Metrics so components can be built
// without a registry in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jamesprial/readings/internal/usage"
)

const namespace = "readings"

// Metrics groups the collectors updated by the transport, the evaluator and
// the action executor.
type Metrics struct {
	triggers       *prometheus.CounterVec
	actionFailures *prometheus.CounterVec
	transportMode  *prometheus.GaugeVec
	reconnects     prometheus.Counter
	fallbacks      prometheus.Counter
	pollErrors     prometheus.Counter
	usage          *prometheus.GaugeVec
	tasksLoaded    prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg uses
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		triggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "task_triggers_total",
			Help:      "Number of times a task threshold matched and its action was dispatched.",
		}, []string{"task", "type"}),
		actionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "actions",
			Name:      "failures_total",
			Help:      "Number of task actions that failed.",
		}, []string{"task", "type"}),
		transportMode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "mode",
			Help:      "1 for the active transport mode, 0 otherwise.",
		}, []string{"mode"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "reconnects_total",
			Help:      "Number of scheduled push session reconnects.",
		}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "poll_fallbacks_total",
			Help:      "Number of times push delivery was rejected and polling took over.",
		}),
		pollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "poll_errors_total",
			Help:      "Number of failed usage polls.",
		}),
		usage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "usage",
			Help:      "Last known node usage. cpu is a percentage, memory and disk are bytes.",
		}, []string{"resource"}),
		tasksLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "tasks_loaded",
			Help:      "Number of tasks in the current registry.",
		}),
	}

	reg.MustRegister(
		m.triggers,
		m.actionFailures,
		m.transportMode,
		m.reconnects,
		m.fallbacks,
		m.pollErrors,
		m.usage,
		m.tasksLoaded,
	)
	return m
}

func (m *Metrics) TaskTriggered(task, typ string) {
	if m == nil {
		return
	}
	m.triggers.WithLabelValues(task, typ).Inc()
}

func (m *Metrics) ActionFailed(task, typ string) {
	if m == nil {
		return
	}
	m.actionFailures.WithLabelValues(task, typ).Inc()
}

// TransportMode marks mode as the active one. An empty mode clears both.
func (m *Metrics) TransportMode(mode string) {
	if m == nil {
		return
	}
	for _, name := range []string{"push", "poll"} {
		v := 0.0
		if name == mode {
			v = 1
		}
		m.transportMode.WithLabelValues(name).Set(v)
	}
}

func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) PollFallback() {
	if m == nil {
		return
	}
	m.fallbacks.Inc()
}

func (m *Metrics) PollError() {
	if m == nil {
		return
	}
	m.pollErrors.Inc()
}

// ObserveUsage copies the numeric fields of snap into the usage gauges.
func (m *Metrics) ObserveUsage(snap usage.Snapshot) {
	if m == nil {
		return
	}
	m.usage.WithLabelValues(usage.CPU.String()).Set(snap.CPUPercent)
	m.usage.WithLabelValues(usage.Memory.String()).Set(float64(snap.MemoryBytes))
	m.usage.WithLabelValues(usage.Disk.String()).Set(float64(snap.DiskBytes))
}

func (m *Metrics) TasksLoaded(n int) {
	if m == nil {
		return
	}
	m.tasksLoaded.Set(float64(n))
}
