// Package metrics exposes bot counters over Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type Metrics struct {
	Registry *prometheus.Registry

	commands    *prometheus.CounterVec
	transitions *prometheus.CounterVec
	snapshots   prometheus.Counter
	rosterSize  prometheus.Gauge
}

// New registers the bot collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "whos_online_commands_total",
			Help: "Commands invoked, by command name.",
		}, []string{"command"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "whos_online_presence_transitions_total",
			Help: "Presence notifications that changed the roster, by direction.",
		}, []string{"direction"}),
		snapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "whos_online_snapshots_total",
			Help: "Snapshots loaded into the roster.",
		}),
		rosterSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "whos_online_roster_size",
			Help: "Members currently tracked as online.",
		}),
	}
	m.Registry.MustRegister(
		m.commands,
		m.transitions,
		m.snapshots,
		m.rosterSize,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) CommandInvoked(name string) {
	m.commands.WithLabelValues(name).Inc()
}

func (m *Metrics) Transition(direction string) {
	m.transitions.WithLabelValues(direction).Inc()
}

func (m *Metrics) SnapshotLoaded() {
	m.snapshots.Inc()
}

func (m *Metrics) SetRosterSize(n int) {
	m.rosterSize.Set(float64(n))
}
