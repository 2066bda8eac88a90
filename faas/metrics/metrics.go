// Package metrics exposes Runtime instrumentation as Prometheus
// collectors. Purely additive: no core operation in faas.Runtime depends
// on metrics being registered.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry wraps the gauges and counters a faas.Runtime updates as
// modules are registered, functions are allocated, and epochs tick.
type Registry struct {
	AllocatedFunctions prometheus.Gauge
	RegisteredModules  prometheus.Gauge
	EpochTicks         prometheus.Counter
	ForceStops         prometheus.Counter
}

// NewRegistry constructs collectors under the limes_faas namespace and
// registers them with reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	m := &Registry{
		AllocatedFunctions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "limes_faas",
			Name:      "allocated_functions",
			Help:      "Number of FunctionHandles currently allocated.",
		}),
		RegisteredModules: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "limes_faas",
			Name:      "registered_modules",
			Help:      "Number of distinct components in the Module Registry.",
		}),
		EpochTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "limes_faas",
			Name:      "engine_epoch_ticks_total",
			Help:      "Total epoch advances issued across all pooled engines.",
		}),
		ForceStops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "limes_faas",
			Name:      "force_stops_total",
			Help:      "Total exec_function calls that returned ForceStop.",
		}),
	}

	reg.MustRegister(m.AllocatedFunctions, m.RegisteredModules, m.EpochTicks, m.ForceStops)
	return m
}

// Observe updates the gauges from a faas.Stats-shaped snapshot. Callers
// pass the allocated/module counts directly to avoid an import cycle with
// package faas.
func (m *Registry) Observe(allocatedFunctions, registeredModules int) {
	m.AllocatedFunctions.Set(float64(allocatedFunctions))
	m.RegisteredModules.Set(float64(registeredModules))
}
