package faas

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wippyai/limes-faas/errors"
	"github.com/wippyai/limes-faas/faas/metrics"
)

// EnableMetrics registers this Runtime's counters and gauges with reg.
// Optional: no core operation depends on metrics being enabled.
func (r *Runtime) EnableMetrics(reg prometheus.Registerer) {
	r.metrics = metrics.NewRegistry(reg)
}

// Metrics returns the registry installed by EnableMetrics, or nil if
// metrics were never enabled.
func (r *Runtime) Metrics() *metrics.Registry {
	return r.metrics
}

// observeMetrics refreshes the gauges after an operation that changes the
// allocated-functions or module count, if metrics are enabled.
func (r *Runtime) observeMetrics() {
	if r.metrics == nil {
		return
	}
	s := r.Stats()
	r.metrics.Observe(s.AllocatedFunctions, s.ModuleCount)
}

// noteEpochTick increments the epoch-ticks counter whenever a Lambda's
// bound engine epoch is advanced by a successful Stop.
func (r *Runtime) noteEpochTick() {
	if r.metrics == nil {
		return
	}
	r.metrics.EpochTicks.Inc()
}

// noteForceStop increments the force-stop counter when ExecFunction
// returns a ForceStop error, if metrics are enabled.
func (r *Runtime) noteForceStop(err error) {
	if r.metrics == nil || err == nil {
		return
	}
	if fe, ok := err.(*errors.Error); ok && fe.Kind == errors.KindForceStop {
		r.metrics.ForceStops.Inc()
	}
}
