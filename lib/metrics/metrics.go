// Package metrics exposes the counters and histograms qlock records about
// its own lock traffic, backed by github.com/VictoriaMetrics/metrics.
package metrics

import (
	"fmt"
	"io"

	"github.com/VictoriaMetrics/metrics"
)

// Set is a self-contained group of metrics for one table. Keeping a Set per
// table (rather than one global set of counters) lets a single process
// serving several tables report per-table acquire contention separately.
type Set struct {
	set *metrics.Set

	acquireTotal     *metrics.Counter
	acquireSuccess   *metrics.Counter
	acquireTimeout   *metrics.Counter
	acquireSteal     *metrics.Counter
	acquireLatency   *metrics.Histogram
	refreshTotal     *metrics.Counter
	refreshFailure   *metrics.Counter
	refreshStolen    *metrics.Counter
	releaseTotal     *metrics.Counter
	handlesHeldGauge *metrics.Counter
}

// NewSet creates a metrics.Set scoped to table and registers it with the
// default registry so it is included when the process's registry is
// written out (see WritePrometheus).
func NewSet(table string) *Set {
	set := metrics.NewSet()

	s := &Set{
		set:            set,
		acquireTotal:   set.NewCounter(fmt.Sprintf(`qlock_acquire_total{table=%q}`, table)),
		acquireSuccess: set.NewCounter(fmt.Sprintf(`qlock_acquire_success_total{table=%q}`, table)),
		acquireTimeout: set.NewCounter(fmt.Sprintf(`qlock_acquire_timeout_total{table=%q}`, table)),
		acquireSteal:   set.NewCounter(fmt.Sprintf(`qlock_acquire_steal_total{table=%q}`, table)),
		acquireLatency: set.NewHistogram(fmt.Sprintf(`qlock_acquire_duration_seconds{table=%q}`, table)),
		refreshTotal:   set.NewCounter(fmt.Sprintf(`qlock_refresh_total{table=%q}`, table)),
		refreshFailure: set.NewCounter(fmt.Sprintf(`qlock_refresh_failure_total{table=%q}`, table)),
		refreshStolen:  set.NewCounter(fmt.Sprintf(`qlock_refresh_stolen_total{table=%q}`, table)),
		releaseTotal:   set.NewCounter(fmt.Sprintf(`qlock_release_total{table=%q}`, table)),
	}
	s.handlesHeldGauge = set.NewCounter(fmt.Sprintf(`qlock_handles_held{table=%q}`, table))

	metrics.RegisterSet(set)
	return s
}

// Unregister removes this Set's metrics from the default registry. Call
// when a Session backed by this Set is closed for good.
func (s *Set) Unregister() {
	metrics.UnregisterSet(s.set, true)
}

// ObserveAcquire records the outcome and latency of one Acquire call.
func (s *Set) ObserveAcquire(seconds float64, stole bool, timedOut bool) {
	s.acquireTotal.Inc()
	s.acquireLatency.Update(seconds)
	switch {
	case timedOut:
		s.acquireTimeout.Inc()
	case stole:
		s.acquireSuccess.Inc()
		s.acquireSteal.Inc()
		s.handlesHeldGauge.Inc()
	default:
		s.acquireSuccess.Inc()
		s.handlesHeldGauge.Inc()
	}
}

// ObserveRefresh records the outcome of one background refresh attempt.
func (s *Set) ObserveRefresh(failed, stolen bool) {
	s.refreshTotal.Inc()
	if failed {
		s.refreshFailure.Inc()
	}
	if stolen {
		s.refreshStolen.Inc()
		s.handlesHeldGauge.Dec()
	}
}

// ObserveRelease records one Release call.
func (s *Set) ObserveRelease() {
	s.releaseTotal.Inc()
	s.handlesHeldGauge.Dec()
}

// WritePrometheus writes every registered Set's metrics, plus the process
// metrics VictoriaMetrics/metrics tracks globally, in Prometheus exposition
// format.
func WritePrometheus(w io.Writer) {
	metrics.WritePrometheus(w, true)
}
