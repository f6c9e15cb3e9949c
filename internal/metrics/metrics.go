// Package metrics is the controller's Prometheus instrumentation.
// Every metric here has a concrete producer inside the controller,
// worker manager, or state manager.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveIrrigationWorkers tracks the number of active irrigation workers, read by
	// the controller every refresh_state cycle.
	ActiveIrrigationWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "irrigation",
		Name:      "active_irrigation_workers",
		Help:      "Number of circuits currently irrigating.",
	})

	// IrrigationDurationSeconds observes each completed irrigation's
	// actual run duration, labeled by outcome.
	IrrigationDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "irrigation",
		Name:      "duration_seconds",
		Help:      "Observed irrigation run duration in seconds.",
		Buckets:   prometheus.ExponentialBuckets(10, 2, 12),
	}, []string{"outcome"})

	// ControllerState mirrors the derived controller state as a
	// gauge with one boolean series per state, 1 for the current state.
	ControllerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "irrigation",
		Name:      "controller_state",
		Help:      "Current controller state (1 for the active state, 0 otherwise).",
	}, []string{"state"})

	// PersistenceRetriesTotal counts every retried disk write in
	// internal/state.
	PersistenceRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "irrigation",
		Name:      "persistence_retries_total",
		Help:      "Total number of retried state/log disk writes.",
	})
)

// SetControllerState zeroes every other known state series and sets the
// current one to 1, so a Prometheus query can alert on a state change
// without needing a counter reset.
func SetControllerState(states []string, current string) {
	for _, s := range states {
		if s == current {
			ControllerState.WithLabelValues(s).Set(1)
		} else {
			ControllerState.WithLabelValues(s).Set(0)
		}
	}
}
