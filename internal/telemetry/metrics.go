// Package telemetry holds the prometheus metrics exported by wifid.
package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "wifid"

var (
	// CommandsTotal counts control commands by verb and reply classification
	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Total number of control commands sent to the supplicant",
		},
		[]string{"verb", "result"},
	)

	// EventsTotal counts event lines received from the supplicant
	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Total number of supplicant events processed by the monitor",
		},
		[]string{"event"},
	)

	// NotificationsTotal counts notifications handed to callbacks
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Total number of notifications delivered to registered callbacks",
		},
		[]string{"kind"},
	)

	// NotificationsDroppedTotal counts notifications refused because the
	// delivery queue was full or already shut down
	NotificationsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dropped_total",
			Help:      "Total number of notifications dropped before delivery",
		},
		[]string{"kind", "reason"},
	)

	// RecoveriesTotal counts recovery cycles started after a hang
	RecoveriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recoveries_total",
			Help:      "Total number of recovery cycles started",
		},
	)

	// StateTransitionsTotal counts interface state changes by target state
	StateTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Total number of interface state transitions",
		},
		[]string{"to"},
	)

	once sync.Once
)

// InitMetrics registers all metrics with the default registry. Safe to call
// more than once.
func InitMetrics() {
	once.Do(func() {
		prometheus.DefaultRegisterer.Register(CommandsTotal)
		prometheus.DefaultRegisterer.Register(EventsTotal)
		prometheus.DefaultRegisterer.Register(NotificationsTotal)
		prometheus.DefaultRegisterer.Register(NotificationsDroppedTotal)
		prometheus.DefaultRegisterer.Register(RecoveriesTotal)
		prometheus.DefaultRegisterer.Register(StateTransitionsTotal)
	})
}
