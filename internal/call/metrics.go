package call

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "callkit",
		Subsystem: "call",
		Name:      "sessions_started_total",
		Help:      "Sessions successfully initialized.",
	})
	metricSessionsClosed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "callkit",
		Subsystem: "call",
		Name:      "sessions_closed_total",
		Help:      "Sessions torn down by Cleanup.",
	})
	metricStateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "callkit",
		Subsystem: "call",
		Name:      "state_transitions_total",
		Help:      "Connection state transitions by target state.",
	}, []string{"state"})
	metricRecoveryAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "callkit",
		Subsystem: "call",
		Name:      "recovery_attempts_total",
		Help:      "ICE restart attempts triggered by Disconnected/Failed.",
	})
	metricErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "callkit",
		Subsystem: "call",
		Name:      "errors_total",
		Help:      "Errors by kind.",
	}, []string{"kind"})
)

func countError(err error) {
	metricErrors.WithLabelValues(errorKind(err)).Inc()
}
