// Package metrics holds the Prometheus collectors shared by the panel components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "panel",
		Name:      "ws_connect_attempts_total",
		Help:      "WebSocket connection attempts by outcome",
	}, []string{"outcome"}) // outcome=open|failed

	connectionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "panel",
		Name:      "ws_connection_state",
		Help:      "Current WebSocket connection state (1 for the active state)",
	}, []string{"state"})

	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "panel",
		Name:      "events_total",
		Help:      "Projected inbound events by kind and source",
	}, []string{"kind", "source"})

	suppressedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "panel",
		Name:      "events_suppressed_total",
		Help:      "Inbound hello frames that were not delivered to consumers",
	})

	dispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "panel",
		Name:      "dispatch_total",
		Help:      "REST actions by outcome",
	}, []string{"action", "outcome"}) // outcome=success|http_error|transport_error|bad_response

	pollTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "panel",
		Name:      "poll_total",
		Help:      "History polls by outcome",
	}, []string{"outcome"}) // outcome=new|unchanged|empty|error

	mirrorPublishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "panel",
		Name:      "mirror_publish_total",
		Help:      "MQTT mirror publishes by outcome",
	}, []string{"outcome"})
)

var knownStates = []string{"disconnected", "connecting", "connected"}

// RecordConnectAttempt counts one dial of the push channel.
func RecordConnectAttempt(opened bool) {
	outcome := "failed"
	if opened {
		outcome = "open"
	}
	connectAttempts.WithLabelValues(outcome).Inc()
}

// SetConnectionState marks state as the active connection state.
func SetConnectionState(state string) {
	for _, s := range knownStates {
		v := 0.0
		if s == state {
			v = 1
		}
		connectionState.WithLabelValues(s).Set(v)
	}
}

// RecordEvent counts one projected event.
func RecordEvent(kind, source string) {
	eventsTotal.WithLabelValues(kind, source).Inc()
}

// RecordSuppressed counts one suppressed hello frame.
func RecordSuppressed() {
	suppressedTotal.Inc()
}

// RecordDispatch counts one REST action outcome.
func RecordDispatch(action, outcome string) {
	dispatchTotal.WithLabelValues(action, outcome).Inc()
}

// RecordPoll counts one poll outcome.
func RecordPoll(outcome string) {
	pollTotal.WithLabelValues(outcome).Inc()
}

// RecordMirrorPublish counts one MQTT publish.
func RecordMirrorPublish(ok bool) {
	outcome := "error"
	if ok {
		outcome = "ok"
	}
	mirrorPublishTotal.WithLabelValues(outcome).Inc()
}
