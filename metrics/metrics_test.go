package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSetConnectionStateIsExclusive(t *testing.T) {
	SetConnectionState("connecting")
	assert.Equal(t, 1.0, testutil.ToFloat64(connectionState.WithLabelValues("connecting")))
	assert.Equal(t, 0.0, testutil.ToFloat64(connectionState.WithLabelValues("connected")))

	SetConnectionState("connected")
	assert.Equal(t, 0.0, testutil.ToFloat64(connectionState.WithLabelValues("connecting")))
	assert.Equal(t, 1.0, testutil.ToFloat64(connectionState.WithLabelValues("connected")))
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(eventsTotal.WithLabelValues("command", "push"))
	RecordEvent("command", "push")
	RecordEvent("command", "push")
	assert.Equal(t, before+2, testutil.ToFloat64(eventsTotal.WithLabelValues("command", "push")))

	before = testutil.ToFloat64(connectAttempts.WithLabelValues("failed"))
	RecordConnectAttempt(false)
	assert.Equal(t, before+1, testutil.ToFloat64(connectAttempts.WithLabelValues("failed")))

	before = testutil.ToFloat64(dispatchTotal.WithLabelValues("movement", "http_error"))
	RecordDispatch("movement", "http_error")
	assert.Equal(t, before+1, testutil.ToFloat64(dispatchTotal.WithLabelValues("movement", "http_error")))
}
