package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/UrielAhumada/iot-frontend/config"
	"github.com/UrielAhumada/iot-frontend/projector"
	"github.com/UrielAhumada/iot-frontend/proto"
)

type fakeToken struct {
	err     error
	timeout bool
	done    chan struct{}
}

func newToken(err error, timeout bool) *fakeToken {
	t := &fakeToken{err: err, timeout: timeout, done: make(chan struct{})}
	if !timeout {
		close(t.done)
	}
	return t
}

func (t *fakeToken) Wait() bool                     { return !t.timeout }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timeout }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type fakePublisher struct {
	mu      sync.Mutex
	msgs    []published
	err     error
	timeout bool
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{topic: topic, retained: retained, payload: payload.([]byte)})
	return newToken(p.err, p.timeout)
}

func (p *fakePublisher) all() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.msgs...)
}

func runMirror(t *testing.T, m *Mirror) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestMirrorPublishesOneMessagePerFeedEntry(t *testing.T) {
	defer goleak.VerifyNone(t)

	pub := &fakePublisher{}
	m := New(pub, "robot", WithLogger(zerolog.Nop()))
	p := projector.New()
	p.Subscribe(m.Handle)

	p.ApplyEvent(proto.ParseEvent([]byte(`{"type":"command","data":{"status_clave":3}}`), time.Now()))
	p.ApplyEvent(proto.ParseEvent([]byte(`{"type":"obstacle","data":{"obstaculo_clave":1}}`), time.Now()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	require.Eventually(t, func() bool { return len(pub.all()) == 4 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	var events []published
	var states []published
	for _, msg := range pub.all() {
		if msg.topic == "robot/state" {
			states = append(states, msg)
		} else {
			events = append(events, msg)
		}
	}
	require.Len(t, events, 2)
	assert.Equal(t, "robot/events/command", events[0].topic)
	assert.Equal(t, "robot/events/obstacle", events[1].topic)
	assert.False(t, events[0].retained)

	var entry projector.FeedEntry
	require.NoError(t, json.Unmarshal(events[0].payload, &entry))
	assert.Equal(t, proto.KindCommand, entry.Kind)

	require.Len(t, states, 2)
	assert.True(t, states[1].retained)
	var snap map[string]any
	require.NoError(t, json.Unmarshal(states[1].payload, &snap))
	assert.Equal(t, "3", snap["last_command_code"])
	assert.Equal(t, "1", snap["last_obstacle_code"])
	assert.Equal(t, float64(2), snap["total_events"])
}

func TestMirrorStateOnlyChanges(t *testing.T) {
	pub := &fakePublisher{}
	m := New(pub, "p", WithLogger(zerolog.Nop()))

	m.Handle(projector.Change{Reason: projector.ReasonConnection, Snapshot: projector.LastSeen{
		History: []proto.MovementRecord{{Movimiento: "FWD"}},
	}})
	runMirror(t, m)
	require.Eventually(t, func() bool { return len(pub.all()) == 1 }, time.Second, 5*time.Millisecond)

	msg := pub.all()[0]
	assert.Equal(t, "p/state", msg.topic)
	assert.NotContains(t, string(msg.payload), "history")
}

func TestMirrorPublishFailures(t *testing.T) {
	before := publishErrors(t)

	pub := &fakePublisher{err: errors.New("not connected")}
	m := New(pub, "p", WithLogger(zerolog.Nop()))
	m.publish(message{topic: "p/state", payload: []byte("{}")})

	pub.err = nil
	pub.timeout = true
	m.publish(message{topic: "p/state", payload: []byte("{}")})

	assert.Equal(t, before+2, publishErrors(t))
}

func TestMirrorDropsWhenQueueFull(t *testing.T) {
	pub := &fakePublisher{}
	m := New(pub, "p", WithLogger(zerolog.Nop()))
	for i := 0; i < MaxQueueSize+10; i++ {
		m.Handle(projector.Change{Reason: projector.ReasonTick})
	}
	assert.Len(t, m.queue, MaxQueueSize)
}

func TestConnectRequiresBroker(t *testing.T) {
	_, err := Connect(config.MQTTConfig{}, zerolog.Nop())
	assert.Error(t, err)
}

type fakeClient struct {
	pahomqtt.Client
	token        pahomqtt.Token
	disconnected int
}

func (c *fakeClient) Connect() pahomqtt.Token { return c.token }
func (c *fakeClient) Disconnect(uint)         { c.disconnected++ }

func withFakeClient(t *testing.T, token pahomqtt.Token) *fakeClient {
	t.Helper()
	fc := &fakeClient{token: token}
	prevNew, prevTimeout := newClient, connectTimeout
	newClient = func(*pahomqtt.ClientOptions) pahomqtt.Client { return fc }
	connectTimeout = 10 * time.Millisecond
	t.Cleanup(func() { newClient, connectTimeout = prevNew, prevTimeout })
	return fc
}

func TestConnectDisconnectsOnFailure(t *testing.T) {
	cfg := config.MQTTConfig{Broker: "tcp://127.0.0.1:1883"}

	t.Run("timeout", func(t *testing.T) {
		fc := withFakeClient(t, newToken(nil, true))
		client, err := Connect(cfg, zerolog.Nop())
		require.ErrorContains(t, err, "timeout")
		assert.Nil(t, client)
		assert.Equal(t, 1, fc.disconnected)
	})

	t.Run("refused", func(t *testing.T) {
		fc := withFakeClient(t, newToken(errors.New("not authorized"), false))
		client, err := Connect(cfg, zerolog.Nop())
		require.ErrorContains(t, err, "not authorized")
		assert.Nil(t, client)
		assert.Equal(t, 1, fc.disconnected)
	})

	t.Run("connected", func(t *testing.T) {
		fc := withFakeClient(t, newToken(nil, false))
		client, err := Connect(cfg, zerolog.Nop())
		require.NoError(t, err)
		assert.Same(t, fc, client)
		assert.Zero(t, fc.disconnected)
	})
}

func publishErrors(t *testing.T) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "panel_mirror_publish_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "outcome" && l.GetValue() == "error" {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
