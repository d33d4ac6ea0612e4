// Package mirror republishes a panel's feed and snapshot to an MQTT broker so
// other tools can follow the robot without opening their own push channel.
package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/UrielAhumada/iot-frontend/config"
	"github.com/UrielAhumada/iot-frontend/internal/log"
	"github.com/UrielAhumada/iot-frontend/metrics"
	"github.com/UrielAhumada/iot-frontend/projector"
)

const (
	// MaxQueueSize is the number of pending publishes before new ones are dropped.
	MaxQueueSize = 256

	defaultPublishTimeout = 5 * time.Second
)

// Publisher is the part of a paho client the mirror uses.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
}

type message struct {
	topic    string
	retained bool
	payload  []byte
}

type Mirror struct {
	pub     Publisher
	prefix  string
	qos     byte
	timeout time.Duration
	logger  zerolog.Logger

	queue chan message
}

type Option func(*Mirror)

func WithQoS(qos byte) Option {
	return func(m *Mirror) { m.qos = qos }
}

func WithPublishTimeout(d time.Duration) Option {
	return func(m *Mirror) {
		if d > 0 {
			m.timeout = d
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(m *Mirror) { m.logger = l }
}

func New(pub Publisher, prefix string, opts ...Option) *Mirror {
	m := &Mirror{
		pub:     pub,
		prefix:  prefix,
		timeout: defaultPublishTimeout,
		logger:  log.WithComponent("mirror"),
		queue:   make(chan message, MaxQueueSize),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// EventTopic is where feed entries of kind are published.
func (m *Mirror) EventTopic(kind string) string {
	return fmt.Sprintf("%s/events/%s", m.prefix, kind)
}

// StateTopic holds the retained snapshot.
func (m *Mirror) StateTopic() string {
	return m.prefix + "/state"
}

// Handle queues a change for publishing. It never blocks; a full queue drops
// the change. Use it as a projector listener.
func (m *Mirror) Handle(c projector.Change) {
	if c.Reason == projector.ReasonEvent && c.Entry != nil {
		if payload, err := json.Marshal(c.Entry); err == nil {
			m.offer(message{topic: m.EventTopic(string(c.Entry.Kind)), payload: payload})
		}
	}

	snap := c.Snapshot
	snap.History = nil
	if payload, err := json.Marshal(snap); err == nil {
		m.offer(message{topic: m.StateTopic(), retained: true, payload: payload})
	}
}

func (m *Mirror) offer(msg message) {
	select {
	case m.queue <- msg:
	default:
		m.logger.Warn().Str(log.FieldTopic, msg.topic).Msg("mirror queue full, dropping publish")
		metrics.RecordMirrorPublish(false)
	}
}

// Run publishes queued messages until ctx is cancelled.
func (m *Mirror) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-m.queue:
			m.publish(msg)
		}
	}
}

func (m *Mirror) publish(msg message) {
	token := m.pub.Publish(msg.topic, m.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(m.timeout) {
		m.logger.Warn().Str(log.FieldTopic, msg.topic).Msg("MQTT publish timeout")
		metrics.RecordMirrorPublish(false)
		return
	}
	if err := token.Error(); err != nil {
		m.logger.Warn().Err(err).Str(log.FieldTopic, msg.topic).Msg("MQTT publish failed")
		metrics.RecordMirrorPublish(false)
		return
	}
	metrics.RecordMirrorPublish(true)
}

var (
	newClient      = pahomqtt.NewClient
	connectTimeout = 5 * time.Second
)

// Connect dials the broker in cfg and returns the connected client. On
// failure the client is disconnected so no retry loop outlives the call.
func Connect(cfg config.MQTTConfig, logger zerolog.Logger) (pahomqtt.Client, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker not configured")
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "panel-" + uuid.NewString()[:8]
	}
	opts.SetClientID(clientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.OnConnect = func(pahomqtt.Client) {
		logger.Info().Str(log.FieldURL, cfg.Broker).Msg("connected to MQTT broker")
	}
	opts.OnConnectionLost = func(_ pahomqtt.Client, err error) {
		logger.Warn().Err(err).Str(log.FieldURL, cfg.Broker).Msg("MQTT connection lost")
	}

	client := newClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		// stop the retry loop ConnectRetry left running
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connect to %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, err)
	}
	return client, nil
}
