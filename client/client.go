package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/UrielAhumada/iot-frontend/internal/log"
	"github.com/UrielAhumada/iot-frontend/metrics"
	"github.com/UrielAhumada/iot-frontend/proto"
)

// DefaultReconnectDelay is the fixed wait between a lost connection and the next attempt.
const DefaultReconnectDelay = 1200 * time.Millisecond

var (
	ErrAlreadyStarted = errors.New("client: already started")
	ErrNotConnected   = errors.New("client: not connected")
)

// Client owns one push connection to the backend event stream and keeps it alive:
// every close, including a failed open, is followed by exactly one new attempt after
// the reconnect delay, for as long as the Run context lives.
type Client struct {
	url            string
	role           string
	dialer         Dialer
	reconnectDelay time.Duration
	logger         zerolog.Logger

	onEvent func(proto.Event)
	onState func(StateEvent)

	mu        sync.RWMutex
	state     State
	conn      Conn
	lastHello time.Time

	wmu      sync.Mutex
	attempts atomic.Int64
	started  atomic.Bool
}

type Option func(*Client)

func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

func WithReconnectDelay(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.reconnectDelay = d
		}
	}
}

// WithRole enables the hello handshake announcing role after each open.
func WithRole(role string) Option {
	return func(c *Client) { c.role = role }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// OnEvent registers the consumer of delivered events. Hello frames never reach it.
func OnEvent(fn func(proto.Event)) Option {
	return func(c *Client) { c.onEvent = fn }
}

// OnStateChange registers the consumer of connection state transitions.
func OnStateChange(fn func(StateEvent)) Option {
	return func(c *Client) { c.onState = fn }
}

func New(url string, opts ...Option) *Client {
	c := &Client{
		url:            url,
		dialer:         NewWebSocketDialer(),
		reconnectDelay: DefaultReconnectDelay,
		logger:         log.WithComponent("client"),
		state:          StateDisconnected,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) URL() string {
	return c.url
}

func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Attempts returns how many connection opens have been attempted so far.
func (c *Client) Attempts() int64 {
	return c.attempts.Load()
}

// LastHello returns when the backend last sent a hello frame.
func (c *Client) LastHello() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastHello
}

// Run drives the connect / read / wait loop until ctx is cancelled. A handle runs once.
func (c *Client) Run(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	c.logger.Info().Str(log.FieldURL, c.url).Str(log.FieldRole, c.role).Msg("starting event client")

	for {
		c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		timer := time.NewTimer(c.reconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Send writes one frame on the live connection.
func (c *Client) Send(frame []byte) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	return conn.WriteMessage(frame)
}

// session performs one connection attempt and, if it opens, reads until it closes.
func (c *Client) session(ctx context.Context) {
	attempt := c.attempts.Add(1)
	c.setState(StateConnecting, nil)

	conn, err := c.dialer.Dial(ctx, c.url)
	if err != nil {
		metrics.RecordConnectAttempt(false)
		c.logger.Warn().Err(err).Int64(log.FieldAttempt, attempt).Msg("connection attempt failed")
		c.setState(StateDisconnected, err)
		return
	}
	metrics.RecordConnectAttempt(true)

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setState(StateConnected, nil)

	c.handshake()
	err = c.readLoop(ctx, conn)

	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
	conn.Close()

	c.logger.Info().Err(err).Int64(log.FieldAttempt, attempt).Msg("connection closed")
	c.setState(StateDisconnected, err)
}

func (c *Client) handshake() {
	if c.role == "" {
		return
	}
	frame, err := proto.NewHello(c.role)
	if err == nil {
		err = c.Send(frame)
	}
	if err != nil {
		c.logger.Debug().Err(err).Msg("hello handshake not sent")
	}
}

func (c *Client) readLoop(ctx context.Context, conn Conn) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		c.deliver(proto.ParseEvent(frame, time.Now()))
	}
}

func (c *Client) deliver(ev proto.Event) {
	if ev.Suppressed() {
		c.mu.Lock()
		c.lastHello = ev.ReceivedAt
		c.mu.Unlock()
		metrics.RecordSuppressed()
		return
	}

	c.logger.Debug().Str(log.FieldKind, string(ev.Kind)).Str(log.FieldType, ev.Type).Msg("event received")
	if c.onEvent == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Str(log.FieldKind, string(ev.Kind)).Str("panic", fmt.Sprint(r)).Msg("event consumer panicked")
		}
	}()
	c.onEvent(ev)
}

func (c *Client) setState(s State, cause error) {
	c.mu.Lock()
	old := c.state
	c.state = s
	c.mu.Unlock()
	if old == s {
		return
	}

	metrics.SetConnectionState(s.String())
	c.logger.Debug().Str(log.FieldOldState, old.String()).Str(log.FieldNewState, s.String()).Msg("connection state changed")
	if c.onState != nil {
		c.onState(StateEvent{Old: old, New: s, Err: cause})
	}
}
