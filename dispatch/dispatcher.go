// Package dispatch sends one-shot REST actions to the robot backend and reads its history endpoints.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/UrielAhumada/iot-frontend/internal/log"
	"github.com/UrielAhumada/iot-frontend/metrics"
	"github.com/UrielAhumada/iot-frontend/proto"
)

const (
	DefaultTimeout = 10 * time.Second
	DefaultID      = 1

	maxBodyBytes  = 1 << 20
	maxErrorBytes = 256
)

// Result is the outcome of one Send. It is either a success carrying the
// backend identifier (or insert count for Demo) or a failure carrying Err.
type Result struct {
	Action   ActionKind
	OK       bool
	EventID  string // evento_id, movement and obstacle only
	Inserted int    // insertados, demo only
	Status   int    // HTTP status, 0 when no response arrived
	Err      error
	Code     int // command or obstacle code that was sent
	Count    int // requested demo count
	At       time.Time
	Duration time.Duration
}

type Dispatcher struct {
	base     string
	http     *http.Client
	deviceID int
	clientID int
	logger   zerolog.Logger
}

type Option func(*Dispatcher)

// WithHTTPClient replaces the instrumented default client.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.http = c }
}

// WithIDs sets the device and client ids filled into actions that leave them zero.
func WithIDs(deviceID, clientID int) Option {
	return func(d *Dispatcher) {
		if deviceID > 0 {
			d.deviceID = deviceID
		}
		if clientID > 0 {
			d.clientID = clientID
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

func New(base string, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		deviceID: DefaultID,
		clientID: DefaultID,
		logger:   log.WithComponent("dispatch"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) Base() string {
	return d.base
}

// Send issues a single request for a and classifies the outcome. It never retries.
func (d *Dispatcher) Send(ctx context.Context, a Action) Result {
	a, err := d.withDefaults(a)
	if err != nil {
		res := Result{Err: err, At: time.Now()}
		d.record(res)
		return res
	}
	res := Result{Action: a.Kind(), At: time.Now()}
	switch v := a.(type) {
	case Movement:
		res.Code = v.Code
	case Obstacle:
		res.Code = v.Code
	case Demo:
		res.Count = v.Count
	}

	defer func() {
		res.Duration = time.Since(res.At)
		d.record(res)
	}()

	if err := a.Validate(); err != nil {
		res.Err = err
		return res
	}

	op := string(a.Kind())
	status, body, err := d.do(ctx, op, http.MethodPost, a.Endpoint(), a.Body())
	res.Status = status
	if err != nil {
		res.Err = err
		return res
	}

	switch a.Kind() {
	case ActionDemo:
		var ack proto.DemoAck
		if err := decodeBody(body, &ack); err != nil {
			res.Err = &Error{Sentinel: ErrBadResponse, Operation: op, Status: status, Err: err}
			return res
		}
		res.Inserted = ack.Insertados
	default:
		var ack proto.EventAck
		if err := decodeBody(body, &ack); err != nil {
			res.Err = &Error{Sentinel: ErrBadResponse, Operation: op, Status: status, Err: err}
			return res
		}
		res.EventID = proto.CodeString(ack.EventoID)
	}
	res.OK = true
	return res
}

// RecentMovements reads the newest movement records, newest first.
func (d *Dispatcher) RecentMovements(ctx context.Context, limit int) ([]proto.MovementRecord, error) {
	var out []proto.MovementRecord
	if err := d.getJSON(ctx, "ultimos-mov", fmt.Sprintf("/api/ultimos-mov?limit=%d", limit), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RecentObstacles reads the newest obstacle records, newest first.
func (d *Dispatcher) RecentObstacles(ctx context.Context, limit int) ([]proto.ObstacleRecord, error) {
	var out []proto.ObstacleRecord
	if err := d.getJSON(ctx, "ultimos-obstaculos", fmt.Sprintf("/api/ultimos-obstaculos?limit=%d", limit), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (d *Dispatcher) getJSON(ctx context.Context, op, path string, out any) error {
	status, body, err := d.do(ctx, op, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if err := decodeBody(body, out); err != nil {
		return &Error{Sentinel: ErrBadResponse, Operation: op, Status: status, Err: err}
	}
	return nil
}

func (d *Dispatcher) do(ctx context.Context, op, method, path string, payload any) (int, []byte, error) {
	var reqBody io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, &Error{Sentinel: ErrInvalidAction, Operation: op, Err: err}
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, d.base+path, reqBody)
	if err != nil {
		return 0, nil, &Error{Sentinel: ErrTransport, Operation: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("ngrok-skip-browser-warning", "1")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == http.MethodGet {
		req.Header.Set("Cache-Control", "no-store")
		req.Header.Set("Pragma", "no-cache")
	}

	resp, err := d.http.Do(req)
	if err != nil {
		return 0, nil, &Error{Sentinel: ErrTransport, Operation: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, &Error{Sentinel: ErrTransport, Operation: op, Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, body, &Error{
			Sentinel:  ErrStatus,
			Operation: op,
			Status:    resp.StatusCode,
			Body:      snippet(body),
		}
	}
	return resp.StatusCode, body, nil
}

// withDefaults dereferences pointer actions and fills zero ids.
func (d *Dispatcher) withDefaults(a Action) (Action, error) {
	switch v := a.(type) {
	case nil:
		return nil, fmt.Errorf("%w: no action", ErrInvalidAction)
	case *Movement:
		if v == nil {
			return nil, fmt.Errorf("%w: nil movement", ErrInvalidAction)
		}
		return d.withDefaults(*v)
	case *Obstacle:
		if v == nil {
			return nil, fmt.Errorf("%w: nil obstacle", ErrInvalidAction)
		}
		return d.withDefaults(*v)
	case *Demo:
		if v == nil {
			return nil, fmt.Errorf("%w: nil demo", ErrInvalidAction)
		}
		return *v, nil
	case Movement:
		if v.DeviceID == 0 {
			v.DeviceID = d.deviceID
		}
		if v.ClientID == 0 {
			v.ClientID = d.clientID
		}
		return v, nil
	case Obstacle:
		if v.DeviceID == 0 {
			v.DeviceID = d.deviceID
		}
		if v.ClientID == 0 {
			v.ClientID = d.clientID
		}
		return v, nil
	}
	return a, nil
}

func (d *Dispatcher) record(res Result) {
	outcome := Outcome(res)
	metrics.RecordDispatch(string(res.Action), outcome)

	if res.OK {
		d.logger.Info().
			Str(log.FieldAction, string(res.Action)).
			Str(log.FieldEventID, res.EventID).
			Int("insertados", res.Inserted).
			Dur("duration", res.Duration).
			Msg("action accepted")
		return
	}
	d.logger.Warn().
		Err(res.Err).
		Str(log.FieldAction, string(res.Action)).
		Int(log.FieldStatus, res.Status).
		Msg("action failed")
}

// Outcome names the classification of a result for metrics and summaries.
func Outcome(res Result) string {
	switch {
	case res.OK:
		return "success"
	case errors.Is(res.Err, ErrStatus):
		return "http_error"
	case errors.Is(res.Err, ErrTransport):
		return "transport_error"
	case errors.Is(res.Err, ErrBadResponse):
		return "bad_response"
	default:
		return "invalid"
	}
}

func decodeBody(body []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	return dec.Decode(out)
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBytes {
		s = s[:maxErrorBytes] + "..."
	}
	return s
}
