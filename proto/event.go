package proto

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"time"
)

// Kind classifies an inbound event.
type Kind string

const (
	KindCommand           Kind = "command"
	KindObstacle          Kind = "obstacle"
	KindDeviceAck         Kind = "device-ack"
	KindDeviceAckObstacle Kind = "device-ack-obstacle"
	KindDemo              Kind = "demo"
	KindHello             Kind = "hello"
	KindRaw               Kind = "raw"     // frame was not valid JSON
	KindUnknown           Kind = "unknown" // valid JSON with an unrecognised or missing type
)

// Source tells where an event came from.
type Source string

const (
	SourcePush Source = "push"
	SourcePoll Source = "poll"
)

// Event is a classified inbound message. It is built per frame and consumed immediately.
type Event struct {
	Kind       Kind
	Type       string // wire type as received, TypeDefault when absent
	Data       any    // decoded payload; the original text for KindRaw
	Source     Source
	ReceivedAt time.Time
}

// Suppressed reports whether the event is a liveness marker that consumers never see.
func (e Event) Suppressed() bool {
	return e.Kind == KindHello
}

// Field returns a top-level payload field when the payload is a JSON object.
func (e Event) Field(key string) (any, bool) {
	obj, ok := e.Data.(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := obj[key]
	return v, ok
}

// Detail renders the payload for feed rows and logs.
func (e Event) Detail() string {
	if e.Kind == KindRaw {
		s, _ := e.Data.(string)
		return s
	}
	b, err := json.Marshal(e.Data)
	if err != nil {
		return ""
	}
	return string(b)
}

var kinds = map[string]Kind{
	TypeHello:             KindHello,
	TypeCommand:           KindCommand,
	TypeObstacle:          KindObstacle,
	TypeDeviceAck:         KindDeviceAck,
	TypeDeviceAckObstacle: KindDeviceAckObstacle,
	TypeDemo:              KindDemo,
}

// KindOf maps a wire type to its kind.
func KindOf(wireType string) Kind {
	if k, ok := kinds[wireType]; ok {
		return k
	}
	return KindUnknown
}

// ParseEvent classifies one push frame. It never fails: text that is not a single
// JSON value becomes a KindRaw event carrying the text verbatim.
func ParseEvent(frame []byte, at time.Time) Event {
	v, err := decodeValue(frame)
	if err != nil {
		return Event{Kind: KindRaw, Type: string(KindRaw), Data: string(frame), Source: SourcePush, ReceivedAt: at}
	}

	wireType := TypeDefault
	data := v
	if obj, ok := v.(map[string]any); ok {
		if t, ok := obj["type"].(string); ok {
			wireType = t
		}
		if d, ok := obj["data"]; ok {
			data = d
		}
	}

	return Event{
		Kind:       KindOf(wireType),
		Type:       wireType,
		Data:       data,
		Source:     SourcePush,
		ReceivedAt: at,
	}
}

func decodeValue(b []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	// exactly one value per frame
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after JSON value")
	}
	return v, nil
}

// CodeString renders a code-like JSON value (number or string) as text.
// It returns "" for values that cannot be a code.
func CodeString(v any) string {
	switch c := v.(type) {
	case string:
		return c
	case json.Number:
		return c.String()
	case float64:
		return strconv.FormatFloat(c, 'f', -1, 64)
	case int:
		return strconv.Itoa(c)
	case int64:
		return strconv.FormatInt(c, 10)
	case bool:
		return strconv.FormatBool(c)
	default:
		return ""
	}
}
