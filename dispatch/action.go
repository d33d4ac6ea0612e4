package dispatch

import (
	"fmt"

	"github.com/UrielAhumada/iot-frontend/proto"
)

// ActionKind names a dispatchable action.
type ActionKind string

const (
	ActionMovement ActionKind = "movement"
	ActionObstacle ActionKind = "obstacle"
	ActionDemo     ActionKind = "demo"
)

const (
	MinSpeed = 0
	MaxSpeed = 100
)

// Action is one request the dispatcher can send.
type Action interface {
	Kind() ActionKind
	// Endpoint is the request path, including any query.
	Endpoint() string
	// Body is the JSON request body, nil when the request carries none.
	Body() any
	Validate() error
}

// Movement asks the device to move. A nil Speed omits "velocidad" from the request.
type Movement struct {
	Code     int
	Speed    *int
	DeviceID int
	ClientID int
}

// NewMovement builds a movement with the speed clamped to the accepted range.
func NewMovement(code, speed int) Movement {
	s := ClampSpeed(speed)
	return Movement{Code: code, Speed: &s}
}

func ClampSpeed(v int) int {
	if v < MinSpeed {
		return MinSpeed
	}
	if v > MaxSpeed {
		return MaxSpeed
	}
	return v
}

func (m Movement) Kind() ActionKind { return ActionMovement }
func (m Movement) Endpoint() string { return "/api/movimiento" }

func (m Movement) Body() any {
	body := proto.MovementBody{StatusClave: m.Code, DispositivoID: m.DeviceID, ClienteID: m.ClientID}
	if m.Speed != nil {
		s := ClampSpeed(*m.Speed)
		body.Velocidad = &s
	}
	return body
}

func (m Movement) Validate() error {
	if m.DeviceID <= 0 || m.ClientID <= 0 {
		return fmt.Errorf("%w: movement needs device and client ids", ErrInvalidAction)
	}
	return nil
}

// Obstacle reports an obstacle seen by the device.
type Obstacle struct {
	Code     int
	DeviceID int
	ClientID int
}

func (o Obstacle) Kind() ActionKind { return ActionObstacle }
func (o Obstacle) Endpoint() string { return "/api/obstaculo" }

func (o Obstacle) Body() any {
	return proto.ObstacleBody{ObstaculoClave: o.Code, DispositivoID: o.DeviceID, ClienteID: o.ClientID}
}

func (o Obstacle) Validate() error {
	if o.DeviceID <= 0 || o.ClientID <= 0 {
		return fmt.Errorf("%w: obstacle needs device and client ids", ErrInvalidAction)
	}
	return nil
}

// Demo asks the backend to insert Count synthetic records.
type Demo struct {
	Count int
}

func (d Demo) Kind() ActionKind { return ActionDemo }
func (d Demo) Endpoint() string { return fmt.Sprintf("/api/demo?n=%d", d.Count) }
func (d Demo) Body() any        { return nil }

func (d Demo) Validate() error {
	if d.Count <= 0 {
		return fmt.Errorf("%w: demo count must be positive, got %d", ErrInvalidAction, d.Count)
	}
	return nil
}
