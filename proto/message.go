package proto

import "encoding/json"

// Wire types recognised on the push channel.
const (
	TypeHello             = "hello"
	TypeCommand           = "command"
	TypeObstacle          = "obstacle"
	TypeDeviceAck         = "device-ack"
	TypeDeviceAckObstacle = "device-ack-obstacle"
	TypeDemo              = "demo"

	// TypeDefault is assumed when an inbound frame carries no usable "type".
	TypeDefault = "msg"
)

// Envelope is the frame shape used on the push channel.
type Envelope struct {
	Type string          `json:"type"`           // "hello", "command", "obstacle", ...
	From string          `json:"from,omitempty"` // sender role on outbound hello frames
	Data json.RawMessage `json:"data,omitempty"` // payload; shape depends on Type
}

// NewHello builds the optional handshake frame a panel sends after connecting.
func NewHello(role string) ([]byte, error) {
	return json.Marshal(Envelope{Type: TypeHello, From: role})
}

// MovementBody is the request body of POST /api/movimiento.
type MovementBody struct {
	StatusClave   int  `json:"status_clave"`
	Velocidad     *int `json:"velocidad,omitempty"`
	DispositivoID int  `json:"dispositivo_id"`
	ClienteID     int  `json:"cliente_id"`
}

// ObstacleBody is the request body of POST /api/obstaculo.
type ObstacleBody struct {
	ObstaculoClave int `json:"obstaculo_clave"`
	DispositivoID  int `json:"dispositivo_id"`
	ClienteID      int `json:"cliente_id"`
}

// EventAck is the success response of the movement and obstacle endpoints.
type EventAck struct {
	EventoID any `json:"evento_id"`
}

// DemoAck is the success response of POST /api/demo.
type DemoAck struct {
	Insertados int `json:"insertados"`
}

// MovementRecord is one row of GET /api/ultimos-mov.
type MovementRecord struct {
	FechaHora   string `json:"fecha_hora"`
	Movimiento  any    `json:"movimiento"`
	Dispositivo any    `json:"dispositivo"`
}

// Payload renders the record the way a pushed command payload looks to consumers.
func (r MovementRecord) Payload() map[string]any {
	return map[string]any{
		"fecha_hora":  r.FechaHora,
		"movimiento":  r.Movimiento,
		"dispositivo": r.Dispositivo,
	}
}

// ObstacleRecord is one row of GET /api/ultimos-obstaculos.
type ObstacleRecord struct {
	ObstaculoClave any    `json:"obstaculo_clave"`
	ObstaculoTexto string `json:"obstaculo_texto,omitempty"`
}
