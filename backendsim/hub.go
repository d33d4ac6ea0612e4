package backendsim

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/UrielAhumada/iot-frontend/proto"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // panels are served from other origins
	},
}

// peer is one connected panel.
type peer struct {
	id   string
	conn *websocket.Conn
	wmu  sync.Mutex
	role string
}

func (p *peer) send(frame []byte) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return p.conn.WriteMessage(websocket.TextMessage, frame)
}

// Hub fans push frames out to every connected panel.
type Hub struct {
	logger     zerolog.Logger
	maxClients int

	mu     sync.RWMutex
	peers  map[string]*peer
	hellos map[string]int // role -> hello frames received
	refuse bool
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger:     logger,
		maxClients: 16,
		peers:      make(map[string]*peer),
		hellos:     make(map[string]int),
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	refuse, full := h.refuse, len(h.peers) >= h.maxClients
	h.mu.RUnlock()
	if refuse {
		http.Error(w, "push channel unavailable", http.StatusServiceUnavailable)
		return
	}
	if full {
		h.logger.Warn().Str("remote_addr", r.RemoteAddr).Msg("max clients reached, rejecting connection")
		http.Error(w, "too many clients", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to upgrade connection")
		return
	}
	go h.handleConnection(conn, r.RemoteAddr)
}

func (h *Hub) handleConnection(conn *websocket.Conn, remoteAddr string) {
	p := &peer{id: "ws-" + uuid.NewString()[:8], conn: conn}

	h.mu.Lock()
	h.peers[p.id] = p
	h.mu.Unlock()
	h.logger.Info().Str("addr", remoteAddr).Str("id", p.id).Msg("panel connected")

	defer func() {
		h.mu.Lock()
		delete(h.peers, p.id)
		h.mu.Unlock()
		conn.Close()
		h.logger.Info().Str("addr", remoteAddr).Str("id", p.id).Msg("panel disconnected")
	}()

	if hello, err := json.Marshal(proto.Envelope{Type: proto.TypeHello, From: "server"}); err == nil {
		_ = p.send(hello)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn().Err(err).Str("id", p.id).Msg("websocket connection error")
			}
			return
		}

		var env proto.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.logger.Warn().Err(err).Str("data", string(data)).Msg("invalid JSON message received")
			continue
		}
		if env.Type == proto.TypeHello {
			h.mu.Lock()
			p.role = env.From
			h.hellos[env.From]++
			h.mu.Unlock()
		}
	}
}

// Broadcast sends {type, data} to every connected panel and returns how many received it.
func (h *Hub) Broadcast(wireType string, data any) int {
	payload, err := json.Marshal(data)
	if err != nil {
		h.logger.Error().Err(err).Str("type", wireType).Msg("failed to encode push payload")
		return 0
	}
	frame, err := json.Marshal(proto.Envelope{Type: wireType, Data: payload})
	if err != nil {
		return 0
	}
	return h.BroadcastRaw(frame)
}

// BroadcastRaw sends frame verbatim, valid JSON or not.
func (h *Hub) BroadcastRaw(frame []byte) int {
	h.mu.RLock()
	peers := make([]*peer, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.RUnlock()

	sent := 0
	for _, p := range peers {
		if err := p.send(frame); err != nil {
			h.logger.Warn().Err(err).Str("id", p.id).Msg("error pushing frame to panel")
			continue
		}
		sent++
	}
	h.logger.Debug().Int("subscribers", sent).Int("size", len(frame)).Msg("frame pushed")
	return sent
}

// DropClients closes every live connection without a close handshake.
func (h *Hub) DropClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, p := range h.peers {
		p.conn.Close()
	}
	return len(h.peers)
}

// Refuse makes new push connections fail with 503 until called with false.
func (h *Hub) Refuse(on bool) {
	h.mu.Lock()
	h.refuse = on
	h.mu.Unlock()
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// Hellos returns how many hello frames a role has sent.
func (h *Hub) Hellos(role string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.hellos[role]
}

func (h *Hub) SetMaxClients(n int) {
	h.mu.Lock()
	h.maxClients = n
	h.mu.Unlock()
}
