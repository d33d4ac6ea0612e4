// Package backendsim is an in-memory stand-in for the robot backend: the REST
// endpoints the panels call and the /ws push channel, for development and tests.
package backendsim

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/UrielAhumada/iot-frontend/internal/log"
	"github.com/UrielAhumada/iot-frontend/proto"
)

const defaultHistoryLimit = 10

// movementNames is how the backend labels movement codes in its history.
var movementNames = map[int]string{
	1: "FWD",
	2: "BACK",
	3: "LEFT",
	4: "RIGHT",
	5: "STOP",
	6: "ROTATE_L",
	7: "ROTATE_R",
}

// MovementName returns the history label for a movement code.
func MovementName(code int) string {
	if name, ok := movementNames[code]; ok {
		return name
	}
	return strconv.Itoa(code)
}

type Server struct {
	hub    *Hub
	logger zerolog.Logger
	now    func() time.Time

	mu        sync.Mutex
	movements []proto.MovementRecord // newest first
	obstacles []proto.ObstacleRecord // newest first
	nextID    int
	failures  []int
}

type Option func(*Server)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

func New(opts ...Option) *Server {
	s := &Server{
		logger: log.WithComponent("backendsim"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = NewHub(s.logger)
	return s
}

func (s *Server) Hub() *Hub {
	return s.hub
}

// Routes returns the REST and push routes.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/api/movimiento", s.HandleMovement)
	r.Post("/api/obstaculo", s.HandleObstacle)
	r.Post("/api/demo", s.HandleDemo)
	r.Get("/api/ultimos-mov", s.HandleRecentMovements)
	r.Get("/api/ultimos-obstaculos", s.HandleRecentObstacles)
	r.Handle("/ws", s.hub)
	return r
}

// ListenAndServe serves Routes on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.hub.DropClients()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", addr).Msg("starting backend simulator")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// FailNext makes the next REST action answer with status instead of being processed.
// Calls queue up.
func (s *Server) FailNext(status int) {
	s.mu.Lock()
	s.failures = append(s.failures, status)
	s.mu.Unlock()
}

// AddMovement stores a history record directly, without pushing anything.
func (s *Server) AddMovement(rec proto.MovementRecord) {
	s.mu.Lock()
	s.movements = append([]proto.MovementRecord{rec}, s.movements...)
	s.mu.Unlock()
}

func (s *Server) takeFailure() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.failures) == 0 {
		return 0, false
	}
	status := s.failures[0]
	s.failures = s.failures[1:]
	return status, true
}

func (s *Server) HandleMovement(w http.ResponseWriter, r *http.Request) {
	if status, ok := s.takeFailure(); ok {
		http.Error(w, "simulated failure", status)
		return
	}

	var body proto.MovementBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.movements = append([]proto.MovementRecord{{
		FechaHora:   s.now().UTC().Format(time.RFC3339),
		Movimiento:  MovementName(body.StatusClave),
		Dispositivo: body.DispositivoID,
	}}, s.movements...)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"evento_id": id})

	data := map[string]any{
		"evento_id":      id,
		"status_clave":   body.StatusClave,
		"dispositivo_id": body.DispositivoID,
		"cliente_id":     body.ClienteID,
	}
	if body.Velocidad != nil {
		data["velocidad"] = *body.Velocidad
	}
	s.hub.Broadcast(proto.TypeCommand, data)
	s.hub.Broadcast(proto.TypeDeviceAck, map[string]any{"evento_id": id, "status_clave": body.StatusClave})
}

func (s *Server) HandleObstacle(w http.ResponseWriter, r *http.Request) {
	if status, ok := s.takeFailure(); ok {
		http.Error(w, "simulated failure", status)
		return
	}

	var body proto.ObstacleBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.obstacles = append([]proto.ObstacleRecord{{ObstaculoClave: body.ObstaculoClave}}, s.obstacles...)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"evento_id": id})

	s.hub.Broadcast(proto.TypeObstacle, map[string]any{
		"evento_id":       id,
		"obstaculo_clave": body.ObstaculoClave,
		"dispositivo_id":  body.DispositivoID,
	})
	s.hub.Broadcast(proto.TypeDeviceAckObstacle, map[string]any{"evento_id": id, "obstaculo_clave": body.ObstaculoClave})
}

func (s *Server) HandleDemo(w http.ResponseWriter, r *http.Request) {
	if status, ok := s.takeFailure(); ok {
		http.Error(w, "simulated failure", status)
		return
	}

	n, err := strconv.Atoi(r.URL.Query().Get("n"))
	if err != nil || n <= 0 {
		http.Error(w, "n must be a positive integer", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	now := s.now().UTC()
	for i := 0; i < n; i++ {
		s.nextID++
		s.movements = append([]proto.MovementRecord{{
			FechaHora:   now.Add(time.Duration(i) * time.Millisecond).Format(time.RFC3339Nano),
			Movimiento:  MovementName(i%len(movementNames) + 1),
			Dispositivo: 1,
		}}, s.movements...)
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"insertados": n})
	s.hub.Broadcast(proto.TypeDemo, map[string]any{"n": n, "insertados": n})
}

func (s *Server) HandleRecentMovements(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r)
	s.mu.Lock()
	out := append([]proto.MovementRecord{}, s.movements[:min(limit, len(s.movements))]...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) HandleRecentObstacles(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r)
	s.mu.Lock()
	out := append([]proto.ObstacleRecord{}, s.obstacles[:min(limit, len(s.obstacles))]...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func parseLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		return defaultHistoryLimit
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
