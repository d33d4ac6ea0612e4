package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/UrielAhumada/iot-frontend/dispatch"
	"github.com/UrielAhumada/iot-frontend/panel"
	"github.com/UrielAhumada/iot-frontend/projector"
)

type errorBody struct {
	Error string `json:"error"`
}

type resultBody struct {
	Action   dispatch.ActionKind `json:"action"`
	OK       bool                `json:"ok"`
	Outcome  string              `json:"outcome"`
	EventID  string              `json:"evento_id,omitempty"`
	Inserted int                 `json:"insertados,omitempty"`
	Status   int                 `json:"status,omitempty"`
	Error    string              `json:"error,omitempty"`
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.panel.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"role":       s.panel.Role(),
		"connection": snap.Connection,
	})
}

func (s *Server) HandleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.panel.Snapshot())
}

// HandleFeed returns the live feed, newest first, optionally capped by ?limit.
func (s *Server) HandleFeed(w http.ResponseWriter, r *http.Request) {
	feed := s.panel.Snapshot().Feed
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be a non-negative integer"})
			return
		}
		feed = feed[:min(limit, len(feed))]
	}
	writeJSON(w, http.StatusOK, feed)
}

func (s *Server) HandleMovement(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code  *int `json:"code"`
		Speed *int `json:"speed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "body must be {\"code\": int, \"speed\"?: int}"})
		return
	}
	s.dispatch(w, r, dispatch.Movement{Code: *req.Code, Speed: req.Speed})
}

func (s *Server) HandleObstacle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code *int `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "body must be {\"code\": int}"})
		return
	}
	s.dispatch(w, r, dispatch.Obstacle{Code: *req.Code})
}

func (s *Server) HandleDemo(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(r.URL.Query().Get("n"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "n must be an integer"})
		return
	}
	s.dispatch(w, r, dispatch.Demo{Count: n})
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, a dispatch.Action) {
	res := s.panel.Dispatch(r.Context(), a)
	body := resultBody{
		Action:   res.Action,
		OK:       res.OK,
		Outcome:  dispatch.Outcome(res),
		EventID:  res.EventID,
		Inserted: res.Inserted,
		Status:   res.Status,
	}
	if res.Err != nil {
		body.Error = res.Err.Error()
	}

	status := http.StatusOK
	switch {
	case res.OK:
	case errors.Is(res.Err, dispatch.ErrInvalidAction):
		status = http.StatusBadRequest
	default:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, body)
}

// HandleEvents streams projector changes and notices as server-sent events.
func (s *Server) HandleEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.logger.Error().Msg("streaming unsupported")
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	conn := newSSEConn(w, flusher)
	unsubscribe := s.panel.Subscribe(conn.onChange)
	defer unsubscribe()
	stopNotices := s.panel.OnNotice(conn.onNotice)
	defer stopNotices()

	if err := conn.write("state", s.panel.Snapshot()); err != nil {
		return
	}

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case msg := <-conn.queue:
			if err := conn.write(msg.event, msg.data); err != nil {
				s.logger.Debug().Err(err).Msg("SSE client went away")
				return
			}
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func eventFor(c projector.Change) (string, any) {
	switch c.Reason {
	case projector.ReasonEvent:
		return "feed", c.Entry
	case projector.ReasonConnection:
		return "connection", map[string]any{"state": c.Snapshot.Connection}
	default:
		return "state", c.Snapshot
	}
}

func noticeEvent(n panel.Notice) (string, any) {
	return "notice", n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
