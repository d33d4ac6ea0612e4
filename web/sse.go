package web

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/UrielAhumada/iot-frontend/panel"
	"github.com/UrielAhumada/iot-frontend/projector"
)

const sseQueueSize = 64

type sseMessage struct {
	event string
	data  any
}

// sseConn is one event-stream subscriber. Producers never block on it: when
// the queue is full the message is dropped.
type sseConn struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	queue   chan sseMessage
}

func newSSEConn(w http.ResponseWriter, f http.Flusher) *sseConn {
	return &sseConn{writer: w, flusher: f, queue: make(chan sseMessage, sseQueueSize)}
}

func (c *sseConn) onChange(ch projector.Change) {
	event, data := eventFor(ch)
	c.offer(sseMessage{event: event, data: data})
}

func (c *sseConn) onNotice(n panel.Notice) {
	event, data := noticeEvent(n)
	c.offer(sseMessage{event: event, data: data})
}

func (c *sseConn) offer(m sseMessage) {
	select {
	case c.queue <- m:
	default:
	}
}

func (c *sseConn) write(event string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.writer, "event: %s\ndata: %s\n\n", event, b); err != nil {
		return err
	}
	c.flusher.Flush()
	return nil
}
