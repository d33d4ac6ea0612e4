// Package projector folds inbound events, action results and connection
// changes into the LastSeen record a panel renders. Writes are last-write-wins.
package projector

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/UrielAhumada/iot-frontend/client"
	"github.com/UrielAhumada/iot-frontend/dispatch"
	"github.com/UrielAhumada/iot-frontend/metrics"
	"github.com/UrielAhumada/iot-frontend/proto"
)

const (
	DefaultRetention   = 50
	DefaultRateBuckets = 10
)

// FeedEntry is one row of the live feed.
type FeedEntry struct {
	ID     string       `json:"id"`
	Kind   proto.Kind   `json:"kind"`
	Type   string       `json:"type"`
	Source proto.Source `json:"source"`
	Detail string       `json:"detail"`
	At     time.Time    `json:"at"`
}

// ActionSummary describes the most recent dispatched action.
type ActionSummary struct {
	Action   dispatch.ActionKind `json:"action"`
	OK       bool                `json:"ok"`
	Outcome  string              `json:"outcome"`
	EventID  string              `json:"evento_id,omitempty"`
	Inserted int                 `json:"insertados,omitempty"`
	Status   int                 `json:"status,omitempty"`
	Error    string              `json:"error,omitempty"`
	At       time.Time           `json:"at"`
}

// LastSeen is the projected panel state.
type LastSeen struct {
	LastCommandCode  string         `json:"last_command_code"`
	LastObstacleCode string         `json:"last_obstacle_code"`
	TotalEvents      int            `json:"total_events"`
	Connection       client.State   `json:"connection"`
	Feed             []FeedEntry    `json:"feed"` // newest first
	Rate             []int          `json:"rate"` // oldest bucket first, current bucket last
	LastAction       *ActionSummary `json:"last_action,omitempty"`
	UpdatedAt        time.Time      `json:"updated_at"`

	History []proto.MovementRecord `json:"history,omitempty"` // as loaded by Seed
}

type Reason string

const (
	ReasonEvent      Reason = "event"
	ReasonResult     Reason = "result"
	ReasonConnection Reason = "connection"
	ReasonSeed       Reason = "seed"
	ReasonTick       Reason = "tick"
)

// Change is handed to listeners after every write. Entry is set for ReasonEvent.
type Change struct {
	Reason   Reason
	Entry    *FeedEntry
	Snapshot LastSeen
}

type listener struct {
	id uint64
	fn func(Change)
}

type Projector struct {
	retention int
	now       func() time.Time

	notifyMu sync.Mutex // serialises write+delivery; taken before mu

	mu        sync.Mutex
	state     LastSeen
	listeners []listener
	nextID    uint64
}

type Option func(*Projector)

func WithRetention(n int) Option {
	return func(p *Projector) {
		if n > 0 {
			p.retention = n
		}
	}
}

func WithRateBuckets(n int) Option {
	return func(p *Projector) {
		if n > 0 {
			p.state.Rate = make([]int, n)
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Projector) { p.now = now }
}

func New(opts ...Option) *Projector {
	p := &Projector{
		retention: DefaultRetention,
		now:       time.Now,
		state: LastSeen{
			Connection: client.StateDisconnected,
			Rate:       make([]int, DefaultRateBuckets),
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ApplyEvent projects one delivered event. Suppressed events are ignored.
func (p *Projector) ApplyEvent(ev proto.Event) {
	if ev.Suppressed() {
		return
	}
	at := ev.ReceivedAt
	if at.IsZero() {
		at = p.now()
	}
	entry := FeedEntry{
		ID:     uuid.NewString(),
		Kind:   ev.Kind,
		Type:   ev.Type,
		Source: ev.Source,
		Detail: ev.Detail(),
		At:     at,
	}

	p.commit(ReasonEvent, &entry, func() {
		switch ev.Kind {
		case proto.KindCommand:
			if code := CommandCode(ev); code != "" {
				p.state.LastCommandCode = code
			}
		case proto.KindObstacle:
			if code := ObstacleCode(ev); code != "" {
				p.state.LastObstacleCode = code
			}
		}
		p.state.TotalEvents++
		p.state.Feed = append([]FeedEntry{entry}, p.state.Feed...)
		if len(p.state.Feed) > p.retention {
			p.state.Feed = p.state.Feed[:p.retention]
		}
		if n := len(p.state.Rate); n > 0 {
			p.state.Rate[n-1]++
		}
	})
	metrics.RecordEvent(string(ev.Kind), string(ev.Source))
}

// ApplyResult projects a dispatched action. It never touches TotalEvents.
func (p *Projector) ApplyResult(res dispatch.Result) {
	summary := &ActionSummary{
		Action:   res.Action,
		OK:       res.OK,
		Outcome:  dispatch.Outcome(res),
		EventID:  res.EventID,
		Inserted: res.Inserted,
		Status:   res.Status,
		At:       res.At,
	}
	if res.Err != nil {
		summary.Error = res.Err.Error()
	}

	p.commit(ReasonResult, nil, func() {
		if res.OK {
			switch res.Action {
			case dispatch.ActionMovement:
				p.state.LastCommandCode = strconv.Itoa(res.Code)
			case dispatch.ActionObstacle:
				p.state.LastObstacleCode = strconv.Itoa(res.Code)
			}
		}
		p.state.LastAction = summary
	})
}

// SetConnection projects a connection state change.
func (p *Projector) SetConnection(s client.State) {
	p.commit(ReasonConnection, nil, func() {
		p.state.Connection = s
	})
}

// Seed sets the last codes from history (newest record first) without counting
// events. Codes already written by a live event or result are kept.
func (p *Projector) Seed(movements []proto.MovementRecord, obstacles []proto.ObstacleRecord) {
	p.commit(ReasonSeed, nil, func() {
		p.state.History = append([]proto.MovementRecord(nil), movements...)
		if len(movements) > 0 && p.state.LastCommandCode == "" {
			p.state.LastCommandCode = proto.CodeString(movements[0].Movimiento)
		}
		if len(obstacles) > 0 && p.state.LastObstacleCode == "" {
			p.state.LastObstacleCode = proto.CodeString(obstacles[0].ObstaculoClave)
		}
	})
}

// Tick closes the current rate bucket and opens an empty one.
func (p *Projector) Tick() {
	p.commit(ReasonTick, nil, func() {
		if n := len(p.state.Rate); n > 0 {
			copy(p.state.Rate, p.state.Rate[1:])
			p.state.Rate[n-1] = 0
		}
	})
}

// Snapshot returns a copy of the current state.
func (p *Projector) Snapshot() LastSeen {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// Subscribe registers fn for every subsequent change and returns its cancel func.
// Listeners run in the writer's goroutine after the state lock is released and
// see changes in write order. They may read the projector but must not write
// to it, and should not block.
func (p *Projector) Subscribe(fn func(Change)) func() {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.listeners = append(p.listeners, listener{id: id, fn: fn})
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			for i, l := range p.listeners {
				if l.id == id {
					p.listeners = append(p.listeners[:i:i], p.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// commit applies write under the state lock and delivers the resulting change.
// notifyMu is held from the write through delivery so listeners never see an
// older snapshot after a newer one.
func (p *Projector) commit(reason Reason, entry *FeedEntry, write func()) {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()

	p.mu.Lock()
	write()
	p.state.UpdatedAt = p.now()
	c := Change{Reason: reason, Entry: entry, Snapshot: p.snapshotLocked()}
	ls := append([]listener(nil), p.listeners...)
	p.mu.Unlock()

	for _, l := range ls {
		l.fn(c)
	}
}

func (p *Projector) snapshotLocked() LastSeen {
	s := p.state
	s.Feed = append([]FeedEntry(nil), p.state.Feed...)
	s.Rate = append([]int(nil), p.state.Rate...)
	s.History = append([]proto.MovementRecord(nil), p.state.History...)
	if p.state.LastAction != nil {
		a := *p.state.LastAction
		s.LastAction = &a
	}
	return s
}

// CommandCode extracts the command code of a command event. Polled history
// records carry it as "movimiento" instead of "status_clave".
func CommandCode(ev proto.Event) string {
	if v, ok := ev.Field("status_clave"); ok {
		if code := proto.CodeString(v); code != "" {
			return code
		}
	}
	if v, ok := ev.Field("movimiento"); ok {
		return proto.CodeString(v)
	}
	return ""
}

// ObstacleCode extracts the obstacle code of an obstacle event.
func ObstacleCode(ev proto.Event) string {
	if v, ok := ev.Field("obstaculo_clave"); ok {
		return proto.CodeString(v)
	}
	return ""
}
