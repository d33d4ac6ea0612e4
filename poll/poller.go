// Package poll is the history polling fallback layered on top of the push channel.
package poll

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/UrielAhumada/iot-frontend/internal/log"
	"github.com/UrielAhumada/iot-frontend/metrics"
	"github.com/UrielAhumada/iot-frontend/proto"
)

const DefaultInterval = 4 * time.Second

// Source reads the newest movement records, newest first.
type Source interface {
	RecentMovements(ctx context.Context, limit int) ([]proto.MovementRecord, error)
}

// Poller fetches the newest movement on a fixed interval and emits it as a
// command event whenever its de-duplication key changes.
type Poller struct {
	src      Source
	interval time.Duration
	emit     func(proto.Event)
	now      func() time.Time
	logger   zerolog.Logger

	mu      sync.Mutex
	lastKey string
}

type Option func(*Poller)

func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(p *Poller) { p.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(p *Poller) { p.now = now }
}

func New(src Source, emit func(proto.Event), opts ...Option) *Poller {
	p := &Poller{
		src:      src,
		interval: DefaultInterval,
		emit:     emit,
		now:      time.Now,
		logger:   log.WithComponent("poll"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// DedupKey derives the key that identifies a movement record.
func DedupKey(r proto.MovementRecord) string {
	return fmt.Sprintf("%s|%s|%s", r.FechaHora, proto.CodeString(r.Movimiento), proto.CodeString(r.Dispositivo))
}

// LastKey returns the key of the last emitted record.
func (p *Poller) LastKey() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastKey
}

// Prime marks rec as already seen, typically the newest record of a history load.
func (p *Poller) Prime(rec proto.MovementRecord) {
	p.mu.Lock()
	p.lastKey = DedupKey(rec)
	p.mu.Unlock()
}

// Poll performs one fetch. It reports whether a new event was emitted.
// Errors leave the last key untouched.
func (p *Poller) Poll(ctx context.Context) (bool, error) {
	recs, err := p.src.RecentMovements(ctx, 1)
	if err != nil {
		metrics.RecordPoll("error")
		return false, err
	}
	if len(recs) == 0 {
		metrics.RecordPoll("empty")
		return false, nil
	}

	rec := recs[0]
	key := DedupKey(rec)

	p.mu.Lock()
	if key == p.lastKey {
		p.mu.Unlock()
		metrics.RecordPoll("unchanged")
		return false, nil
	}
	p.lastKey = key
	p.mu.Unlock()

	metrics.RecordPoll("new")
	p.logger.Debug().Str(log.FieldDedupKey, key).Msg("new movement from history")
	if p.emit != nil {
		p.emit(proto.Event{
			Kind:       proto.KindCommand,
			Type:       proto.TypeCommand,
			Data:       rec.Payload(),
			Source:     proto.SourcePoll,
			ReceivedAt: p.now(),
		})
	}
	return true, nil
}

// Run polls immediately and then on every interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info().Dur("interval", p.interval).Msg("starting history poller")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if _, err := p.Poll(ctx); err != nil && ctx.Err() == nil {
			p.logger.Warn().Err(err).Msg("history poll failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
