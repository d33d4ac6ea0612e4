package poll

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/UrielAhumada/iot-frontend/proto"
)

type fakeSource struct {
	mu    sync.Mutex
	recs  []proto.MovementRecord
	err   error
	calls int
}

func (f *fakeSource) RecentMovements(_ context.Context, limit int) ([]proto.MovementRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.recs) {
		return f.recs[:limit], nil
	}
	return f.recs, nil
}

func (f *fakeSource) set(recs []proto.MovementRecord, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs, f.err = recs, err
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type sink struct {
	mu     sync.Mutex
	events []proto.Event
}

func (s *sink) emit(ev proto.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *sink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

var fwd = proto.MovementRecord{FechaHora: "2024-01-01T00:00:00Z", Movimiento: "FWD", Dispositivo: "D1"}

func TestPoll_IdenticalRecordEmitsOnce(t *testing.T) {
	src := &fakeSource{recs: []proto.MovementRecord{fwd}}
	out := &sink{}
	p := New(src, out.emit, WithLogger(zerolog.Nop()))

	emitted, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.True(t, emitted)

	emitted, err = p.Poll(context.Background())
	require.NoError(t, err)
	assert.False(t, emitted)

	require.Equal(t, 1, out.len())
	ev := out.events[0]
	assert.Equal(t, proto.KindCommand, ev.Kind)
	assert.Equal(t, proto.SourcePoll, ev.Source)
	code, _ := ev.Field("movimiento")
	assert.Equal(t, "FWD", code)
}

func TestPoll_ChangedRecordEmits(t *testing.T) {
	src := &fakeSource{recs: []proto.MovementRecord{fwd}}
	out := &sink{}
	p := New(src, out.emit, WithLogger(zerolog.Nop()))

	_, _ = p.Poll(context.Background())
	next := fwd
	next.FechaHora = "2024-01-01T00:00:05Z"
	src.set([]proto.MovementRecord{next}, nil)

	emitted, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.True(t, emitted)
	assert.Equal(t, 2, out.len())
	assert.Equal(t, DedupKey(next), p.LastKey())
}

func TestPoll_ErrorKeepsKey(t *testing.T) {
	src := &fakeSource{recs: []proto.MovementRecord{fwd}}
	out := &sink{}
	p := New(src, out.emit, WithLogger(zerolog.Nop()))

	_, _ = p.Poll(context.Background())
	key := p.LastKey()

	src.set(nil, errors.New("backend down"))
	emitted, err := p.Poll(context.Background())
	assert.Error(t, err)
	assert.False(t, emitted)
	assert.Equal(t, key, p.LastKey())

	src.set([]proto.MovementRecord{fwd}, nil)
	emitted, err = p.Poll(context.Background())
	require.NoError(t, err)
	assert.False(t, emitted, "same record after an outage is not new")
	assert.Equal(t, 1, out.len())
}

func TestPoll_EmptyHistory(t *testing.T) {
	src := &fakeSource{}
	out := &sink{}
	p := New(src, out.emit, WithLogger(zerolog.Nop()))

	emitted, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.False(t, emitted)
	assert.Empty(t, p.LastKey())
}

func TestPoll_PrimedRecordIsNotNew(t *testing.T) {
	src := &fakeSource{recs: []proto.MovementRecord{fwd}}
	out := &sink{}
	p := New(src, out.emit, WithLogger(zerolog.Nop()))
	p.Prime(fwd)

	emitted, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.False(t, emitted)
	assert.Zero(t, out.len())
}

func TestDedupKey(t *testing.T) {
	assert.Equal(t, "2024-01-01T00:00:00Z|FWD|D1", DedupKey(fwd))
}

func TestRun_PollsUntilCancelled(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := &fakeSource{recs: []proto.MovementRecord{fwd}}
	out := &sink{}
	p := New(src, out.emit, WithLogger(zerolog.Nop()), WithInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return src.callCount() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, 1, out.len())
}
