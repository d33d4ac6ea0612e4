// Package panel wires one event client, one dispatcher, one projector and,
// for the monitor role, one history poller into a single per-panel context.
package panel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/UrielAhumada/iot-frontend/client"
	"github.com/UrielAhumada/iot-frontend/config"
	"github.com/UrielAhumada/iot-frontend/dispatch"
	"github.com/UrielAhumada/iot-frontend/internal/log"
	"github.com/UrielAhumada/iot-frontend/poll"
	"github.com/UrielAhumada/iot-frontend/projector"
	"github.com/UrielAhumada/iot-frontend/proto"
)

var ErrAlreadyRunning = errors.New("panel: already running")

type Options struct {
	Role       string // config.RoleControl or config.RoleMonitor
	BackendURL string

	DeviceID int
	ClientID int

	ReconnectDelay time.Duration
	PollInterval   time.Duration // monitor only; 0 disables polling
	HistoryLimit   int
	FeedRetention  int
	RateBuckets    int
	RateInterval   time.Duration

	HTTPClient *http.Client  // nil uses the dispatcher default
	Dialer     client.Dialer // nil uses the WebSocket dialer
	Logger     *zerolog.Logger
}

// OptionsFromConfig maps loaded configuration onto panel options.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Role:           cfg.Role,
		BackendURL:     cfg.Backend(),
		DeviceID:       cfg.DeviceID,
		ClientID:       cfg.ClientID,
		ReconnectDelay: cfg.ReconnectDelay,
		PollInterval:   cfg.PollInterval,
		HistoryLimit:   cfg.HistoryLimit,
		FeedRetention:  cfg.FeedRetention,
		RateBuckets:    cfg.RateBuckets,
		RateInterval:   cfg.RateInterval,
	}
}

type Panel struct {
	role         string
	historyLimit int
	rateInterval time.Duration
	logger       zerolog.Logger

	client     *client.Client
	dispatcher *dispatch.Dispatcher
	projector  *projector.Projector
	poller     *poll.Poller

	running sync.Mutex
	started bool

	nmu        sync.Mutex
	noticeID   uint64
	noticeSubs map[uint64]func(Notice)
}

func New(opts Options) (*Panel, error) {
	if opts.Role != config.RoleControl && opts.Role != config.RoleMonitor {
		return nil, fmt.Errorf("unknown panel role %q", opts.Role)
	}
	wsURL, err := config.WebSocketURL(opts.BackendURL)
	if err != nil {
		return nil, err
	}

	logger := log.WithComponent("panel")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	logger = logger.With().Str(log.FieldRole, opts.Role).Logger()

	p := &Panel{
		role:         opts.Role,
		historyLimit: opts.HistoryLimit,
		rateInterval: opts.RateInterval,
		logger:       logger,
		noticeSubs:   make(map[uint64]func(Notice)),
	}
	if p.historyLimit <= 0 {
		p.historyLimit = 10
	}
	if p.rateInterval <= 0 {
		p.rateInterval = time.Minute
	}

	p.projector = projector.New(
		projector.WithRetention(opts.FeedRetention),
		projector.WithRateBuckets(opts.RateBuckets),
	)

	dopts := []dispatch.Option{
		dispatch.WithIDs(opts.DeviceID, opts.ClientID),
		dispatch.WithLogger(logger.With().Str(log.FieldComponent, "dispatch").Logger()),
	}
	if opts.HTTPClient != nil {
		dopts = append(dopts, dispatch.WithHTTPClient(opts.HTTPClient))
	}
	p.dispatcher = dispatch.New(opts.BackendURL, dopts...)

	copts := []client.Option{
		client.WithRole(opts.Role),
		client.WithReconnectDelay(opts.ReconnectDelay),
		client.WithLogger(logger.With().Str(log.FieldComponent, "client").Logger()),
		client.OnEvent(p.handleEvent),
		client.OnStateChange(func(ev client.StateEvent) { p.projector.SetConnection(ev.New) }),
	}
	if opts.Dialer != nil {
		copts = append(copts, client.WithDialer(opts.Dialer))
	}
	p.client = client.New(wsURL, copts...)

	if opts.Role == config.RoleMonitor && opts.PollInterval > 0 {
		p.poller = poll.New(p.dispatcher, p.handleEvent,
			poll.WithInterval(opts.PollInterval),
			poll.WithLogger(logger.With().Str(log.FieldComponent, "poll").Logger()),
		)
	}
	return p, nil
}

func (p *Panel) Role() string { return p.role }

func (p *Panel) Client() *client.Client { return p.client }

func (p *Panel) Dispatcher() *dispatch.Dispatcher { return p.dispatcher }

func (p *Panel) Projector() *projector.Projector { return p.projector }

// Run starts the event client, the history load and poller (monitor) and the
// rate ticker, and runs them until ctx is cancelled.
func (p *Panel) Run(ctx context.Context) error {
	p.running.Lock()
	if p.started {
		p.running.Unlock()
		return ErrAlreadyRunning
	}
	p.started = true
	p.running.Unlock()

	p.logger.Info().Str(log.FieldURL, p.client.URL()).Msg("starting panel")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.client.Run(gctx) })
	if p.role == config.RoleMonitor {
		// history loads alongside the push channel; the poller waits for it so
		// the seeded record is never re-emitted
		g.Go(func() error {
			p.LoadHistory(gctx)
			if p.poller == nil {
				return nil
			}
			return p.poller.Run(gctx)
		})
	}
	g.Go(func() error { return p.runRateTicker(gctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// LoadHistory seeds the projector from the history endpoints. A failure of
// either read raises a danger notice; whatever did load is still applied.
func (p *Panel) LoadHistory(ctx context.Context) {
	movements, merr := p.dispatcher.RecentMovements(ctx, p.historyLimit)
	obstacles, oerr := p.dispatcher.RecentObstacles(ctx, p.historyLimit)
	if err := errors.Join(merr, oerr); err != nil && ctx.Err() == nil {
		p.logger.Warn().Err(err).Msg("history load failed")
		p.notify(NoticeDanger, "could not load history")
	}
	if p.poller != nil && len(movements) > 0 {
		p.poller.Prime(movements[0])
	}
	p.projector.Seed(movements, obstacles)
}

func (p *Panel) runRateTicker(ctx context.Context) error {
	ticker := time.NewTicker(p.rateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.projector.Tick()
		}
	}
}

// Move sends a movement command with the speed clamped to 0..100.
func (p *Panel) Move(ctx context.Context, code, speed int) dispatch.Result {
	return p.Dispatch(ctx, dispatch.NewMovement(code, speed))
}

func (p *Panel) ReportObstacle(ctx context.Context, code int) dispatch.Result {
	return p.Dispatch(ctx, dispatch.Obstacle{Code: code})
}

func (p *Panel) Demo(ctx context.Context, n int) dispatch.Result {
	return p.Dispatch(ctx, dispatch.Demo{Count: n})
}

// Dispatch sends a and projects the result.
func (p *Panel) Dispatch(ctx context.Context, a dispatch.Action) dispatch.Result {
	res := p.dispatcher.Send(ctx, a)
	p.projector.ApplyResult(res)

	if res.Action == dispatch.ActionDemo {
		if res.OK {
			p.notify(NoticeInfo, fmt.Sprintf("DEMO x%d started", res.Inserted))
		} else {
			p.notify(NoticeDanger, "DEMO failed")
		}
	}
	return res
}

func (p *Panel) Snapshot() projector.LastSeen {
	return p.projector.Snapshot()
}

// Subscribe forwards projector changes to fn until the returned func is called.
func (p *Panel) Subscribe(fn func(projector.Change)) func() {
	return p.projector.Subscribe(fn)
}

func (p *Panel) handleEvent(ev proto.Event) {
	p.projector.ApplyEvent(ev)

	switch ev.Kind {
	case proto.KindDeviceAck:
		p.notify(NoticeSuccess, "device acknowledged")
	case proto.KindDemo:
		n, _ := ev.Field("n")
		p.notify(NoticeSecondary, fmt.Sprintf("DEMO inserted x%s", proto.CodeString(n)))
	}
}
