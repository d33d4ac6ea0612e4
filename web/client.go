// Package web exposes a panel over HTTP: JSON state, action routes, a
// server-sent event stream and Prometheus metrics.
package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/UrielAhumada/iot-frontend/dispatch"
	"github.com/UrielAhumada/iot-frontend/internal/log"
	"github.com/UrielAhumada/iot-frontend/panel"
	"github.com/UrielAhumada/iot-frontend/projector"
)

// Panel is what the HTTP surface needs from a running panel.
type Panel interface {
	Role() string
	Snapshot() projector.LastSeen
	Subscribe(fn func(projector.Change)) func()
	OnNotice(fn func(panel.Notice)) func()
	Dispatch(ctx context.Context, a dispatch.Action) dispatch.Result
}

// RateLimitConfig bounds the action routes per client IP.
type RateLimitConfig struct {
	RequestLimit int
	WindowSize   time.Duration
}

type Server struct {
	panel     Panel
	rateLimit RateLimitConfig
	logger    zerolog.Logger
}

func NewServer(p Panel, rl RateLimitConfig) *Server {
	if rl.RequestLimit <= 0 {
		rl.RequestLimit = 20
	}
	if rl.WindowSize <= 0 {
		rl.WindowSize = time.Second
	}
	return &Server{
		panel:     p,
		rateLimit: rl,
		logger:    log.WithComponent("web"),
	}
}

// Routes returns the HTTP routes for the panel surface
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.HandleHealth)
	r.Get("/api/state", s.HandleState)
	r.Get("/api/feed", s.HandleFeed)
	r.Route("/api/actions", func(r chi.Router) {
		r.Use(s.actionRateLimit())
		r.Post("/movement", s.HandleMovement)
		r.Post("/obstacle", s.HandleObstacle)
		r.Post("/demo", s.HandleDemo)
	})
	r.Get("/events", s.HandleEvents)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (s *Server) actionRateLimit() func(http.Handler) http.Handler {
	return httprate.Limit(
		s.rateLimit.RequestLimit,
		s.rateLimit.WindowSize,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", max(1, int(s.rateLimit.WindowSize.Seconds()))))
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate_limit_exceeded"})
		}),
	)
}

// ListenAndServe serves Routes on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("starting HTTP surface")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
