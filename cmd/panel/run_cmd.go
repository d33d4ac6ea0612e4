package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/UrielAhumada/iot-frontend/config"
	"github.com/UrielAhumada/iot-frontend/internal/log"
	"github.com/UrielAhumada/iot-frontend/mirror"
	"github.com/UrielAhumada/iot-frontend/panel"
	"github.com/UrielAhumada/iot-frontend/tui"
	"github.com/UrielAhumada/iot-frontend/web"
)

type runFlags struct {
	listen string
	tui    bool
}

func newRunCmd(role string) *cobra.Command {
	var rf runFlags
	short := "Run the monitor panel: live feed, history polling and KPIs"
	if role == config.RoleControl {
		short = "Run the control panel: push feed plus movement, obstacle and demo actions"
	}

	cmd := &cobra.Command{
		Use:   role,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPanel(cmd.Context(), role, rf)
		},
	}
	cmd.Flags().StringVar(&rf.listen, "listen", "", "serve the HTTP surface on this address (overrides config)")
	cmd.Flags().BoolVar(&rf.tui, "tui", false, "show the terminal dashboard")
	return cmd
}

func runPanel(ctx context.Context, role string, rf runFlags) error {
	cfg, closeLog, err := loadConfig(role, rf.tui)
	if err != nil {
		return err
	}
	defer closeLog()
	if rf.listen != "" {
		cfg.HTTP.Listen = rf.listen
	}
	logger := log.WithComponent("cmd")

	p, err := panel.New(panel.OptionsFromConfig(cfg))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.Run(gctx) })

	if cfg.HTTP.Listen != "" {
		srv := web.NewServer(p, web.RateLimitConfig{RequestLimit: cfg.HTTP.RateLimit, WindowSize: cfg.HTTP.RateWindow})
		g.Go(func() error { return srv.ListenAndServe(gctx, cfg.HTTP.Listen) })
	}

	if cfg.MQTT.Broker != "" {
		mqttClient, err := mirror.Connect(cfg.MQTT, log.WithComponent("mirror"))
		if err != nil {
			// the panel works without its mirror
			logger.Warn().Err(err).Msg("MQTT mirror disabled")
		} else {
			defer mqttClient.Disconnect(250)
			m := mirror.New(mqttClient, cfg.MQTT.TopicPrefix, mirror.WithQoS(cfg.MQTT.QoS))
			unsubscribe := p.Subscribe(m.Handle)
			defer unsubscribe()
			g.Go(func() error { return m.Run(gctx) })
		}
	}

	if rf.tui {
		dash := tui.NewDashboard(p)
		g.Go(func() error {
			defer cancel()
			return dash.Run(gctx)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
