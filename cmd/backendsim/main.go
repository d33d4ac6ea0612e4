package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/UrielAhumada/iot-frontend/backendsim"
	"github.com/UrielAhumada/iot-frontend/internal/log"
)

func main() {
	var (
		listen    string
		logLevel  string
		heartbeat time.Duration
	)

	cmd := &cobra.Command{
		Use:          "backendsim",
		Short:        "In-memory robot backend for local panel development",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Configure(log.Config{Level: logLevel, Service: "backendsim"})
			sim := backendsim.New()

			if heartbeat > 0 {
				go func() {
					ticker := time.NewTicker(heartbeat)
					defer ticker.Stop()
					for {
						select {
						case <-cmd.Context().Done():
							return
						case t := <-ticker.C:
							sim.Hub().Broadcast("heartbeat", map[string]any{"at": t.Unix()})
						}
					}
				}()
			}
			return sim.ListenAndServe(cmd.Context(), listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", ":5500", "address to serve the REST and /ws routes on")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level")
	cmd.Flags().DurationVar(&heartbeat, "heartbeat", 0, "broadcast a heartbeat event at this interval (0 disables)")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
