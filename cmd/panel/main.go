package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/UrielAhumada/iot-frontend/config"
	"github.com/UrielAhumada/iot-frontend/internal/log"
)

var version = "dev"

type globalFlags struct {
	configPath string
	backend    string
	logFile    string
}

var flags globalFlags

var rootCmd = &cobra.Command{
	Use:           "panel",
	Short:         "Robot control and monitor panels",
	Long:          "Runs a control or monitor panel against the robot backend, or sends one-off actions.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&flags.backend, "backend", "", "backend base URL (overrides config and environment selection)")
	rootCmd.PersistentFlags().StringVar(&flags.logFile, "log-file", "", "write logs to this file instead of stderr")

	rootCmd.AddCommand(newRunCmd(config.RoleControl), newRunCmd(config.RoleMonitor), sendCmd, mcpCmd)
}

// loadConfig loads configuration, applies command-line overrides and sets up
// the process logger. quiet discards logs unless a log file was given.
func loadConfig(role string, quiet bool) (config.Config, func(), error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return cfg, nil, err
	}
	if role != "" {
		cfg.Role = role
	}
	if flags.backend != "" {
		cfg.BackendURL = flags.backend
	}
	if err := cfg.Validate(); err != nil {
		return cfg, nil, err
	}

	var out io.Writer
	closeLog := func() {}
	switch {
	case flags.logFile != "":
		f, err := os.OpenFile(flags.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return cfg, nil, fmt.Errorf("open log file: %w", err)
		}
		out = f
		closeLog = func() { _ = f.Close() }
	case quiet:
		out = io.Discard
	}
	log.Configure(log.Config{Level: cfg.Log.Level, Output: out, Service: "panel-" + cfg.Role})
	return cfg, closeLog, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
