package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/UrielAhumada/iot-frontend/config"
	"github.com/UrielAhumada/iot-frontend/mcp"
	"github.com/UrielAhumada/iot-frontend/panel"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the control panel as MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, closeLog, err := loadConfig(config.RoleControl, false)
		if err != nil {
			return err
		}
		defer closeLog()

		p, err := panel.New(panel.OptionsFromConfig(cfg))
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		done := make(chan error, 1)
		go func() { done <- p.Run(ctx) }()

		err = mcp.NewMCPServer(p, version).Run()
		cancel()
		if runErr := <-done; err == nil {
			err = runErr
		}
		return err
	},
}
