package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/UrielAhumada/iot-frontend/config"
	"github.com/UrielAhumada/iot-frontend/dispatch"
	"github.com/UrielAhumada/iot-frontend/internal/log"
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send one action to the backend and print the result",
}

func init() {
	var code, speed int
	movement := &cobra.Command{
		Use:   "movement",
		Short: "POST a movement command",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := dispatch.Movement{Code: code}
			if cmd.Flags().Changed("speed") {
				a = dispatch.NewMovement(code, speed)
			}
			return send(cmd, a)
		},
	}
	movement.Flags().IntVar(&code, "code", 0, "movement code")
	movement.Flags().IntVar(&speed, "speed", 0, "speed 0-100 (clamped)")
	_ = movement.MarkFlagRequired("code")

	var obstacleCode int
	obstacle := &cobra.Command{
		Use:   "obstacle",
		Short: "POST an obstacle report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return send(cmd, dispatch.Obstacle{Code: obstacleCode})
		},
	}
	obstacle.Flags().IntVar(&obstacleCode, "code", 0, "obstacle code")
	_ = obstacle.MarkFlagRequired("code")

	var n int
	demo := &cobra.Command{
		Use:   "demo",
		Short: "Ask the backend to insert demo movements",
		RunE: func(cmd *cobra.Command, args []string) error {
			return send(cmd, dispatch.Demo{Count: n})
		},
	}
	demo.Flags().IntVarP(&n, "count", "n", 10, "number of demo movements")

	sendCmd.AddCommand(movement, obstacle, demo)
}

func send(cmd *cobra.Command, a dispatch.Action) error {
	cfg, closeLog, err := loadConfig(config.RoleControl, false)
	if err != nil {
		return err
	}
	defer closeLog()

	d := dispatch.New(cfg.Backend(),
		dispatch.WithIDs(cfg.DeviceID, cfg.ClientID),
		dispatch.WithLogger(log.WithComponent("dispatch")),
	)
	res := d.Send(cmd.Context(), a)

	out := map[string]any{
		"action":  res.Action,
		"ok":      res.OK,
		"outcome": dispatch.Outcome(res),
	}
	if res.EventID != "" {
		out["evento_id"] = res.EventID
	}
	if res.Action == dispatch.ActionDemo && res.OK {
		out["insertados"] = res.Inserted
	}
	if res.Status != 0 {
		out["status"] = res.Status
	}
	if res.Err != nil {
		out["error"] = res.Err.Error()
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return err
	}

	if !res.OK {
		return fmt.Errorf("%s %s", res.Action, dispatch.Outcome(res))
	}
	return nil
}
