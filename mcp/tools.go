package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/UrielAhumada/iot-frontend/dispatch"
	"github.com/UrielAhumada/iot-frontend/projector"
)

// Panel is the subset of a running panel the tools drive.
type Panel interface {
	Snapshot() projector.LastSeen
	Dispatch(ctx context.Context, a dispatch.Action) dispatch.Result
}

type Tools struct {
	panel Panel
}

func NewTools(p Panel) *Tools {
	return &Tools{panel: p}
}

// Register adds every tool to srv.
func (t *Tools) Register(srv *server.MCPServer) {
	srv.AddTool(mcp.NewTool("move",
		mcp.WithDescription("Send a movement command to the robot"),
		mcp.WithNumber("code",
			mcp.Required(),
			mcp.Description("Movement code (1 FWD, 2 BACK, 3 LEFT, 4 RIGHT, 5 STOP, 6 ROTATE_L, 7 ROTATE_R)"),
		),
		mcp.WithNumber("speed",
			mcp.Description("Speed 0-100; out of range values are clamped"),
		),
	), t.HandleMove)

	srv.AddTool(mcp.NewTool("report_obstacle",
		mcp.WithDescription("Report an obstacle code to the backend"),
		mcp.WithNumber("code",
			mcp.Required(),
			mcp.Description("Obstacle code"),
		),
	), t.HandleReportObstacle)

	srv.AddTool(mcp.NewTool("run_demo",
		mcp.WithDescription("Ask the backend to insert n demo movements"),
		mcp.WithNumber("n",
			mcp.Required(),
			mcp.Description("Number of demo movements, at least 1"),
		),
	), t.HandleRunDemo)

	srv.AddTool(mcp.NewTool("get_state",
		mcp.WithDescription("Return the panel's last seen command, obstacle, event count and connection state"),
		mcp.WithBoolean("include_feed",
			mcp.Description("Include the live feed, newest first"),
		),
	), t.HandleGetState)
}

func (t *Tools) HandleMove(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := requireInt(request, "code")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	mv := dispatch.Movement{Code: code}
	if _, ok := request.GetArguments()["speed"]; ok {
		speed, err := requireInt(request, "speed")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		mv = dispatch.NewMovement(code, speed)
	}
	return resultFor(t.panel.Dispatch(ctx, mv))
}

func (t *Tools) HandleReportObstacle(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := requireInt(request, "code")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return resultFor(t.panel.Dispatch(ctx, dispatch.Obstacle{Code: code}))
}

func (t *Tools) HandleRunDemo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	n, err := requireInt(request, "n")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return resultFor(t.panel.Dispatch(ctx, dispatch.Demo{Count: n}))
}

func (t *Tools) HandleGetState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap := t.panel.Snapshot()
	state := map[string]any{
		"last_command_code":  snap.LastCommandCode,
		"last_obstacle_code": snap.LastObstacleCode,
		"total_events":       snap.TotalEvents,
		"connection":         snap.Connection,
		"rate":               snap.Rate,
	}
	if snap.LastAction != nil {
		state["last_action"] = snap.LastAction
	}
	if request.GetBool("include_feed", false) {
		state["feed"] = snap.Feed
	}

	resultBytes, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(resultBytes)), nil
}

func resultFor(res dispatch.Result) (*mcp.CallToolResult, error) {
	if !res.OK {
		return mcp.NewToolResultError(fmt.Sprintf("%s failed (%s): %v", res.Action, dispatch.Outcome(res), res.Err)), nil
	}

	body := map[string]any{
		"action":  res.Action,
		"outcome": dispatch.Outcome(res),
	}
	switch res.Action {
	case dispatch.ActionDemo:
		body["insertados"] = res.Inserted
	default:
		body["evento_id"] = res.EventID
	}
	resultBytes, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(resultBytes)), nil
}

// requireInt reads a numeric argument that must hold a whole number.
func requireInt(request mcp.CallToolRequest, key string) (int, error) {
	f, err := request.RequireFloat(key)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%s must be a whole number, got %v", key, f)
	}
	return int(f), nil
}
