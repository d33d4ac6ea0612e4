// Package mcp exposes a control panel as Model Context Protocol tools over stdio.
package mcp

import (
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/UrielAhumada/iot-frontend/internal/log"
)

type MCPServer struct {
	Server *server.MCPServer
	tools  *Tools
	logger zerolog.Logger
}

// NewMCPServer builds a stdio server with every panel tool registered.
func NewMCPServer(p Panel, version string) *MCPServer {
	s := &MCPServer{
		Server: server.NewMCPServer("robot-panel", version, server.WithToolCapabilities(false)),
		tools:  NewTools(p),
		logger: log.WithComponent("mcp"),
	}
	s.tools.Register(s.Server)
	return s
}

func (s *MCPServer) Run() error {
	s.logger.Info().Msg("started stdio MCP server")
	defer func() {
		s.logger.Info().Msg("shut down stdio MCP server")
	}()
	return server.ServeStdio(s.Server)
}
