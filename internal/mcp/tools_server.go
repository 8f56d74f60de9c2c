package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/HyphaGroup/warden/internal/schedule"
)

// ServerStatusParams is the empty server_status input.
type ServerStatusParams struct{}

// ServerStatusResult is the structured half of a server_status result.
type ServerStatusResult struct {
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Backend       string `json:"backend"`
	Image         string `json:"image,omitempty"`
	AuthEnabled   bool   `json:"auth_enabled"`
	Schedules     int    `json:"schedules"`
}

func (s *Server) handleServerStatus(ctx context.Context, req *mcp.CallToolRequest, params ServerStatusParams) (_ *mcp.CallToolResult, _ any, err error) {
	defer func() { recordTool("server_status", err) }()

	scs, err := s.schedules.List(schedule.ListFilter{})
	if err != nil {
		return nil, nil, fmt.Errorf("counting schedules: %w", err)
	}

	result := ServerStatusResult{
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Backend:       s.cfg.Sandbox.Backend,
		AuthEnabled:   s.cfg.Auth.Enabled,
		Schedules:     len(scs),
	}
	if result.Backend == "docker" {
		result.Image = s.cfg.Sandbox.Image
	}

	var b strings.Builder
	fmt.Fprintf(&b, "warden %s\n", result.Version)
	fmt.Fprintf(&b, "  uptime:    %s\n", time.Since(s.started).Round(time.Second))
	fmt.Fprintf(&b, "  backend:   %s", result.Backend)
	if result.Image != "" {
		fmt.Fprintf(&b, " (%s)", result.Image)
	}
	b.WriteString("\n")
	authState := "disabled"
	if result.AuthEnabled {
		authState = "enabled"
	}
	fmt.Fprintf(&b, "  auth:      %s\n", authState)
	fmt.Fprintf(&b, "  schedules: %d", result.Schedules)
	return textResult(b.String()), result, nil
}
