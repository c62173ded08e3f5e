package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

const (
	// ServerName is the MCP server name
	ServerName = "signals-agent"
)

// Server exposes a task registry as MCP tools
type Server struct {
	mcp      *server.MCPServer
	registry *Registry
}

// NewServer creates an MCP server with one tool per registered task
func NewServer(registry *Registry, version string) *Server {
	mcpServer := server.NewMCPServer(
		ServerName,
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s := &Server{
		mcp:      mcpServer,
		registry: registry,
	}
	s.registerTools()
	return s
}

// Serve runs the server on stdio until ctx is cancelled or stdin closes
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(zap.NewStdLog(zap.L()))

	zap.L().Info("mcp: serving on stdio", zap.Int("tools", len(s.registry.List())))
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

func (s *Server) registerTools() {
	for _, t := range s.registry.List() {
		s.mcp.AddTool(mcp.Tool{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		}, s.handler(t))
	}
}

// handler adapts a task to an mcp-go tool handler. Task errors are returned
// as error results carrying the protocol code.
func (s *Server) handler(t Task) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		args := request.GetArguments()
		if args == nil {
			args = map[string]any{}
		}

		out, err := t.Execute(ctx, args)
		if err != nil {
			mErr := ToError(err)
			zap.L().Warn("mcp: task failed",
				zap.String("task", t.Name()),
				zap.Int("code", mErr.Code),
				zap.Duration("duration", time.Since(start)),
				zap.Error(err),
			)
			return mcp.NewToolResultError(formatJSON(mErr)), nil
		}

		zap.L().Debug("mcp: task completed",
			zap.String("task", t.Name()),
			zap.Duration("duration", time.Since(start)),
		)
		return mcp.NewToolResultText(formatJSON(out)), nil
	}
}

// formatJSON formats a value as indented JSON
func formatJSON(v any) string {
	bytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(bytes)
}
