package mcpserver

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"hybriddb/internal/domain"
	"hybriddb/internal/logger"
	"hybriddb/internal/pipeline"
)

// Server is the MCP server for hybriddb.
// It exposes field metadata and placement reports so AI agents can
// inspect and review the placement engine.
type Server struct {
	mcp        *server.MCPServer
	engine     *pipeline.Engine
	quarantine domain.QuarantineStore
	now        func() time.Time
}

// Deps holds the dependencies passed from main to the MCP server.
type Deps struct {
	Engine     *pipeline.Engine
	Quarantine domain.QuarantineStore // optional
	Version    string
}

// New creates and configures a new MCP server with all tools and resources.
func New(deps Deps) *Server {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := &Server{
		engine:     deps.Engine,
		quarantine: deps.Quarantine,
		now:        func() time.Time { return time.Now().UTC() },
	}

	s.mcp = server.NewMCPServer(
		"hybriddb-mcp",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, false),
		server.WithPromptCapabilities(true),
	)

	s.registerFieldTools()
	s.registerReportTools()
	s.registerResources()
	s.registerPrompts()

	return s
}

// MCPServer exposes the underlying server, mainly for tests.
func (s *Server) MCPServer() *server.MCPServer { return s.mcp }

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	log := logger.Get("mcp")
	log.Info().Msg("starting stdio server")
	return server.ServeStdio(s.mcp)
}

// ── Helpers ────────────────────────────────────────────────

// textResult creates a simple text tool result.
func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

// jsonResult serializes v to JSON and wraps it in a text tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return textResult(string(data)), nil
}

// fieldArg returns the required "field" argument.
func fieldArg(args map[string]any) (string, error) {
	name, ok := args["field"].(string)
	if !ok || name == "" {
		return "", fmt.Errorf("field is required")
	}
	return name, nil
}

// intArg reads a numeric argument; JSON numbers arrive as float64.
func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func boolPtr(v bool) *bool { return &v }
