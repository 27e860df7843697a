package mcpserver

import (
	"bytes"
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"hybriddb/internal/etl"
	"hybriddb/internal/report"
)

func (s *Server) registerReportTools() {
	s.mcp.AddTool(mcp.NewTool("summary",
		mcp.WithDescription("Store-wide summary: field count, placement distribution, drifting and suspect fields, fields needing review, average quality score"),
	), s.handleSummary)

	s.mcp.AddTool(mcp.NewTool("schema_recommendations",
		mcp.WithDescription("Schema advice from current placements: SQL columns with inferred type and nullability, document fields with reason, held fields and index candidates"),
	), s.handleSchemaRecommendations)

	s.mcp.AddTool(mcp.NewTool("export_metadata",
		mcp.WithDescription("Export every field's metadata as JSON lines, one document per field in first-seen order"),
	), s.handleExportMetadata)

	s.mcp.AddTool(mcp.NewTool("list_sources",
		mcp.WithDescription("List the available stream source types with their configuration fields"),
	), s.handleListSources)
}

func (s *Server) handleSummary(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(report.Summarize(s.engine.Metadata().All(), s.now()))
}

func (s *Server) handleSchemaRecommendations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(report.Recommend(s.engine.Metadata().All(), s.now()))
}

func (s *Server) handleExportMetadata(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := s.engine.Metadata().Export(&buf); err != nil {
		return nil, err
	}
	if buf.Len() == 0 {
		return textResult("No fields observed yet."), nil
	}
	return textResult(buf.String()), nil
}

func (s *Server) handleListSources(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(etl.ListSources())
}
