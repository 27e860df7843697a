package mcpserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"hybriddb/internal/pipeline"
	"hybriddb/internal/report"
)

func (s *Server) registerFieldTools() {
	s.mcp.AddTool(mcp.NewTool("list_fields",
		mcp.WithDescription("List every observed field in first-seen order with its current placement, drift state and quality score"),
	), s.handleListFields)

	s.mcp.AddTool(mcp.NewTool("get_field",
		mcp.WithDescription("Get a field's full metadata: profile, drift event history and placement decision history"),
		mcp.WithString("field", mcp.Description("Field name"), mcp.Required()),
	), s.handleGetField)

	s.mcp.AddTool(mcp.NewTool("reevaluate_field",
		mcp.WithDescription("Re-run the classifier on a field's current profile and append the decision to its history"),
		mcp.WithString("field", mcp.Description("Field name"), mcp.Required()),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{DestructiveHint: boolPtr(false)}),
	), s.handleReevaluateField)

	s.mcp.AddTool(mcp.NewTool("list_quarantined",
		mcp.WithDescription("List values held back from both backends while a field was drifting, newest first"),
		mcp.WithString("field", mcp.Description("Field name"), mcp.Required()),
		mcp.WithNumber("limit", mcp.Description("Max values to return (default 50)")),
	), s.handleListQuarantined)
}

func (s *Server) handleListFields(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	all := s.engine.Metadata().All()
	out := make([]report.FieldSummary, 0, len(all))
	for _, m := range all {
		out = append(out, report.Field(m))
	}
	return jsonResult(out)
}

func (s *Server) handleGetField(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := fieldArg(req.GetArguments())
	if err != nil {
		return nil, err
	}
	m, ok := s.engine.Metadata().Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown field: %s", name)
	}
	return jsonResult(map[string]any{
		"summary":  report.Field(m),
		"metadata": m,
	})
}

func (s *Server) handleReevaluateField(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := fieldArg(req.GetArguments())
	if err != nil {
		return nil, err
	}
	d, err := s.engine.Reevaluate(name)
	if errors.Is(err, pipeline.ErrUnknownField) {
		return nil, fmt.Errorf("unknown field: %s", name)
	}
	if err != nil {
		return nil, err
	}
	if err := s.engine.Flush(ctx); err != nil {
		return nil, fmt.Errorf("decision recorded in memory but not persisted: %w", err)
	}
	return jsonResult(d)
}

func (s *Server) handleListQuarantined(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.quarantine == nil {
		return textResult("Quarantine store is not configured."), nil
	}
	args := req.GetArguments()
	name, err := fieldArg(args)
	if err != nil {
		return nil, err
	}
	held, err := s.quarantine.ListHeld(ctx, name, intArg(args, "limit", 50))
	if err != nil {
		return nil, err
	}
	if len(held) == 0 {
		return textResult(fmt.Sprintf("No quarantined values for %s.", name)), nil
	}
	return jsonResult(held)
}
