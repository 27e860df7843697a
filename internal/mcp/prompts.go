package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	s.mcp.AddPrompt(mcp.NewPrompt("review_drift",
		mcp.WithPromptDescription("Walk through the fields that are drifting or need review and propose what to do with each"),
	), s.handleReviewDriftPrompt)

	s.mcp.AddPrompt(mcp.NewPrompt("plan_schema",
		mcp.WithPromptDescription("Turn the current placements into a concrete relational and document schema"),
		mcp.WithArgument("dialect",
			mcp.ArgumentDescription("SQL dialect for the DDL (mysql, postgres, sqlserver, sqlite)"),
			mcp.RequiredArgument(),
		),
	), s.handlePlanSchemaPrompt)
}

func (s *Server) handleReviewDriftPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{
		Description: "Review drifting fields",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.TextContent{
					Type: "text",
					Text: `Review the fields that need attention. Follow these steps:

1. Call summary and note the drifting, suspect and review-needed fields
2. For each of them call get_field and read its drift events and decision history
3. Call list_quarantined for every drifting field to see what values are being held
4. For each field, say whether the drift looks like a producer bug or a real schema change, and whether its placement should change once it stabilizes

Keep the answer to one short paragraph per field.`,
				},
			},
		},
	}, nil
}

func (s *Server) handlePlanSchemaPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	dialect := req.Params.Arguments["dialect"]
	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Plan a %s schema", dialect),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Design a schema from the current placements. Follow these steps:

1. Call schema_recommendations
2. Write %s CREATE TABLE DDL with one column per SQL field, using the suggested types and nullability
3. Add CREATE INDEX statements for the index candidates on SQL fields
4. List the document fields with a sample document shape, and the held fields that still need a decision

Explain any column type you changed from the suggestion.`, dialect),
				},
			},
		},
	}, nil
}
