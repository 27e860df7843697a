package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"hybriddb/internal/report"
)

const (
	fieldsURI      = "hybriddb://fields"
	fieldURIPrefix = "hybriddb://field/"
)

func (s *Server) registerResources() {
	// ── hybriddb://fields ──────────────────────────────
	s.mcp.AddResource(mcp.NewResource(
		fieldsURI,
		"All Fields",
		mcp.WithMIMEType("application/json"),
	), s.handleFieldsResource)

	// ── hybriddb://field/{name} ────────────────────────
	s.mcp.AddResourceTemplate(
		mcp.NewResourceTemplate(
			fieldURIPrefix+"{name}",
			"Field Metadata",
		),
		s.handleFieldResource,
	)
}

func (s *Server) handleFieldsResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	all := s.engine.Metadata().All()
	summaries := make([]report.FieldSummary, 0, len(all))
	for _, m := range all {
		summaries = append(summaries, report.Field(m))
	}

	data, _ := json.MarshalIndent(summaries, "", "  ")
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      fieldsURI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleFieldResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := req.Params.URI
	name := fieldNameFromURI(uri)
	if name == "" {
		return nil, fmt.Errorf("could not extract field name from URI: %s", uri)
	}
	m, ok := s.engine.Metadata().Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown field: %s", name)
	}

	data, _ := json.MarshalIndent(m, "", "  ")
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// fieldNameFromURI extracts the name from "hybriddb://field/{name}".
func fieldNameFromURI(uri string) string {
	name, ok := strings.CutPrefix(uri, fieldURIPrefix)
	if !ok || strings.Contains(name, "/") {
		return ""
	}
	return name
}
