package present

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/pagesentry/pagesentry/kit"
)

// RegisterMCP registers the pagesentry tools on an MCP server.
func (s *Server) RegisterMCP(srv *mcp.Server) {
	s.registerAlertsTool(srv)
	s.registerContextTool(srv)
	s.registerStatusTool(srv)
	s.registerSummaryTool(srv)
	s.registerAskTool(srv)
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	sch := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		sch["required"] = required
	}
	return sch
}

// --- alerts ---

type alertsRequest struct {
	Limit int `json:"limit,omitempty"`
}

func (s *Server) registerAlertsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pagesentry_alerts",
		Description: "List recent security alerts, newest first.",
		InputSchema: inputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Max alerts to return (default 50)"},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*alertsRequest)
		limit := r.Limit
		if limit < 1 {
			limit = 50
		}
		return s.coord.History().Recent(ctx, limit)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r alertsRequest
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
				return nil, err
			}
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- context ---

func (s *Server) registerContextTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pagesentry_context",
		Description: "Get the most recent page security context: URL, forms, resources, and findings.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(_ context.Context, _ any) (any, error) {
		pc := s.coord.Context()
		if pc == nil {
			return nil, fmt.Errorf("no page context captured yet")
		}
		return pc, nil
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: nil}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- status ---

func (s *Server) registerStatusTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pagesentry_status",
		Description: "Get the inference backend status: state, model, and last error.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(_ context.Context, _ any) (any, error) {
		return s.coord.Status(), nil
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: nil}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- summary ---

func (s *Server) registerSummaryTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pagesentry_summary",
		Description: "Get a compact security posture summary of the monitored page.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		alerts, err := s.coord.History().Recent(ctx, 50)
		if err != nil {
			return nil, err
		}
		return BuildSummary(s.coord.Context(), s.coord.Status(), alerts), nil
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: nil}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- ask ---

type askRequest struct {
	Question string `json:"question"`
}

func (s *Server) registerAskTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pagesentry_ask",
		Description: "Ask the security assistant a question about the monitored page. The answer is grounded in the current page context.",
		InputSchema: inputSchema(map[string]any{
			"question": map[string]any{"type": "string", "description": "The question to ask"},
		}, []string{"question"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*askRequest)
		if r.Question == "" {
			return nil, fmt.Errorf("question is required")
		}
		answer, err := s.ask(ctx, r.Question)
		if err != nil {
			return nil, err
		}
		return map[string]string{"answer": answer}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r askRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
