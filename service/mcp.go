package service

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/consentclick/kit"
)

// RegisterMCP registers the consent tools on an MCP server.
func (c *Consent) RegisterMCP(srv *mcp.Server) {
	c.registerDismissTool(srv)
	c.registerInspectTool(srv)
	if c.ctrl != nil {
		c.registerStatusTool(srv)
	}
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// --- consent_dismiss ---

func (c *Consent) registerDismissTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "consent_dismiss",
		Description: "Open a URL in a headless browser and click the accept button of its cookie or privacy popup. Returns how the popup was handled.",
		InputSchema: inputSchema(map[string]any{
			"url":        map[string]any{"type": "string", "description": "Absolute http(s) URL of the page"},
			"timeout_ms": map[string]any{"type": "integer", "description": "Page lifetime in milliseconds (default 45000)"},
		}, []string{"url"}),
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r DismissRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, c.dismiss, decode)
}

// --- consent_inspect ---

func (c *Consent) registerInspectTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "consent_inspect",
		Description: "Rank the candidate accept buttons of a page's consent popup without clicking. Pass either a URL to fetch or raw HTML.",
		InputSchema: inputSchema(map[string]any{
			"url":  map[string]any{"type": "string", "description": "Absolute http(s) URL to fetch"},
			"html": map[string]any{"type": "string", "description": "Raw HTML document"},
		}, nil),
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r InspectRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, c.inspect, decode)
}

// --- consent_status ---

type statusRequest struct {
	Enabled *bool `json:"enabled,omitempty"`
}

type statusResponse struct {
	Enabled  bool  `json:"enabled"`
	Accepted int64 `json:"accepted"`
}

func (c *Consent) registerStatusTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "consent_status",
		Description: "Read the consent clicker toggle and acceptance count. Pass enabled to switch it on or off for future page loads.",
		InputSchema: inputSchema(map[string]any{
			"enabled": map[string]any{"type": "boolean", "description": "New toggle value"},
		}, nil),
	}

	endpoint := func(_ context.Context, req any) (any, error) {
		r := req.(*statusRequest)
		if r.Enabled != nil {
			c.ctrl.SetEnabled(*r.Enabled)
		}
		return statusResponse{Enabled: c.ctrl.Enabled(), Accepted: c.ctrl.Accepted()}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r statusRequest
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
				return nil, err
			}
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Logging(c.logger, "consent_status")(endpoint), decode)
}
