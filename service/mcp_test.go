package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/consentclick/channel"
	"github.com/hazyhaar/consentclick/consent"
)

func mcpSession(t *testing.T) (*mcp.ClientSession, *channel.Controller) {
	t.Helper()
	svc, _, ctrl := newTestService(t)
	srv := mcp.NewServer(testMCPImpl, nil)
	svc.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session, ctrl
}

func mcpCallTool(t *testing.T, session *mcp.ClientSession, name string, args any) string {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if err := result.GetError(); err != nil {
		t.Fatalf("CallTool(%s) tool error: %v", name, err)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent", name)
	}
	return tc.Text
}

func TestMCP_ListTools(t *testing.T) {
	session, _ := mcpSession(t)
	res, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, tool := range res.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{"consent_dismiss", "consent_inspect", "consent_status"} {
		if !names[want] {
			t.Errorf("missing tool %q", want)
		}
	}
}

func TestMCP_Dismiss(t *testing.T) {
	session, ctrl := mcpSession(t)

	text := mcpCallTool(t, session, "consent_dismiss", map[string]any{"url": "https://news.example/"})
	var resp DismissResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Outcome != consent.OutcomeAccepted {
		t.Errorf("outcome: %s", resp.Outcome)
	}
	if ctrl.Accepted() != 1 {
		t.Errorf("accepted: %d", ctrl.Accepted())
	}
}

func TestMCP_Inspect(t *testing.T) {
	session, _ := mcpSession(t)

	text := mcpCallTool(t, session, "consent_inspect", map[string]any{"html": bannerPage})
	var resp InspectResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Candidates) != 1 || resp.Candidates[0].Score != 60 {
		t.Errorf("candidates: %+v", resp.Candidates)
	}
}

func TestMCP_InspectInvalidIsToolError(t *testing.T) {
	session, _ := mcpSession(t)
	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "consent_inspect",
		Arguments: map[string]any{},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Error("expected tool error")
	}
}

func TestMCP_Status(t *testing.T) {
	session, ctrl := mcpSession(t)

	text := mcpCallTool(t, session, "consent_status", map[string]any{"enabled": false})
	var resp statusResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Enabled || ctrl.Enabled() {
		t.Error("toggle not applied")
	}

	mcpCallTool(t, session, "consent_dismiss", map[string]any{"url": "https://news.example/"})
	if ctrl.Accepted() != 0 {
		t.Error("disabled controller must prevent acceptance")
	}
}
