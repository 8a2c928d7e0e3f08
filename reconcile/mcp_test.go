package reconcile

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ArielCalisaya/HideThis/rule"
)

var testImpl = &mcp.Implementation{Name: "hidethis-test", Version: "0.1.0"}

// mcpSession builds an engine, registers its tools, and returns a connected
// client session that can call them end-to-end.
func mcpSession(t *testing.T) (*Reconciler, *mcp.ClientSession) {
	t.Helper()
	r := testEngine(t, engineDoc)

	srv := mcp.NewServer(testImpl, nil)
	r.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()

	go func() {
		_ = srv.Run(ctx, serverT)
	}()

	client := mcp.NewClient(testImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })

	return r, session
}

// callTool invokes a tool and returns the JSON text from the first TextContent.
func callTool(t *testing.T, session *mcp.ClientSession, name string, args any) string {
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
	if len(result.Content) == 0 {
		t.Fatalf("CallTool(%s): empty content", name)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent, got %T", name, result.Content[0])
	}
	return tc.Text
}

func TestMCP_ToggleSelector(t *testing.T) {
	_, session := mcpSession(t)

	text := callTool(t, session, "hidethis_toggle_selector", map[string]any{
		"selector": ".ad-banner",
	})
	var resp struct {
		Selector string `json:"selector"`
		Hidden   bool   `json:"hidden"`
	}
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.Hidden {
		t.Error("first toggle should hide")
	}

	text = callTool(t, session, "hidethis_toggle_selector", map[string]any{
		"selector": ".ad-banner",
	})
	json.Unmarshal([]byte(text), &resp)
	if resp.Hidden {
		t.Error("second toggle should unhide")
	}
}

func TestMCP_ToggleSelector_InvalidIsToolError(t *testing.T) {
	_, session := mcpSession(t)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "hidethis_toggle_selector",
		Arguments: map[string]any{"selector": "div:hover"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !result.IsError {
		t.Fatal("invalid selector should surface as a tool error")
	}
}

func TestMCP_SelectorState(t *testing.T) {
	r, session := mcpSession(t)
	r.ToggleSelector(context.Background(), "#cookie-modal")

	text := callTool(t, session, "hidethis_selector_state", map[string]any{
		"selector": "#cookie-modal",
	})
	var resp struct {
		Hidden bool `json:"hidden"`
	}
	json.Unmarshal([]byte(text), &resp)
	if !resp.Hidden {
		t.Error("state should report hidden")
	}
}

func TestMCP_RemoveElements(t *testing.T) {
	_, session := mcpSession(t)

	text := callTool(t, session, "hidethis_remove_elements", map[string]any{
		"selector": "#cookie-modal",
	})
	var resp struct {
		Removed int `json:"removed"`
	}
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Removed != 1 {
		t.Errorf("removed = %d, want 1", resp.Removed)
	}

	text = callTool(t, session, "hidethis_removed_elements_count", map[string]any{})
	var count struct {
		Count int `json:"count"`
	}
	json.Unmarshal([]byte(text), &count)
	if count.Count != 1 {
		t.Errorf("count = %d, want 1", count.Count)
	}
}

func TestMCP_RemoveBlurFilter(t *testing.T) {
	_, session := mcpSession(t)

	text := callTool(t, session, "hidethis_remove_blur_filter", map[string]any{})
	var resp struct {
		Selectors []string `json:"selectors"`
	}
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Selectors) != 1 || resp.Selectors[0] != "#paywall" {
		t.Errorf("selectors = %v, want [#paywall]", resp.Selectors)
	}
}

func TestMCP_HiddenElements_RoundTrip(t *testing.T) {
	r, session := mcpSession(t)
	ctx := context.Background()
	r.ToggleSelector(ctx, ".ad-banner")
	r.ToggleSelector(ctx, "#cookie-modal")

	text := callTool(t, session, "hidethis_hidden_elements", map[string]any{})
	var resp struct {
		Elements []HiddenElement `json:"elements"`
	}
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Elements) != 2 {
		t.Fatalf("elements = %d, want 2", len(resp.Elements))
	}
	if resp.Elements[0].Selector != ".ad-banner" || resp.Elements[0].Matches != 2 {
		t.Errorf("entry 0 = %+v", resp.Elements[0])
	}

	text = callTool(t, session, "hidethis_remove_hidden_element", map[string]any{"index": 0})
	var rem struct {
		Selector string `json:"selector"`
	}
	json.Unmarshal([]byte(text), &rem)
	if rem.Selector != ".ad-banner" {
		t.Errorf("removed selector = %q", rem.Selector)
	}

	if n, _ := r.HiddenCount(ctx); n != 1 {
		t.Errorf("hidden count after removal = %d, want 1", n)
	}
}

func TestMCP_InvalidateAndCounts(t *testing.T) {
	_, session := mcpSession(t)

	callTool(t, session, "hidethis_invalidate_css", map[string]any{"selector": ".overlay"})
	callTool(t, session, "hidethis_toggle_selector", map[string]any{"selector": ".ad-banner"})

	text := callTool(t, session, "hidethis_counts", map[string]any{})
	var counts rule.Counts
	if err := json.Unmarshal([]byte(text), &counts); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if counts.Hidden != 1 || counts.Invalidated != 1 || counts.Removed != 0 {
		t.Errorf("counts = %+v", counts)
	}
}

func TestMCP_ClearAll(t *testing.T) {
	r, session := mcpSession(t)
	r.ToggleSelector(context.Background(), ".ad-banner")

	text := callTool(t, session, "hidethis_clear_all", map[string]any{})
	var resp struct {
		Cleared int `json:"cleared"`
	}
	json.Unmarshal([]byte(text), &resp)
	if resp.Cleared != 1 {
		t.Errorf("cleared = %d, want 1", resp.Cleared)
	}
}

func TestMCP_Export(t *testing.T) {
	_, session := mcpSession(t)

	text := callTool(t, session, "hidethis_export", map[string]any{"format": "markdown"})
	var snap struct {
		Format  string `json:"format"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal([]byte(text), &snap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if snap.Format != "markdown" {
		t.Errorf("format = %q", snap.Format)
	}
	if snap.Content == "" {
		t.Error("empty export content")
	}
}

func TestMCP_Export_BadArgumentsIsToolError(t *testing.T) {
	_, session := mcpSession(t)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "hidethis_export",
		Arguments: map[string]any{"format": 123},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !result.IsError {
		t.Fatal("malformed arguments should surface as a tool error")
	}
}
