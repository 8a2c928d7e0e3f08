package reconcile

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ArielCalisaya/HideThis/kit"
)

// RegisterMCP registers the command surface as MCP tools on a server.
func (r *Reconciler) RegisterMCP(srv *mcp.Server) {
	r.registerToggleSelectorTool(srv)
	r.registerSelectorStateTool(srv)
	r.registerToggleVisibilityTool(srv)
	r.registerClearAllTool(srv)
	r.registerHiddenCountTool(srv)
	r.registerRemoveElementsTool(srv)
	r.registerRemoveBlurFilterTool(srv)
	r.registerClearRemovedTool(srv)
	r.registerRemovedCountTool(srv)
	r.registerInvalidateCSSTool(srv)
	r.registerClearInvalidatedTool(srv)
	r.registerHiddenElementsTool(srv)
	r.registerRemoveHiddenElementTool(srv)
	r.registerRemoveInvalidatedTool(srv)
	r.registerCountsTool(srv)
	r.registerExportTool(srv)
}

// inputSchema builds a JSON Schema object with type "object".
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

type selectorRequest struct {
	Selector string `json:"selector"`
}

func decodeSelector(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	var r selectorRequest
	if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
		return nil, err
	}
	return &kit.MCPDecodeResult{Request: &r}, nil
}

type indexRequest struct {
	Index int `json:"index"`
}

func decodeIndex(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	var r indexRequest
	if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
		return nil, err
	}
	return &kit.MCPDecodeResult{Request: &r}, nil
}

func decodeNone(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	return &kit.MCPDecodeResult{Request: nil}, nil
}

var selectorProp = map[string]any{"type": "string", "description": "CSS selector (tag, .class, #id, [attr], [attr=\"value\"], compounds, descendant and > combinators)"}

// --- toggle_selector ---

func (r *Reconciler) registerToggleSelectorTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "hidethis_toggle_selector",
		Description: "Hide or unhide elements by selector. Adds a persisted hide rule when absent, removes it and restores matches when present.",
		InputSchema: inputSchema(map[string]any{"selector": selectorProp}, []string{"selector"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		q := req.(*selectorRequest)
		hidden, err := r.ToggleSelector(ctx, q.Selector)
		if err != nil {
			return nil, err
		}
		return map[string]any{"selector": q.Selector, "hidden": hidden}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeSelector)
}

// --- selector_state ---

func (r *Reconciler) registerSelectorStateTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "hidethis_selector_state",
		Description: "Report whether a selector is currently in the hidden set.",
		InputSchema: inputSchema(map[string]any{"selector": selectorProp}, []string{"selector"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		q := req.(*selectorRequest)
		hidden, err := r.SelectorState(ctx, q.Selector)
		if err != nil {
			return nil, err
		}
		return map[string]any{"selector": q.Selector, "hidden": hidden}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeSelector)
}

// --- toggle_visibility ---

func (r *Reconciler) registerToggleVisibilityTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "hidethis_toggle_visibility",
		Description: "Suspend or resume hide effects without deleting any rules.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		visible, err := r.ToggleVisibility(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"visible": visible}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeNone)
}

// --- clear_all ---

func (r *Reconciler) registerClearAllTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "hidethis_clear_all",
		Description: "Delete all hide rules for the origin and restore every hidden element.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		n, err := r.ClearAll(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"cleared": n}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeNone)
}

// --- hidden_count ---

func (r *Reconciler) registerHiddenCountTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "hidethis_hidden_count",
		Description: "Count hide rules for the origin.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		n, err := r.HiddenCount(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"count": n}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeNone)
}

// --- remove_elements ---

func (r *Reconciler) registerRemoveElementsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "hidethis_remove_elements",
		Description: "Persist a removal rule and apply it now. Class selectors strip the class; other selectors delete matching elements. Zero matches keeps the rule armed for lazy-loaded content.",
		InputSchema: inputSchema(map[string]any{"selector": selectorProp}, []string{"selector"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		q := req.(*selectorRequest)
		n, err := r.RemoveElements(ctx, q.Selector)
		if err != nil {
			return nil, err
		}
		return map[string]any{"selector": q.Selector, "removed": n}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeSelector)
}

// --- remove_blur_filter ---

func (r *Reconciler) registerRemoveBlurFilterTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "hidethis_remove_blur_filter",
		Description: "Strip inline blur and backdrop filters and invalidate the affected selectors so re-added blurs stay defeated.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		selectors, err := r.RemoveBlurFilter(ctx)
		if err != nil {
			return nil, err
		}
		if selectors == nil {
			selectors = []string{}
		}
		return map[string]any{"selectors": selectors}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeNone)
}

// --- clear_removed_elements ---

func (r *Reconciler) registerClearRemovedTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "hidethis_clear_removed_elements",
		Description: "Delete all removal rules. Already-removed elements stay removed.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		n, err := r.ClearRemovedElements(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"cleared": n}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeNone)
}

// --- removed_elements_count ---

func (r *Reconciler) registerRemovedCountTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "hidethis_removed_elements_count",
		Description: "Count removal rules for the origin.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		n, err := r.RemovedElementsCount(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"count": n}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeNone)
}

// --- invalidate_css ---

func (r *Reconciler) registerInvalidateCSSTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "hidethis_invalidate_css",
		Description: "Persist a selector whose styling is neutralised via a high-specificity override stylesheet.",
		InputSchema: inputSchema(map[string]any{"selector": selectorProp}, []string{"selector"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		q := req.(*selectorRequest)
		added, err := r.InvalidateCSS(ctx, q.Selector)
		if err != nil {
			return nil, err
		}
		return map[string]any{"selector": q.Selector, "invalidated": added}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeSelector)
}

// --- clear_invalidated_css ---

func (r *Reconciler) registerClearInvalidatedTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "hidethis_clear_invalidated_css",
		Description: "Delete all invalidated selectors and empty the override stylesheet.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		n, err := r.ClearInvalidatedCSS(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"cleared": n}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeNone)
}

// --- hidden_elements ---

func (r *Reconciler) registerHiddenElementsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "hidethis_hidden_elements",
		Description: "List hide rules with live match counts and a sanitised preview of the first match.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		list, err := r.HiddenElements(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"elements": list}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeNone)
}

// --- remove_hidden_element ---

func (r *Reconciler) registerRemoveHiddenElementTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "hidethis_remove_hidden_element",
		Description: "Delete the hide rule at a list index and restore its matches.",
		InputSchema: inputSchema(map[string]any{
			"index": map[string]any{"type": "integer", "description": "Index from hidethis_hidden_elements"},
		}, []string{"index"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		q := req.(*indexRequest)
		sel, err := r.RemoveHiddenElement(ctx, q.Index)
		if err != nil {
			return nil, err
		}
		return map[string]any{"selector": sel}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeIndex)
}

// --- remove_invalidated_selector ---

func (r *Reconciler) registerRemoveInvalidatedTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "hidethis_remove_invalidated_selector",
		Description: "Delete the invalidated selector at a list index and rebuild the override stylesheet.",
		InputSchema: inputSchema(map[string]any{
			"index": map[string]any{"type": "integer", "description": "Index in insertion order"},
		}, []string{"index"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		q := req.(*indexRequest)
		sel, err := r.RemoveInvalidatedSelector(ctx, q.Index)
		if err != nil {
			return nil, err
		}
		return map[string]any{"selector": sel}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeIndex)
}

// --- counts ---

func (r *Reconciler) registerCountsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "hidethis_counts",
		Description: "Tally the hidden, removed, and invalidated collections for the origin.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		return r.CountsNow(ctx)
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeNone)
}

// --- export ---

func (r *Reconciler) registerExportTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "hidethis_export",
		Description: "Render the reconciled document as sanitised HTML or markdown.",
		InputSchema: inputSchema(map[string]any{
			"format": map[string]any{"type": "string", "enum": []any{"html", "markdown"}, "description": "Output format (default: html)"},
		}, nil),
	}

	type exportReq struct {
		Format string `json:"format"`
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		q := req.(*exportReq)
		return r.ExportSnapshot(ctx, q.Format)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var q exportReq
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &q); err != nil {
				return nil, err
			}
		}
		return &kit.MCPDecodeResult{Request: &q}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
