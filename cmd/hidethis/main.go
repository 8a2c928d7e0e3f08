// Command hidethis runs the rule-reconciliation engine as an HTTP service.
// Pages are loaded from raw HTML or from a live Chrome tab; each page gets
// its own reconciler bound to the page origin's persisted rules. The
// command surface is exposed over HTTP and, optionally, as MCP tools.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/net/html"

	"github.com/ArielCalisaya/HideThis/apply"
	"github.com/ArielCalisaya/HideThis/browser"
	"github.com/ArielCalisaya/HideThis/dom"
	"github.com/ArielCalisaya/HideThis/idgen"
	"github.com/ArielCalisaya/HideThis/interactive"
	"github.com/ArielCalisaya/HideThis/reconcile"
	"github.com/ArielCalisaya/HideThis/rule"
	"github.com/ArielCalisaya/HideThis/store"
)

func main() {
	port := env("PORT", "8086")
	dbPath := env("DB_PATH", "db/hidethis.db")
	configPath := env("CONFIG_FILE", "")
	mcpTransport := env("MCP_TRANSPORT", "")
	logLevel := env("LOG_LEVEL", "info")

	// Logging.
	var lvl slog.Level
	switch logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Engine config: YAML file overridden by DB_PATH env.
	cfg := &reconcile.Config{}
	if configPath != "" {
		loaded, err := reconcile.LoadConfigFile(configPath)
		if err != nil {
			slog.Error("config", "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}

	// Rule store, shared by all pages.
	st, err := store.Open(cfg.DBPath, logger)
	if err != nil {
		slog.Error("rule store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// Browser manager, lazily started on the first from-url load.
	mgr := browser.NewManager(browser.Config{
		RemoteURL: env("BROWSER_URL", ""),
		Logger:    logger,
	})
	defer mgr.Close()

	svc := &service{
		store:   st,
		cfg:     cfg,
		mgr:     mgr,
		logger:  logger,
		pages:   map[string]*page{},
		baseCtx: ctx,
	}

	// Optional MCP over stdio: loads one page up front and exposes its
	// command surface as tools.
	if mcpTransport == "stdio" {
		go func() {
			if err := svc.runMCP(ctx); err != nil && ctx.Err() == nil {
				slog.Error("mcp", "error", err)
			}
		}()
	}

	// Router.
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	r.Post("/api/pages", svc.handleLoadHTML)
	r.Post("/api/pages/from-url", svc.handleLoadURL)
	r.Get("/api/pages", svc.handleListPages)

	r.Route("/api/pages/{pageID}", func(r chi.Router) {
		r.Delete("/", svc.handleUnload)
		r.Post("/append", svc.handleAppend)
		r.Post("/viewport", svc.handleViewport)
		r.Post("/commands/{command}", svc.handleCommand)
		r.Get("/export", svc.handleExport)
		r.Get("/rules", svc.handleRulesExport)
		r.Post("/rules", svc.handleRulesImport)
		r.Post("/picker/activate", svc.handlePickerActivate)
		r.Post("/picker/events", svc.handlePickerEvent)
		r.Get("/picker", svc.handlePickerState)
	})

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	svc.closeAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}

// --- Service ---

// page bundles one loaded document with its engine and picker. live is set
// when the page mirrors a Chrome tab. All document access goes through the
// engine, which serialises it against the observation loop.
type page struct {
	ID     string
	Origin string
	Engine *reconcile.Reconciler
	Picker *interactive.Picker
	live   *browser.Session

	hlMu      sync.Mutex
	highlight string
}

type service struct {
	store  *store.Store
	cfg    *reconcile.Config
	mgr    *browser.Manager
	logger *slog.Logger

	mu      sync.Mutex
	pages   map[string]*page
	started bool // browser manager

	baseCtx context.Context
}

// load parses HTML, builds the page's engine, and starts observation.
func (s *service) load(ctx context.Context, origin, rawHTML string) (*page, error) {
	doc, err := dom.Parse(rawHTML, origin)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	eng := reconcile.New(doc, s.store, *s.cfg, s.logger)
	if err := eng.Start(s.baseCtx); err != nil {
		return nil, err
	}

	p := &page{
		ID:     idgen.New(),
		Origin: origin,
		Engine: eng,
		Picker: interactive.New(eng, s.logger),
	}
	p.Picker.OnHighlight(func(_ *html.Node, sel string) {
		p.hlMu.Lock()
		p.highlight = sel
		p.hlMu.Unlock()
	})

	s.mu.Lock()
	s.pages[p.ID] = p
	s.mu.Unlock()

	s.logger.Info("page loaded", "page_id", p.ID, "origin", origin)
	return p, nil
}

func (s *service) page(id string) *page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pages[id]
}

func (s *service) unload(id string) bool {
	s.mu.Lock()
	p := s.pages[id]
	delete(s.pages, id)
	s.mu.Unlock()
	if p == nil {
		return false
	}
	p.Engine.Stop()
	if p.live != nil {
		p.live.Close()
	}
	return true
}

func (s *service) closeAll() {
	s.mu.Lock()
	pages := make([]*page, 0, len(s.pages))
	for _, p := range s.pages {
		pages = append(pages, p)
	}
	s.pages = map[string]*page{}
	s.mu.Unlock()
	for _, p := range pages {
		p.Engine.Stop()
		if p.live != nil {
			p.live.Close()
		}
	}
}

// syncLive mirrors the engine's current effects into the page's live Chrome
// tab: hide markers are reset then replayed from the rule store, removal
// rules are swept, and the override stylesheet is rewritten. The in-process
// model stays authoritative; mirror failures are logged, never surfaced.
func (s *service) syncLive(ctx context.Context, p *page) {
	if p.live == nil {
		return
	}

	// Reset then replay: idempotent, and unhide/suspend need no diffing.
	if _, err := p.live.RestoreDisplay(ctx, "["+apply.AttrHidden+"]"); err != nil {
		s.logger.Warn("live mirror: restore", "page_id", p.ID, "error", err)
	}

	state, err := s.store.Export(ctx, p.Origin)
	if err != nil {
		s.logger.Warn("live mirror: read rules", "page_id", p.ID, "error", err)
		return
	}

	if !p.Engine.Suspended() {
		for _, sel := range state.Hidden {
			if _, err := p.live.SetDisplayNone(ctx, sel); err != nil {
				s.logger.Warn("live mirror: hide", "selector", sel, "error", err)
			}
		}
	}
	for _, rr := range state.RemovedElements {
		if rr.Type == rule.RemoveClass {
			class := strings.TrimPrefix(rr.Selector, ".")
			if _, err := p.live.StripClassMatches(ctx, rr.Selector, class); err != nil {
				s.logger.Warn("live mirror: strip class", "selector", rr.Selector, "error", err)
			}
		} else if _, err := p.live.RemoveMatches(ctx, rr.Selector); err != nil {
			s.logger.Warn("live mirror: remove", "selector", rr.Selector, "error", err)
		}
	}
	if err := p.live.UpsertStylesheet(ctx, p.Engine.InvalidationCSS()); err != nil {
		s.logger.Warn("live mirror: stylesheet", "page_id", p.ID, "error", err)
	}
}

// --- Page lifecycle handlers ---

func (s *service) handleLoadHTML(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Origin string `json:"origin"`
		HTML   string `json:"html"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, err)
		return
	}
	if req.Origin == "" || req.HTML == "" {
		writeError(w, 400, fmt.Errorf("origin and html are required"))
		return
	}
	p, err := s.load(r.Context(), req.Origin, req.HTML)
	if err != nil {
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 201, map[string]string{
		"page_id": p.ID,
		"origin":  p.Origin,
		"state":   p.Engine.State().String(),
	})
}

// handleLoadURL opens a live Chrome tab, mirrors its DOM into the engine,
// and streams page mutations into the addition channel.
func (s *service) handleLoadURL(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL    string `json:"url"`
		Origin string `json:"origin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, err)
		return
	}
	if req.URL == "" {
		writeError(w, 400, fmt.Errorf("url is required"))
		return
	}
	origin := req.Origin
	if origin == "" {
		origin = req.URL
	}

	s.mu.Lock()
	if !s.started {
		if _, err := s.mgr.Start(s.baseCtx); err != nil {
			s.mu.Unlock()
			writeError(w, 502, err)
			return
		}
		s.started = true
	}
	s.mu.Unlock()

	sess, err := browser.Open(r.Context(), s.mgr, req.URL)
	if err != nil {
		writeError(w, 502, err)
		return
	}

	rawHTML, err := sess.OuterHTML(r.Context())
	if err != nil {
		sess.Close()
		writeError(w, 502, err)
		return
	}

	p, err := s.load(r.Context(), origin, rawHTML)
	if err != nil {
		sess.Close()
		writeError(w, 500, err)
		return
	}
	p.live = sess

	// Page mutations land in the model as document additions, where the
	// observation loop reconciles them like any other change. Append holds
	// the engine lock, so binding callbacks never interleave with commands.
	err = sess.OnAdditions(s.baseCtx, func(fragments []string) {
		for _, frag := range fragments {
			if _, err := p.Engine.Append(frag); err != nil {
				s.logger.Warn("live append", "page_id", p.ID, "error", err)
			}
		}
	})
	if err != nil {
		s.logger.Warn("live observer", "page_id", p.ID, "error", err)
	}

	// Mirror the bootstrap sweep's effects into the tab.
	s.syncLive(r.Context(), p)

	writeJSON(w, 201, map[string]string{
		"page_id": p.ID,
		"origin":  p.Origin,
		"url":     req.URL,
		"state":   p.Engine.State().String(),
	})
}

func (s *service) handleListPages(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	list := make([]map[string]string, 0, len(s.pages))
	for _, p := range s.pages {
		list = append(list, map[string]string{
			"page_id": p.ID,
			"origin":  p.Origin,
			"state":   p.Engine.State().String(),
		})
	}
	s.mu.Unlock()
	writeJSON(w, 200, list)
}

func (s *service) handleUnload(w http.ResponseWriter, r *http.Request) {
	if !s.unload(chi.URLParam(r, "pageID")) {
		writeError(w, 404, fmt.Errorf("page not found"))
		return
	}
	writeJSON(w, 200, map[string]string{"status": "unloaded"})
}

// handleAppend injects an HTML fragment into the document body, feeding the
// addition channel exactly like a page mutation would.
func (s *service) handleAppend(w http.ResponseWriter, r *http.Request) {
	p := s.page(chi.URLParam(r, "pageID"))
	if p == nil {
		writeError(w, 404, fmt.Errorf("page not found"))
		return
	}
	frag, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, 400, err)
		return
	}
	n, err := p.Engine.Append(string(frag))
	if err != nil {
		writeError(w, 400, err)
		return
	}
	writeJSON(w, 200, map[string]any{"appended": n})
}

func (s *service) handleViewport(w http.ResponseWriter, r *http.Request) {
	p := s.page(chi.URLParam(r, "pageID"))
	if p == nil {
		writeError(w, 404, fmt.Errorf("page not found"))
		return
	}
	var req struct {
		Top    int `json:"top"`
		Height int `json:"height"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, err)
		return
	}
	p.Engine.SetViewport(req.Top, req.Height)
	writeJSON(w, 200, map[string]string{"status": "ok"})
}

// --- Command surface ---

// handleCommand dispatches one named engine command and wraps the result in
// the success envelope.
func (s *service) handleCommand(w http.ResponseWriter, r *http.Request) {
	p := s.page(chi.URLParam(r, "pageID"))
	if p == nil {
		writeError(w, 404, fmt.Errorf("page not found"))
		return
	}

	var req struct {
		Selector string `json:"selector"`
		Index    *int   `json:"index"`
		Format   string `json:"format"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, 400, err)
			return
		}
	}

	ctx := r.Context()
	eng := p.Engine
	command := chi.URLParam(r, "command")

	var payload map[string]any
	var err error

	switch command {
	case "toggleSelector":
		var hidden bool
		hidden, err = eng.ToggleSelector(ctx, req.Selector)
		payload = map[string]any{"selector": req.Selector, "hidden": hidden}
	case "getSelectorState":
		var hidden bool
		hidden, err = eng.SelectorState(ctx, req.Selector)
		payload = map[string]any{"selector": req.Selector, "hidden": hidden}
	case "toggleVisibility":
		var visible bool
		visible, err = eng.ToggleVisibility(ctx)
		payload = map[string]any{"visible": visible}
	case "clearAll":
		var n int
		n, err = eng.ClearAll(ctx)
		payload = map[string]any{"cleared": n}
	case "getHiddenCount":
		var n int
		n, err = eng.HiddenCount(ctx)
		payload = map[string]any{"count": n}
	case "removeElements":
		var n int
		n, err = eng.RemoveElements(ctx, req.Selector)
		payload = map[string]any{"selector": req.Selector, "removed": n}
	case "removeBlurFilter":
		var sels []string
		sels, err = eng.RemoveBlurFilter(ctx)
		if sels == nil {
			sels = []string{}
		}
		payload = map[string]any{"selectors": sels}
	case "clearRemovedElements":
		var n int
		n, err = eng.ClearRemovedElements(ctx)
		payload = map[string]any{"cleared": n}
	case "getRemovedElementsCount":
		var n int
		n, err = eng.RemovedElementsCount(ctx)
		payload = map[string]any{"count": n}
	case "invalidateCSS":
		var added bool
		added, err = eng.InvalidateCSS(ctx, req.Selector)
		payload = map[string]any{"selector": req.Selector, "invalidated": added}
	case "clearInvalidatedCSS":
		var n int
		n, err = eng.ClearInvalidatedCSS(ctx)
		payload = map[string]any{"cleared": n}
	case "getHiddenElementsList":
		var list []reconcile.HiddenElement
		list, err = eng.HiddenElements(ctx)
		if list == nil {
			list = []reconcile.HiddenElement{}
		}
		payload = map[string]any{"elements": list}
	case "removeHiddenElement":
		if req.Index == nil {
			err = fmt.Errorf("%w: index is required", reconcile.ErrIndexOutOfRange)
			break
		}
		var sel string
		sel, err = eng.RemoveHiddenElement(ctx, *req.Index)
		payload = map[string]any{"selector": sel}
	case "removeInvalidatedSelector":
		if req.Index == nil {
			err = fmt.Errorf("%w: index is required", reconcile.ErrIndexOutOfRange)
			break
		}
		var sel string
		sel, err = eng.RemoveInvalidatedSelector(ctx, *req.Index)
		payload = map[string]any{"selector": sel}
	case "getCounts":
		var counts any
		counts, err = eng.CountsNow(ctx)
		payload = map[string]any{"counts": counts}
	default:
		writeError(w, 404, fmt.Errorf("unknown command %q", command))
		return
	}

	if err != nil {
		code := 500
		if errors.Is(err, reconcile.ErrInvalidSelector) || errors.Is(err, reconcile.ErrIndexOutOfRange) {
			code = 400
		}
		writeJSON(w, code, map[string]any{"success": false, "error": err.Error()})
		return
	}

	s.syncLive(ctx, p)

	envelope := map[string]any{"success": true}
	for k, v := range payload {
		envelope[k] = v
	}
	writeJSON(w, 200, envelope)
}

// --- Export & rules ---

func (s *service) handleExport(w http.ResponseWriter, r *http.Request) {
	p := s.page(chi.URLParam(r, "pageID"))
	if p == nil {
		writeError(w, 404, fmt.Errorf("page not found"))
		return
	}
	snap, err := p.Engine.ExportSnapshot(r.Context(), r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 200, snap)
}

func (s *service) handleRulesExport(w http.ResponseWriter, r *http.Request) {
	p := s.page(chi.URLParam(r, "pageID"))
	if p == nil {
		writeError(w, 404, fmt.Errorf("page not found"))
		return
	}
	state, err := s.store.Export(r.Context(), p.Origin)
	if err != nil {
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 200, state)
}

func (s *service) handleRulesImport(w http.ResponseWriter, r *http.Request) {
	p := s.page(chi.URLParam(r, "pageID"))
	if p == nil {
		writeError(w, 404, fmt.Errorf("page not found"))
		return
	}
	var state rule.OriginState
	if err := json.NewDecoder(r.Body).Decode(&state); err != nil {
		writeError(w, 400, err)
		return
	}
	if err := s.store.Import(r.Context(), p.Origin, &state); err != nil {
		writeError(w, 500, err)
		return
	}
	// Re-run the bootstrap sweep so imported rules take effect now.
	if err := p.Engine.Bootstrap(r.Context()); err != nil {
		writeError(w, 500, err)
		return
	}
	s.syncLive(r.Context(), p)
	writeJSON(w, 200, map[string]string{"status": "imported"})
}

// --- Interactive picker ---

func (s *service) handlePickerActivate(w http.ResponseWriter, r *http.Request) {
	p := s.page(chi.URLParam(r, "pageID"))
	if p == nil {
		writeError(w, 404, fmt.Errorf("page not found"))
		return
	}
	p.Picker.Activate()
	writeJSON(w, 200, map[string]any{"active": true})
}

// handlePickerEvent forwards one input event. The target node is located by
// running the event's selector against the document and taking the first
// match.
func (s *service) handlePickerEvent(w http.ResponseWriter, r *http.Request) {
	p := s.page(chi.URLParam(r, "pageID"))
	if p == nil {
		writeError(w, 404, fmt.Errorf("page not found"))
		return
	}
	var req struct {
		Type     string `json:"type"` // move | click | enter | escape
		Selector string `json:"selector"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, err)
		return
	}

	var ev interactive.Event
	switch req.Type {
	case "move", "click":
		node, err := p.Engine.QueryFirst(req.Selector)
		if err != nil {
			writeError(w, 400, err)
			return
		}
		if node == nil {
			writeError(w, 404, fmt.Errorf("no element matches %q", req.Selector))
			return
		}
		if req.Type == "move" {
			ev = interactive.PointerMove{Node: node}
		} else {
			ev = interactive.Click{Node: node}
		}
	case "enter":
		ev = interactive.KeyEnter{}
	case "escape":
		ev = interactive.KeyEscape{}
	default:
		writeError(w, 400, fmt.Errorf("unknown event type %q", req.Type))
		return
	}

	if err := p.Picker.Handle(r.Context(), ev); err != nil {
		writeError(w, 500, err)
		return
	}
	// Enter commits hide rules; mirror them into a live tab.
	if req.Type == "enter" {
		s.syncLive(r.Context(), p)
	}
	writeJSON(w, 200, map[string]any{
		"active":  p.Picker.Active(),
		"pending": p.Picker.Pending(),
	})
}

func (s *service) handlePickerState(w http.ResponseWriter, r *http.Request) {
	p := s.page(chi.URLParam(r, "pageID"))
	if p == nil {
		writeError(w, 404, fmt.Errorf("page not found"))
		return
	}
	p.hlMu.Lock()
	hl := p.highlight
	p.hlMu.Unlock()
	writeJSON(w, 200, map[string]any{
		"active":    p.Picker.Active(),
		"pending":   p.Picker.Pending(),
		"highlight": hl,
	})
}

// --- MCP ---

// runMCP loads PAGE_HTML (or a live PAGE_URL tab) and serves that page's
// command surface as MCP tools over stdio.
func (s *service) runMCP(ctx context.Context) error {
	origin := env("PAGE_ORIGIN", "mcp://local")

	var rawHTML string
	if path := env("PAGE_HTML", ""); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("mcp: read page html: %w", err)
		}
		rawHTML = string(data)
	} else if pageURL := env("PAGE_URL", ""); pageURL != "" {
		if _, err := s.mgr.Start(ctx); err != nil {
			return err
		}
		sess, err := browser.Open(ctx, s.mgr, pageURL)
		if err != nil {
			return err
		}
		defer sess.Close()
		rawHTML, err = sess.OuterHTML(ctx)
		if err != nil {
			return err
		}
		if origin == "mcp://local" {
			origin = pageURL
		}
	} else {
		return fmt.Errorf("mcp: PAGE_HTML or PAGE_URL is required")
	}

	p, err := s.load(ctx, origin, rawHTML)
	if err != nil {
		return err
	}
	defer s.unload(p.ID)

	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "hidethis",
		Version: "1.0.0",
	}, nil)
	p.Engine.RegisterMCP(srv)

	slog.Info("mcp serving", "origin", origin)
	return srv.Run(ctx, &mcp.StdioTransport{})
}

// --- Helpers ---

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
