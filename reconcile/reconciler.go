// Package reconcile implements the rule-reconciliation engine: replay all
// persisted rules against the document on load, then keep them continuously
// satisfied as the document mutates.
//
// The Reconciler is constructed once per document lifetime and passed by
// reference to its collaborators; there is no ambient global state. It
// answers the message facade's command surface (commands.go) and emits
// counts-changed notifications, but never initiates facade calls itself.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/net/html"

	"github.com/ArielCalisaya/HideThis/apply"
	"github.com/ArielCalisaya/HideThis/dom"
	"github.com/ArielCalisaya/HideThis/export"
	"github.com/ArielCalisaya/HideThis/rule"
	"github.com/ArielCalisaya/HideThis/selector"
	"github.com/ArielCalisaya/HideThis/store"
)

// State is the reconciler lifecycle phase.
type State int

const (
	StateIdle State = iota
	StateBootstrapping
	StateObserving // terminal until teardown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBootstrapping:
		return "bootstrapping"
	case StateObserving:
		return "observing"
	default:
		return "stopped"
	}
}

// Reconciler keeps one origin's persisted rules satisfied against one live
// document. All document access is serialised through its mutex: commands
// arriving from the facade and observer batches never interleave mid-apply.
type Reconciler struct {
	mu  sync.Mutex
	doc *dom.Document
	st  *store.Store
	res *selector.Resolver
	inv *apply.Invalidator
	exp *export.Exporter

	cfg       Config
	origin    string
	logger    *slog.Logger
	notifiers *NotifierSet

	state     State
	suspended bool // toggleVisibility: rules kept, effects lifted

	feed   *dom.Feed
	vis    *dom.VisibilityFeed
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Reconciler for the document's origin.
func New(doc *dom.Document, st *store.Store, cfg Config, logger *slog.Logger) *Reconciler {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		doc:       doc,
		st:        st,
		res:       selector.NewResolver(cfg.policy()),
		inv:       apply.NewInvalidator(doc),
		exp:       export.New(),
		cfg:       cfg,
		origin:    doc.Origin(),
		logger:    logger,
		notifiers: &NotifierSet{logger: logger},
		state:     StateIdle,
	}
}

// ResolveCandidate resolves a raw pointer target to its hideable element and
// generated selector, under the engine lock. ok is false when resolution
// fails the validity gate or no stable selector exists. The interactive
// picker goes through here so hover and rule generation agree with the
// engine's own policy.
func (r *Reconciler) ResolveCandidate(n *html.Node) (target *html.Node, sel string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	target = r.res.ResolveTarget(n)
	if target == nil || !r.res.IsValidElement(target) {
		return nil, "", false
	}
	sel = r.res.Generate(target)
	if sel == "" {
		return nil, "", false
	}
	return target, sel, true
}

// Append parses an HTML fragment and attaches it under the document body,
// serialised with every other document access. The addition feed picks the
// new subtrees up like any page mutation. Returns the number of attached
// element roots.
func (r *Reconciler) Append(fragment string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	nodes, err := r.doc.AppendHTML(r.doc.Body(), fragment)
	return len(nodes), err
}

// SetViewport updates the document viewport under the engine lock, running
// the near-visibility scan.
func (r *Reconciler) SetViewport(top, height int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doc.SetViewport(top, height)
}

// QueryFirst returns the first document-order match of sel, or nil without
// error when nothing matches.
func (r *Reconciler) QueryFirst(sel string) (*html.Node, error) {
	parsed, err := selector.Parse(sel)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSelector, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	matches := parsed.MatchAll(r.doc.Root())
	if len(matches) == 0 {
		return nil, nil
	}
	return matches[0], nil
}

// InvalidationCSS returns the current override stylesheet text.
func (r *Reconciler) InvalidationCSS() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inv.CSS()
}

// Suspended reports whether hide effects are currently lifted.
func (r *Reconciler) Suspended() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.suspended
}

// State returns the current lifecycle phase.
func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// AddNotifier registers a counts-changed sink.
func (r *Reconciler) AddNotifier(n Notifier) { r.notifiers.Add(n) }

// Start runs the bootstrap sweep and then begins observing. Idle →
// Bootstrapping → Observing; Start on a non-idle reconciler is an error.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state != StateIdle {
		r.mu.Unlock()
		return fmt.Errorf("reconcile: start in state %s", r.state)
	}
	r.state = StateBootstrapping
	r.mu.Unlock()

	if err := r.Bootstrap(ctx); err != nil {
		// Storage failure only; individual rule errors never surface here.
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	r.cancel = cancel
	r.done = make(chan struct{})
	r.feed = r.doc.SubscribeAdditions(dom.FeedConfig{
		Window:    r.cfg.Debounce.Window,
		MaxBuffer: r.cfg.Debounce.MaxBuffer,
	})
	r.vis = r.doc.SubscribeVisibility(r.cfg.LookAheadPx)
	r.state = StateObserving
	r.mu.Unlock()

	go r.loop(loopCtx)

	r.logger.Info("reconcile: observing", "origin", r.origin)
	return nil
}

// Stop disconnects both observation channels. Applied effects stay in
// place; no rules are deleted.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done

	r.mu.Lock()
	r.feed.Close()
	r.vis.Close()
	r.cancel = nil
	r.state = StateStopped
	r.mu.Unlock()

	r.logger.Info("reconcile: stopped", "origin", r.origin)
}

// Bootstrap replays all persisted rules against the current document, kind
// by kind: hidden, then removedElements, then invalidatedCSS. Errors from
// an individual rule are logged and skipped; only a storage read aborts.
func (r *Reconciler) Bootstrap(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	hidden, err := r.st.List(ctx, r.origin, rule.Hidden)
	if err != nil {
		return fmt.Errorf("reconcile: bootstrap read hidden: %w", err)
	}
	removed, err := r.st.List(ctx, r.origin, rule.Removed)
	if err != nil {
		return fmt.Errorf("reconcile: bootstrap read removed: %w", err)
	}
	invalidated, err := r.st.List(ctx, r.origin, rule.Invalidated)
	if err != nil {
		return fmt.Errorf("reconcile: bootstrap read invalidated: %w", err)
	}

	root := r.doc.Root()
	for _, ru := range hidden {
		if n, err := r.applyHideRule(root, ru.Selector); err != nil {
			r.logger.Warn("reconcile: bootstrap hide failed",
				"selector", ru.Selector, "error", err)
		} else {
			r.logger.Debug("reconcile: bootstrap hide", "selector", ru.Selector, "matches", n)
		}
	}
	for _, ru := range removed {
		n, err := r.applyRemoveRule(root, ru)
		if err != nil {
			r.logger.Warn("reconcile: bootstrap remove failed",
				"selector", ru.Selector, "error", err)
			continue
		}
		if n > 0 {
			if err := r.st.AddMatches(ctx, r.origin, ru.Selector, n); err != nil {
				r.logger.Warn("reconcile: record match count", "error", err)
			}
		}
	}
	for _, ru := range invalidated {
		r.inv.Invalidate(ru.Selector)
	}

	r.logger.Info("reconcile: bootstrap complete", "origin", r.origin,
		"hidden", len(hidden), "removed", len(removed), "invalidated", len(invalidated))
	return nil
}

// loop is the observation phase: two change channels applied with the same
// idempotent appliers, so their relative ordering is irrelevant.
func (r *Reconciler) loop(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return
		case batch := <-r.feed.C:
			r.onAdded(ctx, batch)
		case batch := <-r.vis.C:
			r.onNearVisible(ctx, batch)
		}
	}
}

// onAdded re-runs the full current rule sets against each added subtree.
func (r *Reconciler) onAdded(ctx context.Context, roots []*html.Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.suspended {
		return
	}

	hidden, err := r.st.List(ctx, r.origin, rule.Hidden)
	if err != nil {
		r.logger.Warn("reconcile: read hidden rules", "error", err)
	}
	removed, err := r.st.List(ctx, r.origin, rule.Removed)
	if err != nil {
		r.logger.Warn("reconcile: read removed rules", "error", err)
	}

	matched := 0
	for _, root := range roots {
		if !dom.Attached(root) {
			continue // removed again before the batch fired
		}
		for _, ru := range hidden {
			if n, err := r.applyHideRule(root, ru.Selector); err == nil {
				matched += n
			}
		}
		for _, ru := range removed {
			n, err := r.applyRemoveRule(root, ru)
			if err != nil {
				continue
			}
			if n > 0 {
				matched += n
				if err := r.st.AddMatches(ctx, r.origin, ru.Selector, n); err != nil {
					r.logger.Warn("reconcile: record match count", "error", err)
				}
			}
		}
	}
	if matched > 0 {
		r.logger.Debug("reconcile: batch applied", "subtrees", len(roots), "matched", matched)
	}
}

// onNearVisible re-applies class-strip rules to elements entering the
// expanded viewport. Virtualisation frameworks often attach classes only
// near-visibility, which the addition channel's equality check misses.
func (r *Reconciler) onNearVisible(ctx context.Context, nodes []*html.Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.suspended {
		return
	}

	removed, err := r.st.List(ctx, r.origin, rule.Removed)
	if err != nil {
		r.logger.Warn("reconcile: read removed rules", "error", err)
		return
	}

	for _, n := range nodes {
		if !dom.Attached(n) {
			continue
		}
		for _, ru := range removed {
			if ru.Kind != rule.KindStripClass {
				continue
			}
			class := strings.TrimPrefix(ru.Selector, ".")
			key := apply.RuleKey(ru.Kind, ru.Selector)
			for _, el := range dom.Elements(n) {
				apply.StripClass(el, class, key)
			}
		}
	}
}

// applyHideRule hides every match of sel under root. Zero matches is not an
// error: the rule stays armed for future content.
func (r *Reconciler) applyHideRule(root *html.Node, sel string) (int, error) {
	parsed, err := selector.Parse(sel)
	if err != nil {
		return 0, err
	}
	key := apply.RuleKey(rule.KindHide, sel)
	n := 0
	for _, el := range parsed.MatchAll(root) {
		if apply.Hide(el) {
			n++
		}
		apply.MarkProcessed(el, key)
	}
	return n, nil
}

// applyRemoveRule applies one Removed-collection rule under root: class
// rules strip the class, id/complex rules delete matching elements.
func (r *Reconciler) applyRemoveRule(root *html.Node, ru rule.Rule) (int, error) {
	parsed, err := selector.Parse(ru.Selector)
	if err != nil {
		return 0, err
	}
	key := apply.RuleKey(ru.Kind, ru.Selector)
	n := 0

	if ru.Kind == rule.KindStripClass {
		class := strings.TrimPrefix(ru.Selector, ".")
		for _, el := range parsed.MatchAll(root) {
			if apply.StripClass(el, class, key) {
				n++
			}
		}
		return n, nil
	}

	for _, el := range parsed.MatchAll(root) {
		if apply.Remove(el) {
			n++
		}
	}
	return n, nil
}

// notify reports current counts to every registered sink. Failures are the
// sinks' problem; the engine only logs.
func (r *Reconciler) notify(ctx context.Context) {
	counts, err := r.st.Counts(ctx, r.origin)
	if err != nil {
		r.logger.Warn("reconcile: counts for notify", "error", err)
		return
	}
	r.notifiers.CountsChanged(ctx, r.origin, counts)
}
