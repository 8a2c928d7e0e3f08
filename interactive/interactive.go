// Package interactive implements element-picking mode: pointer movement
// resolves and highlights a candidate element, clicks accumulate a pending
// set, Enter commits the set as persisted hide rules, Escape abandons it.
//
// The picker shares the engine's resolver so the element highlighted under
// the pointer is exactly the element a committed rule will hide.
package interactive

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/net/html"

	"github.com/ArielCalisaya/HideThis/reconcile"
)

// Event is an input event forwarded from the page while picking.
type Event interface{ isEvent() }

// PointerMove reports the node currently under the pointer.
type PointerMove struct{ Node *html.Node }

// Click reports a click on the node under the pointer.
type Click struct{ Node *html.Node }

// KeyEnter commits the pending set.
type KeyEnter struct{}

// KeyEscape abandons the pending set and leaves picking mode.
type KeyEscape struct{}

func (PointerMove) isEvent() {}
func (Click) isEvent()       {}
func (KeyEnter) isEvent()    {}
func (KeyEscape) isEvent()   {}

// HighlightFunc is called when the highlighted candidate changes. A nil node
// clears the highlight.
type HighlightFunc func(n *html.Node, selector string)

// Picker drives one interactive selection session per document.
type Picker struct {
	mu     sync.Mutex
	eng    *reconcile.Reconciler
	logger *slog.Logger

	active      bool
	hovered     *html.Node
	hoveredSel  string
	pending     []string // insertion order, deduplicated
	onHighlight HighlightFunc
}

// New creates a Picker bound to an engine.
func New(eng *reconcile.Reconciler, logger *slog.Logger) *Picker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Picker{eng: eng, logger: logger}
}

// OnHighlight registers the highlight callback. Call before Activate.
func (p *Picker) OnHighlight(fn HighlightFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onHighlight = fn
}

// Activate enters picking mode. Idempotent.
func (p *Picker) Activate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active {
		return
	}
	p.active = true
	p.pending = nil
	p.logger.Debug("interactive: activated")
}

// Active reports whether picking mode is on.
func (p *Picker) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Pending returns the selectors clicked so far, in click order.
func (p *Picker) Pending() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.pending))
	copy(out, p.pending)
	return out
}

// Handle dispatches one input event. Events while inactive are dropped.
func (p *Picker) Handle(ctx context.Context, ev Event) error {
	switch e := ev.(type) {
	case PointerMove:
		p.pointerMove(e.Node)
		return nil
	case Click:
		p.click(e.Node)
		return nil
	case KeyEnter:
		_, err := p.Commit(ctx)
		return err
	case KeyEscape:
		p.Cancel()
		return nil
	default:
		return nil
	}
}

// pointerMove resolves the hovered node to its hideable target and fires the
// highlight callback when the candidate changes. Invalid targets clear the
// highlight rather than falling back to an ancestor.
func (p *Picker) pointerMove(n *html.Node) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return
	}

	target, sel, ok := p.eng.ResolveCandidate(n)
	if !ok {
		p.setHighlightLocked(nil, "")
		return
	}
	p.setHighlightLocked(target, sel)
}

// click toggles the highlighted candidate's membership in the pending set.
func (p *Picker) click(n *html.Node) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return
	}

	// Resolve from the clicked node, not the last hover: a click can land
	// without an intervening move event.
	_, sel, ok := p.eng.ResolveCandidate(n)
	if !ok {
		return
	}

	for i, existing := range p.pending {
		if existing == sel {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)
			p.logger.Debug("interactive: deselected", "selector", sel)
			return
		}
	}
	p.pending = append(p.pending, sel)
	p.logger.Debug("interactive: selected", "selector", sel)
}

// Commit persists the pending set as hide rules and leaves picking mode.
// Selectors already hidden are skipped, not toggled off. Returns the
// selectors actually committed.
func (p *Picker) Commit(ctx context.Context) ([]string, error) {
	p.mu.Lock()
	if !p.active {
		p.mu.Unlock()
		return nil, nil
	}
	pending := p.pending
	p.pending = nil
	p.active = false
	p.setHighlightLocked(nil, "")
	p.mu.Unlock()

	var committed []string
	for _, sel := range pending {
		hidden, err := p.eng.SelectorState(ctx, sel)
		if err != nil {
			return committed, err
		}
		if hidden {
			continue
		}
		if _, err := p.eng.ToggleSelector(ctx, sel); err != nil {
			return committed, err
		}
		committed = append(committed, sel)
	}
	p.logger.Info("interactive: committed", "count", len(committed))
	return committed, nil
}

// Cancel abandons the pending set and leaves picking mode.
func (p *Picker) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return
	}
	p.active = false
	p.pending = nil
	p.setHighlightLocked(nil, "")
	p.logger.Debug("interactive: cancelled")
}

// setHighlightLocked updates the hover state and fires the callback only on
// change. Caller holds p.mu.
func (p *Picker) setHighlightLocked(n *html.Node, sel string) {
	if p.hovered == n && p.hoveredSel == sel {
		return
	}
	p.hovered, p.hoveredSel = n, sel
	if p.onHighlight != nil {
		p.onHighlight(n, sel)
	}
}
