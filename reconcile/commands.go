package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ArielCalisaya/HideThis/apply"
	"github.com/ArielCalisaya/HideThis/dom"
	"github.com/ArielCalisaya/HideThis/export"
	"github.com/ArielCalisaya/HideThis/rule"
	"github.com/ArielCalisaya/HideThis/selector"
)

// Command-surface errors. The facade maps these onto {success:false, error}.
var (
	ErrInvalidSelector = errors.New("invalid selector")
	ErrIndexOutOfRange = errors.New("index out of range")
)

// HiddenElement is one row of the popup's hidden-elements list.
type HiddenElement struct {
	Index    int    `json:"index"`
	Selector string `json:"selector"`
	Matches  int    `json:"matches"`
	Preview  string `json:"preview"`
}

// ToggleSelector hides or unhides by selector: absent from the hidden set
// it becomes a persisted Hide rule and is applied; present, the rule is
// removed and its matches restored. Returns whether the selector is now
// hidden.
func (r *Reconciler) ToggleSelector(ctx context.Context, sel string) (bool, error) {
	if err := selector.Validate(sel); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidSelector, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	have, err := r.st.Has(ctx, r.origin, rule.Hidden, sel)
	if err != nil {
		return false, err
	}

	if have {
		if _, err := r.st.Remove(ctx, r.origin, rule.Hidden, sel); err != nil {
			return false, err
		}
		r.unhideMatches(sel)
		r.notify(ctx)
		return false, nil
	}

	// Persist before applying: a crash after success cannot lose the rule.
	if _, err := r.st.Add(ctx, r.origin, rule.Hidden, rule.New(sel, rule.KindHide)); err != nil {
		return false, err
	}
	if !r.suspended {
		if _, err := r.applyHideRule(r.doc.Root(), sel); err != nil {
			r.logger.Warn("reconcile: apply hide", "selector", sel, "error", err)
		}
	}
	r.notify(ctx)
	return true, nil
}

// SelectorState reports whether a selector is currently in the hidden set.
func (r *Reconciler) SelectorState(ctx context.Context, sel string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.Has(ctx, r.origin, rule.Hidden, sel)
}

// ToggleVisibility suspends or resumes hide effects without touching rules:
// suspending restores every tagged element; resuming re-applies all hidden
// rules. Returns true when elements are now visible (engine suspended).
func (r *Reconciler) ToggleVisibility(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.suspended = !r.suspended
	if r.suspended {
		for _, el := range dom.Elements(r.doc.Root()) {
			apply.Unhide(el)
		}
		return true, nil
	}

	hidden, err := r.st.List(ctx, r.origin, rule.Hidden)
	if err != nil {
		return false, err
	}
	for _, ru := range hidden {
		if _, err := r.applyHideRule(r.doc.Root(), ru.Selector); err != nil {
			r.logger.Warn("reconcile: resume hide", "selector", ru.Selector, "error", err)
		}
	}
	return false, nil
}

// ClearAll removes every hidden rule for the origin and restores all tagged
// elements. Returns the number of rules cleared.
func (r *Reconciler) ClearAll(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, err := r.st.Clear(ctx, r.origin, rule.Hidden)
	if err != nil {
		return 0, err
	}
	for _, el := range dom.Elements(r.doc.Root()) {
		apply.Unhide(el)
	}
	r.notify(ctx)
	return n, nil
}

// HiddenCount returns the number of hidden rules for the origin.
func (r *Reconciler) HiddenCount(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts, err := r.st.Counts(ctx, r.origin)
	if err != nil {
		return 0, err
	}
	return counts.Hidden, nil
}

// RemoveElements persists a removal rule and applies it immediately: class
// selectors strip the class, anything else deletes matching elements.
// Returns how many elements this invocation affected; zero matches is not
// an error, the rule stays armed for lazy-loaded content.
func (r *Reconciler) RemoveElements(ctx context.Context, sel string) (int, error) {
	if err := selector.Validate(sel); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidSelector, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ru := rule.New(sel, rule.KindRemove)
	ru.Type = classifyRemove(sel)
	if ru.Type == rule.RemoveClass {
		ru.Kind = rule.KindStripClass
	}

	if _, err := r.st.Add(ctx, r.origin, rule.Removed, ru); err != nil {
		return 0, err
	}

	n, err := r.applyRemoveRule(r.doc.Root(), ru)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		if err := r.st.AddMatches(ctx, r.origin, sel, n); err != nil {
			r.logger.Warn("reconcile: record match count", "error", err)
		}
	}
	r.notify(ctx)
	return n, nil
}

// RemoveBlurFilter finds elements carrying inline blur or backdrop filters,
// strips the filters, and persists an invalidation for each element's
// generated selector so re-added blurs stay defeated. Returns the
// invalidated selectors.
func (r *Reconciler) RemoveBlurFilter(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var selectors []string
	for _, el := range dom.Elements(r.doc.Root()) {
		blurred := strings.Contains(dom.StyleProp(el, "filter"), "blur") ||
			strings.Contains(dom.StyleProp(el, "backdrop-filter"), "blur")
		if !blurred {
			continue
		}
		dom.RemoveStyleProp(el, "filter")
		dom.RemoveStyleProp(el, "backdrop-filter")

		sel := r.res.Generate(el)
		if sel == "" {
			continue
		}
		added, err := r.st.Add(ctx, r.origin, rule.Invalidated, rule.New(sel, rule.KindInvalidate))
		if err != nil {
			return selectors, err
		}
		r.inv.Invalidate(sel)
		if added {
			selectors = append(selectors, sel)
		}
	}
	if len(selectors) > 0 {
		r.notify(ctx)
	}
	return selectors, nil
}

// ClearRemovedElements drops all removal rules. Already-deleted nodes stay
// deleted; only future matches stop being removed.
func (r *Reconciler) ClearRemovedElements(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, err := r.st.Clear(ctx, r.origin, rule.Removed)
	if err != nil {
		return 0, err
	}
	r.notify(ctx)
	return n, nil
}

// RemovedElementsCount returns the number of removal rules for the origin.
func (r *Reconciler) RemovedElementsCount(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts, err := r.st.Counts(ctx, r.origin)
	if err != nil {
		return 0, err
	}
	return counts.Removed, nil
}

// InvalidateCSS persists a selector in the invalidated set and adds its
// override block to the engine stylesheet. Returns false when the selector
// was already invalidated (no duplicate block is emitted).
func (r *Reconciler) InvalidateCSS(ctx context.Context, sel string) (bool, error) {
	if err := selector.Validate(sel); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidSelector, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	added, err := r.st.Add(ctx, r.origin, rule.Invalidated, rule.New(sel, rule.KindInvalidate))
	if err != nil {
		return false, err
	}
	r.inv.Invalidate(sel)
	if added {
		r.notify(ctx)
	}
	return added, nil
}

// ClearInvalidatedCSS drops all invalidated selectors and empties the
// stylesheet.
func (r *Reconciler) ClearInvalidatedCSS(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, err := r.st.Clear(ctx, r.origin, rule.Invalidated)
	if err != nil {
		return 0, err
	}
	r.inv.Reset()
	r.notify(ctx)
	return n, nil
}

// HiddenElements lists the hidden rules with live match counts and a
// sanitised preview of the first match.
func (r *Reconciler) HiddenElements(ctx context.Context) ([]HiddenElement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hidden, err := r.st.List(ctx, r.origin, rule.Hidden)
	if err != nil {
		return nil, err
	}

	out := make([]HiddenElement, 0, len(hidden))
	for i, ru := range hidden {
		he := HiddenElement{Index: i, Selector: ru.Selector}
		if parsed, err := selector.Parse(ru.Selector); err == nil {
			matches := parsed.MatchAll(r.doc.Root())
			he.Matches = len(matches)
			if len(matches) > 0 {
				he.Preview = r.exp.Preview(matches[0])
			}
		}
		out = append(out, he)
	}
	return out, nil
}

// RemoveHiddenElement deletes the hidden rule at index (insertion order)
// and restores its matches. Returns the removed selector.
func (r *Reconciler) RemoveHiddenElement(ctx context.Context, index int) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hidden, err := r.st.List(ctx, r.origin, rule.Hidden)
	if err != nil {
		return "", err
	}
	if index < 0 || index >= len(hidden) {
		return "", fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, len(hidden))
	}
	sel := hidden[index].Selector
	if _, err := r.st.Remove(ctx, r.origin, rule.Hidden, sel); err != nil {
		return "", err
	}
	r.unhideMatches(sel)
	r.notify(ctx)
	return sel, nil
}

// RemoveInvalidatedSelector deletes the invalidated selector at index and
// rewrites the stylesheet from the remaining set. Returns the selector.
func (r *Reconciler) RemoveInvalidatedSelector(ctx context.Context, index int) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	invalidated, err := r.st.List(ctx, r.origin, rule.Invalidated)
	if err != nil {
		return "", err
	}
	if index < 0 || index >= len(invalidated) {
		return "", fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, len(invalidated))
	}
	sel := invalidated[index].Selector
	if _, err := r.st.Remove(ctx, r.origin, rule.Invalidated, sel); err != nil {
		return "", err
	}
	r.inv.Restore(sel)
	r.notify(ctx)
	return sel, nil
}

// CountsNow tallies the three collections for the origin.
func (r *Reconciler) CountsNow(ctx context.Context) (rule.Counts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.Counts(ctx, r.origin)
}

// ExportSnapshot renders the reconciled document. Format "markdown" or
// "html" (default).
func (r *Reconciler) ExportSnapshot(ctx context.Context, format string) (*export.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if format == "markdown" || format == "md" {
		return r.exp.MarkdownSnapshot(r.doc)
	}
	return r.exp.HTMLSnapshot(r.doc)
}

// unhideMatches restores every current match of sel and clears its
// processed marker so a later re-add starts fresh.
func (r *Reconciler) unhideMatches(sel string) {
	parsed, err := selector.Parse(sel)
	if err != nil {
		return
	}
	key := apply.RuleKey(rule.KindHide, sel)
	for _, el := range parsed.MatchAll(r.doc.Root()) {
		apply.Unhide(el)
		apply.ClearProcessed(el, key)
	}
}

// classifyRemove mirrors the extension's selector typing: a single id token
// is "id", a single class token is "class", anything else is "complex".
func classifyRemove(sel string) rule.RemoveType {
	if len(sel) > 1 && sel[0] == '#' && isPlainIdent(sel[1:]) {
		return rule.RemoveID
	}
	if len(sel) > 1 && sel[0] == '.' && isPlainIdent(sel[1:]) {
		return rule.RemoveClass
	}
	return rule.RemoveComplex
}

func isPlainIdent(s string) bool {
	for i := 0; i < len(s); i++ {
		b := s[i]
		switch {
		case b == '-' || b == '_',
			b >= '0' && b <= '9',
			b >= 'a' && b <= 'z',
			b >= 'A' && b <= 'Z':
		default:
			return false
		}
	}
	return s != ""
}
