package apply

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/ArielCalisaya/HideThis/dom"
)

// StyleElementID identifies the single engine-owned stylesheet element.
const StyleElementID = "hidethis-invalidate-style"

// resetProps is the override block emitted per invalidated selector. The
// leading all:unset wipes the cascade; the explicit properties pin down the
// layout-relevant ones that unset alone leaves at awkward initial values.
// Every declaration carries !important: this is a best-effort cascade
// override, not a guaranteed win.
var resetProps = []string{
	"all: unset",
	"display: revert",
	"position: static",
	"width: auto",
	"height: auto",
	"max-width: none",
	"max-height: none",
	"min-width: 0",
	"min-height: 0",
	"margin: 0",
	"padding: 0",
	"visibility: visible",
	"opacity: 1",
	"overflow: visible",
	"filter: none",
	"backdrop-filter: none",
	"transform: none",
	"z-index: auto",
	"pointer-events: auto",
	"user-select: auto",
}

// Invalidator owns the invalidation stylesheet: one <style> element whose
// content is rebuilt from the full set of invalidated selectors on every
// change. Re-invalidating a present selector is a no-op.
type Invalidator struct {
	doc       *dom.Document
	selectors []string
	style     *html.Node
}

// NewInvalidator creates an Invalidator for the document. The style element
// is created lazily on the first invalidation.
func NewInvalidator(doc *dom.Document) *Invalidator {
	return &Invalidator{doc: doc}
}

// Invalidate adds a selector to the invalidation set and rewrites the
// stylesheet. Returns false if the selector was already present.
func (iv *Invalidator) Invalidate(selector string) bool {
	for _, s := range iv.selectors {
		if s == selector {
			return false
		}
	}
	iv.selectors = append(iv.selectors, selector)
	iv.rebuild()
	return true
}

// Restore removes a selector's block and rewrites the stylesheet from the
// remaining set. Returns false if the selector was not present.
func (iv *Invalidator) Restore(selector string) bool {
	for i, s := range iv.selectors {
		if s == selector {
			iv.selectors = append(iv.selectors[:i], iv.selectors[i+1:]...)
			iv.rebuild()
			return true
		}
	}
	return false
}

// Selectors returns the current invalidation set in insertion order.
func (iv *Invalidator) Selectors() []string {
	out := make([]string, len(iv.selectors))
	copy(out, iv.selectors)
	return out
}

// Reset drops every invalidated selector and empties the stylesheet.
// Returns the number of selectors cleared.
func (iv *Invalidator) Reset() int {
	n := len(iv.selectors)
	iv.selectors = nil
	iv.rebuild()
	return n
}

// CSS returns the current stylesheet text: one 3-rule block per selector at
// increasing specificity (sel, html sel, html body sel).
func (iv *Invalidator) CSS() string {
	var sb strings.Builder
	body := strings.Join(resetProps, " !important;\n  ") + " !important;"
	for _, sel := range iv.selectors {
		for _, prefix := range []string{"", "html ", "html body "} {
			sb.WriteString(prefix + sel + " {\n  " + body + "\n}\n")
		}
	}
	return sb.String()
}

// rebuild rewrites the style element's single text child from the current
// selector set, creating or removing the element as needed.
func (iv *Invalidator) rebuild() {
	css := iv.CSS()

	if iv.style == nil || !dom.Attached(iv.style) {
		if len(iv.selectors) == 0 {
			return
		}
		iv.style = &html.Node{
			Type:     html.ElementNode,
			Data:     "style",
			DataAtom: atom.Style,
			Attr:     []html.Attribute{{Key: "id", Val: StyleElementID}},
		}
		parent := iv.doc.Head()
		if parent == nil {
			parent = iv.doc.Root()
		}
		parent.AppendChild(iv.style)
	}

	for c := iv.style.FirstChild; c != nil; {
		next := c.NextSibling
		iv.style.RemoveChild(c)
		c = next
	}
	iv.style.AppendChild(&html.Node{Type: html.TextNode, Data: css})
}
