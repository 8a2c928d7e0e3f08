// Package apply implements the four action appliers. Each is idempotent:
// applying the same rule to the same element twice leaves the exact state a
// single application produces. Hide is reversible, StripClass re-triggers on
// re-added classes, Remove is destructive by design, and Invalidate manages
// a single engine-owned stylesheet.
//
// State is carried on the nodes themselves via data-hidethis-* marker
// attributes, so replays never need a node→rule index.
package apply

import (
	"hash/fnv"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/ArielCalisaya/HideThis/dom"
	"github.com/ArielCalisaya/HideThis/rule"
)

// Marker attribute names. The "hidethis-" prefix keeps them inside the
// engine's own namespace, excluded from selector generation.
const (
	AttrHidden          = "data-hidethis-hidden"
	AttrOriginalDisplay = "data-hidethis-original-display"
	AttrProcessed       = "data-hidethis-processed"
)

// RuleKey is a compact identifier for (kind, selector), stored in the
// processed marker. FNV-1a keeps the attribute short on busy nodes.
func RuleKey(k rule.Kind, selector string) string {
	h := fnv.New32a()
	h.Write([]byte(string(k)))
	h.Write([]byte{'|'})
	h.Write([]byte(selector))
	return strconv.FormatUint(uint64(h.Sum32()), 16)
}

// Processed reports whether the node already carries the rule key.
func Processed(n *html.Node, key string) bool {
	for _, k := range strings.Fields(dom.GetAttr(n, AttrProcessed)) {
		if k == key {
			return true
		}
	}
	return false
}

// MarkProcessed records the rule key on the node. Idempotent.
func MarkProcessed(n *html.Node, key string) {
	if Processed(n, key) {
		return
	}
	cur := dom.GetAttr(n, AttrProcessed)
	if cur == "" {
		dom.SetAttr(n, AttrProcessed, key)
		return
	}
	dom.SetAttr(n, AttrProcessed, cur+" "+key)
}

// ClearProcessed removes one rule key from the node's processed marker.
func ClearProcessed(n *html.Node, key string) {
	fields := strings.Fields(dom.GetAttr(n, AttrProcessed))
	kept := fields[:0]
	for _, k := range fields {
		if k != key {
			kept = append(kept, k)
		}
	}
	if len(kept) == 0 {
		dom.RemoveAttr(n, AttrProcessed)
		return
	}
	dom.SetAttr(n, AttrProcessed, strings.Join(kept, " "))
}

// Hide records the element's current inline display (only on first
// application), forces display:none, and tags the element. Returns true if
// the element transitioned from visible to hidden.
func Hide(n *html.Node) bool {
	if dom.GetAttr(n, AttrHidden) == "true" {
		return false
	}
	if !dom.HasAttr(n, AttrOriginalDisplay) {
		dom.SetAttr(n, AttrOriginalDisplay, dom.StyleProp(n, "display"))
	}
	dom.SetStyleProp(n, "display", "none")
	dom.SetAttr(n, AttrHidden, "true")
	return true
}

// Unhide restores the display value recorded by Hide, or clears the inline
// override if none was recorded, and removes the tags. Returns true if the
// element was hidden.
func Unhide(n *html.Node) bool {
	if dom.GetAttr(n, AttrHidden) != "true" {
		return false
	}
	orig := dom.GetAttr(n, AttrOriginalDisplay)
	if dom.HasAttr(n, AttrOriginalDisplay) && orig != "" {
		dom.SetStyleProp(n, "display", orig)
	} else {
		dom.RemoveStyleProp(n, "display")
	}
	dom.RemoveAttr(n, AttrOriginalDisplay)
	dom.RemoveAttr(n, AttrHidden)
	return true
}

// Hidden reports whether the node carries the hide tag.
func Hidden(n *html.Node) bool {
	return dom.GetAttr(n, AttrHidden) == "true"
}

// StripClass removes class from the node and marks it processed for the
// given rule key so one mutation batch does not strip twice. A class
// re-added by the page later clears nothing: the next batch re-triggers the
// strip, which is intentional.
func StripClass(n *html.Node, class, key string) bool {
	stripped := dom.RemoveClass(n, class)
	if stripped {
		MarkProcessed(n, key)
	}
	return stripped
}

// Remove detaches the node from the document outright. There is no reverse:
// the persisted rule only governs future matches.
func Remove(n *html.Node) bool {
	if n.Parent == nil {
		return false
	}
	dom.Detach(n)
	return true
}
