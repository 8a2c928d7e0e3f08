package selector

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/ArielCalisaya/HideThis/dom"
)

// Policy holds the empirically tuned thresholds of the target-resolution
// heuristic. The values carry over from the extension unchanged; override
// individual fields rather than inferring "better" ones.
type Policy struct {
	// MinVisible is the minimum width and height for an element to be a
	// valid rule target.
	MinVisible int
	// SmallWidth / SmallHeight classify an element as "small", triggering
	// the ancestor climb.
	SmallWidth  int
	SmallHeight int
	// GrowthFactor is how much larger (in one dimension) an ancestor must
	// be to absorb the selection.
	GrowthFactor float64
	// MaxClimb bounds the ancestor walk.
	MaxClimb int
	// OwnPrefix marks the engine's own UI nodes by id/class prefix; those
	// are never valid targets and never contribute generated classes.
	OwnPrefix string
}

// DefaultPolicy returns the extension's tuned values.
func DefaultPolicy() Policy {
	return Policy{
		MinVisible:   10,
		SmallWidth:   50,
		SmallHeight:  20,
		GrowthFactor: 1.5,
		MaxClimb:     3,
		OwnPrefix:    "hidethis-",
	}
}

func (p *Policy) defaults() {
	d := DefaultPolicy()
	if p.MinVisible <= 0 {
		p.MinVisible = d.MinVisible
	}
	if p.SmallWidth <= 0 {
		p.SmallWidth = d.SmallWidth
	}
	if p.SmallHeight <= 0 {
		p.SmallHeight = d.SmallHeight
	}
	if p.GrowthFactor <= 0 {
		p.GrowthFactor = d.GrowthFactor
	}
	if p.MaxClimb <= 0 {
		p.MaxClimb = d.MaxClimb
	}
	if p.OwnPrefix == "" {
		p.OwnPrefix = d.OwnPrefix
	}
}

// inlineTags are small inline-level elements: clicking one usually means
// the user wants its visual container, not the text sliver itself.
var inlineTags = map[string]bool{
	"span": true, "a": true, "strong": true, "em": true,
	"b": true, "i": true, "code": true,
}

// blockTags are containers worth absorbing a selection into.
var blockTags = map[string]bool{
	"div": true, "section": true, "article": true, "aside": true,
	"p": true, "li": true, "ul": true, "ol": true,
}

// structuralTags never absorb a selection.
var structuralTags = map[string]bool{
	"body": true, "html": true, "main": true,
	"header": true, "footer": true, "nav": true,
}

// excludedTags can never be rule targets at all.
var excludedTags = map[string]bool{
	"html": true, "body": true, "head": true, "script": true,
	"style": true, "meta": true, "link": true, "title": true,
}

// Resolver applies the target heuristic and validity gate.
type Resolver struct {
	Policy Policy
}

// NewResolver builds a Resolver, filling zero policy fields with defaults.
func NewResolver(p Policy) *Resolver {
	p.defaults()
	return &Resolver{Policy: p}
}

// ResolveTarget climbs from a raw event target to the nearest meaningful
// element. Non-elements resolve to their parent. Small or inline targets
// climb up to MaxClimb levels looking for a block container at least
// GrowthFactor larger; failing that, the original node is returned.
func (r *Resolver) ResolveTarget(raw *html.Node) *html.Node {
	if raw == nil {
		return nil
	}
	n := raw
	if n.Type != html.ElementNode {
		n = n.Parent
		if n == nil {
			return nil
		}
	}

	if !r.needsClimb(n) {
		return n
	}

	base := dom.NodeBox(n)
	cur := n.Parent
	for depth := 0; depth < r.Policy.MaxClimb && cur != nil; depth++ {
		if cur.Type != html.ElementNode {
			break
		}
		tag := dom.Tag(cur)
		if structuralTags[tag] {
			break
		}
		if blockTags[tag] && r.grewEnough(base, dom.NodeBox(cur)) {
			return cur
		}
		cur = cur.Parent
	}
	return n
}

func (r *Resolver) needsClimb(n *html.Node) bool {
	if inlineTags[dom.Tag(n)] {
		return true
	}
	box := dom.NodeBox(n)
	if !box.SizeKnown {
		return false
	}
	return box.Width < r.Policy.SmallWidth || box.Height < r.Policy.SmallHeight
}

func (r *Resolver) grewEnough(base, parent dom.Box) bool {
	if !base.SizeKnown || !parent.SizeKnown {
		return false
	}
	f := r.Policy.GrowthFactor
	return float64(parent.Width) >= f*float64(base.Width) ||
		float64(parent.Height) >= f*float64(base.Height)
}

// IsValidElement gates rule targets: structural/meta tags, the engine's own
// UI, hidden elements, and sub-threshold slivers are all rejected. Applied
// during interactive hover and again before a rule is generated.
func (r *Resolver) IsValidElement(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	if excludedTags[dom.Tag(n)] {
		return false
	}
	if r.isOwnUI(n) {
		return false
	}
	if dom.HiddenByStyle(n) {
		return false
	}
	box := dom.NodeBox(n)
	if box.SizeKnown && (box.Width < r.Policy.MinVisible || box.Height < r.Policy.MinVisible) {
		return false
	}
	return true
}

func (r *Resolver) isOwnUI(n *html.Node) bool {
	if strings.HasPrefix(dom.GetAttr(n, "id"), r.Policy.OwnPrefix) {
		return true
	}
	for _, c := range dom.Classes(n) {
		if strings.HasPrefix(c, r.Policy.OwnPrefix) {
			return true
		}
	}
	return false
}
