package selector

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/ArielCalisaya/HideThis/dom"
)

// dataAttrAllowList is the ordered fallback for elements with neither id nor
// usable classes. Only these attributes produce stable selectors; arbitrary
// attributes churn too much between page loads.
var dataAttrAllowList = []string{
	"data-testid", "data-id", "data-component", "role", "aria-label",
}

// Generate derives the persisted selector for an element. Priority: #id,
// then the full non-engine class list, then an allow-listed attribute, then
// the bare tag name. Exactly one form is returned; Candidates lists the
// alternatives for preview.
func (r *Resolver) Generate(n *html.Node) string {
	if n == nil || n.Type != html.ElementNode {
		return ""
	}

	if id := dom.GetAttr(n, "id"); id != "" && !strings.HasPrefix(id, r.Policy.OwnPrefix) {
		return "#" + id
	}

	if classes := r.usableClasses(n); len(classes) > 0 {
		return "." + strings.Join(classes, ".")
	}

	for _, attr := range dataAttrAllowList {
		if v := dom.GetAttr(n, attr); v != "" {
			return fmt.Sprintf("[%s=%q]", attr, v)
		}
	}

	return dom.Tag(n)
}

// Candidates lists every selector form the element supports, in priority
// order, for interactive preview. The first entry equals Generate(n).
func (r *Resolver) Candidates(n *html.Node) []string {
	if n == nil || n.Type != html.ElementNode {
		return nil
	}
	var out []string

	if id := dom.GetAttr(n, "id"); id != "" && !strings.HasPrefix(id, r.Policy.OwnPrefix) {
		out = append(out, "#"+id)
	}
	if classes := r.usableClasses(n); len(classes) > 0 {
		out = append(out, "."+strings.Join(classes, "."))
	}
	for _, attr := range dataAttrAllowList {
		if v := dom.GetAttr(n, attr); v != "" {
			out = append(out, fmt.Sprintf("[%s=%q]", attr, v))
		}
	}
	out = append(out, dom.Tag(n))
	return out
}

// usableClasses filters out the engine's own marker classes.
func (r *Resolver) usableClasses(n *html.Node) []string {
	var out []string
	for _, c := range dom.Classes(n) {
		if strings.HasPrefix(c, r.Policy.OwnPrefix) {
			continue
		}
		out = append(out, c)
	}
	return out
}
