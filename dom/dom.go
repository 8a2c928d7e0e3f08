// Package dom provides the in-process document model the rule engine
// reconciles against: a parsed HTML tree with attribute helpers, mutation
// entry points that feed change-notification channels, and approximate
// geometry read from inline styles.
//
// A Document is not safe for concurrent mutation. The reconciler owns it
// and serialises all access through its event loop; the feeds deliver
// batches asynchronously, never inside the triggering mutation.
package dom

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Document wraps a parsed HTML tree for one origin.
type Document struct {
	root   *html.Node
	origin string

	feeds      []*Feed
	visibility []*VisibilityFeed

	viewTop    int
	viewHeight int
}

// Parse parses a full HTML document.
func Parse(src string, origin string) (*Document, error) {
	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("dom: parse: %w", err)
	}
	return &Document{root: root, origin: origin, viewHeight: 900}, nil
}

// Root returns the document root node.
func (d *Document) Root() *html.Node { return d.root }

// Origin returns the hostname scope this document belongs to.
func (d *Document) Origin() string { return d.origin }

// Head returns the <head> element, or nil.
func (d *Document) Head() *html.Node { return FindTag(d.root, atom.Head) }

// Body returns the <body> element, or nil.
func (d *Document) Body() *html.Node { return FindTag(d.root, atom.Body) }

// AppendHTML parses fragment in the context of parent, appends the resulting
// nodes, and reports the new subtree roots on every addition feed. This is
// how tests and the live binding simulate dynamically injected content.
func (d *Document) AppendHTML(parent *html.Node, fragment string) ([]*html.Node, error) {
	nodes, err := html.ParseFragment(strings.NewReader(fragment), parent)
	if err != nil {
		return nil, fmt.Errorf("dom: parse fragment: %w", err)
	}
	for _, n := range nodes {
		parent.AppendChild(n)
	}
	d.emitAdded(nodes)
	return nodes, nil
}

// AppendChild attaches n under parent and reports it as an added subtree.
func (d *Document) AppendChild(parent, n *html.Node) {
	parent.AppendChild(n)
	d.emitAdded([]*html.Node{n})
}

// SetAttr sets an attribute through the document, reporting the element as
// mutated so observers re-evaluate it. Page scripts re-adding a stripped
// class arrive through this path.
func (d *Document) SetAttr(n *html.Node, key, val string) {
	SetAttr(n, key, val)
	d.emitAdded([]*html.Node{n})
}

func (d *Document) emitAdded(nodes []*html.Node) {
	for _, f := range d.feeds {
		f.push(nodes)
	}
}

// Render serialises the whole document back to HTML.
func (d *Document) Render() (string, error) {
	return RenderNode(d.root)
}

// RenderNode serialises a single node and its subtree.
func RenderNode(n *html.Node) (string, error) {
	var sb strings.Builder
	if err := html.Render(&sb, n); err != nil {
		return "", fmt.Errorf("dom: render: %w", err)
	}
	return sb.String(), nil
}

// Walk visits n and every descendant in document order.
func Walk(n *html.Node, visit func(*html.Node)) {
	visit(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		Walk(c, visit)
	}
}

// Elements returns n and all descendant element nodes in document order.
func Elements(n *html.Node) []*html.Node {
	var out []*html.Node
	Walk(n, func(c *html.Node) {
		if c.Type == html.ElementNode {
			out = append(out, c)
		}
	})
	return out
}

// FindTag returns the first element with the given tag under root.
func FindTag(root *html.Node, tag atom.Atom) *html.Node {
	var found *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == tag {
			found = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return found
}

// Detach removes n from its parent. Detached nodes are gone: there is no
// corresponding notification, matching removal being irreversible.
func Detach(n *html.Node) {
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}

// Attached reports whether n still hangs off a document root.
func Attached(n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p.Type == html.DocumentNode {
			return true
		}
	}
	return false
}

// GetAttr returns the value of an attribute on a node.
func GetAttr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// HasAttr checks if a node has a specific attribute.
func HasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

// SetAttr sets or replaces an attribute on a node.
func SetAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// RemoveAttr deletes an attribute from a node.
func RemoveAttr(n *html.Node, key string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return
		}
	}
}

// Classes returns the node's class list.
func Classes(n *html.Node) []string {
	return strings.Fields(GetAttr(n, "class"))
}

// HasClass checks class membership.
func HasClass(n *html.Node, class string) bool {
	for _, c := range Classes(n) {
		if c == class {
			return true
		}
	}
	return false
}

// RemoveClass drops a class from the node's class list. Returns true if the
// class was present. An emptied class attribute is removed entirely.
func RemoveClass(n *html.Node, class string) bool {
	classes := Classes(n)
	kept := classes[:0]
	removed := false
	for _, c := range classes {
		if c == class {
			removed = true
			continue
		}
		kept = append(kept, c)
	}
	if !removed {
		return false
	}
	if len(kept) == 0 {
		RemoveAttr(n, "class")
	} else {
		SetAttr(n, "class", strings.Join(kept, " "))
	}
	return true
}

// AddClass appends a class if not already present.
func AddClass(n *html.Node, class string) {
	if HasClass(n, class) {
		return
	}
	classes := append(Classes(n), class)
	SetAttr(n, "class", strings.Join(classes, " "))
}

// Tag returns the lower-case tag name of an element node, or "".
func Tag(n *html.Node) string {
	if n == nil || n.Type != html.ElementNode {
		return ""
	}
	return strings.ToLower(n.Data)
}
