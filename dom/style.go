package dom

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// Inline style handling. Without a layout engine the inline style attribute
// is the only style information available, so hidden-state detection and
// geometry both read from it.

var hiddenStylePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)display\s*:\s*none`),
	regexp.MustCompile(`(?i)visibility\s*:\s*hidden`),
	regexp.MustCompile(`(?i)opacity\s*:\s*0(\s|;|$)`),
}

// HiddenByStyle reports whether the node's inline style hides it
// (display:none, visibility:hidden, or opacity:0).
func HiddenByStyle(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	style := GetAttr(n, "style")
	if style == "" {
		return false
	}
	for _, pat := range hiddenStylePatterns {
		if pat.MatchString(style) {
			return true
		}
	}
	return false
}

// StyleProp returns the value of one inline style property, or "".
func StyleProp(n *html.Node, prop string) string {
	for _, decl := range strings.Split(GetAttr(n, "style"), ";") {
		k, v, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(k), prop) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// SetStyleProp sets one inline style property, preserving the others.
func SetStyleProp(n *html.Node, prop, val string) {
	var kept []string
	for _, decl := range strings.Split(GetAttr(n, "style"), ";") {
		k, _, ok := strings.Cut(decl, ":")
		if !ok || strings.TrimSpace(decl) == "" {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(k), prop) {
			continue
		}
		kept = append(kept, strings.TrimSpace(decl))
	}
	kept = append(kept, prop+": "+val)
	SetAttr(n, "style", strings.Join(kept, "; "))
}

// RemoveStyleProp deletes one inline style property. An emptied style
// attribute is removed entirely.
func RemoveStyleProp(n *html.Node, prop string) {
	var kept []string
	for _, decl := range strings.Split(GetAttr(n, "style"), ";") {
		k, _, ok := strings.Cut(decl, ":")
		if !ok || strings.TrimSpace(decl) == "" {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(k), prop) {
			continue
		}
		kept = append(kept, strings.TrimSpace(decl))
	}
	if len(kept) == 0 {
		RemoveAttr(n, "style")
		return
	}
	SetAttr(n, "style", strings.Join(kept, "; "))
}

// Box is an element's approximate bounding box. SizeKnown / PosKnown report
// whether the dimensions were actually declared; absent declarations never
// count as zero-sized.
type Box struct {
	Top, Left     int
	Width, Height int
	SizeKnown     bool
	PosKnown      bool
}

// NodeBox derives a bounding box from inline style (width/height/top/left)
// and from width/height attributes.
func NodeBox(n *html.Node) Box {
	var b Box
	if n == nil || n.Type != html.ElementNode {
		return b
	}

	w, wOK := pxValue(StyleProp(n, "width"))
	if !wOK {
		w, wOK = intAttr(n, "width")
	}
	h, hOK := pxValue(StyleProp(n, "height"))
	if !hOK {
		h, hOK = intAttr(n, "height")
	}
	b.Width, b.Height = w, h
	b.SizeKnown = wOK && hOK

	if t, ok := pxValue(StyleProp(n, "top")); ok {
		b.Top = t
		b.PosKnown = true
	}
	if l, ok := pxValue(StyleProp(n, "left")); ok {
		b.Left = l
		b.PosKnown = true
	}
	return b
}

func pxValue(s string) (int, bool) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "px"))
	if s == "" {
		return 0, false
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return v, true
}

func intAttr(n *html.Node, key string) (int, bool) {
	v, err := strconv.Atoi(GetAttr(n, key))
	if err != nil {
		return 0, false
	}
	return v, true
}
