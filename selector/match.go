// Package selector implements the selector side of the rule engine: a CSS
// selector matcher over the dom tree, the target-resolution heuristic that
// picks a meaningful element from a raw pointer target, the validity gate,
// and selector generation for new rules.
//
// The matcher supports the selector grammar the engine persists:
//
//	tag, .class, #id, [attr], [attr="value"], *
//	compounds of the above (div.card#main[data-x="1"])
//	descendant (space) and child (>) combinators
//
// Anything else (pseudo-classes, sibling combinators, selector lists) is
// rejected at Parse time; that rejection is the InvalidSelector check.
package selector

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/ArielCalisaya/HideThis/dom"
)

// Selector is a parsed, matchable CSS selector.
type Selector struct {
	raw   string
	parts []part
}

// part is one compound step in a combinator chain.
type part struct {
	simple
	// childOnly means this part must match the parent (">" combinator)
	// rather than any ancestor.
	childOnly bool
}

type simple struct {
	tag       string
	id        string
	classes   []string
	attrs     []attrMatch
	universal bool
}

type attrMatch struct {
	key    string
	val    string
	hasVal bool
}

// Parse validates and compiles a selector string.
func Parse(raw string) (*Selector, error) {
	fields, err := tokenize(raw)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("selector: empty selector")
	}

	var parts []part
	childNext := false
	for _, f := range fields {
		if f == ">" {
			if len(parts) == 0 || childNext {
				return nil, fmt.Errorf("selector: misplaced combinator in %q", raw)
			}
			childNext = true
			continue
		}
		s, err := parseSimple(f)
		if err != nil {
			return nil, err
		}
		parts = append(parts, part{simple: s, childOnly: childNext})
		childNext = false
	}
	if childNext {
		return nil, fmt.Errorf("selector: dangling combinator in %q", raw)
	}
	return &Selector{raw: raw, parts: parts}, nil
}

// MustParse panics on invalid selectors; for tests and built-in constants.
func MustParse(raw string) *Selector {
	s, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return s
}

// String returns the original selector text.
func (s *Selector) String() string { return s.raw }

// tokenize splits raw into compound steps and ">" combinators. Whitespace
// separates steps only outside attribute brackets: a quoted attribute value
// may contain spaces (or ">") and must stay inside its step.
func tokenize(raw string) ([]string, error) {
	var toks []string
	var cur strings.Builder
	inAttr := false
	var quote byte

	flush := func() {
		if cur.Len() > 0 {
			toks = append(toks, cur.String())
			cur.Reset()
		}
	}

	for i := 0; i < len(raw); i++ {
		b := raw[i]
		switch {
		case quote != 0:
			cur.WriteByte(b)
			if b == quote {
				quote = 0
			}
		case inAttr:
			cur.WriteByte(b)
			if b == '"' || b == '\'' {
				quote = b
			} else if b == ']' {
				inAttr = false
			}
		case b == '[':
			inAttr = true
			cur.WriteByte(b)
		case b == ' ' || b == '\t' || b == '\n' || b == '\r':
			flush()
		case b == '>':
			flush()
			toks = append(toks, ">")
		default:
			cur.WriteByte(b)
		}
	}
	if quote != 0 || inAttr {
		return nil, fmt.Errorf("selector: unterminated attribute in %q", raw)
	}
	flush()
	return toks, nil
}

// parseSimple parses one compound step: tag, #id, .class (repeatable),
// [attr] / [attr="value"] (repeatable), or *.
func parseSimple(tok string) (simple, error) {
	var s simple
	rest := tok

	// Leading tag or universal.
	i := 0
	for i < len(rest) && rest[i] != '#' && rest[i] != '.' && rest[i] != '[' {
		i++
	}
	head := rest[:i]
	rest = rest[i:]
	switch {
	case head == "*":
		s.universal = true
	case head != "":
		if !validIdent(head) {
			return s, fmt.Errorf("selector: invalid tag %q", head)
		}
		s.tag = strings.ToLower(head)
	}

	for rest != "" {
		switch rest[0] {
		case '#':
			rest = rest[1:]
			name, tail := takeIdent(rest)
			if name == "" {
				return s, fmt.Errorf("selector: empty id in %q", tok)
			}
			s.id = name
			rest = tail
		case '.':
			rest = rest[1:]
			name, tail := takeIdent(rest)
			if name == "" {
				return s, fmt.Errorf("selector: empty class in %q", tok)
			}
			s.classes = append(s.classes, name)
			rest = tail
		case '[':
			end := attrEnd(rest)
			if end < 0 {
				return s, fmt.Errorf("selector: unterminated attribute in %q", tok)
			}
			inner := rest[1:end]
			rest = rest[end+1:]
			var am attrMatch
			if k, v, ok := strings.Cut(inner, "="); ok {
				am.key = strings.TrimSpace(k)
				am.val = strings.Trim(strings.TrimSpace(v), `"'`)
				am.hasVal = true
			} else {
				am.key = strings.TrimSpace(inner)
			}
			if am.key == "" || !validIdent(am.key) {
				return s, fmt.Errorf("selector: invalid attribute in %q", tok)
			}
			s.attrs = append(s.attrs, am)
		default:
			return s, fmt.Errorf("selector: unsupported syntax at %q", rest)
		}
	}

	if s.tag == "" && s.id == "" && len(s.classes) == 0 && len(s.attrs) == 0 && !s.universal {
		return s, fmt.Errorf("selector: empty compound in %q", tok)
	}
	return s, nil
}

// attrEnd finds the index of the closing bracket of an attribute step,
// skipping over quoted spans.
func attrEnd(s string) int {
	var quote byte
	for i := 1; i < len(s); i++ {
		b := s[i]
		if quote != 0 {
			if b == quote {
				quote = 0
			}
			continue
		}
		switch b {
		case '"', '\'':
			quote = b
		case ']':
			return i
		}
	}
	return -1
}

func takeIdent(s string) (ident, rest string) {
	i := 0
	for i < len(s) && isIdentByte(s[i]) {
		i++
	}
	return s[:i], s[i:]
}

func validIdent(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isIdentByte(s[i]) {
			return false
		}
	}
	return true
}

func isIdentByte(b byte) bool {
	return b == '-' || b == '_' ||
		(b >= '0' && b <= '9') ||
		(b >= 'a' && b <= 'z') ||
		(b >= 'A' && b <= 'Z')
}

// matchesSimple checks one compound step against one element node.
func matchesSimple(n *html.Node, s simple) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if s.tag != "" && dom.Tag(n) != s.tag {
		return false
	}
	if s.id != "" && dom.GetAttr(n, "id") != s.id {
		return false
	}
	for _, c := range s.classes {
		if !dom.HasClass(n, c) {
			return false
		}
	}
	for _, am := range s.attrs {
		if am.hasVal {
			if dom.GetAttr(n, am.key) != am.val {
				return false
			}
		} else if !dom.HasAttr(n, am.key) {
			return false
		}
	}
	return true
}

// Matches reports whether n satisfies the selector, walking ancestors
// right-to-left for combinator parts. Ancestors above the subtree a caller
// scanned still participate, so matching an added subtree against a
// descendant selector behaves like matching the whole document.
func (s *Selector) Matches(n *html.Node) bool {
	last := len(s.parts) - 1
	if !matchesSimple(n, s.parts[last].simple) {
		return false
	}
	return matchesUp(n.Parent, s.parts[:last], s.parts[last].childOnly)
}

// matchesUp searches ancestors of n for the remaining parts, right to left.
// childOnly is the combinator between the already-matched part below and the
// one being sought: when true only the immediate parent may satisfy it.
func matchesUp(n *html.Node, parts []part, childOnly bool) bool {
	if len(parts) == 0 {
		return true
	}
	last := len(parts) - 1
	want := parts[last]
	for a := n; a != nil; a = a.Parent {
		if matchesSimple(a, want.simple) && matchesUp(a.Parent, parts[:last], want.childOnly) {
			return true
		}
		if childOnly {
			return false
		}
	}
	return false
}

// MatchAll returns every element in root's subtree (including root) that
// satisfies the selector, in document order.
func (s *Selector) MatchAll(root *html.Node) []*html.Node {
	var out []*html.Node
	dom.Walk(root, func(n *html.Node) {
		if n.Type == html.ElementNode && s.Matches(n) {
			out = append(out, n)
		}
	})
	return out
}

// Query is the convenience one-shot form: parse raw and match under root.
func Query(root *html.Node, raw string) ([]*html.Node, error) {
	s, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	return s.MatchAll(root), nil
}

// Validate reports whether raw is a selector the engine can match.
// Equivalent to attempting a query and catching the syntax error.
func Validate(raw string) error {
	_, err := Parse(raw)
	return err
}
