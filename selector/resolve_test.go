package selector

import (
	"testing"

	"golang.org/x/net/html"
)

func firstMatch(t *testing.T, root *html.Node, sel string) *html.Node {
	t.Helper()
	matches := MustParse(sel).MatchAll(root)
	if len(matches) == 0 {
		t.Fatalf("fixture: no match for %q", sel)
	}
	return matches[0]
}

func TestResolveTarget_InlineClimbsToBlock(t *testing.T) {
	root := parseDoc(t, `<html><body>
		<div class="card" style="width:300px;height:200px">
			<span id="tiny" style="width:30px;height:12px">x</span>
		</div>
	</body></html>`)
	r := NewResolver(Policy{})

	got := r.ResolveTarget(firstMatch(t, root, "#tiny"))
	if got == nil || MustParse(".card").Matches(got) == false {
		t.Fatal("inline sliver should resolve to its block container")
	}
}

func TestResolveTarget_TextNodeResolvesToParent(t *testing.T) {
	root := parseDoc(t, `<html><body><div id="d" style="width:300px;height:100px">text</div></body></html>`)
	r := NewResolver(Policy{})

	div := firstMatch(t, root, "#d")
	text := div.FirstChild
	if text == nil || text.Type != html.TextNode {
		t.Fatal("fixture: expected text child")
	}
	if got := r.ResolveTarget(text); got != div {
		t.Fatal("text node should resolve to parent element")
	}
}

func TestResolveTarget_ClimbStopsAtStructural(t *testing.T) {
	root := parseDoc(t, `<html><body>
		<span id="s" style="width:10px;height:10px">x</span>
	</body></html>`)
	r := NewResolver(Policy{})

	s := firstMatch(t, root, "#s")
	// Only structural ancestors above: resolve keeps the original node.
	if got := r.ResolveTarget(s); got != s {
		t.Fatal("climb past structural tags should return the original node")
	}
}

func TestResolveTarget_NoClimbWhenLargeEnough(t *testing.T) {
	root := parseDoc(t, `<html><body>
		<div class="outer" style="width:500px;height:400px">
			<div id="big" style="width:300px;height:200px">x</div>
		</div>
	</body></html>`)
	r := NewResolver(Policy{})

	big := firstMatch(t, root, "#big")
	if got := r.ResolveTarget(big); got != big {
		t.Fatal("large block should not climb")
	}
}

func TestResolveTarget_GrowthFactorGate(t *testing.T) {
	// Parent barely larger than the small child: below 1.5x, no absorption.
	root := parseDoc(t, `<html><body>
		<div class="parent" style="width:55px;height:22px">
			<span id="s" style="width:40px;height:18px">x</span>
		</div>
	</body></html>`)
	r := NewResolver(Policy{})

	s := firstMatch(t, root, "#s")
	if got := r.ResolveTarget(s); got != s {
		t.Fatal("sub-growth-factor parent should not absorb the selection")
	}
}

func TestResolveTarget_UnknownSizeSkipsClimb(t *testing.T) {
	root := parseDoc(t, `<html><body>
		<div class="card"><div id="x">x</div></div>
	</body></html>`)
	r := NewResolver(Policy{})

	// No geometry anywhere: a block element with unknown size stays put.
	x := firstMatch(t, root, "#x")
	if got := r.ResolveTarget(x); got != x {
		t.Fatal("unknown-size block should resolve to itself")
	}
}

func TestIsValidElement(t *testing.T) {
	root := parseDoc(t, `<html><head><script id="sc">x</script></head><body>
		<div id="ok" style="width:100px;height:100px">fine</div>
		<div id="sliver" style="width:5px;height:5px">tiny</div>
		<div id="ghost" style="display:none">hidden</div>
		<div id="hidethis-panel">engine ui</div>
		<div class="hidethis-overlay">engine ui</div>
		<div id="nosize">unknown</div>
	</body></html>`)
	r := NewResolver(Policy{})

	cases := []struct {
		sel  string
		want bool
	}{
		{"#ok", true},
		{"#sliver", false},
		{"#ghost", false},
		{"#hidethis-panel", false},
		{".hidethis-overlay", false},
		{"#nosize", true}, // unknown size is not "too small"
	}
	for _, c := range cases {
		n := firstMatch(t, root, c.sel)
		if got := r.IsValidElement(n); got != c.want {
			t.Errorf("IsValidElement(%s) = %v, want %v", c.sel, got, c.want)
		}
	}

	if r.IsValidElement(firstMatch(t, root, "#sc")) {
		t.Error("script element should never be valid")
	}
	if r.IsValidElement(nil) {
		t.Error("nil should never be valid")
	}
}

func TestGenerate_Priority(t *testing.T) {
	root := parseDoc(t, `<html><body>
		<div id="with-id" class="a b">x</div>
		<div class="a b">x</div>
		<div data-testid="widget">x</div>
		<div role="dialog">x</div>
		<article>x</article>
		<div class="hidethis-highlight real">x</div>
		<div id="hidethis-own" class="fallback">x</div>
	</body></html>`)
	r := NewResolver(Policy{})

	cases := []struct {
		sel  string
		want string
	}{
		{"#with-id", "#with-id"},
		{".a.b", ".a.b"},
		{`[data-testid="widget"]`, `[data-testid="widget"]`},
		{`[role="dialog"]`, `[role="dialog"]`},
		{"article", "article"},
		{".real", ".real"},           // engine class filtered out
		{".fallback", ".fallback"},   // engine id ignored, classes win
	}
	for _, c := range cases {
		n := firstMatch(t, root, c.sel)
		if got := r.Generate(n); got != c.want {
			t.Errorf("Generate(%s) = %q, want %q", c.sel, got, c.want)
		}
	}
}

func TestGenerate_RoundTrips(t *testing.T) {
	// Every generated selector must re-match the element it was derived from.
	root := parseDoc(t, `<html><body>
		<div id="a">x</div>
		<section class="c1 c2">x</section>
		<div data-id="k9">x</div>
		<aside>x</aside>
	</body></html>`)
	r := NewResolver(Policy{})

	for _, sel := range []string{"#a", ".c1.c2", `[data-id="k9"]`, "aside"} {
		n := firstMatch(t, root, sel)
		gen := r.Generate(n)
		parsed, err := Parse(gen)
		if err != nil {
			t.Fatalf("generated selector %q does not parse: %v", gen, err)
		}
		if !parsed.Matches(n) {
			t.Errorf("generated selector %q does not match its source element", gen)
		}
	}
}

func TestGenerate_SpacedAttributeValueRoundTrips(t *testing.T) {
	// aria-label values routinely contain spaces; the generated selector must
	// survive Validate and re-match, not just print.
	root := parseDoc(t, `<html><body>
		<div aria-label="Sponsored content">x</div>
	</body></html>`)
	r := NewResolver(Policy{})

	n := firstMatch(t, root, `[aria-label="Sponsored content"]`)
	gen := r.Generate(n)
	if gen != `[aria-label="Sponsored content"]` {
		t.Fatalf("Generate = %q", gen)
	}
	if err := Validate(gen); err != nil {
		t.Fatalf("Validate(%q): %v", gen, err)
	}
	matches := MustParse(gen).MatchAll(root)
	if len(matches) != 1 || matches[0] != n {
		t.Fatalf("generated selector %q does not round-trip to its element", gen)
	}
}

func TestCandidates_FirstEqualsGenerate(t *testing.T) {
	root := parseDoc(t, `<html><body><div id="z" class="k" data-testid="t">x</div></body></html>`)
	r := NewResolver(Policy{})
	n := firstMatch(t, root, "#z")

	cands := r.Candidates(n)
	if len(cands) < 3 {
		t.Fatalf("candidates: got %d, want at least 3", len(cands))
	}
	if cands[0] != r.Generate(n) {
		t.Errorf("first candidate %q != Generate %q", cands[0], r.Generate(n))
	}
}
