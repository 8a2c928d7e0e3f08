package selector

import (
	"strings"
	"testing"

	"golang.org/x/net/html"
)

const matchDoc = `<!DOCTYPE html>
<html><head><title>t</title></head><body>
  <div id="main" class="wrapper">
    <section class="ads premium">
      <a href="/x" class="ad-link">go</a>
    </section>
    <div class="content">
      <p data-testid="intro">hello</p>
      <span class="ad-link">inline</span>
    </div>
  </div>
</body></html>`

func parseDoc(t *testing.T, src string) *html.Node {
	t.Helper()
	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return root
}

func TestParse_Valid(t *testing.T) {
	valid := []string{
		"div",
		".ads",
		"#main",
		"*",
		"[data-testid]",
		`[data-testid="intro"]`,
		"div.content p",
		"section > a",
		"div.wrapper section.ads.premium",
		"div#main.wrapper[data-x]",
	}
	for _, sel := range valid {
		if _, err := Parse(sel); err != nil {
			t.Errorf("Parse(%q): %v", sel, err)
		}
	}
}

func TestParse_Invalid(t *testing.T) {
	invalid := []string{
		"",
		"   ",
		"div:hover",
		"p::before",
		"a, b",
		"div + p",
		"div ~ p",
		"> div",
		"div >",
		".",
		"#",
		"[=x]",
		"[unterminated",
	}
	for _, sel := range invalid {
		if _, err := Parse(sel); err == nil {
			t.Errorf("Parse(%q): expected error", sel)
		}
	}
}

func TestParse_QuotedValueWithSpaces(t *testing.T) {
	valid := []string{
		`[aria-label="Sponsored content"]`,
		`div[aria-label="Sponsored content"]`,
		`[data-id='a > b']`,
		`.feed [data-component="promo unit"] > p`,
	}
	for _, sel := range valid {
		if _, err := Parse(sel); err != nil {
			t.Errorf("Parse(%q): %v", sel, err)
		}
	}
	if _, err := Parse(`[aria-label="Sponsored content]`); err == nil {
		t.Error("unterminated quote: expected error")
	}
}

func TestMatchAll_QuotedValueWithSpaces(t *testing.T) {
	root := parseDoc(t, `<html><body>
		<div aria-label="Sponsored content"><p>ad</p></div>
		<div aria-label="Sponsored"><p>organic</p></div>
	</body></html>`)

	got := MustParse(`[aria-label="Sponsored content"]`).MatchAll(root)
	if len(got) != 1 {
		t.Fatalf("spaced attribute value: %d matches, want 1", len(got))
	}
	got = MustParse(`div[aria-label="Sponsored content"] > p`).MatchAll(root)
	if len(got) != 1 {
		t.Fatalf("child under spaced attribute value: %d matches, want 1", len(got))
	}
}

func TestMatchAll(t *testing.T) {
	root := parseDoc(t, matchDoc)

	cases := []struct {
		sel  string
		want int
	}{
		{"#main", 1},
		{".ads", 1},
		{".ad-link", 2},
		{"a.ad-link", 1},
		{"span.ad-link", 1},
		{".ads.premium", 1},
		{"[data-testid]", 1},
		{`[data-testid="intro"]`, 1},
		{`[data-testid="other"]`, 0},
		{"div.content p", 1},
		{".wrapper .ad-link", 2},
		{"section > a", 1},
		{"div > a", 0},
		{".missing", 0},
	}
	for _, c := range cases {
		s := MustParse(c.sel)
		got := s.MatchAll(root)
		if len(got) != c.want {
			t.Errorf("MatchAll(%q) = %d matches, want %d", c.sel, len(got), c.want)
		}
	}
}

func TestMatches_ChildCombinatorChain(t *testing.T) {
	root := parseDoc(t, `<html><body>
		<div class="a"><div class="b"><p class="c">x</p></div></div>
		<div class="a"><p class="c">y</p></div>
	</body></html>`)

	// .a > .b > .c matches only the nested chain.
	got := MustParse(".a > .b > .c").MatchAll(root)
	if len(got) != 1 {
		t.Fatalf("chained child combinator: %d matches, want 1", len(got))
	}

	// .a > .c matches only the shallow one.
	got = MustParse(".a > .c").MatchAll(root)
	if len(got) != 1 {
		t.Fatalf(".a > .c: %d matches, want 1", len(got))
	}

	// .a .c matches both.
	got = MustParse(".a .c").MatchAll(root)
	if len(got) != 2 {
		t.Fatalf(".a .c: %d matches, want 2", len(got))
	}
}

func TestMatches_AncestorsAboveSubtree(t *testing.T) {
	root := parseDoc(t, `<html><body><div class="outer"><div id="sub"><p class="x">a</p></div></div></body></html>`)

	sub := MustParse("#sub").MatchAll(root)
	if len(sub) != 1 {
		t.Fatal("fixture: #sub not found")
	}

	// Matching inside the subtree still sees ancestors above it.
	got := MustParse(".outer .x").MatchAll(sub[0])
	if len(got) != 1 {
		t.Fatalf("descendant match through subtree root: %d, want 1", len(got))
	}
}

func TestQuery_InvalidSelector(t *testing.T) {
	root := parseDoc(t, matchDoc)
	if _, err := Query(root, "div:nth-child(2)"); err == nil {
		t.Fatal("expected error for unsupported selector")
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(".ads"); err != nil {
		t.Fatalf("Validate(.ads): %v", err)
	}
	if err := Validate("p::after"); err == nil {
		t.Fatal("Validate(p::after): expected error")
	}
}
