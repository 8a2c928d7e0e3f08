package interactive

import (
	"context"
	"log/slog"
	"testing"

	"golang.org/x/net/html"

	"github.com/ArielCalisaya/HideThis/dom"
	"github.com/ArielCalisaya/HideThis/reconcile"
	"github.com/ArielCalisaya/HideThis/selector"
	"github.com/ArielCalisaya/HideThis/store"
)

const pickDoc = `<!DOCTYPE html>
<html><body>
  <div id="hero" style="width:400px;height:300px">big block</div>
  <div class="card promo" style="width:300px;height:200px">card</div>
  <div id="sliver" style="width:4px;height:4px">dust</div>
  <p class="text" style="width:300px;height:40px">copy</p>
</body></html>`

type pickerFixture struct {
	picker *Picker
	eng    *reconcile.Reconciler
	doc    *dom.Document
}

func testPicker(t *testing.T) *pickerFixture {
	t.Helper()
	doc, err := dom.Parse(pickDoc, "example.com")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	st := store.New(nil, slog.Default())
	eng := reconcile.New(doc, st, reconcile.Config{}, slog.Default())
	return &pickerFixture{picker: New(eng, slog.Default()), eng: eng, doc: doc}
}

func (f *pickerFixture) node(t *testing.T, sel string) *html.Node {
	t.Helper()
	matches, err := selector.Query(f.doc.Root(), sel)
	if err != nil || len(matches) == 0 {
		t.Fatalf("fixture: %q not found (%v)", sel, err)
	}
	return matches[0]
}

func TestPointerMove_Highlights(t *testing.T) {
	f := testPicker(t)
	ctx := context.Background()

	var gotNode *html.Node
	var gotSel string
	f.picker.OnHighlight(func(n *html.Node, sel string) {
		gotNode, gotSel = n, sel
	})
	f.picker.Activate()

	hero := f.node(t, "#hero")
	if err := f.picker.Handle(ctx, PointerMove{Node: hero}); err != nil {
		t.Fatal(err)
	}
	if gotNode != hero || gotSel != "#hero" {
		t.Fatalf("highlight = %v %q, want #hero", gotNode, gotSel)
	}

	// Moving onto an invalid target clears the highlight.
	if err := f.picker.Handle(ctx, PointerMove{Node: f.node(t, "#sliver")}); err != nil {
		t.Fatal(err)
	}
	if gotNode != nil || gotSel != "" {
		t.Fatalf("highlight not cleared: %v %q", gotNode, gotSel)
	}
}

func TestPointerMove_CallbackOnlyOnChange(t *testing.T) {
	f := testPicker(t)
	ctx := context.Background()

	calls := 0
	f.picker.OnHighlight(func(*html.Node, string) { calls++ })
	f.picker.Activate()

	hero := f.node(t, "#hero")
	f.picker.Handle(ctx, PointerMove{Node: hero})
	f.picker.Handle(ctx, PointerMove{Node: hero})
	if calls != 1 {
		t.Fatalf("callback fired %d times for one candidate, want 1", calls)
	}
}

func TestClick_TogglesPendingMembership(t *testing.T) {
	f := testPicker(t)
	ctx := context.Background()
	f.picker.Activate()

	hero := f.node(t, "#hero")
	card := f.node(t, ".card.promo")

	f.picker.Handle(ctx, Click{Node: hero})
	f.picker.Handle(ctx, Click{Node: card})
	if got := f.picker.Pending(); len(got) != 2 || got[0] != "#hero" {
		t.Fatalf("pending = %v", got)
	}

	// Clicking again deselects.
	f.picker.Handle(ctx, Click{Node: hero})
	if got := f.picker.Pending(); len(got) != 1 || got[0] != ".card.promo" {
		t.Fatalf("pending after deselect = %v", got)
	}

	// Invalid targets never enter the set.
	f.picker.Handle(ctx, Click{Node: f.node(t, "#sliver")})
	if got := f.picker.Pending(); len(got) != 1 {
		t.Fatalf("invalid click changed pending: %v", got)
	}
}

func TestEnter_CommitsHideRules(t *testing.T) {
	f := testPicker(t)
	ctx := context.Background()
	f.picker.Activate()

	f.picker.Handle(ctx, Click{Node: f.node(t, "#hero")})
	f.picker.Handle(ctx, Click{Node: f.node(t, ".card.promo")})

	if err := f.picker.Handle(ctx, KeyEnter{}); err != nil {
		t.Fatal(err)
	}
	if f.picker.Active() {
		t.Error("commit should leave picking mode")
	}
	if got := f.picker.Pending(); len(got) != 0 {
		t.Errorf("pending not drained: %v", got)
	}

	for _, sel := range []string{"#hero", ".card.promo"} {
		hidden, err := f.eng.SelectorState(ctx, sel)
		if err != nil {
			t.Fatal(err)
		}
		if !hidden {
			t.Errorf("%s not hidden after commit", sel)
		}
	}
}

func TestCommit_SkipsAlreadyHidden(t *testing.T) {
	f := testPicker(t)
	ctx := context.Background()

	f.eng.ToggleSelector(ctx, "#hero")

	f.picker.Activate()
	f.picker.Handle(ctx, Click{Node: f.node(t, "#hero")})
	committed, err := f.picker.Commit(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(committed) != 0 {
		t.Fatalf("committed = %v, want none", committed)
	}
	// Still hidden: commit must not toggle it back to visible.
	hidden, _ := f.eng.SelectorState(ctx, "#hero")
	if !hidden {
		t.Error("already-hidden selector was toggled off")
	}
}

func TestEscape_Abandons(t *testing.T) {
	f := testPicker(t)
	ctx := context.Background()
	f.picker.Activate()

	f.picker.Handle(ctx, Click{Node: f.node(t, "#hero")})
	f.picker.Handle(ctx, KeyEscape{})

	if f.picker.Active() {
		t.Error("escape should leave picking mode")
	}
	if got := f.picker.Pending(); len(got) != 0 {
		t.Errorf("pending survived escape: %v", got)
	}
	hidden, _ := f.eng.SelectorState(ctx, "#hero")
	if hidden {
		t.Error("escape must not persist rules")
	}
}

func TestInactive_EventsDropped(t *testing.T) {
	f := testPicker(t)
	ctx := context.Background()

	fired := false
	f.picker.OnHighlight(func(*html.Node, string) { fired = true })

	f.picker.Handle(ctx, PointerMove{Node: f.node(t, "#hero")})
	f.picker.Handle(ctx, Click{Node: f.node(t, "#hero")})
	if fired {
		t.Error("inactive picker fired highlight")
	}
	if got := f.picker.Pending(); len(got) != 0 {
		t.Errorf("inactive picker accumulated: %v", got)
	}
}

func TestActivate_ResetsPending(t *testing.T) {
	f := testPicker(t)
	ctx := context.Background()

	f.picker.Activate()
	f.picker.Handle(ctx, Click{Node: f.node(t, "#hero")})
	f.picker.Cancel()

	f.picker.Activate()
	if got := f.picker.Pending(); len(got) != 0 {
		t.Errorf("fresh session inherited pending: %v", got)
	}
}
