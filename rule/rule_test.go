package rule

import "testing"

func TestCollectionOf(t *testing.T) {
	cases := []struct {
		kind Kind
		want Collection
	}{
		{KindHide, Hidden},
		{KindRemove, Removed},
		{KindStripClass, Removed},
		{KindInvalidate, Invalidated},
	}
	for _, c := range cases {
		if got := CollectionOf(c.kind); got != c.want {
			t.Errorf("CollectionOf(%s) = %s, want %s", c.kind, got, c.want)
		}
	}
}

func TestKindOf_RoundTrip(t *testing.T) {
	// StripClass persists in the Removed collection with type "class" and
	// must reconstitute as StripClass, not Remove.
	cases := []struct {
		col  Collection
		typ  RemoveType
		want Kind
	}{
		{Hidden, "", KindHide},
		{Invalidated, "", KindInvalidate},
		{Removed, RemoveClass, KindStripClass},
		{Removed, RemoveID, KindRemove},
		{Removed, RemoveComplex, KindRemove},
	}
	for _, c := range cases {
		if got := KindOf(c.col, c.typ); got != c.want {
			t.Errorf("KindOf(%s, %s) = %s, want %s", c.col, c.typ, got, c.want)
		}
	}
}

func TestNew_Stamps(t *testing.T) {
	r := New(".ad", KindHide)
	if r.Selector != ".ad" || r.Kind != KindHide {
		t.Fatalf("rule = %+v", r)
	}
	if r.CreatedAt == 0 {
		t.Error("CreatedAt should be stamped")
	}
}
