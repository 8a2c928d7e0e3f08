package store

import (
	"context"

	"github.com/ArielCalisaya/HideThis/rule"
)

// Export renders one origin's rules in the extension storage JSON shape:
//
//	{ hidden: [...], removedElements: [{selector,type,count,timestamp}], invalidatedCSS: [...] }
func (s *Store) Export(ctx context.Context, origin string) (*rule.OriginState, error) {
	st := &rule.OriginState{
		Hidden:          []string{},
		RemovedElements: []rule.RemovedRule{},
		InvalidatedCSS:  []string{},
	}

	hidden, err := s.List(ctx, origin, rule.Hidden)
	if err != nil {
		return nil, err
	}
	for _, r := range hidden {
		st.Hidden = append(st.Hidden, r.Selector)
	}

	removed, err := s.List(ctx, origin, rule.Removed)
	if err != nil {
		return nil, err
	}
	for _, r := range removed {
		st.RemovedElements = append(st.RemovedElements, rule.RemovedRule{
			Selector:  r.Selector,
			Type:      r.Type,
			Count:     r.MatchCount,
			Timestamp: r.CreatedAt,
		})
	}

	invalidated, err := s.List(ctx, origin, rule.Invalidated)
	if err != nil {
		return nil, err
	}
	for _, r := range invalidated {
		st.InvalidatedCSS = append(st.InvalidatedCSS, r.Selector)
	}

	return st, nil
}

// Import merges an OriginState into the store (set semantics: existing
// selectors are kept, not duplicated).
func (s *Store) Import(ctx context.Context, origin string, st *rule.OriginState) error {
	for _, sel := range st.Hidden {
		if _, err := s.Add(ctx, origin, rule.Hidden, rule.New(sel, rule.KindHide)); err != nil {
			return err
		}
	}
	for _, rr := range st.RemovedElements {
		r := rule.Rule{
			Selector:   rr.Selector,
			Kind:       rule.KindOf(rule.Removed, rr.Type),
			Type:       rr.Type,
			MatchCount: rr.Count,
			CreatedAt:  rr.Timestamp,
		}
		if _, err := s.Add(ctx, origin, rule.Removed, r); err != nil {
			return err
		}
	}
	for _, sel := range st.InvalidatedCSS {
		if _, err := s.Add(ctx, origin, rule.Invalidated, rule.New(sel, rule.KindInvalidate)); err != nil {
			return err
		}
	}
	return nil
}
