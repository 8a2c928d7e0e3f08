// Package rule defines the persisted rule model: what action to enforce,
// identified by a CSS selector, scoped to an origin.
//
// Rules are plain values. Persistence belongs to the store package and
// application to the apply package; both import this one.
package rule

import "time"

// Kind is the action a rule enforces on matching elements.
type Kind string

const (
	KindHide       Kind = "hide"       // display:none, reversible
	KindRemove     Kind = "remove"     // detach from the document, irreversible
	KindStripClass Kind = "stripClass" // remove a class from matching elements
	KindInvalidate Kind = "invalidate" // CSS override block in the engine stylesheet
)

// Collection names the three persisted rule sets per origin. These are the
// wire names from the extension storage schema and must not change.
type Collection string

const (
	Hidden      Collection = "hidden"
	Removed     Collection = "removedElements"
	Invalidated Collection = "invalidatedCSS"
)

// RemoveType distinguishes how a Removed-collection selector was derived.
type RemoveType string

const (
	RemoveClass   RemoveType = "class"
	RemoveID      RemoveType = "id"
	RemoveComplex RemoveType = "complex"
)

// Rule is one persisted (selector, kind) pair. Within one origin's one
// collection the selector is unique; insertion is a set-add.
type Rule struct {
	Selector   string     `json:"selector"`
	Kind       Kind       `json:"kind"`
	Type       RemoveType `json:"type,omitempty"`  // Removed collection only
	MatchCount int        `json:"count"`           // cumulative elements affected
	CreatedAt  int64      `json:"timestamp"`       // epoch milliseconds
}

// New creates a Rule stamped with the current time.
func New(selector string, kind Kind) Rule {
	return Rule{
		Selector:  selector,
		Kind:      kind,
		CreatedAt: time.Now().UnixMilli(),
	}
}

// CollectionOf maps a rule kind to the collection it persists in.
// StripClass rules live in the Removed collection with type "class",
// matching the extension's storage layout.
func CollectionOf(k Kind) Collection {
	switch k {
	case KindHide:
		return Hidden
	case KindInvalidate:
		return Invalidated
	default:
		return Removed
	}
}

// KindOf is the inverse of CollectionOf for rules read back from storage.
// Removed-collection rules with type "class" reconstitute as StripClass.
func KindOf(col Collection, t RemoveType) Kind {
	switch col {
	case Hidden:
		return KindHide
	case Invalidated:
		return KindInvalidate
	default:
		if t == RemoveClass {
			return KindStripClass
		}
		return KindRemove
	}
}

// Counts is the per-origin tally reported to the UI.
type Counts struct {
	Hidden      int `json:"hidden"`
	Removed     int `json:"removedElements"`
	Invalidated int `json:"invalidatedCSS"`
}

// Total sums all collections.
func (c Counts) Total() int { return c.Hidden + c.Removed + c.Invalidated }

// OriginState is the persisted JSON shape for one origin, used by
// Export/Import and by the message facade.
type OriginState struct {
	Hidden          []string      `json:"hidden"`
	RemovedElements []RemovedRule `json:"removedElements"`
	InvalidatedCSS  []string      `json:"invalidatedCSS"`
}

// RemovedRule is the wire form of a Removed-collection entry.
type RemovedRule struct {
	Selector  string     `json:"selector"`
	Type      RemoveType `json:"type"`
	Count     int        `json:"count"`
	Timestamp int64      `json:"timestamp"`
}
