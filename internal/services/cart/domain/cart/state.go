package cart

import (
	"maps"
	"time"

	"github.com/louisbranch/shopping-cart/internal/services/cart/domain/event"
)

// State is the in-memory cart. Items never holds a quantity <= 0, and once
// CheckedOut is true no further event changes Items.
type State struct {
	Items        map[string]int `json:"items,omitempty"`
	CheckedOut   bool           `json:"checked_out,omitempty"`
	CheckedOutAt time.Time      `json:"checked_out_at,omitzero"`
}

// Summary is the caller-facing view of a cart.
type Summary struct {
	CartID       string
	Items        map[string]int
	CheckedOut   bool
	CheckedOutAt time.Time
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	cloned := s
	cloned.Items = maps.Clone(s.Items)
	return cloned
}

// Summary renders the state for cartID. The returned map is a copy.
func (s State) Summary(cartID string) Summary {
	items := maps.Clone(s.Items)
	if items == nil {
		items = map[string]int{}
	}
	return Summary{
		CartID:       cartID,
		Items:        items,
		CheckedOut:   s.CheckedOut,
		CheckedOutAt: s.CheckedOutAt,
	}
}

// Quantity returns the quantity held for productID.
func (s State) Quantity(productID string) int {
	return s.Items[productID]
}

// Apply folds one journal record into state and returns the new state.
// The input state is not modified.
func Apply(s State, rec event.Record) State {
	next := s.Clone()
	switch rec.Event.Type {
	case event.TypeItemAdded:
		if next.Items == nil {
			next.Items = map[string]int{}
		}
		next.Items[rec.Event.ProductID] += rec.Event.Quantity
	case event.TypeItemRemoved:
		remaining := next.Items[rec.Event.ProductID] - rec.Event.Quantity
		if remaining <= 0 {
			delete(next.Items, rec.Event.ProductID)
		} else {
			next.Items[rec.Event.ProductID] = remaining
		}
	case event.TypeCheckedOut:
		next.CheckedOut = true
		next.CheckedOutAt = rec.Timestamp.UTC()
	}
	return next
}

// Fold replays records over the empty cart.
func Fold(records []event.Record) State {
	var s State
	for _, rec := range records {
		s = Apply(s, rec)
	}
	return s
}
