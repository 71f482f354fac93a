package event

import (
	"fmt"
	"time"
)

// Type identifies the kind of cart event.
type Type string

const (
	// TypeItemAdded records a positive quantity added for a product.
	TypeItemAdded Type = "cart.item_added"
	// TypeItemRemoved records a positive quantity removed for a product.
	TypeItemRemoved Type = "cart.item_removed"
	// TypeCheckedOut records the terminal checkout of a cart.
	TypeCheckedOut Type = "cart.checked_out"
)

// Valid reports whether t is a known event type.
func (t Type) Valid() bool {
	switch t {
	case TypeItemAdded, TypeItemRemoved, TypeCheckedOut:
		return true
	default:
		return false
	}
}

// Event is a cart fact before the journal positions it.
type Event struct {
	Type      Type
	ProductID string
	Quantity  int
}

// ItemAdded builds an item-added event.
func ItemAdded(productID string, qty int) Event {
	return Event{Type: TypeItemAdded, ProductID: productID, Quantity: qty}
}

// ItemRemoved builds an item-removed event.
func ItemRemoved(productID string, qty int) Event {
	return Event{Type: TypeItemRemoved, ProductID: productID, Quantity: qty}
}

// CheckedOut builds a checkout event.
func CheckedOut() Event {
	return Event{Type: TypeCheckedOut}
}

// Validate checks the event shape required before append.
func (e Event) Validate() error {
	switch e.Type {
	case TypeItemAdded, TypeItemRemoved:
		if e.ProductID == "" {
			return fmt.Errorf("%s: product id is required", e.Type)
		}
		if e.Quantity <= 0 {
			return fmt.Errorf("%s: quantity must be positive, got %d", e.Type, e.Quantity)
		}
		return nil
	case TypeCheckedOut:
		return nil
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
}

// Record is an event positioned in the journal. Records are immutable once appended.
type Record struct {
	CartID    string
	Seq       uint64
	Tag       string
	Ordinal   uint64
	Timestamp time.Time
	Event     Event
}
