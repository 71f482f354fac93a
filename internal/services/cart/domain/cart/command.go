package cart

import (
	"strconv"
	"strings"

	apperrors "github.com/louisbranch/shopping-cart/internal/platform/errors"
	"github.com/louisbranch/shopping-cart/internal/services/cart/domain/event"
)

// Command is an instruction addressed to one cart.
type Command interface {
	Name() string
}

// AddItem adds Quantity units of ProductID.
type AddItem struct {
	ProductID string
	Quantity  int
}

// RemoveItem removes Quantity units of ProductID.
type RemoveItem struct {
	ProductID string
	Quantity  int
}

// AdjustItemQuantity sets the quantity of a product already in the cart.
type AdjustItemQuantity struct {
	ProductID string
	Quantity  int
}

// Checkout closes the cart.
type Checkout struct{}

// Get reads the cart without changing it.
type Get struct{}

func (AddItem) Name() string            { return "add_item" }
func (RemoveItem) Name() string         { return "remove_item" }
func (AdjustItemQuantity) Name() string { return "adjust_item_quantity" }
func (Checkout) Name() string           { return "checkout" }
func (Get) Name() string                { return "get" }

// IsReadOnly reports whether cmd never produces events.
func IsReadOnly(cmd Command) bool {
	_, ok := cmd.(Get)
	return ok
}

// Decide validates cmd against s and returns the events to append.
// An empty result with a nil error means the command is accepted with no change.
// A checked-out cart rejects every mutation before input is inspected.
func Decide(cartID string, s State, cmd Command) ([]event.Event, error) {
	switch c := cmd.(type) {
	case Get:
		return nil, nil
	case AddItem:
		if s.CheckedOut {
			return nil, checkedOutError(cartID)
		}
		if err := checkItemInput(c.ProductID, c.Quantity); err != nil {
			return nil, err
		}
		return []event.Event{event.ItemAdded(c.ProductID, c.Quantity)}, nil
	case RemoveItem:
		if s.CheckedOut {
			return nil, checkedOutError(cartID)
		}
		if err := checkItemInput(c.ProductID, c.Quantity); err != nil {
			return nil, err
		}
		held := s.Quantity(c.ProductID)
		if held == 0 {
			return nil, notInCartError(c.ProductID)
		}
		if c.Quantity > held {
			return nil, apperrors.WithMetadata(apperrors.CodeCartRemoveTooMany,
				"remove "+strconv.Itoa(c.Quantity)+" of "+c.ProductID+" exceeds held "+strconv.Itoa(held),
				map[string]string{
					"ProductID": c.ProductID,
					"Quantity":  strconv.Itoa(c.Quantity),
					"Held":      strconv.Itoa(held),
				})
		}
		return []event.Event{event.ItemRemoved(c.ProductID, c.Quantity)}, nil
	case AdjustItemQuantity:
		if s.CheckedOut {
			return nil, checkedOutError(cartID)
		}
		if err := checkItemInput(c.ProductID, c.Quantity); err != nil {
			return nil, err
		}
		held := s.Quantity(c.ProductID)
		switch {
		case held == 0:
			return nil, notInCartError(c.ProductID)
		case c.Quantity > held:
			return []event.Event{event.ItemAdded(c.ProductID, c.Quantity-held)}, nil
		case c.Quantity < held:
			return []event.Event{event.ItemRemoved(c.ProductID, held-c.Quantity)}, nil
		default:
			return nil, nil
		}
	case Checkout:
		if s.CheckedOut {
			return nil, checkedOutError(cartID)
		}
		if len(s.Items) == 0 {
			return nil, apperrors.New(apperrors.CodeCartEmpty, "checkout of empty cart "+cartID)
		}
		return []event.Event{event.CheckedOut()}, nil
	default:
		return nil, apperrors.New(apperrors.CodeCartInvalidArgument, "unsupported command")
	}
}

func checkItemInput(productID string, qty int) error {
	if strings.TrimSpace(productID) == "" {
		return apperrors.New(apperrors.CodeCartEmptyProductID, "product id is required")
	}
	if qty <= 0 {
		return apperrors.WithMetadata(apperrors.CodeCartInvalidQuantity,
			"quantity must be positive, got "+strconv.Itoa(qty),
			map[string]string{"Quantity": strconv.Itoa(qty)})
	}
	return nil
}

func checkedOutError(cartID string) error {
	return apperrors.WithMetadata(apperrors.CodeCartCheckedOut,
		"cart "+cartID+" is checked out",
		map[string]string{"CartID": cartID})
}

func notInCartError(productID string) error {
	return apperrors.WithMetadata(apperrors.CodeCartItemNotInCart,
		"product "+productID+" is not in the cart",
		map[string]string{"ProductID": productID})
}
