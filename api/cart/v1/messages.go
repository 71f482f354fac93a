// Package cartv1 defines the cart.v1 RPC contract.
//
// Messages are plain structs that encode themselves in protobuf wire format
// (wire.go) and travel through the cartpb codec registered in
// internal/platform/grpc, so clients and servers share this package instead
// of generated protobuf types. The JSON tags serve the HTTP gateway.
package cartv1

import "time"

// AddItemRequest adds quantity units of a product to a cart.
type AddItemRequest struct {
	CartID    string `json:"cartId"`
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

func (r *AddItemRequest) GetCartId() string {
	if r == nil {
		return ""
	}
	return r.CartID
}

// RemoveItemRequest removes quantity units of a product from a cart.
type RemoveItemRequest struct {
	CartID    string `json:"cartId"`
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

func (r *RemoveItemRequest) GetCartId() string {
	if r == nil {
		return ""
	}
	return r.CartID
}

// AdjustItemQuantityRequest sets the quantity of a product already in a cart.
type AdjustItemQuantityRequest struct {
	CartID    string `json:"cartId"`
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

func (r *AdjustItemQuantityRequest) GetCartId() string {
	if r == nil {
		return ""
	}
	return r.CartID
}

// CheckoutRequest closes a cart.
type CheckoutRequest struct {
	CartID string `json:"cartId"`
}

func (r *CheckoutRequest) GetCartId() string {
	if r == nil {
		return ""
	}
	return r.CartID
}

// GetCartRequest reads a cart.
type GetCartRequest struct {
	CartID string `json:"cartId"`
}

func (r *GetCartRequest) GetCartId() string {
	if r == nil {
		return ""
	}
	return r.CartID
}

// Cart is the summary returned by every cart command.
type Cart struct {
	CartID     string         `json:"cartId"`
	Items      map[string]int `json:"items"`
	CheckedOut bool           `json:"checkedOut"`
	// CheckedOutAt is unix milliseconds, zero while the cart is open.
	CheckedOutAt int64 `json:"checkedOutAt,omitempty"`
}

// CheckedOutTime returns CheckedOutAt as a time, or the zero time.
func (c *Cart) CheckedOutTime() time.Time {
	if c == nil || c.CheckedOutAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(c.CheckedOutAt).UTC()
}

// GetItemPopularityRequest asks how many carts added a product.
type GetItemPopularityRequest struct {
	ProductID string `json:"productId"`
}

// ItemPopularity is the number of distinct carts that added a product.
type ItemPopularity struct {
	ProductID string `json:"productId"`
	Count     uint64 `json:"count"`
}

// GetTopItemsRequest asks for the most popular products.
type GetTopItemsRequest struct {
	Limit int `json:"limit"`
}

// TopItemsResponse lists products by count desc, then product id asc.
type TopItemsResponse struct {
	Items []ItemPopularity `json:"items"`
}
