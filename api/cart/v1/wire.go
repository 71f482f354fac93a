package cartv1

import (
	"fmt"
	"maps"
	"slices"

	"google.golang.org/protobuf/encoding/protowire"
)

// Messages are written in protobuf wire format by hand. Zero values are
// omitted and unknown fields are skipped, as proto3 does.

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendInt(b []byte, num protowire.Number, v int64) []byte {
	return appendVarint(b, num, uint64(v))
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	return appendVarint(b, num, protowire.EncodeBool(v))
}

func appendMessage(b []byte, num protowire.Number, m []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, m)
}

// fieldFunc decodes one known field from b and returns the bytes consumed,
// or 0 when the field is not known.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

func decodeFields(msg string, b []byte, field fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("decode %s tag: %w", msg, protowire.ParseError(n))
		}
		b = b[n:]
		m, err := field(num, typ, b)
		if err != nil {
			return fmt.Errorf("decode %s field %d: %w", msg, num, err)
		}
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return fmt.Errorf("decode %s field %d: %w", msg, num, protowire.ParseError(m))
			}
		}
		b = b[m:]
	}
	return nil
}

func consumeString(typ protowire.Type, b []byte, dst *string) (int, error) {
	if typ != protowire.BytesType {
		return 0, nil
	}
	v, n := protowire.ConsumeString(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*dst = v
	return n, nil
}

func consumeBytes(typ protowire.Type, b []byte, dst *[]byte) (int, error) {
	if typ != protowire.BytesType {
		return 0, nil
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*dst = v
	return n, nil
}

func consumeVarint(typ protowire.Type, b []byte, dst *uint64) (int, error) {
	if typ != protowire.VarintType {
		return 0, nil
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*dst = v
	return n, nil
}

func consumeInt(typ protowire.Type, b []byte, dst *int) (int, error) {
	var v uint64
	n, err := consumeVarint(typ, b, &v)
	if n > 0 {
		*dst = int(int64(v))
	}
	return n, err
}

// The three item commands share one layout:
// cart_id = 1, product_id = 2, quantity = 3.
func marshalItem(cartID, productID string, quantity int) []byte {
	var b []byte
	b = appendString(b, 1, cartID)
	b = appendString(b, 2, productID)
	return appendInt(b, 3, int64(quantity))
}

func unmarshalItem(msg string, data []byte, cartID, productID *string, quantity *int) error {
	return decodeFields(msg, data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, b, cartID)
		case 2:
			return consumeString(typ, b, productID)
		case 3:
			return consumeInt(typ, b, quantity)
		}
		return 0, nil
	})
}

func unmarshalCartID(msg string, data []byte, cartID *string) error {
	return decodeFields(msg, data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			return consumeString(typ, b, cartID)
		}
		return 0, nil
	})
}

func (r *AddItemRequest) MarshalWire() ([]byte, error) {
	return marshalItem(r.CartID, r.ProductID, r.Quantity), nil
}

func (r *AddItemRequest) UnmarshalWire(data []byte) error {
	*r = AddItemRequest{}
	return unmarshalItem("AddItemRequest", data, &r.CartID, &r.ProductID, &r.Quantity)
}

func (r *RemoveItemRequest) MarshalWire() ([]byte, error) {
	return marshalItem(r.CartID, r.ProductID, r.Quantity), nil
}

func (r *RemoveItemRequest) UnmarshalWire(data []byte) error {
	*r = RemoveItemRequest{}
	return unmarshalItem("RemoveItemRequest", data, &r.CartID, &r.ProductID, &r.Quantity)
}

func (r *AdjustItemQuantityRequest) MarshalWire() ([]byte, error) {
	return marshalItem(r.CartID, r.ProductID, r.Quantity), nil
}

func (r *AdjustItemQuantityRequest) UnmarshalWire(data []byte) error {
	*r = AdjustItemQuantityRequest{}
	return unmarshalItem("AdjustItemQuantityRequest", data, &r.CartID, &r.ProductID, &r.Quantity)
}

func (r *CheckoutRequest) MarshalWire() ([]byte, error) {
	return appendString(nil, 1, r.CartID), nil
}

func (r *CheckoutRequest) UnmarshalWire(data []byte) error {
	*r = CheckoutRequest{}
	return unmarshalCartID("CheckoutRequest", data, &r.CartID)
}

func (r *GetCartRequest) MarshalWire() ([]byte, error) {
	return appendString(nil, 1, r.CartID), nil
}

func (r *GetCartRequest) UnmarshalWire(data []byte) error {
	*r = GetCartRequest{}
	return unmarshalCartID("GetCartRequest", data, &r.CartID)
}

// Cart: cart_id = 1, items = 2 (map<string, int64>), checked_out = 3,
// checked_out_at = 4. Map entries are written in key order so encoding is
// deterministic.
func (c *Cart) MarshalWire() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, c.CartID)
	for _, productID := range slices.Sorted(maps.Keys(c.Items)) {
		var entry []byte
		entry = appendString(entry, 1, productID)
		entry = appendInt(entry, 2, int64(c.Items[productID]))
		b = appendMessage(b, 2, entry)
	}
	b = appendBool(b, 3, c.CheckedOut)
	return appendInt(b, 4, c.CheckedOutAt), nil
}

func (c *Cart) UnmarshalWire(data []byte) error {
	*c = Cart{Items: map[string]int{}}
	return decodeFields("Cart", data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, b, &c.CartID)
		case 2:
			var entry []byte
			n, err := consumeBytes(typ, b, &entry)
			if n == 0 || err != nil {
				return n, err
			}
			var productID string
			var quantity int
			if err := unmarshalItemEntry(entry, &productID, &quantity); err != nil {
				return 0, err
			}
			c.Items[productID] = quantity
			return n, nil
		case 3:
			var v uint64
			n, err := consumeVarint(typ, b, &v)
			if n > 0 {
				c.CheckedOut = protowire.DecodeBool(v)
			}
			return n, err
		case 4:
			var v uint64
			n, err := consumeVarint(typ, b, &v)
			if n > 0 {
				c.CheckedOutAt = int64(v)
			}
			return n, err
		}
		return 0, nil
	})
}

func unmarshalItemEntry(data []byte, key *string, value *int) error {
	return decodeFields("Cart.ItemsEntry", data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, b, key)
		case 2:
			return consumeInt(typ, b, value)
		}
		return 0, nil
	})
}

func (r *GetItemPopularityRequest) MarshalWire() ([]byte, error) {
	return appendString(nil, 1, r.ProductID), nil
}

func (r *GetItemPopularityRequest) UnmarshalWire(data []byte) error {
	*r = GetItemPopularityRequest{}
	return decodeFields("GetItemPopularityRequest", data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			return consumeString(typ, b, &r.ProductID)
		}
		return 0, nil
	})
}

// ItemPopularity: product_id = 1, count = 2.
func (p *ItemPopularity) MarshalWire() ([]byte, error) {
	b := appendString(nil, 1, p.ProductID)
	return appendVarint(b, 2, p.Count), nil
}

func (p *ItemPopularity) UnmarshalWire(data []byte) error {
	*p = ItemPopularity{}
	return decodeFields("ItemPopularity", data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, b, &p.ProductID)
		case 2:
			return consumeVarint(typ, b, &p.Count)
		}
		return 0, nil
	})
}

func (r *GetTopItemsRequest) MarshalWire() ([]byte, error) {
	return appendInt(nil, 1, int64(r.Limit)), nil
}

func (r *GetTopItemsRequest) UnmarshalWire(data []byte) error {
	*r = GetTopItemsRequest{}
	return decodeFields("GetTopItemsRequest", data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			return consumeInt(typ, b, &r.Limit)
		}
		return 0, nil
	})
}

// TopItemsResponse: items = 1 (repeated ItemPopularity).
func (r *TopItemsResponse) MarshalWire() ([]byte, error) {
	var b []byte
	for i := range r.Items {
		item, err := r.Items[i].MarshalWire()
		if err != nil {
			return nil, err
		}
		b = appendMessage(b, 1, item)
	}
	return b, nil
}

func (r *TopItemsResponse) UnmarshalWire(data []byte) error {
	*r = TopItemsResponse{}
	return decodeFields("TopItemsResponse", data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 {
			return 0, nil
		}
		var raw []byte
		n, err := consumeBytes(typ, b, &raw)
		if n == 0 || err != nil {
			return n, err
		}
		var item ItemPopularity
		if err := item.UnmarshalWire(raw); err != nil {
			return 0, err
		}
		r.Items = append(r.Items, item)
		return n, nil
	})
}
