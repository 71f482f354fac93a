package cartv1

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestCartWireIsDeterministic(t *testing.T) {
	cart := &Cart{
		CartID:       "c1",
		Items:        map[string]int{"sku-2": 1, "sku-1": 3, "sku-3": 7},
		CheckedOut:   true,
		CheckedOutAt: 1_700_000_000_123,
	}
	first, err := cart.MarshalWire()
	require.NoError(t, err)
	for range 10 {
		again, err := cart.MarshalWire()
		require.NoError(t, err)
		require.Equal(t, first, again)
	}

	var decoded Cart
	require.NoError(t, decoded.UnmarshalWire(first))
	assert.Equal(t, *cart, decoded)
}

func TestWireSkipsUnknownFields(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, 9, protowire.BytesType)
	b = protowire.AppendString(b, "from a newer client")
	b = protowire.AppendTag(b, 1, protowire.VarintType) // wrong type for cart_id
	b = protowire.AppendVarint(b, 5)
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, "c1")
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	neg := int64(-2)
	b = protowire.AppendVarint(b, uint64(neg))

	var req RemoveItemRequest
	require.NoError(t, req.UnmarshalWire(b))
	assert.Equal(t, RemoveItemRequest{CartID: "c1", Quantity: -2}, req)
}

func TestWireRejectsTruncatedInput(t *testing.T) {
	data, err := (&AddItemRequest{CartID: "c1", ProductID: "sku-1", Quantity: 2}).MarshalWire()
	require.NoError(t, err)

	var req AddItemRequest
	err = req.UnmarshalWire(data[:len(data)-3])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode AddItemRequest")
}

func TestTopItemsWire(t *testing.T) {
	resp := &TopItemsResponse{Items: []ItemPopularity{{ProductID: "sku-9", Count: 2}, {ProductID: "sku-1", Count: 1}}}
	data, err := resp.MarshalWire()
	require.NoError(t, err)

	var decoded TopItemsResponse
	require.NoError(t, decoded.UnmarshalWire(data))
	assert.Equal(t, *resp, decoded)

	empty, err := (&TopItemsResponse{}).MarshalWire()
	require.NoError(t, err)
	assert.Empty(t, empty)
}
