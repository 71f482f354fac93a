package event

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	fieldProductID protowire.Number = 1
	fieldQuantity  protowire.Number = 2
)

// EncodePayload serializes the event body in protobuf wire format.
// The event type is stored separately by the journal.
func EncodePayload(e Event) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if e.Type == TypeCheckedOut {
		return []byte{}, nil
	}
	var b []byte
	b = protowire.AppendTag(b, fieldProductID, protowire.BytesType)
	b = protowire.AppendString(b, e.ProductID)
	b = protowire.AppendTag(b, fieldQuantity, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Quantity))
	return b, nil
}

// DecodePayload rebuilds an event from its stored type and payload.
// Unknown fields are skipped so older readers tolerate newer payloads.
func DecodePayload(t Type, payload []byte) (Event, error) {
	if !t.Valid() {
		return Event{}, fmt.Errorf("decode payload: unknown event type %q", t)
	}
	e := Event{Type: t}
	for len(payload) > 0 {
		num, typ, n := protowire.ConsumeTag(payload)
		if n < 0 {
			return Event{}, fmt.Errorf("decode %s tag: %w", t, protowire.ParseError(n))
		}
		payload = payload[n:]
		switch {
		case num == fieldProductID && typ == protowire.BytesType:
			v, m := protowire.ConsumeString(payload)
			if m < 0 {
				return Event{}, fmt.Errorf("decode %s product id: %w", t, protowire.ParseError(m))
			}
			e.ProductID = v
			n = m
		case num == fieldQuantity && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(payload)
			if m < 0 {
				return Event{}, fmt.Errorf("decode %s quantity: %w", t, protowire.ParseError(m))
			}
			e.Quantity = int(v)
			n = m
		default:
			n = protowire.ConsumeFieldValue(num, typ, payload)
			if n < 0 {
				return Event{}, fmt.Errorf("decode %s field %d: %w", t, num, protowire.ParseError(n))
			}
		}
		payload = payload[n:]
	}
	if err := e.Validate(); err != nil {
		return Event{}, fmt.Errorf("decode payload: %w", err)
	}
	return e, nil
}
