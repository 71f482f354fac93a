package journal

import (
	"context"
	"slices"
	"sync"

	"github.com/louisbranch/shopping-cart/internal/services/cart/domain/event"
)

// Memory is an in-process journal for tests and single-node development.
// It is not durable across restarts.
type Memory struct {
	stamper Stamper

	mu      sync.RWMutex
	byCart  map[string][]event.Record
	byTag   map[string][]event.Record
	ordinal uint64
}

// NewMemory creates an empty in-memory journal.
func NewMemory(stamper Stamper) *Memory {
	return &Memory{
		stamper: stamper,
		byCart:  map[string][]event.Record{},
		byTag:   map[string][]event.Record{},
	}
}

// Append implements Journal.
func (m *Memory) Append(ctx context.Context, cartID string, expectedSeq uint64, evt event.Event) (event.Record, error) {
	if err := ctx.Err(); err != nil {
		return event.Record{}, err
	}
	if err := CheckAppend(cartID, expectedSeq, evt); err != nil {
		return event.Record{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tail := uint64(len(m.byCart[cartID]))
	if expectedSeq != tail+1 {
		return event.Record{}, &ConflictError{CartID: cartID, Expected: expectedSeq, Actual: tail}
	}
	m.ordinal++
	rec := m.stamper.Stamp(cartID, expectedSeq, evt)
	rec.Ordinal = m.ordinal
	m.byCart[cartID] = append(m.byCart[cartID], rec)
	m.byTag[rec.Tag] = append(m.byTag[rec.Tag], rec)
	return rec, nil
}

// ListEvents implements Journal.
func (m *Memory) ListEvents(ctx context.Context, cartID string, afterSeq uint64, limit int) ([]event.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := m.byCart[cartID]
	if afterSeq >= uint64(len(records)) {
		return nil, nil
	}
	// seq n lives at index n-1
	return page(records[afterSeq:], limit), nil
}

// ListByTag implements Journal.
func (m *Memory) ListByTag(ctx context.Context, tag string, afterOrdinal uint64, limit int) ([]event.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := m.byTag[tag]
	start, _ := slices.BinarySearchFunc(records, afterOrdinal+1, func(rec event.Record, target uint64) int {
		switch {
		case rec.Ordinal < target:
			return -1
		case rec.Ordinal > target:
			return 1
		default:
			return 0
		}
	})
	return page(records[start:], limit), nil
}

// LastSeq implements Journal.
func (m *Memory) LastSeq(ctx context.Context, cartID string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.byCart[cartID])), nil
}

// ListCartIDs implements Journal.
func (m *Memory) ListCartIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.byCart))
	for id := range m.byCart {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// Close implements Journal.
func (m *Memory) Close() error {
	return nil
}

func page(records []event.Record, limit int) []event.Record {
	if limit <= 0 || limit > len(records) {
		limit = len(records)
	}
	return slices.Clone(records[:limit])
}
