package projection

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// Memory is an in-process read model for tests and single-node development.
type Memory struct {
	mu      sync.RWMutex
	counts  map[string]uint64
	offsets map[string]uint64
	counted map[string]map[string]struct{}
	cursors map[string]uint64
}

// NewMemory creates an empty read model.
func NewMemory() *Memory {
	m := &Memory{}
	m.reset()
	return m
}

func (m *Memory) reset() {
	m.counts = map[string]uint64{}
	m.offsets = map[string]uint64{}
	m.counted = map[string]map[string]struct{}{}
	m.cursors = map[string]uint64{}
}

func offsetKey(tag, cartID string) string { return tag + "/" + cartID }

// Update implements Store. Writes are staged and committed under the lock
// only when fn succeeds.
func (m *Memory) Update(ctx context.Context, tag, cartID string, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memoryTx{m: m, tag: tag, cartID: cartID, increments: map[string]uint64{}}
	if err := fn(tx); err != nil {
		return err
	}
	for productID, n := range tx.increments {
		m.counts[productID] += n
	}
	if len(tx.marked) > 0 {
		set := m.counted[cartID]
		if set == nil {
			set = map[string]struct{}{}
			m.counted[cartID] = set
		}
		for _, productID := range tx.marked {
			set[productID] = struct{}{}
		}
	}
	if tx.offset != nil {
		m.offsets[offsetKey(tag, cartID)] = *tx.offset
	}
	if tx.cursor != nil {
		m.cursors[tag] = *tx.cursor
	}
	return nil
}

// Cursor implements Store.
func (m *Memory) Cursor(ctx context.Context, tag string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cursors[tag], nil
}

// Reset implements Store.
func (m *Memory) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset()
	return nil
}

// Popularity implements Reader.
func (m *Memory) Popularity(ctx context.Context, productID string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if productID == "" {
		return 0, ErrProductIDRequired
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counts[productID], nil
}

// TopItems implements Reader.
func (m *Memory) TopItems(ctx context.Context, limit int) ([]ItemCount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	items := make([]ItemCount, 0, len(m.counts))
	for productID, count := range m.counts {
		items = append(items, ItemCount{ProductID: productID, Count: count})
	}
	m.mu.RUnlock()

	SortItems(items)
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// SortItems orders items by count desc, then product id asc.
func SortItems(items []ItemCount) {
	slices.SortFunc(items, func(a, b ItemCount) int {
		if a.Count != b.Count {
			if a.Count > b.Count {
				return -1
			}
			return 1
		}
		return strings.Compare(a.ProductID, b.ProductID)
	})
}

type memoryTx struct {
	m      *Memory
	tag    string
	cartID string

	increments map[string]uint64
	marked     []string
	offset     *uint64
	cursor     *uint64
}

func (tx *memoryTx) Offset() (uint64, error) {
	return tx.m.offsets[offsetKey(tx.tag, tx.cartID)], nil
}

func (tx *memoryTx) IsCounted(productID string) (bool, error) {
	if slices.Contains(tx.marked, productID) {
		return true, nil
	}
	_, ok := tx.m.counted[tx.cartID][productID]
	return ok, nil
}

func (tx *memoryTx) MarkCounted(productID string) error {
	tx.marked = append(tx.marked, productID)
	return nil
}

func (tx *memoryTx) Increment(productID string) error {
	tx.increments[productID]++
	return nil
}

func (tx *memoryTx) SetOffset(seq uint64) error {
	tx.offset = &seq
	return nil
}

func (tx *memoryTx) SetCursor(ordinal uint64) error {
	tx.cursor = &ordinal
	return nil
}
