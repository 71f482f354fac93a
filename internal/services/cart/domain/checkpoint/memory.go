package checkpoint

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// Memory stores snapshots in memory.
type Memory struct {
	mu        sync.Mutex
	snapshots map[string]Snapshot
}

// NewMemory creates a new in-memory snapshot store.
func NewMemory() *Memory {
	return &Memory{snapshots: make(map[string]Snapshot)}
}

// GetSnapshot retrieves the latest snapshot for a cart.
func (m *Memory) GetSnapshot(ctx context.Context, cartID string) (Snapshot, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return Snapshot{}, err
		}
	}
	if m == nil {
		return Snapshot{}, errors.New("snapshot store is required")
	}
	cartID = strings.TrimSpace(cartID)
	if cartID == "" {
		return Snapshot{}, ErrCartIDRequired
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot, ok := m.snapshots[cartID]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	snapshot.State = snapshot.State.Clone()
	return snapshot, nil
}

// SaveSnapshot persists a snapshot. Older snapshots never replace newer ones.
func (m *Memory) SaveSnapshot(ctx context.Context, snapshot Snapshot) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if m == nil {
		return errors.New("snapshot store is required")
	}
	snapshot.CartID = strings.TrimSpace(snapshot.CartID)
	if snapshot.CartID == "" {
		return ErrCartIDRequired
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.snapshots[snapshot.CartID]; ok && existing.Seq >= snapshot.Seq {
		return nil
	}
	if snapshot.SavedAt.IsZero() {
		snapshot.SavedAt = time.Now().UTC()
	}
	snapshot.State = snapshot.State.Clone()
	m.snapshots[snapshot.CartID] = snapshot
	return nil
}
