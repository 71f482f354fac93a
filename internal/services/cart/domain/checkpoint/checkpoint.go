// Package checkpoint stores cart state snapshots that shorten activation replay.
package checkpoint

import (
	"context"
	"errors"
	"time"

	"github.com/louisbranch/shopping-cart/internal/services/cart/domain/cart"
)

var (
	// ErrNotFound indicates no snapshot exists for the cart.
	ErrNotFound = errors.New("snapshot not found")
	// ErrCartIDRequired indicates a missing cart id.
	ErrCartIDRequired = errors.New("cart id is required")
)

// Snapshot is cart state as of Seq.
type Snapshot struct {
	CartID  string
	Seq     uint64
	State   cart.State
	SavedAt time.Time
}

// Store persists snapshots. A snapshot is an optimization only: losing one
// costs a longer replay, never correctness.
type Store interface {
	GetSnapshot(ctx context.Context, cartID string) (Snapshot, error)
	SaveSnapshot(ctx context.Context, snapshot Snapshot) error
}
