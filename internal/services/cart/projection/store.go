package projection

import (
	"context"
	"errors"
)

// ErrProductIDRequired reports a popularity lookup without a product id.
var ErrProductIDRequired = errors.New("product id is required")

// ItemCount is one row of the popularity read model.
type ItemCount struct {
	ProductID string `json:"productId"`
	Count     uint64 `json:"count"`
}

// Reader serves popularity queries.
type Reader interface {
	// Popularity returns the number of distinct carts that added productID.
	Popularity(ctx context.Context, productID string) (uint64, error)
	// TopItems returns up to limit products by count desc, then product id asc.
	TopItems(ctx context.Context, limit int) ([]ItemCount, error)
}

// Tx is one atomic read-model update scoped to a tag and a cart. Writes are
// visible to readers only after the enclosing Update commits.
type Tx interface {
	Offset() (uint64, error)
	IsCounted(productID string) (bool, error)
	MarkCounted(productID string) error
	Increment(productID string) error
	SetOffset(seq uint64) error
	SetCursor(ordinal uint64) error
}

// Store persists the read model together with offsets and cursors.
type Store interface {
	Reader
	// Update runs fn and commits its writes as one unit. fn may run more
	// than once when the store retries an optimistic transaction.
	Update(ctx context.Context, tag, cartID string, fn func(Tx) error) error
	// Cursor returns the highest ordinal processed for tag.
	Cursor(ctx context.Context, tag string) (uint64, error)
	// Reset drops every counter, offset and cursor.
	Reset(ctx context.Context) error
}
