package engine

import "context"

// Guard grants exclusive ownership of a cart across nodes. A shard without a
// guard assumes it is the only process serving its carts.
type Guard interface {
	// Acquire claims cartID before activation. It fails when another owner
	// holds the cart.
	Acquire(ctx context.Context, cartID string) (Lease, error)
}

// Lease is an ownership claim held by an active entity.
type Lease interface {
	// Lost is closed when ownership can no longer be guaranteed.
	Lost() <-chan struct{}
	// Release gives up ownership. It is called once, on passivation.
	Release(ctx context.Context) error
}
