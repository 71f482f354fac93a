// Package locator resolves a cart id to the runtime that owns it.
//
// Every implementation keeps at most one active entity per cart across the
// deployment. Local serves a single process; Cluster places carts on a
// consistent-hash ring, guards activation with a redis lease and forwards
// commands for carts owned by other nodes.
package locator

import (
	"context"
	"errors"
	"fmt"

	apperrors "github.com/louisbranch/shopping-cart/internal/platform/errors"
	"github.com/louisbranch/shopping-cart/internal/services/cart/domain/cart"
)

var (
	// ErrUnavailable reports that no owner can serve the cart right now.
	ErrUnavailable = errors.New("cart owner unavailable")
	// ErrLeaseHeld reports that another node holds the cart lease.
	ErrLeaseHeld = errors.New("cart lease held by another node")
)

// Handle runs commands against one located cart.
type Handle interface {
	Handle(ctx context.Context, cmd cart.Command) (cart.Summary, error)
}

// Locator finds or activates the owner of a cart.
type Locator interface {
	Locate(ctx context.Context, cartID string) (Handle, error)
}

type forwardedKey struct{}

// WithForwarded marks ctx as carrying a command already forwarded by a peer.
// A forwarded command is never forwarded again.
func WithForwarded(ctx context.Context) context.Context {
	return context.WithValue(ctx, forwardedKey{}, true)
}

// IsForwarded reports whether ctx was marked by WithForwarded.
func IsForwarded(ctx context.Context) bool {
	forwarded, _ := ctx.Value(forwardedKey{}).(bool)
	return forwarded
}

func unavailable(cartID string, cause error) error {
	return apperrors.Wrap(apperrors.CodeCartUnavailable,
		fmt.Sprintf("cart %s unavailable: %v", cartID, cause),
		fmt.Errorf("%w: %w", ErrUnavailable, cause))
}
