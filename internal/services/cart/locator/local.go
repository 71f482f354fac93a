package locator

import (
	"context"
	"errors"

	apperrors "github.com/louisbranch/shopping-cart/internal/platform/errors"
	"github.com/louisbranch/shopping-cart/internal/services/cart/domain/cart"
	"github.com/louisbranch/shopping-cart/internal/services/cart/domain/engine"
)

// Local serves every cart from one in-process shard.
type Local struct {
	shard *engine.Shard
}

// NewLocal wraps shard.
func NewLocal(shard *engine.Shard) (*Local, error) {
	if shard == nil {
		return nil, errors.New("shard is required")
	}
	return &Local{shard: shard}, nil
}

// Locate implements Locator.
func (l *Local) Locate(_ context.Context, cartID string) (Handle, error) {
	if cartID == "" {
		return nil, apperrors.New(apperrors.CodeCartEmptyID, "cart id is required")
	}
	return shardHandle{shard: l.shard, cartID: cartID}, nil
}

type shardHandle struct {
	shard  *engine.Shard
	cartID string
}

func (h shardHandle) Handle(ctx context.Context, cmd cart.Command) (cart.Summary, error) {
	return h.shard.Handle(ctx, h.cartID, cmd)
}
