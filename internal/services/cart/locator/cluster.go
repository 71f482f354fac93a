package locator

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	apperrors "github.com/louisbranch/shopping-cart/internal/platform/errors"
	"github.com/louisbranch/shopping-cart/internal/platform/discovery"
	"github.com/louisbranch/shopping-cart/internal/platform/log"
	"github.com/louisbranch/shopping-cart/internal/services/cart/domain/cart"
	"github.com/louisbranch/shopping-cart/internal/services/cart/domain/engine"
	"github.com/louisbranch/shopping-cart/internal/services/cart/observability/metrics"
)

// Forwarder sends a command to the node that owns the cart.
type Forwarder interface {
	Forward(ctx context.Context, peer discovery.Peer, cartID string, cmd cart.Command) (cart.Summary, error)
}

// ClusterOptions configures a Cluster.
type ClusterOptions struct {
	Logger *zerolog.Logger
}

// Cluster routes carts owned by this node to the local shard and forwards
// the rest. The shard should run with a Guard so that two nodes holding
// different peer lists still never activate the same cart.
type Cluster struct {
	self      string
	ring      *Ring
	shard     *engine.Shard
	forwarder Forwarder
	logger    zerolog.Logger
}

// NewCluster builds a cluster locator for the node self.
func NewCluster(self string, ring *Ring, shard *engine.Shard, forwarder Forwarder, opts ClusterOptions) (*Cluster, error) {
	if ring == nil {
		return nil, errors.New("ring is required")
	}
	if shard == nil {
		return nil, errors.New("shard is required")
	}
	if _, ok := ring.Peer(self); !ok {
		return nil, fmt.Errorf("node %q is not a ring member", self)
	}
	if forwarder == nil && len(ring.Peers()) > 1 {
		return nil, errors.New("forwarder is required for a multi-node ring")
	}
	logger := log.WithComponent("locator")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Cluster{
		self:      self,
		ring:      ring,
		shard:     shard,
		forwarder: forwarder,
		logger:    logger.With().Str(log.FieldNode, self).Logger(),
	}, nil
}

// Locate implements Locator.
func (c *Cluster) Locate(ctx context.Context, cartID string) (Handle, error) {
	if cartID == "" {
		return nil, apperrors.New(apperrors.CodeCartEmptyID, "cart id is required")
	}
	owner := c.ring.Owner(cartID)
	if owner.ID == c.self {
		return shardHandle{shard: c.shard, cartID: cartID}, nil
	}
	if IsForwarded(ctx) {
		c.logger.Warn().Str(log.FieldCartID, cartID).Str(log.FieldPeer, owner.ID).
			Msg("forwarded command reached a non-owner")
		return nil, unavailable(cartID, fmt.Errorf("ring disagreement: owner is %s", owner.ID))
	}
	return remoteHandle{cluster: c, peer: owner, cartID: cartID}, nil
}

// Owner returns the ring member responsible for cartID.
func (c *Cluster) Owner(cartID string) discovery.Peer {
	return c.ring.Owner(cartID)
}

type remoteHandle struct {
	cluster *Cluster
	peer    discovery.Peer
	cartID  string
}

func (h remoteHandle) Handle(ctx context.Context, cmd cart.Command) (cart.Summary, error) {
	summary, err := h.cluster.forwarder.Forward(ctx, h.peer, h.cartID, cmd)
	if err != nil {
		metrics.RecordForward(h.peer.ID, engine.Outcome(err))
		h.cluster.logger.Debug().Err(err).Str(log.FieldCartID, h.cartID).Str(log.FieldPeer, h.peer.ID).
			Str(log.FieldCommand, cmd.Name()).Msg("forward failed")
		return cart.Summary{}, err
	}
	metrics.RecordForward(h.peer.ID, "ok")
	return summary, nil
}
