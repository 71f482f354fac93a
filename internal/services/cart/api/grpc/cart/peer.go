package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	cartv1 "github.com/louisbranch/shopping-cart/api/cart/v1"
	apperrors "github.com/louisbranch/shopping-cart/internal/platform/errors"
	"github.com/louisbranch/shopping-cart/internal/platform/discovery"
	platformgrpc "github.com/louisbranch/shopping-cart/internal/platform/grpc"
	"github.com/louisbranch/shopping-cart/internal/platform/log"
	"github.com/louisbranch/shopping-cart/internal/platform/timeouts"
	grpcmeta "github.com/louisbranch/shopping-cart/internal/services/cart/api/grpc/metadata"
	cartdomain "github.com/louisbranch/shopping-cart/internal/services/cart/domain/cart"
	"github.com/louisbranch/shopping-cart/internal/services/cart/domain/engine"
	"github.com/louisbranch/shopping-cart/internal/services/cart/locator"
)

// PeerClientOptions configures a PeerClient.
type PeerClientOptions struct {
	// Node is the id of this node, sent as the forwarded marker.
	Node           string
	DialTimeout    time.Duration
	RequestTimeout time.Duration
	Dialer         platformgrpc.Dialer
	DialOptions    []grpc.DialOption
	Logger         *zerolog.Logger
}

// PeerClient forwards cart commands to other nodes over gRPC. Connections
// are dialed lazily, health checked once, and reused.
type PeerClient struct {
	opts   PeerClientOptions
	logger zerolog.Logger

	mu     sync.Mutex
	conns  map[string]*grpc.ClientConn
	closed bool
}

var _ locator.Forwarder = (*PeerClient)(nil)

// NewPeerClient builds a forwarder for node.
func NewPeerClient(opts PeerClientOptions) (*PeerClient, error) {
	if opts.Node == "" {
		return nil, errors.New("node id is required")
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = timeouts.GRPCDial
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = timeouts.GRPCRequest
	}
	if opts.DialOptions == nil {
		opts.DialOptions = platformgrpc.DefaultClientDialOptions()
	}
	logger := log.WithComponent("peer_client")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &PeerClient{
		opts:   opts,
		logger: logger.With().Str(log.FieldNode, opts.Node).Logger(),
		conns:  make(map[string]*grpc.ClientConn),
	}, nil
}

// Forward implements locator.Forwarder.
func (c *PeerClient) Forward(ctx context.Context, peer discovery.Peer, cartID string, cmd cartdomain.Command) (cartdomain.Summary, error) {
	conn, err := c.conn(ctx, peer)
	if err != nil {
		return cartdomain.Summary{}, apperrors.Wrap(apperrors.CodeCartUnavailable,
			fmt.Sprintf("cart %s unavailable: dial %s: %v", cartID, peer.ID, err),
			fmt.Errorf("%w: %w", locator.ErrUnavailable, err))
	}

	callCtx, cancel := context.WithTimeout(grpcmeta.OutgoingContext(ctx, c.opts.Node), c.opts.RequestTimeout)
	defer cancel()

	resp, err := invoke(callCtx, cartv1.NewCartServiceClient(conn), cartID, cmd)
	if err != nil {
		if status.Code(err) == codes.Unavailable {
			c.drop(peer, conn)
		}
		return cartdomain.Summary{}, c.fromStatus(peer, cartID, cmd, err)
	}
	return CartFromProto(resp), nil
}

func invoke(ctx context.Context, client cartv1.CartServiceClient, cartID string, cmd cartdomain.Command) (*cartv1.Cart, error) {
	switch c := cmd.(type) {
	case cartdomain.AddItem:
		return client.AddItem(ctx, &cartv1.AddItemRequest{CartID: cartID, ProductID: c.ProductID, Quantity: c.Quantity})
	case cartdomain.RemoveItem:
		return client.RemoveItem(ctx, &cartv1.RemoveItemRequest{CartID: cartID, ProductID: c.ProductID, Quantity: c.Quantity})
	case cartdomain.AdjustItemQuantity:
		return client.AdjustItemQuantity(ctx, &cartv1.AdjustItemQuantityRequest{CartID: cartID, ProductID: c.ProductID, Quantity: c.Quantity})
	case cartdomain.Checkout:
		return client.Checkout(ctx, &cartv1.CheckoutRequest{CartID: cartID})
	case cartdomain.Get:
		return client.GetCart(ctx, &cartv1.GetCartRequest{CartID: cartID})
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unsupported command %T", cmd)
	}
}

// fromStatus turns a forwarded call failure back into a domain error. A
// mutation whose reply was lost is ambiguous: the owner may have appended it.
func (c *PeerClient) fromStatus(peer discovery.Peer, cartID string, cmd cartdomain.Command, err error) error {
	st, _ := status.FromError(err)
	switch code := apperrors.ReasonFromStatus(st); code {
	case apperrors.CodeUnknown:
	case apperrors.CodeCartAmbiguous:
		return engine.Ambiguous(cartID, err)
	default:
		return apperrors.Wrap(code, st.Message(), err)
	}

	// A bare transport status may arrive after the owner appended, so only
	// reads and requests the peer refused up front stay retryable.
	switch st.Code() {
	case codes.ResourceExhausted:
		return apperrors.Wrap(apperrors.CodeCartUnavailable,
			fmt.Sprintf("cart %s unavailable: peer %s: %s", cartID, peer.ID, st.Message()),
			fmt.Errorf("%w: %w", locator.ErrUnavailable, err))
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		if cartdomain.IsReadOnly(cmd) {
			return apperrors.Wrap(apperrors.CodeCartUnavailable,
				fmt.Sprintf("cart %s unavailable: peer %s: %s", cartID, peer.ID, st.Message()),
				fmt.Errorf("%w: %w", locator.ErrUnavailable, err))
		}
		c.logger.Warn().Err(err).Str(log.FieldCartID, cartID).Str(log.FieldPeer, peer.ID).
			Str(log.FieldCommand, cmd.Name()).Msg("forwarded command outcome unknown")
		return engine.Ambiguous(cartID, err)
	default:
		return fmt.Errorf("forward %s to %s: %w", cmd.Name(), peer.ID, err)
	}
}

func (c *PeerClient) conn(ctx context.Context, peer discovery.Peer) (*grpc.ClientConn, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errors.New("peer client closed")
	}
	if conn, ok := c.conns[peer.ID]; ok {
		c.mu.Unlock()
		return conn, nil
	}
	c.mu.Unlock()

	conn, err := platformgrpc.DialPeer(ctx, peer.Addr, platformgrpc.DialConfig{
		Dialer:        c.opts.Dialer,
		Timeout:       c.opts.DialTimeout,
		HealthService: cartv1.ServiceName,
		Logger:        c.logger.With().Str(log.FieldPeer, peer.ID).Logger(),
		Options:       c.opts.DialOptions,
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		_ = conn.Close()
		return nil, errors.New("peer client closed")
	}
	if existing, ok := c.conns[peer.ID]; ok {
		_ = conn.Close()
		return existing, nil
	}
	c.conns[peer.ID] = conn
	c.logger.Debug().Str(log.FieldPeer, peer.ID).Str(log.FieldAddr, peer.Addr).Msg("peer connected")
	return conn, nil
}

func (c *PeerClient) drop(peer discovery.Peer, conn *grpc.ClientConn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conns[peer.ID] == conn {
		delete(c.conns, peer.ID)
		_ = conn.Close()
	}
}

// Close closes every peer connection.
func (c *PeerClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	var errs []error
	for id, conn := range c.conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close peer %s: %w", id, err))
		}
		delete(c.conns, id)
	}
	return errors.Join(errs...)
}
