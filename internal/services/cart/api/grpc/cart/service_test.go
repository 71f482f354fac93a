package cart

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	cartv1 "github.com/louisbranch/shopping-cart/api/cart/v1"
	apperrors "github.com/louisbranch/shopping-cart/internal/platform/errors"
	"github.com/louisbranch/shopping-cart/internal/platform/discovery"
	platformgrpc "github.com/louisbranch/shopping-cart/internal/platform/grpc"
	grpcmeta "github.com/louisbranch/shopping-cart/internal/services/cart/api/grpc/metadata"
	cartdomain "github.com/louisbranch/shopping-cart/internal/services/cart/domain/cart"
	"github.com/louisbranch/shopping-cart/internal/services/cart/domain/engine"
	"github.com/louisbranch/shopping-cart/internal/services/cart/domain/journal"
	"github.com/louisbranch/shopping-cart/internal/services/cart/locator"
	"github.com/louisbranch/shopping-cart/internal/services/cart/projection"
)

const bufSize = 1 << 20

// network is a set of in-memory gRPC servers addressed by name.
type network struct {
	listeners map[string]*bufconn.Listener
}

func newNetwork() *network {
	return &network{listeners: map[string]*bufconn.Listener{}}
}

func (n *network) serve(t *testing.T, addr string, svc cartv1.CartServiceServer) {
	t.Helper()
	lis := bufconn.Listen(bufSize)
	n.listeners[addr] = lis

	server := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcmeta.UnaryServerInterceptor(nil)))
	cartv1.RegisterCartServiceServer(server, svc)
	healthServer := health.NewServer()
	healthServer.SetServingStatus(cartv1.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	grpc_health_v1.RegisterHealthServer(server, healthServer)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = server.Serve(lis)
	}()
	t.Cleanup(func() {
		server.Stop()
		<-done
	})
}

func (n *network) dial(ctx context.Context, addr string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	lis, ok := n.listeners[addr]
	if !ok {
		return nil, errors.New("no server at " + addr)
	}
	opts = append(opts,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	return grpc.NewClient("passthrough:///"+addr, opts...)
}

func (n *network) client(t *testing.T, addr string) cartv1.CartServiceClient {
	t.Helper()
	conn, err := n.dial(context.Background(), addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return cartv1.NewCartServiceClient(conn)
}

func newShard(t *testing.T, j journal.Journal) *engine.Shard {
	t.Helper()
	nop := zerolog.Nop()
	shard, err := engine.NewShard(j, engine.Options{Logger: &nop})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, shard.Stop(ctx))
	})
	return shard
}

type fixture struct {
	client  cartv1.CartServiceClient
	journal *journal.Memory
	runner  *projection.Runner
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	j := journal.NewMemory(journal.Stamper{})
	loc, err := locator.NewLocal(newShard(t, j))
	require.NoError(t, err)

	store := projection.NewMemory()
	nop := zerolog.Nop()
	runner, err := projection.NewRunner(j, store, projection.Options{Logger: &nop})
	require.NoError(t, err)

	nw := newNetwork()
	nw.serve(t, "cart", NewService(loc, store))
	return fixture{client: nw.client(t, "cart"), journal: j, runner: runner}
}

func requireStatus(t *testing.T, err error, code codes.Code, reason apperrors.Code) *status.Status {
	t.Helper()
	require.Error(t, err)
	st, ok := status.FromError(err)
	require.True(t, ok, "not a status: %v", err)
	assert.Equal(t, code, st.Code(), "message: %s", st.Message())
	assert.Equal(t, reason, apperrors.ReasonFromStatus(st))
	return st
}

func TestAddItemAccumulates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.client.AddItem(ctx, &cartv1.AddItemRequest{CartID: "cart1", ProductID: "sku-1", Quantity: 2})
	require.NoError(t, err)
	_, err = f.client.AddItem(ctx, &cartv1.AddItemRequest{CartID: "cart1", ProductID: "sku-1", Quantity: 3})
	require.NoError(t, err)

	got, err := f.client.GetCart(ctx, &cartv1.GetCartRequest{CartID: "cart1"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"sku-1": 5}, got.Items)
	assert.False(t, got.CheckedOut)
}

func TestRemoveTooManyLeavesCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.client.AddItem(ctx, &cartv1.AddItemRequest{CartID: "cart1", ProductID: "sku-1", Quantity: 5})
	require.NoError(t, err)

	_, err = f.client.RemoveItem(ctx, &cartv1.RemoveItemRequest{CartID: "cart1", ProductID: "sku-1", Quantity: 10})
	requireStatus(t, err, codes.InvalidArgument, apperrors.CodeCartRemoveTooMany)

	got, err := f.client.GetCart(ctx, &cartv1.GetCartRequest{CartID: "cart1"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"sku-1": 5}, got.Items)
}

func TestCheckoutIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.client.AddItem(ctx, &cartv1.AddItemRequest{CartID: "cart1", ProductID: "sku-1", Quantity: 1})
	require.NoError(t, err)
	got, err := f.client.Checkout(ctx, &cartv1.CheckoutRequest{CartID: "cart1"})
	require.NoError(t, err)
	assert.True(t, got.CheckedOut)
	assert.NotZero(t, got.CheckedOutAt)

	_, err = f.client.AddItem(ctx, &cartv1.AddItemRequest{CartID: "cart1", ProductID: "sku-2", Quantity: 1})
	requireStatus(t, err, codes.FailedPrecondition, apperrors.CodeCartCheckedOut)
	_, err = f.client.Checkout(ctx, &cartv1.CheckoutRequest{CartID: "cart1"})
	requireStatus(t, err, codes.FailedPrecondition, apperrors.CodeCartCheckedOut)

	last, err := f.journal.LastSeq(ctx, "cart1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), last)
}

func TestAdjustItemQuantity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.client.AdjustItemQuantity(ctx, &cartv1.AdjustItemQuantityRequest{CartID: "cart1", ProductID: "sku-1", Quantity: 2})
	requireStatus(t, err, codes.InvalidArgument, apperrors.CodeCartItemNotInCart)

	_, err = f.client.AddItem(ctx, &cartv1.AddItemRequest{CartID: "cart1", ProductID: "sku-1", Quantity: 5})
	require.NoError(t, err)
	got, err := f.client.AdjustItemQuantity(ctx, &cartv1.AdjustItemQuantityRequest{CartID: "cart1", ProductID: "sku-1", Quantity: 2})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"sku-1": 2}, got.Items)
}

func TestValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.client.AddItem(ctx, &cartv1.AddItemRequest{CartID: " ", ProductID: "sku-1", Quantity: 1})
	requireStatus(t, err, codes.InvalidArgument, apperrors.CodeCartEmptyID)
	_, err = f.client.AddItem(ctx, &cartv1.AddItemRequest{CartID: "cart1", Quantity: 1})
	requireStatus(t, err, codes.InvalidArgument, apperrors.CodeCartEmptyProductID)
	_, err = f.client.AddItem(ctx, &cartv1.AddItemRequest{CartID: "cart1", ProductID: "sku-1", Quantity: 0})
	requireStatus(t, err, codes.InvalidArgument, apperrors.CodeCartInvalidQuantity)
	_, err = f.client.GetItemPopularity(ctx, &cartv1.GetItemPopularityRequest{})
	requireStatus(t, err, codes.InvalidArgument, apperrors.CodePopularityEmptyProductID)
	_, err = f.client.GetTopItems(ctx, &cartv1.GetTopItemsRequest{Limit: topItemsLimits.Max + 1})
	requireStatus(t, err, codes.InvalidArgument, apperrors.CodePopularityInvalidLimit)
}

func TestLocalizedErrorMessage(t *testing.T) {
	f := newFixture(t)
	ctx := metadata.AppendToOutgoingContext(context.Background(), grpcmeta.LocaleHeader, "pt-BR")

	_, err := f.client.GetCart(ctx, &cartv1.GetCartRequest{})
	st := requireStatus(t, err, codes.InvalidArgument, apperrors.CodeCartEmptyID)

	var localized *errdetails.LocalizedMessage
	for _, detail := range st.Details() {
		if msg, ok := detail.(*errdetails.LocalizedMessage); ok {
			localized = msg
		}
	}
	require.NotNil(t, localized)
	assert.Equal(t, "pt-BR", localized.GetLocale())
	assert.NotEmpty(t, localized.GetMessage())
}

func TestGetUnknownCartIsEmpty(t *testing.T) {
	f := newFixture(t)

	got, err := f.client.GetCart(context.Background(), &cartv1.GetCartRequest{CartID: "nobody"})
	require.NoError(t, err)
	assert.Equal(t, "nobody", got.CartID)
	assert.Empty(t, got.Items)
	assert.False(t, got.CheckedOut)
}

func TestPopularityCountsDistinctCarts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, cartID := range []string{"cart1", "cart2", "cart1"} {
		_, err := f.client.AddItem(ctx, &cartv1.AddItemRequest{CartID: cartID, ProductID: "sku-9", Quantity: 1})
		require.NoError(t, err)
	}
	_, err := f.client.AddItem(ctx, &cartv1.AddItemRequest{CartID: "cart2", ProductID: "sku-1", Quantity: 1})
	require.NoError(t, err)
	require.NoError(t, f.runner.CatchUp(ctx))

	got, err := f.client.GetItemPopularity(ctx, &cartv1.GetItemPopularityRequest{ProductID: "sku-9"})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.Count)

	top, err := f.client.GetTopItems(ctx, &cartv1.GetTopItemsRequest{})
	require.NoError(t, err)
	assert.Equal(t, []cartv1.ItemPopularity{
		{ProductID: "sku-9", Count: 2},
		{ProductID: "sku-1", Count: 1},
	}, top.Items)
}

func TestClusterForwardsOverGRPC(t *testing.T) {
	ctx := context.Background()
	j := journal.NewMemory(journal.Stamper{})
	peers := []discovery.Peer{{ID: "n1", Addr: "n1"}, {ID: "n2", Addr: "n2"}}
	ring, err := locator.NewRing(peers, locator.DefaultVirtualNodes)
	require.NoError(t, err)

	nw := newNetwork()
	shards := map[string]*engine.Shard{}
	for _, peer := range peers {
		nop := zerolog.Nop()
		forwarder, err := NewPeerClient(PeerClientOptions{
			Node:        peer.ID,
			Dialer:      platformgrpc.DialerFunc(nw.dial),
			DialOptions: []grpc.DialOption{},
			Logger:      &nop,
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = forwarder.Close() })

		shard := newShard(t, j)
		shards[peer.ID] = shard
		cluster, err := locator.NewCluster(peer.ID, ring, shard, forwarder, locator.ClusterOptions{Logger: &nop})
		require.NoError(t, err)
		nw.serve(t, peer.Addr, NewService(cluster, projection.NewMemory()))
	}

	var remote string
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"} {
		if ring.Owner(id).ID == "n2" {
			remote = id
			break
		}
	}
	require.NotEmpty(t, remote, "no cart owned by n2")

	client := nw.client(t, "n1")
	got, err := client.AddItem(ctx, &cartv1.AddItemRequest{CartID: remote, ProductID: "sku-1", Quantity: 2})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"sku-1": 2}, got.Items)
	assert.True(t, shards["n2"].IsActive(remote))
	assert.False(t, shards["n1"].IsActive(remote))

	_, err = client.RemoveItem(ctx, &cartv1.RemoveItemRequest{CartID: remote, ProductID: "sku-1", Quantity: 9})
	requireStatus(t, err, codes.InvalidArgument, apperrors.CodeCartRemoveTooMany)
}

func TestForwardDialFailureIsUnavailable(t *testing.T) {
	nop := zerolog.Nop()
	client, err := NewPeerClient(PeerClientOptions{
		Node: "n1",
		Dialer: platformgrpc.DialerFunc(func(context.Context, string, ...grpc.DialOption) (*grpc.ClientConn, error) {
			return nil, errors.New("connection refused")
		}),
		Logger: &nop,
	})
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Forward(context.Background(), discovery.Peer{ID: "n2", Addr: "n2"}, "cart1", cartdomain.Get{})
	assert.Equal(t, apperrors.CodeCartUnavailable, apperrors.GetCode(err))
	assert.ErrorIs(t, err, locator.ErrUnavailable)
}

func TestFromStatus(t *testing.T) {
	nop := zerolog.Nop()
	client, err := NewPeerClient(PeerClientOptions{Node: "n1", Logger: &nop})
	require.NoError(t, err)
	peer := discovery.Peer{ID: "n2", Addr: "n2"}
	add := cartdomain.AddItem{ProductID: "sku-1", Quantity: 1}

	remote := apperrors.New(apperrors.CodeCartCheckedOut, "checked out").ToGRPCStatus("en-US", "checked out")
	err = client.fromStatus(peer, "cart1", add, remote)
	assert.Equal(t, apperrors.CodeCartCheckedOut, apperrors.GetCode(err))

	remote = apperrors.New(apperrors.CodeCartAmbiguous, "unknown").ToGRPCStatus("en-US", "unknown")
	err = client.fromStatus(peer, "cart1", add, remote)
	assert.Equal(t, apperrors.CodeCartAmbiguous, apperrors.GetCode(err))
	assert.True(t, engine.IsNonRetryable(err))

	timeout := status.Error(codes.DeadlineExceeded, "deadline exceeded")
	err = client.fromStatus(peer, "cart1", add, timeout)
	assert.Equal(t, apperrors.CodeCartAmbiguous, apperrors.GetCode(err))
	assert.ErrorIs(t, err, engine.ErrDurability)

	err = client.fromStatus(peer, "cart1", cartdomain.Get{}, timeout)
	assert.Equal(t, apperrors.CodeCartUnavailable, apperrors.GetCode(err))

	reset := status.Error(codes.Unavailable, "connection reset")
	err = client.fromStatus(peer, "cart1", add, reset)
	assert.Equal(t, apperrors.CodeCartAmbiguous, apperrors.GetCode(err))
	assert.True(t, engine.IsNonRetryable(err))
	assert.False(t, apperrors.GetCode(err).Retryable())

	err = client.fromStatus(peer, "cart1", cartdomain.Get{}, reset)
	assert.Equal(t, apperrors.CodeCartUnavailable, apperrors.GetCode(err))

	limited := status.Error(codes.ResourceExhausted, "too many requests")
	err = client.fromStatus(peer, "cart1", add, limited)
	assert.Equal(t, apperrors.CodeCartUnavailable, apperrors.GetCode(err))
	assert.ErrorIs(t, err, locator.ErrUnavailable)
}

// dropAfterCommit appends through the real service, then fails the call the
// way a connection reset after the commit would.
type dropAfterCommit struct {
	*Service
}

func (s dropAfterCommit) AddItem(ctx context.Context, req *cartv1.AddItemRequest) (*cartv1.Cart, error) {
	if _, err := s.Service.AddItem(ctx, req); err != nil {
		return nil, err
	}
	return nil, status.Error(codes.Unavailable, "error reading from server: EOF")
}

func TestForwardedMutationLostAfterCommitIsAmbiguous(t *testing.T) {
	ctx := context.Background()
	j := journal.NewMemory(journal.Stamper{})
	loc, err := locator.NewLocal(newShard(t, j))
	require.NoError(t, err)

	nw := newNetwork()
	nw.serve(t, "owner", dropAfterCommit{NewService(loc, projection.NewMemory())})

	nop := zerolog.Nop()
	client, err := NewPeerClient(PeerClientOptions{
		Node:        "n1",
		Dialer:      platformgrpc.DialerFunc(nw.dial),
		DialOptions: []grpc.DialOption{},
		Logger:      &nop,
	})
	require.NoError(t, err)
	defer client.Close()

	owner := discovery.Peer{ID: "n2", Addr: "owner"}
	_, err = client.Forward(ctx, owner, "c1", cartdomain.AddItem{ProductID: "sku-1", Quantity: 1})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeCartAmbiguous, apperrors.GetCode(err))
	assert.True(t, engine.IsNonRetryable(err))

	tail, err := j.LastSeq(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), tail)

	st := status.Convert(StatusFromError(ctx, err))
	assert.Equal(t, codes.Unknown, st.Code())
	_, hasRetry := apperrors.RetryDelayFromStatus(st)
	assert.False(t, hasRetry)
}

func TestStatusFromError(t *testing.T) {
	ctx := context.Background()
	assert.NoError(t, StatusFromError(ctx, nil))
	assert.Equal(t, codes.DeadlineExceeded, status.Code(StatusFromError(ctx, context.DeadlineExceeded)))
	assert.Equal(t, codes.Internal, status.Code(StatusFromError(ctx, errors.New("disk on fire"))))
	assert.Equal(t, codes.InvalidArgument, status.Code(StatusFromError(ctx, projection.ErrProductIDRequired)))

	err := StatusFromError(ctx, apperrors.New(apperrors.CodeCartConflict, "raced"))
	assert.Equal(t, codes.Aborted, status.Code(err))

	st := status.Convert(StatusFromError(ctx, apperrors.New(apperrors.CodeCartUnavailable, "moving")))
	assert.Equal(t, codes.Unavailable, st.Code())
	delay, ok := apperrors.RetryDelayFromStatus(st)
	assert.True(t, ok)
	assert.Equal(t, apperrors.RetryDelay, delay)

	uncertain := apperrors.Wrap(apperrors.CodeCartUnavailable, "peer gone",
		engine.Ambiguous("c1", errors.New("connection reset")))
	st = status.Convert(StatusFromError(ctx, uncertain))
	assert.Equal(t, codes.Unknown, st.Code())
	assert.Equal(t, apperrors.CodeCartAmbiguous, apperrors.ReasonFromStatus(st))
	_, ok = apperrors.RetryDelayFromStatus(st)
	assert.False(t, ok)
}

func TestCartProtoConversion(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_123).UTC()
	summary := cartdomain.Summary{CartID: "c", Items: map[string]int{"p": 1}, CheckedOut: true, CheckedOutAt: at}
	assert.Equal(t, summary, CartFromProto(CartToProto(summary)))
	assert.Equal(t, cartdomain.Summary{Items: map[string]int{}}, CartFromProto(nil))
}
