package engine_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"

	apperrors "github.com/louisbranch/shopping-cart/internal/platform/errors"
	"github.com/louisbranch/shopping-cart/internal/services/cart/domain/cart"
	"github.com/louisbranch/shopping-cart/internal/services/cart/domain/checkpoint"
	"github.com/louisbranch/shopping-cart/internal/services/cart/domain/engine"
	"github.com/louisbranch/shopping-cart/internal/services/cart/domain/event"
	"github.com/louisbranch/shopping-cart/internal/services/cart/domain/journal"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newShard(t *testing.T, j journal.Journal, opts engine.Options) *engine.Shard {
	t.Helper()
	if opts.Logger == nil {
		nop := zerolog.Nop()
		opts.Logger = &nop
	}
	shard, err := engine.NewShard(j, opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, shard.Stop(ctx))
	})
	return shard
}

func requireCode(t *testing.T, err error, code apperrors.Code) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, apperrors.GetCode(err), "error: %v", err)
}

func TestAddRemoveCheckout(t *testing.T) {
	ctx := context.Background()
	j := journal.NewMemory(journal.Stamper{})
	shard := newShard(t, j, engine.Options{})

	_, err := shard.Handle(ctx, "c1", cart.AddItem{ProductID: "p1", Quantity: 2})
	require.NoError(t, err)
	_, err = shard.Handle(ctx, "c1", cart.AddItem{ProductID: "p2", Quantity: 1})
	require.NoError(t, err)
	summary, err := shard.Handle(ctx, "c1", cart.RemoveItem{ProductID: "p1", Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"p1": 1, "p2": 1}, summary.Items)

	summary, err = shard.Handle(ctx, "c1", cart.Checkout{})
	require.NoError(t, err)
	assert.True(t, summary.CheckedOut)

	_, err = shard.Handle(ctx, "c1", cart.AddItem{ProductID: "p3", Quantity: 1})
	requireCode(t, err, apperrors.CodeCartCheckedOut)

	last, err := j.LastSeq(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), last)
}

func TestRejectedCommandWritesNothing(t *testing.T) {
	ctx := context.Background()
	j := journal.NewMemory(journal.Stamper{})
	shard := newShard(t, j, engine.Options{})

	_, err := shard.Handle(ctx, "c1", cart.AddItem{ProductID: "p1", Quantity: 5})
	require.NoError(t, err)
	_, err = shard.Handle(ctx, "c1", cart.RemoveItem{ProductID: "p1", Quantity: 10})
	requireCode(t, err, apperrors.CodeCartRemoveTooMany)
	_, err = shard.Handle(ctx, "c1", cart.AddItem{ProductID: "p1", Quantity: 0})
	requireCode(t, err, apperrors.CodeCartInvalidQuantity)

	last, err := j.LastSeq(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), last)
}

func TestEmptyCartID(t *testing.T) {
	shard := newShard(t, journal.NewMemory(journal.Stamper{}), engine.Options{})
	_, err := shard.Handle(context.Background(), "", cart.Get{})
	requireCode(t, err, apperrors.CodeCartEmptyID)
}

func TestGetUnknownCartIsEmpty(t *testing.T) {
	shard := newShard(t, journal.NewMemory(journal.Stamper{}), engine.Options{})
	summary, err := shard.Handle(context.Background(), "fresh", cart.Get{})
	require.NoError(t, err)
	assert.Empty(t, summary.Items)
	assert.False(t, summary.CheckedOut)
}

func TestPassivatedCartReplays(t *testing.T) {
	ctx := context.Background()
	shard := newShard(t, journal.NewMemory(journal.Stamper{}), engine.Options{})

	_, err := shard.Handle(ctx, "c1", cart.AddItem{ProductID: "p1", Quantity: 3})
	require.NoError(t, err)
	_, err = shard.Handle(ctx, "c1", cart.Checkout{})
	require.NoError(t, err)

	wasActive, err := shard.Passivate(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, wasActive)
	assert.False(t, shard.IsActive("c1"))

	summary, err := shard.Handle(ctx, "c1", cart.Get{})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"p1": 3}, summary.Items)
	assert.True(t, summary.CheckedOut)

	_, err = shard.Handle(ctx, "c1", cart.RemoveItem{ProductID: "p1", Quantity: 1})
	requireCode(t, err, apperrors.CodeCartCheckedOut)
}

func TestIdleEntityPassivates(t *testing.T) {
	ctx := context.Background()
	shard := newShard(t, journal.NewMemory(journal.Stamper{}), engine.Options{IdleTimeout: 20 * time.Millisecond})

	_, err := shard.Handle(ctx, "c1", cart.AddItem{ProductID: "p1", Quantity: 1})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return shard.Active() == 0 }, time.Second, 5*time.Millisecond)

	summary, err := shard.Handle(ctx, "c1", cart.Get{})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"p1": 1}, summary.Items)
}

// committingFailure stores the event and then reports a failure, which is
// what a timeout after commit looks like to the caller.
type committingFailure struct {
	journal.Journal
	fail atomic.Bool
}

func (c *committingFailure) Append(ctx context.Context, cartID string, expectedSeq uint64, evt event.Event) (event.Record, error) {
	rec, err := c.Journal.Append(ctx, cartID, expectedSeq, evt)
	if err != nil {
		return rec, err
	}
	if c.fail.CompareAndSwap(true, false) {
		return event.Record{}, errors.New("connection reset after write")
	}
	return rec, nil
}

func TestAmbiguousAppendIsNotAppliedTwice(t *testing.T) {
	ctx := context.Background()
	j := &committingFailure{Journal: journal.NewMemory(journal.Stamper{})}
	shard := newShard(t, j, engine.Options{})

	j.fail.Store(true)
	_, err := shard.Handle(ctx, "c1", cart.AddItem{ProductID: "p1", Quantity: 2})
	requireCode(t, err, apperrors.CodeCartAmbiguous)
	assert.True(t, engine.IsNonRetryable(err))
	assert.ErrorIs(t, err, engine.ErrDurability)
	assert.Equal(t, "ambiguous", engine.Outcome(err))

	require.Eventually(t, func() bool { return !shard.IsActive("c1") }, time.Second, 5*time.Millisecond)

	summary, err := shard.Handle(ctx, "c1", cart.Get{})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"p1": 2}, summary.Items)

	summary, err = shard.Handle(ctx, "c1", cart.AddItem{ProductID: "p1", Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"p1": 3}, summary.Items)
}

func TestConflictReloadsState(t *testing.T) {
	ctx := context.Background()
	j := journal.NewMemory(journal.Stamper{})
	shard := newShard(t, j, engine.Options{})

	_, err := shard.Handle(ctx, "c1", cart.AddItem{ProductID: "p1", Quantity: 1})
	require.NoError(t, err)

	// A writer outside this shard extends the cart.
	_, err = j.Append(ctx, "c1", 2, event.ItemAdded("p2", 4))
	require.NoError(t, err)

	_, err = shard.Handle(ctx, "c1", cart.AddItem{ProductID: "p1", Quantity: 1})
	requireCode(t, err, apperrors.CodeCartConflict)

	summary, err := shard.Handle(ctx, "c1", cart.Get{})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"p1": 1, "p2": 4}, summary.Items)

	summary, err = shard.Handle(ctx, "c1", cart.AddItem{ProductID: "p1", Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"p1": 2, "p2": 4}, summary.Items)
}

// gatedJournal blocks appends until release is closed.
type gatedJournal struct {
	journal.Journal
	entered chan struct{}
	release chan struct{}
}

func (g *gatedJournal) Append(ctx context.Context, cartID string, expectedSeq uint64, evt event.Event) (event.Record, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.Journal.Append(ctx, cartID, expectedSeq, evt)
}

func TestCallerTimeoutDoesNotCancelAppend(t *testing.T) {
	j := &gatedJournal{
		Journal: journal.NewMemory(journal.Stamper{}),
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	shard := newShard(t, j, engine.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := shard.Handle(ctx, "c1", cart.AddItem{ProductID: "p1", Quantity: 1})
		errCh <- err
	}()
	<-j.entered
	cancel()
	err := <-errCh
	requireCode(t, err, apperrors.CodeCartAmbiguous)
	close(j.release)

	summary, err := shard.Handle(context.Background(), "c1", cart.Get{})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"p1": 1}, summary.Items)
}

func randomCommand(rng *rand.Rand) cart.Command {
	product := fmt.Sprintf("p%d", rng.IntN(3))
	qty := rng.IntN(4) // zero is rejected on purpose
	switch n := rng.IntN(20); {
	case n < 9:
		return cart.AddItem{ProductID: product, Quantity: qty}
	case n < 14:
		return cart.RemoveItem{ProductID: product, Quantity: qty}
	case n < 18:
		return cart.AdjustItemQuantity{ProductID: product, Quantity: qty}
	case n < 19:
		return cart.Get{}
	default:
		return cart.Checkout{}
	}
}

func TestConcurrentCartsKeepSequencesContiguous(t *testing.T) {
	ctx := context.Background()
	j := journal.NewMemory(journal.Stamper{})
	shard := newShard(t, j, engine.Options{})

	const carts, workers, perWorker = 12, 4, 25
	var accepted atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for c := range carts {
		cartID := fmt.Sprintf("cart-%d", c)
		for w := range workers {
			rng := rand.New(rand.NewPCG(uint64(c), uint64(w)))
			g.Go(func() error {
				for range perWorker {
					_, err := shard.Handle(gctx, cartID, randomCommand(rng))
					if err == nil {
						accepted.Add(1)
						continue
					}
					switch apperrors.GetCode(err).GRPCCode() {
					case codes.InvalidArgument, codes.FailedPrecondition:
					default:
						return err
					}
				}
				return nil
			})
		}
	}
	require.NoError(t, g.Wait())
	require.Positive(t, accepted.Load())

	gaps, err := journal.Verify(ctx, j)
	require.NoError(t, err)
	assert.Empty(t, gaps)

	appended := 0
	for c := range carts {
		cartID := fmt.Sprintf("cart-%d", c)
		records, err := j.ListEvents(ctx, cartID, 0, carts*workers*perWorker)
		require.NoError(t, err)
		for i, rec := range records {
			require.Equal(t, uint64(i+1), rec.Seq, "cart %s", cartID)
		}
		appended += len(records)

		live, err := shard.Handle(ctx, cartID, cart.Get{})
		require.NoError(t, err)
		assert.Equal(t, cart.Fold(records).Summary(cartID), live, "cart %s", cartID)
	}
	assert.LessOrEqual(t, int64(appended), accepted.Load())
}

func TestSnapshotsShortenReplay(t *testing.T) {
	ctx := context.Background()
	j := journal.NewMemory(journal.Stamper{})
	snapshots := checkpoint.NewMemory()
	shard := newShard(t, j, engine.Options{SnapshotEvery: 2, Snapshots: snapshots})

	for _, sku := range []string{"a", "b", "c"} {
		_, err := shard.Handle(ctx, "c1", cart.AddItem{ProductID: sku, Quantity: 1})
		require.NoError(t, err)
	}
	snap, err := snapshots.GetSnapshot(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), snap.Seq)
	assert.Equal(t, map[string]int{"a": 1, "b": 1}, snap.State.Items)

	_, err = shard.Passivate(ctx, "c1")
	require.NoError(t, err)
	summary, err := shard.Handle(ctx, "c1", cart.Get{})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 1, "b": 1, "c": 1}, summary.Items)
}

type refusingGuard struct{}

func (refusingGuard) Acquire(context.Context, string) (engine.Lease, error) {
	return nil, errors.New("held by node-2")
}

func TestGuardRefusalIsUnavailable(t *testing.T) {
	shard := newShard(t, journal.NewMemory(journal.Stamper{}), engine.Options{Guard: refusingGuard{}})
	_, err := shard.Handle(context.Background(), "c1", cart.AddItem{ProductID: "p1", Quantity: 1})
	requireCode(t, err, apperrors.CodeCartUnavailable)
	assert.Equal(t, 0, shard.Active())
}

type fakeLease struct {
	lost     chan struct{}
	released atomic.Int32
}

func (l *fakeLease) Lost() <-chan struct{} { return l.lost }

func (l *fakeLease) Release(context.Context) error {
	l.released.Add(1)
	return nil
}

type fakeGuard struct {
	mu     sync.Mutex
	leases []*fakeLease
}

func (g *fakeGuard) Acquire(context.Context, string) (engine.Lease, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	lease := &fakeLease{lost: make(chan struct{})}
	g.leases = append(g.leases, lease)
	return lease, nil
}

func (g *fakeGuard) lease(i int) *fakeLease {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.leases[i]
}

func TestLostLeasePassivates(t *testing.T) {
	ctx := context.Background()
	guard := &fakeGuard{}
	shard := newShard(t, journal.NewMemory(journal.Stamper{}), engine.Options{Guard: guard})

	_, err := shard.Handle(ctx, "c1", cart.AddItem{ProductID: "p1", Quantity: 1})
	require.NoError(t, err)

	first := guard.lease(0)
	close(first.lost)
	require.Eventually(t, func() bool { return !shard.IsActive("c1") }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), first.released.Load())

	summary, err := shard.Handle(ctx, "c1", cart.Get{})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"p1": 1}, summary.Items)
	assert.Len(t, guard.leases, 2)
}

func TestStopRefusesCommands(t *testing.T) {
	ctx := context.Background()
	shard, err := engine.NewShard(journal.NewMemory(journal.Stamper{}), engine.Options{})
	require.NoError(t, err)

	_, err = shard.Handle(ctx, "c1", cart.AddItem{ProductID: "p1", Quantity: 1})
	require.NoError(t, err)
	require.NoError(t, shard.Stop(ctx))
	assert.Equal(t, 0, shard.Active())

	_, err = shard.Handle(ctx, "c1", cart.Get{})
	requireCode(t, err, apperrors.CodeCartUnavailable)
	assert.ErrorIs(t, err, engine.ErrStopped)
}
