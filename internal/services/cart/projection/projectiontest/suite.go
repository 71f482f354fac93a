// Package projectiontest holds the behavior every projection.Store must share.
package projectiontest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louisbranch/shopping-cart/internal/services/cart/domain/event"
	"github.com/louisbranch/shopping-cart/internal/services/cart/projection"
)

// Factory returns an empty store; cleanup is registered on t.
type Factory func(t *testing.T) projection.Store

func record(cartID string, seq, ordinal uint64, evt event.Event) event.Record {
	return event.Record{
		CartID:    cartID,
		Seq:       seq,
		Tag:       event.Tag(cartID, event.DefaultTagCount),
		Ordinal:   ordinal,
		Timestamp: time.Unix(1_700_000_000, 0).UTC(),
		Event:     evt,
	}
}

// Run exercises store against the projection contract.
func Run(t *testing.T, newStore Factory) {
	t.Run("redelivered record counts once", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		rec := record("c1", 1, 1, event.ItemAdded("sku-1", 2))

		applied, err := projection.Apply(ctx, store, rec)
		require.NoError(t, err)
		assert.True(t, applied)
		applied, err = projection.Apply(ctx, store, rec)
		require.NoError(t, err)
		assert.False(t, applied)

		count, err := store.Popularity(ctx, "sku-1")
		require.NoError(t, err)
		assert.Equal(t, uint64(1), count)
	})

	t.Run("distinct carts per product", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		records := []event.Record{
			record("c1", 1, 1, event.ItemAdded("sku-9", 1)),
			record("c2", 1, 2, event.ItemAdded("sku-9", 1)),
			record("c1", 2, 3, event.ItemAdded("sku-9", 1)),
			record("c1", 3, 4, event.ItemRemoved("sku-9", 2)),
			record("c1", 4, 5, event.ItemAdded("sku-9", 1)),
		}
		for _, rec := range records {
			_, err := projection.Apply(ctx, store, rec)
			require.NoError(t, err)
		}
		count, err := store.Popularity(ctx, "sku-9")
		require.NoError(t, err)
		assert.Equal(t, uint64(2), count)
	})

	t.Run("unknown product is zero", func(t *testing.T) {
		count, err := newStore(t).Popularity(context.Background(), "nothing")
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("cursor follows applied and skipped records", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		rec := record("c1", 1, 7, event.ItemAdded("sku-1", 1))
		tag := rec.Tag

		cursor, err := store.Cursor(ctx, tag)
		require.NoError(t, err)
		assert.Zero(t, cursor)

		_, err = projection.Apply(ctx, store, rec)
		require.NoError(t, err)
		cursor, err = store.Cursor(ctx, tag)
		require.NoError(t, err)
		assert.Equal(t, uint64(7), cursor)

		rec.Ordinal = 9
		_, err = projection.Apply(ctx, store, rec)
		require.NoError(t, err)
		cursor, err = store.Cursor(ctx, tag)
		require.NoError(t, err)
		assert.Equal(t, uint64(9), cursor)
	})

	t.Run("failed update writes nothing", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		boom := errors.New("boom")
		err := store.Update(ctx, event.Tag("c1", event.DefaultTagCount), "c1", func(tx projection.Tx) error {
			if err := tx.MarkCounted("sku-1"); err != nil {
				return err
			}
			if err := tx.Increment("sku-1"); err != nil {
				return err
			}
			if err := tx.SetOffset(1); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		count, err := store.Popularity(ctx, "sku-1")
		require.NoError(t, err)
		assert.Zero(t, count)
		applied, err := projection.Apply(ctx, store, record("c1", 1, 1, event.ItemAdded("sku-1", 1)))
		require.NoError(t, err)
		assert.True(t, applied)
	})

	t.Run("top items order", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		var ordinal uint64
		add := func(cartID, productID string, seq uint64) {
			ordinal++
			_, err := projection.Apply(ctx, store, record(cartID, seq, ordinal, event.ItemAdded(productID, 1)))
			require.NoError(t, err)
		}
		add("c1", "b", 1)
		add("c2", "b", 1)
		add("c1", "a", 2)
		add("c2", "a", 2)
		add("c3", "c", 1)
		add("c3", "z", 2)

		items, err := store.TopItems(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, []projection.ItemCount{
			{ProductID: "a", Count: 2},
			{ProductID: "b", Count: 2},
			{ProductID: "c", Count: 1},
		}, items)

		all, err := store.TopItems(ctx, 0)
		require.NoError(t, err)
		assert.Len(t, all, 4)
	})

	t.Run("reset clears state", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		rec := record("c1", 1, 1, event.ItemAdded("sku-1", 1))
		_, err := projection.Apply(ctx, store, rec)
		require.NoError(t, err)

		require.NoError(t, store.Reset(ctx))
		count, err := store.Popularity(ctx, "sku-1")
		require.NoError(t, err)
		assert.Zero(t, count)
		cursor, err := store.Cursor(ctx, rec.Tag)
		require.NoError(t, err)
		assert.Zero(t, cursor)

		applied, err := projection.Apply(ctx, store, rec)
		require.NoError(t, err)
		assert.True(t, applied)
	})
}
