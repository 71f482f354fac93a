package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louisbranch/shopping-cart/internal/services/cart/domain/cart"
	"github.com/louisbranch/shopping-cart/internal/services/cart/domain/checkpoint"
	"github.com/louisbranch/shopping-cart/internal/services/cart/domain/event"
	"github.com/louisbranch/shopping-cart/internal/services/cart/domain/journal"
	"github.com/louisbranch/shopping-cart/internal/services/cart/domain/journal/journaltest"
)

func openTest(t *testing.T, dir string, tagCount int) *Journal {
	t.Helper()
	j, err := Open(dir, journal.Stamper{TagCount: tagCount})
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJournalContract(t *testing.T) {
	journaltest.Run(t, func(t *testing.T, tagCount int) journal.Journal {
		return openTest(t, t.TempDir(), tagCount)
	})
}

func TestCartIDsDoNotShareKeyRanges(t *testing.T) {
	ctx := context.Background()
	j := openTest(t, t.TempDir(), event.DefaultTagCount)

	_, err := j.Append(ctx, "a", 1, event.ItemAdded("sku-1", 1))
	require.NoError(t, err)
	_, err = j.Append(ctx, "a/b", 1, event.ItemAdded("sku-2", 1))
	require.NoError(t, err)
	_, err = j.Append(ctx, "ab", 1, event.ItemAdded("sku-3", 1))
	require.NoError(t, err)

	records, err := j.ListEvents(ctx, "a", 0, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "sku-1", records[0].Event.ProductID)

	ids, err := j.ListCartIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "a/b", "ab"}, ids)
}

func TestJournalSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	j, err := Open(dir, journal.Stamper{})
	require.NoError(t, err)
	_, err = j.Append(ctx, "c1", 1, event.ItemAdded("sku-1", 2))
	require.NoError(t, err)
	last, err := j.Append(ctx, "c1", 2, event.CheckedOut())
	require.NoError(t, err)
	require.NoError(t, j.Close())

	reopened := openTest(t, dir, event.DefaultTagCount)
	tail, err := reopened.LastSeq(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), tail)

	next, err := reopened.Append(ctx, "c2", 1, event.ItemAdded("sku-1", 1))
	require.NoError(t, err)
	assert.Equal(t, last.Ordinal+1, next.Ordinal)
}

func TestSnapshots(t *testing.T) {
	ctx := context.Background()
	j := openTest(t, t.TempDir(), event.DefaultTagCount)

	_, err := j.GetSnapshot(ctx, "c1")
	require.ErrorIs(t, err, checkpoint.ErrNotFound)

	require.NoError(t, j.SaveSnapshot(ctx, checkpoint.Snapshot{CartID: "c1", Seq: 4, State: cart.State{Items: map[string]int{"sku-1": 1}}}))
	require.NoError(t, j.SaveSnapshot(ctx, checkpoint.Snapshot{CartID: "c1", Seq: 3, State: cart.State{}}))

	got, err := j.GetSnapshot(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), got.Seq)
	assert.Equal(t, map[string]int{"sku-1": 1}, got.State.Items)
}
