// Package journaltest holds the behavior every journal implementation must share.
package journaltest

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louisbranch/shopping-cart/internal/services/cart/domain/event"
	"github.com/louisbranch/shopping-cart/internal/services/cart/domain/journal"
)

// Factory opens an empty journal that stamps records with tagCount tags.
type Factory func(t *testing.T, tagCount int) journal.Journal

// Run exercises the journal contract against a fresh journal per subtest.
func Run(t *testing.T, open Factory) {
	t.Helper()

	t.Run("append assigns contiguous seqs", func(t *testing.T) {
		j := open(t, 4)
		ctx := context.Background()

		first, err := j.Append(ctx, "c1", 1, event.ItemAdded("sku-1", 2))
		require.NoError(t, err)
		second, err := j.Append(ctx, "c1", 2, event.ItemRemoved("sku-1", 1))
		require.NoError(t, err)

		assert.Equal(t, uint64(1), first.Seq)
		assert.Equal(t, uint64(2), second.Seq)
		assert.Greater(t, second.Ordinal, first.Ordinal)
		assert.Equal(t, event.Tag("c1", 4), first.Tag)
		assert.False(t, first.Timestamp.IsZero())

		last, err := j.LastSeq(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, uint64(2), last)
	})

	t.Run("stale expected seq conflicts without writing", func(t *testing.T) {
		j := open(t, 4)
		ctx := context.Background()

		_, err := j.Append(ctx, "c1", 1, event.ItemAdded("sku-1", 1))
		require.NoError(t, err)

		for _, expected := range []uint64{1, 3} {
			_, err = j.Append(ctx, "c1", expected, event.ItemAdded("sku-2", 1))
			require.Error(t, err)
			assert.True(t, errors.Is(err, journal.ErrConflict), "expected conflict for %d, got %v", expected, err)
		}

		records, err := j.ListEvents(ctx, "c1", 0, 10)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "sku-1", records[0].Event.ProductID)
	})

	t.Run("rejects invalid appends", func(t *testing.T) {
		j := open(t, 4)
		ctx := context.Background()
		_, err := j.Append(ctx, "", 1, event.ItemAdded("sku-1", 1))
		assert.Error(t, err)
		_, err = j.Append(ctx, "c1", 0, event.ItemAdded("sku-1", 1))
		assert.Error(t, err)
		_, err = j.Append(ctx, "c1", 1, event.ItemAdded("sku-1", 0))
		assert.Error(t, err)
	})

	t.Run("list events respects after seq and limit", func(t *testing.T) {
		j := open(t, 4)
		ctx := context.Background()
		for seq := uint64(1); seq <= 3; seq++ {
			_, err := j.Append(ctx, "c1", seq, event.ItemAdded("sku-1", int(seq)))
			require.NoError(t, err)
		}

		page, err := j.ListEvents(ctx, "c1", 1, 2)
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, uint64(2), page[0].Seq)
		assert.Equal(t, uint64(3), page[1].Seq)
		assert.Equal(t, 3, page[1].Event.Quantity)

		empty, err := j.ListEvents(ctx, "c1", 3, 10)
		require.NoError(t, err)
		assert.Empty(t, empty)

		unknown, err := j.ListEvents(ctx, "missing", 0, 10)
		require.NoError(t, err)
		assert.Empty(t, unknown)
	})

	t.Run("read from is restartable", func(t *testing.T) {
		j := open(t, 4)
		ctx := context.Background()
		for seq := uint64(1); seq <= 5; seq++ {
			_, err := j.Append(ctx, "c1", seq, event.ItemAdded("sku-1", 1))
			require.NoError(t, err)
		}

		var seqs []uint64
		for rec, err := range journal.ReadFrom(ctx, j, "c1", 3) {
			require.NoError(t, err)
			seqs = append(seqs, rec.Seq)
		}
		assert.Equal(t, []uint64{3, 4, 5}, seqs)

		_, err := j.Append(ctx, "c1", 6, event.CheckedOut())
		require.NoError(t, err)
		seqs = nil
		for rec, err := range journal.ReadFrom(ctx, j, "c1", 6) {
			require.NoError(t, err)
			seqs = append(seqs, rec.Seq)
			assert.Equal(t, event.TypeCheckedOut, rec.Event.Type)
		}
		assert.Equal(t, []uint64{6}, seqs)
	})

	t.Run("tag stream preserves per cart order", func(t *testing.T) {
		j := open(t, 2)
		ctx := context.Background()
		carts := []string{"a", "b", "c", "d", "e"}
		next := map[string]uint64{}
		for i := 0; i < 30; i++ {
			id := carts[i%len(carts)]
			next[id]++
			_, err := j.Append(ctx, id, next[id], event.ItemAdded("sku", 1))
			require.NoError(t, err)
		}

		total := 0
		for _, tag := range event.Tags(2) {
			var after uint64
			lastSeq := map[string]uint64{}
			for {
				page, err := j.ListByTag(ctx, tag, after, 4)
				require.NoError(t, err)
				if len(page) == 0 {
					break
				}
				for _, rec := range page {
					assert.Equal(t, tag, rec.Tag)
					assert.Greater(t, rec.Ordinal, after)
					assert.Equal(t, lastSeq[rec.CartID]+1, rec.Seq)
					lastSeq[rec.CartID] = rec.Seq
					after = rec.Ordinal
					total++
				}
			}
		}
		assert.Equal(t, 30, total)

		ids, err := j.ListCartIDs(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, carts, ids)
	})

	t.Run("concurrent carts stay gap free", func(t *testing.T) {
		j := open(t, 4)
		ctx := context.Background()
		const carts = 8
		rng := rand.New(rand.NewPCG(1, 2))
		counts := make([]int, carts)
		for i := range counts {
			counts[i] = 5 + rng.IntN(20)
		}

		var wg sync.WaitGroup
		errs := make(chan error, carts)
		for i := 0; i < carts; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				id := fmt.Sprintf("cart-%d", i)
				for seq := 1; seq <= counts[i]; seq++ {
					if _, err := j.Append(ctx, id, uint64(seq), event.ItemAdded("sku", 1)); err != nil {
						errs <- err
						return
					}
				}
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		gaps, err := journal.Verify(ctx, j)
		require.NoError(t, err)
		assert.Empty(t, gaps)
		for i := 0; i < carts; i++ {
			last, err := j.LastSeq(ctx, fmt.Sprintf("cart-%d", i))
			require.NoError(t, err)
			assert.Equal(t, uint64(counts[i]), last)
		}
	})

	t.Run("racing writers on one cart admit exactly one", func(t *testing.T) {
		j := open(t, 4)
		ctx := context.Background()
		const writers = 6

		var wg sync.WaitGroup
		var mu sync.Mutex
		var ok, conflicts int
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := j.Append(ctx, "hot", 1, event.ItemAdded(fmt.Sprintf("sku-%d", i), 1))
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					ok++
				case errors.Is(err, journal.ErrConflict):
					conflicts++
				default:
					t.Errorf("unexpected append error: %v", err)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 1, ok)
		assert.Equal(t, writers-1, conflicts)
	})
}
