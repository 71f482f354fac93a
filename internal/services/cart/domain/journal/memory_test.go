package journal_test

import (
	"context"
	"testing"
	"time"

	"github.com/louisbranch/shopping-cart/internal/services/cart/domain/event"
	"github.com/louisbranch/shopping-cart/internal/services/cart/domain/journal"
	"github.com/louisbranch/shopping-cart/internal/services/cart/domain/journal/journaltest"
)

func TestMemoryContract(t *testing.T) {
	journaltest.Run(t, func(t *testing.T, tagCount int) journal.Journal {
		return journal.NewMemory(journal.Stamper{TagCount: tagCount})
	})
}

func TestMemoryAppendUsesClock(t *testing.T) {
	stamp := time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC)
	store := journal.NewMemory(journal.Stamper{TagCount: 4, Now: func() time.Time { return stamp }})

	rec, err := store.Append(context.Background(), "c1", 1, event.ItemAdded("sku-1", 1))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if !rec.Timestamp.Equal(stamp) {
		t.Fatalf("timestamp = %v, want %v", rec.Timestamp, stamp)
	}
	if rec.Ordinal != 1 {
		t.Fatalf("ordinal = %d, want 1", rec.Ordinal)
	}
}

func TestVerifyReportsGap(t *testing.T) {
	j := &gappyJournal{Memory: journal.NewMemory(journal.Stamper{})}
	ctx := context.Background()
	for seq := uint64(1); seq <= 3; seq++ {
		if _, err := j.Append(ctx, "c1", seq, event.ItemAdded("sku", 1)); err != nil {
			t.Fatalf("append %d: %v", seq, err)
		}
	}

	gaps, err := journal.Verify(ctx, j)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if len(gaps) != 1 || gaps[0].Expected != 2 || gaps[0].Got != 3 {
		t.Fatalf("unexpected gaps %v", gaps)
	}
}

// gappyJournal hides seq 2 from readers.
type gappyJournal struct {
	*journal.Memory
}

func (g *gappyJournal) ListEvents(ctx context.Context, cartID string, afterSeq uint64, limit int) ([]event.Record, error) {
	records, err := g.Memory.ListEvents(ctx, cartID, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	filtered := records[:0]
	for _, rec := range records {
		if rec.Seq != 2 {
			filtered = append(filtered, rec)
		}
	}
	return filtered, nil
}
