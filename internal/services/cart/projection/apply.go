package projection

import (
	"context"
	"fmt"

	"github.com/louisbranch/shopping-cart/internal/services/cart/domain/event"
)

// Apply folds rec into store. It reports false when rec was already applied.
func Apply(ctx context.Context, store Store, rec event.Record) (bool, error) {
	var applied bool
	err := store.Update(ctx, rec.Tag, rec.CartID, func(tx Tx) error {
		applied = false
		offset, err := tx.Offset()
		if err != nil {
			return err
		}
		if rec.Seq <= offset {
			return tx.SetCursor(rec.Ordinal)
		}
		if rec.Event.Type == event.TypeItemAdded {
			if err := countFirstAdd(tx, rec.Event.ProductID); err != nil {
				return err
			}
		}
		if err := tx.SetOffset(rec.Seq); err != nil {
			return err
		}
		if err := tx.SetCursor(rec.Ordinal); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("apply %s seq %d: %w", rec.CartID, rec.Seq, err)
	}
	return applied, nil
}

func countFirstAdd(tx Tx, productID string) error {
	counted, err := tx.IsCounted(productID)
	if err != nil || counted {
		return err
	}
	if err := tx.MarkCounted(productID); err != nil {
		return err
	}
	return tx.Increment(productID)
}
