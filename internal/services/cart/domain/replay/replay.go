// Package replay rebuilds cart state by folding journal records.
package replay

import (
	"context"
	"errors"
	"fmt"

	"github.com/louisbranch/shopping-cart/internal/services/cart/domain/cart"
	"github.com/louisbranch/shopping-cart/internal/services/cart/domain/journal"
)

// ErrSequenceGap reports a missing seq while replaying.
var ErrSequenceGap = errors.New("event sequence gap")

// Result is the state reached by a replay and the last seq folded into it.
type Result struct {
	State   cart.State
	LastSeq uint64
	Applied int
}

// Replay folds every record after afterSeq into state.
// Records must arrive contiguous from afterSeq+1; a gap aborts the replay.
func Replay(ctx context.Context, j journal.Journal, cartID string, state cart.State, afterSeq uint64) (Result, error) {
	if j == nil {
		return Result{}, errors.New("journal is required")
	}
	if cartID == "" {
		return Result{}, errors.New("cart id is required")
	}

	result := Result{State: state, LastSeq: afterSeq}
	for rec, err := range journal.ReadFrom(ctx, j, cartID, afterSeq+1) {
		if err != nil {
			return result, fmt.Errorf("replay %s: %w", cartID, err)
		}
		if rec.Seq != result.LastSeq+1 {
			return result, fmt.Errorf("%w: expected %d got %d", ErrSequenceGap, result.LastSeq+1, rec.Seq)
		}
		result.State = cart.Apply(result.State, rec)
		result.LastSeq = rec.Seq
		result.Applied++
	}
	return result, nil
}
