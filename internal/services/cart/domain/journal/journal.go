// Package journal defines the append-only cart event log.
//
// Append is optimistic: it succeeds only when expectedSeq is one past the
// highest stored seq for the cart, and writes nothing otherwise. A successful
// return means the record is durable. Implementations serialize appends so the
// journal-wide ordinal grows in commit order, which lets tag readers page by
// ordinal without skipping records that commit late.
package journal

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/louisbranch/shopping-cart/internal/services/cart/domain/event"
)

// DefaultPageSize bounds each read issued by ReadFrom.
const DefaultPageSize = 200

// ErrConflict reports an append whose expected seq is stale.
var ErrConflict = errors.New("journal sequence conflict")

// ConflictError carries the expected and actual tail of a rejected append.
type ConflictError struct {
	CartID   string
	Expected uint64
	Actual   uint64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("journal sequence conflict for %s: expected next %d, stored tail %d", e.CartID, e.Expected, e.Actual)
}

// Is matches ErrConflict.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// Journal is the event store used by the cart runtime and the projection runner.
type Journal interface {
	// Append stores evt as seq expectedSeq for cartID.
	Append(ctx context.Context, cartID string, expectedSeq uint64, evt event.Event) (event.Record, error)
	// ListEvents returns up to limit records for cartID with seq > afterSeq, ascending.
	ListEvents(ctx context.Context, cartID string, afterSeq uint64, limit int) ([]event.Record, error)
	// ListByTag returns up to limit records in tag with ordinal > afterOrdinal, ascending.
	ListByTag(ctx context.Context, tag string, afterOrdinal uint64, limit int) ([]event.Record, error)
	// LastSeq returns the highest stored seq for cartID, 0 when none.
	LastSeq(ctx context.Context, cartID string) (uint64, error)
	// ListCartIDs returns every cart with at least one record.
	ListCartIDs(ctx context.Context) ([]string, error)
	Close() error
}

// Stamper positions events for a journal implementation.
type Stamper struct {
	TagCount int
	Now      func() time.Time
}

// Stamp builds the record for evt at seq. The ordinal is left to the journal.
func (s Stamper) Stamp(cartID string, seq uint64, evt event.Event) event.Record {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	tagCount := s.TagCount
	if tagCount <= 0 {
		tagCount = event.DefaultTagCount
	}
	return event.Record{
		CartID:    cartID,
		Seq:       seq,
		Tag:       event.Tag(cartID, tagCount),
		Timestamp: now().UTC(),
		Event:     evt,
	}
}

// CheckAppend validates append arguments shared by all implementations.
func CheckAppend(cartID string, expectedSeq uint64, evt event.Event) error {
	if cartID == "" {
		return errors.New("cart id is required")
	}
	if expectedSeq == 0 {
		return errors.New("expected seq starts at 1")
	}
	return evt.Validate()
}

// ReadFrom yields records for cartID starting at fromSeq inclusive, in seq order.
// The sequence pages through the journal lazily and stops at the tail observed
// by the last page. Calling it again later picks up records appended since.
func ReadFrom(ctx context.Context, j Journal, cartID string, fromSeq uint64) iter.Seq2[event.Record, error] {
	return func(yield func(event.Record, error) bool) {
		after := uint64(0)
		if fromSeq > 0 {
			after = fromSeq - 1
		}
		for {
			page, err := j.ListEvents(ctx, cartID, after, DefaultPageSize)
			if err != nil {
				yield(event.Record{}, fmt.Errorf("list events for %s after %d: %w", cartID, after, err))
				return
			}
			for _, rec := range page {
				if !yield(rec, nil) {
					return
				}
				after = rec.Seq
			}
			if len(page) < DefaultPageSize {
				return
			}
		}
	}
}

// Gap describes a break in a cart's sequence.
type Gap struct {
	CartID   string
	Expected uint64
	Got      uint64
}

func (g Gap) String() string {
	return fmt.Sprintf("%s: expected seq %d got %d", g.CartID, g.Expected, g.Got)
}

// Verify walks every cart and reports the first sequence gap per cart.
func Verify(ctx context.Context, j Journal) ([]Gap, error) {
	ids, err := j.ListCartIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cart ids: %w", err)
	}
	var gaps []Gap
	for _, id := range ids {
		expected := uint64(1)
		for rec, err := range ReadFrom(ctx, j, id, 1) {
			if err != nil {
				return gaps, err
			}
			if rec.Seq != expected {
				gaps = append(gaps, Gap{CartID: id, Expected: expected, Got: rec.Seq})
				break
			}
			expected++
		}
	}
	return gaps, nil
}
