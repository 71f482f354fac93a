// Package badger stores the cart journal in an embedded Badger database.
//
// Key layout:
//
//	ev/<cart>\x00<seq>         record, seq big-endian
//	tag/<tag>\x00<ordinal>     record copy, ordinal big-endian
//	seq/<cart>                 highest seq
//	snap/<cart>                snapshot
//	meta/ordinal               highest ordinal
package badger

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/louisbranch/shopping-cart/internal/services/cart/domain/checkpoint"
	"github.com/louisbranch/shopping-cart/internal/services/cart/domain/event"
	"github.com/louisbranch/shopping-cart/internal/services/cart/domain/journal"
)

var (
	eventPrefix    = []byte("ev/")
	tagPrefix      = []byte("tag/")
	seqPrefix      = []byte("seq/")
	snapshotPrefix = []byte("snap/")
	ordinalKey     = []byte("meta/ordinal")
)

// Journal is a journal.Journal backed by Badger with synchronous writes.
type Journal struct {
	db      *badger.DB
	stamper journal.Stamper
	// appends are serialized so ordinals are assigned in commit order
	appendMu sync.Mutex
}

var (
	_ journal.Journal  = (*Journal)(nil)
	_ checkpoint.Store = (*Journal)(nil)
)

// Open opens or creates a journal in dir.
func Open(dir string, stamper journal.Stamper) (*Journal, error) {
	if dir == "" {
		return nil, errors.New("badger dir is required")
	}
	opts := badger.DefaultOptions(dir).WithLogger(nil).WithSyncWrites(true)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Journal{db: db, stamper: stamper}, nil
}

// Close implements journal.Journal.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

type storedRecord struct {
	CartID    string `json:"cart_id"`
	Seq       uint64 `json:"seq"`
	Tag       string `json:"tag"`
	Ordinal   uint64 `json:"ordinal"`
	Type      string `json:"type"`
	Payload   []byte `json:"payload"`
	Timestamp int64  `json:"ts"`
}

func encodeRecord(rec event.Record) ([]byte, error) {
	payload, err := event.EncodePayload(rec.Event)
	if err != nil {
		return nil, err
	}
	return json.Marshal(storedRecord{
		CartID:    rec.CartID,
		Seq:       rec.Seq,
		Tag:       rec.Tag,
		Ordinal:   rec.Ordinal,
		Type:      string(rec.Event.Type),
		Payload:   payload,
		Timestamp: rec.Timestamp.UnixNano(),
	})
}

func decodeRecord(raw []byte) (event.Record, error) {
	var stored storedRecord
	if err := json.Unmarshal(raw, &stored); err != nil {
		return event.Record{}, fmt.Errorf("decode record: %w", err)
	}
	evt, err := event.DecodePayload(event.Type(stored.Type), stored.Payload)
	if err != nil {
		return event.Record{}, err
	}
	return event.Record{
		CartID:    stored.CartID,
		Seq:       stored.Seq,
		Tag:       stored.Tag,
		Ordinal:   stored.Ordinal,
		Timestamp: time.Unix(0, stored.Timestamp).UTC(),
		Event:     evt,
	}, nil
}

func keyWithUint(prefix []byte, name string, n uint64) []byte {
	key := make([]byte, 0, len(prefix)+len(name)+9)
	key = append(key, prefix...)
	key = append(key, name...)
	key = append(key, 0)
	return binary.BigEndian.AppendUint64(key, n)
}

func scopedPrefix(prefix []byte, name string) []byte {
	key := make([]byte, 0, len(prefix)+len(name)+1)
	key = append(key, prefix...)
	key = append(key, name...)
	return append(key, 0)
}

func plainKey(prefix []byte, name string) []byte {
	return append(bytes.Clone(prefix), name...)
}

func getUint(txn *badger.Txn, key []byte) (uint64, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var n uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("corrupt counter %q", key)
		}
		n = binary.BigEndian.Uint64(val)
		return nil
	})
	return n, err
}

func putUint(txn *badger.Txn, key []byte, n uint64) error {
	return txn.Set(key, binary.BigEndian.AppendUint64(nil, n))
}

// Append implements journal.Journal.
func (j *Journal) Append(ctx context.Context, cartID string, expectedSeq uint64, evt event.Event) (event.Record, error) {
	if err := ctx.Err(); err != nil {
		return event.Record{}, err
	}
	if err := journal.CheckAppend(cartID, expectedSeq, evt); err != nil {
		return event.Record{}, err
	}

	j.appendMu.Lock()
	defer j.appendMu.Unlock()

	var rec event.Record
	err := j.db.Update(func(txn *badger.Txn) error {
		tail, err := getUint(txn, plainKey(seqPrefix, cartID))
		if err != nil {
			return fmt.Errorf("read tail: %w", err)
		}
		if expectedSeq != tail+1 {
			return &journal.ConflictError{CartID: cartID, Expected: expectedSeq, Actual: tail}
		}
		ordinal, err := getUint(txn, ordinalKey)
		if err != nil {
			return fmt.Errorf("read ordinal: %w", err)
		}

		rec = j.stamper.Stamp(cartID, expectedSeq, evt)
		rec.Ordinal = ordinal + 1
		raw, err := encodeRecord(rec)
		if err != nil {
			return err
		}
		if err := txn.Set(keyWithUint(eventPrefix, cartID, rec.Seq), raw); err != nil {
			return err
		}
		if err := txn.Set(keyWithUint(tagPrefix, rec.Tag, rec.Ordinal), raw); err != nil {
			return err
		}
		if err := putUint(txn, plainKey(seqPrefix, cartID), rec.Seq); err != nil {
			return err
		}
		return putUint(txn, ordinalKey, rec.Ordinal)
	})
	if err != nil {
		var conflict *journal.ConflictError
		if errors.As(err, &conflict) {
			return event.Record{}, conflict
		}
		return event.Record{}, fmt.Errorf("append event: %w", err)
	}
	return rec, nil
}

// scan decodes records under prefix starting at from, up to limit.
func (j *Journal) scan(ctx context.Context, prefix, from []byte, limit int) ([]event.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var records []event.Record
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(from); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(records) >= limit {
				return nil
			}
			var rec event.Record
			err := it.Item().Value(func(val []byte) error {
				var err error
				rec, err = decodeRecord(val)
				return err
			})
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// ListEvents implements journal.Journal.
func (j *Journal) ListEvents(ctx context.Context, cartID string, afterSeq uint64, limit int) ([]event.Record, error) {
	records, err := j.scan(ctx, scopedPrefix(eventPrefix, cartID), keyWithUint(eventPrefix, cartID, afterSeq+1), limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return records, nil
}

// ListByTag implements journal.Journal.
func (j *Journal) ListByTag(ctx context.Context, tag string, afterOrdinal uint64, limit int) ([]event.Record, error) {
	records, err := j.scan(ctx, scopedPrefix(tagPrefix, tag), keyWithUint(tagPrefix, tag, afterOrdinal+1), limit)
	if err != nil {
		return nil, fmt.Errorf("list events by tag: %w", err)
	}
	return records, nil
}

// LastSeq implements journal.Journal.
func (j *Journal) LastSeq(ctx context.Context, cartID string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var tail uint64
	err := j.db.View(func(txn *badger.Txn) error {
		var err error
		tail, err = getUint(txn, plainKey(seqPrefix, cartID))
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return tail, nil
}

// ListCartIDs implements journal.Journal.
func (j *Journal) ListCartIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var ids []string
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = seqPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			ids = append(ids, string(bytes.TrimPrefix(it.Item().Key(), seqPrefix)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list cart ids: %w", err)
	}
	return ids, nil
}

type storedSnapshot struct {
	Seq     uint64          `json:"seq"`
	State   json.RawMessage `json:"state"`
	SavedAt int64           `json:"saved_at"`
}

// GetSnapshot implements checkpoint.Store.
func (j *Journal) GetSnapshot(ctx context.Context, cartID string) (checkpoint.Snapshot, error) {
	if cartID == "" {
		return checkpoint.Snapshot{}, checkpoint.ErrCartIDRequired
	}
	if err := ctx.Err(); err != nil {
		return checkpoint.Snapshot{}, err
	}
	snapshot := checkpoint.Snapshot{CartID: cartID}
	err := j.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(plainKey(snapshotPrefix, cartID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var stored storedSnapshot
			if err := json.Unmarshal(val, &stored); err != nil {
				return err
			}
			snapshot.Seq = stored.Seq
			snapshot.SavedAt = time.UnixMilli(stored.SavedAt).UTC()
			return json.Unmarshal(stored.State, &snapshot.State)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return checkpoint.Snapshot{}, checkpoint.ErrNotFound
	}
	if err != nil {
		return checkpoint.Snapshot{}, fmt.Errorf("get snapshot: %w", err)
	}
	return snapshot, nil
}

// SaveSnapshot implements checkpoint.Store. An older snapshot never replaces
// a newer one.
func (j *Journal) SaveSnapshot(ctx context.Context, snapshot checkpoint.Snapshot) error {
	if snapshot.CartID == "" {
		return checkpoint.ErrCartIDRequired
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	state, err := json.Marshal(snapshot.State)
	if err != nil {
		return fmt.Errorf("encode snapshot state: %w", err)
	}
	savedAt := snapshot.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now()
	}
	raw, err := json.Marshal(storedSnapshot{Seq: snapshot.Seq, State: state, SavedAt: savedAt.UnixMilli()})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	key := plainKey(snapshotPrefix, snapshot.CartID)
	err = j.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			var current storedSnapshot
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &current) }); err != nil {
				return err
			}
			if current.Seq >= snapshot.Seq {
				return nil
			}
		}
		return txn.Set(key, raw)
	})
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}
