package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/louisbranch/shopping-cart/internal/services/cart/domain/checkpoint"
	"github.com/louisbranch/shopping-cart/internal/services/cart/domain/event"
	"github.com/louisbranch/shopping-cart/internal/services/cart/domain/journal"
	"github.com/louisbranch/shopping-cart/internal/services/cart/storage/sqlite/migrations"
)

// Journal is the durable cart event journal. It also stores snapshots.
type Journal struct {
	sqlDB   *sql.DB
	stamper journal.Stamper
}

var (
	_ journal.Journal  = (*Journal)(nil)
	_ checkpoint.Store = (*Journal)(nil)
)

// OpenJournal opens or creates the journal at path.
func OpenJournal(path string, stamper journal.Stamper) (*Journal, error) {
	sqlDB, err := openDB(path, "FULL", migrations.JournalFS, "journal")
	if err != nil {
		return nil, err
	}
	return &Journal{sqlDB: sqlDB, stamper: stamper}, nil
}

// Close closes the database. It is nil-safe.
func (j *Journal) Close() error {
	if j == nil || j.sqlDB == nil {
		return nil
	}
	return j.sqlDB.Close()
}

// Append implements journal.Journal.
func (j *Journal) Append(ctx context.Context, cartID string, expectedSeq uint64, evt event.Event) (event.Record, error) {
	if err := ctx.Err(); err != nil {
		return event.Record{}, err
	}
	if err := journal.CheckAppend(cartID, expectedSeq, evt); err != nil {
		return event.Record{}, err
	}
	payload, err := event.EncodePayload(evt)
	if err != nil {
		return event.Record{}, err
	}

	tx, err := j.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return event.Record{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var tail int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM events WHERE cart_id = ?`, cartID,
	).Scan(&tail); err != nil {
		return event.Record{}, fmt.Errorf("read tail: %w", err)
	}
	if expectedSeq != uint64(tail)+1 {
		return event.Record{}, &journal.ConflictError{CartID: cartID, Expected: expectedSeq, Actual: uint64(tail)}
	}

	rec := j.stamper.Stamp(cartID, expectedSeq, evt)
	rec.Timestamp = rec.Timestamp.Truncate(time.Millisecond)
	result, err := tx.ExecContext(ctx,
		`INSERT INTO events (cart_id, seq, tag, event_type, payload, timestamp) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.CartID, int64(rec.Seq), rec.Tag, string(evt.Type), payload, toMillis(rec.Timestamp),
	)
	if err != nil {
		if isConstraintError(err) {
			return event.Record{}, &journal.ConflictError{CartID: cartID, Expected: expectedSeq, Actual: expectedSeq}
		}
		return event.Record{}, fmt.Errorf("insert event: %w", err)
	}
	ordinal, err := result.LastInsertId()
	if err != nil {
		return event.Record{}, fmt.Errorf("read ordinal: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return event.Record{}, fmt.Errorf("commit: %w", err)
	}
	rec.Ordinal = uint64(ordinal)
	return rec, nil
}

const selectRecord = `SELECT ordinal, cart_id, seq, tag, event_type, payload, timestamp FROM events`

// ListEvents implements journal.Journal.
func (j *Journal) ListEvents(ctx context.Context, cartID string, afterSeq uint64, limit int) ([]event.Record, error) {
	rows, err := j.sqlDB.QueryContext(ctx,
		selectRecord+` WHERE cart_id = ? AND seq > ? ORDER BY seq LIMIT ?`,
		cartID, int64(afterSeq), sqlLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return scanRecords(rows)
}

// ListByTag implements journal.Journal.
func (j *Journal) ListByTag(ctx context.Context, tag string, afterOrdinal uint64, limit int) ([]event.Record, error) {
	rows, err := j.sqlDB.QueryContext(ctx,
		selectRecord+` WHERE tag = ? AND ordinal > ? ORDER BY ordinal LIMIT ?`,
		tag, int64(afterOrdinal), sqlLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("list events by tag: %w", err)
	}
	return scanRecords(rows)
}

// LastSeq implements journal.Journal.
func (j *Journal) LastSeq(ctx context.Context, cartID string) (uint64, error) {
	var tail int64
	if err := j.sqlDB.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM events WHERE cart_id = ?`, cartID,
	).Scan(&tail); err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return uint64(tail), nil
}

// ListCartIDs implements journal.Journal.
func (j *Journal) ListCartIDs(ctx context.Context) ([]string, error) {
	rows, err := j.sqlDB.QueryContext(ctx, `SELECT DISTINCT cart_id FROM events ORDER BY cart_id`)
	if err != nil {
		return nil, fmt.Errorf("list cart ids: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan cart id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetSnapshot implements checkpoint.Store.
func (j *Journal) GetSnapshot(ctx context.Context, cartID string) (checkpoint.Snapshot, error) {
	if cartID == "" {
		return checkpoint.Snapshot{}, checkpoint.ErrCartIDRequired
	}
	var (
		seq     int64
		raw     []byte
		savedAt int64
	)
	err := j.sqlDB.QueryRowContext(ctx,
		`SELECT seq, state_json, saved_at FROM snapshots WHERE cart_id = ?`, cartID,
	).Scan(&seq, &raw, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return checkpoint.Snapshot{}, checkpoint.ErrNotFound
	}
	if err != nil {
		return checkpoint.Snapshot{}, fmt.Errorf("get snapshot: %w", err)
	}
	snapshot := checkpoint.Snapshot{CartID: cartID, Seq: uint64(seq), SavedAt: fromMillis(savedAt)}
	if err := json.Unmarshal(raw, &snapshot.State); err != nil {
		return checkpoint.Snapshot{}, fmt.Errorf("decode snapshot state: %w", err)
	}
	return snapshot, nil
}

// SaveSnapshot implements checkpoint.Store. An older snapshot never replaces
// a newer one.
func (j *Journal) SaveSnapshot(ctx context.Context, snapshot checkpoint.Snapshot) error {
	if snapshot.CartID == "" {
		return checkpoint.ErrCartIDRequired
	}
	raw, err := json.Marshal(snapshot.State)
	if err != nil {
		return fmt.Errorf("encode snapshot state: %w", err)
	}
	savedAt := snapshot.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now()
	}
	_, err = j.sqlDB.ExecContext(ctx,
		`INSERT INTO snapshots (cart_id, seq, state_json, saved_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (cart_id) DO UPDATE SET
		     seq = excluded.seq,
		     state_json = excluded.state_json,
		     saved_at = excluded.saved_at
		 WHERE excluded.seq > snapshots.seq`,
		snapshot.CartID, int64(snapshot.Seq), raw, toMillis(savedAt),
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func scanRecords(rows *sql.Rows) ([]event.Record, error) {
	defer rows.Close()
	var records []event.Record
	for rows.Next() {
		var (
			rec       event.Record
			ordinal   int64
			seq       int64
			eventType string
			payload   []byte
			timestamp int64
		)
		if err := rows.Scan(&ordinal, &rec.CartID, &seq, &rec.Tag, &eventType, &payload, &timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		evt, err := event.DecodePayload(event.Type(eventType), payload)
		if err != nil {
			return nil, fmt.Errorf("decode event %s/%d: %w", rec.CartID, seq, err)
		}
		rec.Ordinal = uint64(ordinal)
		rec.Seq = uint64(seq)
		rec.Timestamp = fromMillis(timestamp)
		rec.Event = evt
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return records, nil
}

// sqlLimit maps a non-positive limit to SQLite's "no limit".
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
