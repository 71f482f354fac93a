package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/louisbranch/shopping-cart/internal/services/cart/projection"
	"github.com/louisbranch/shopping-cart/internal/services/cart/storage/sqlite/migrations"
)

// Projections is the popularity read model with its offsets and cursors.
// Every projection.Tx runs inside one SQL transaction.
type Projections struct {
	sqlDB *sql.DB
}

var _ projection.Store = (*Projections)(nil)

// OpenProjections opens or creates the read model at path.
func OpenProjections(path string) (*Projections, error) {
	sqlDB, err := openDB(path, "NORMAL", migrations.ProjectionsFS, "projections")
	if err != nil {
		return nil, err
	}
	return &Projections{sqlDB: sqlDB}, nil
}

// Close closes the database. It is nil-safe.
func (p *Projections) Close() error {
	if p == nil || p.sqlDB == nil {
		return nil
	}
	return p.sqlDB.Close()
}

// Update implements projection.Store.
func (p *Projections) Update(ctx context.Context, tag, cartID string, fn func(projection.Tx) error) error {
	tx, err := p.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqlTx{ctx: ctx, tx: tx, tag: tag, cartID: cartID}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Cursor implements projection.Store.
func (p *Projections) Cursor(ctx context.Context, tag string) (uint64, error) {
	var ordinal int64
	err := p.sqlDB.QueryRowContext(ctx, `SELECT ordinal FROM projection_cursors WHERE tag = ?`, tag).Scan(&ordinal)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get cursor: %w", err)
	}
	return uint64(ordinal), nil
}

// Reset implements projection.Store.
func (p *Projections) Reset(ctx context.Context) error {
	tx, err := p.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	for _, table := range []string{"popularity", "projection_offsets", "projection_counted", "projection_cursors"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Popularity implements projection.Reader.
func (p *Projections) Popularity(ctx context.Context, productID string) (uint64, error) {
	if productID == "" {
		return 0, projection.ErrProductIDRequired
	}
	var count int64
	err := p.sqlDB.QueryRowContext(ctx, `SELECT cart_count FROM popularity WHERE product_id = ?`, productID).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get popularity: %w", err)
	}
	return uint64(count), nil
}

// TopItems implements projection.Reader.
func (p *Projections) TopItems(ctx context.Context, limit int) ([]projection.ItemCount, error) {
	rows, err := p.sqlDB.QueryContext(ctx,
		`SELECT product_id, cart_count FROM popularity ORDER BY cart_count DESC, product_id ASC LIMIT ?`,
		sqlLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("list top items: %w", err)
	}
	defer rows.Close()

	items := []projection.ItemCount{}
	for rows.Next() {
		var (
			item  projection.ItemCount
			count int64
		)
		if err := rows.Scan(&item.ProductID, &count); err != nil {
			return nil, fmt.Errorf("scan top item: %w", err)
		}
		item.Count = uint64(count)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate top items: %w", err)
	}
	return items, nil
}

type sqlTx struct {
	ctx    context.Context
	tx     *sql.Tx
	tag    string
	cartID string
}

func (t *sqlTx) Offset() (uint64, error) {
	var seq int64
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT seq FROM projection_offsets WHERE tag = ? AND cart_id = ?`, t.tag, t.cartID,
	).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get offset: %w", err)
	}
	return uint64(seq), nil
}

func (t *sqlTx) IsCounted(productID string) (bool, error) {
	var found int
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT 1 FROM projection_counted WHERE cart_id = ? AND product_id = ?`, t.cartID, productID,
	).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check counted: %w", err)
	}
	return true, nil
}

func (t *sqlTx) MarkCounted(productID string) error {
	if _, err := t.tx.ExecContext(t.ctx,
		`INSERT OR IGNORE INTO projection_counted (cart_id, product_id) VALUES (?, ?)`, t.cartID, productID,
	); err != nil {
		return fmt.Errorf("mark counted: %w", err)
	}
	return nil
}

func (t *sqlTx) Increment(productID string) error {
	if _, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO popularity (product_id, cart_count) VALUES (?, 1)
		 ON CONFLICT (product_id) DO UPDATE SET cart_count = cart_count + 1`, productID,
	); err != nil {
		return fmt.Errorf("increment popularity: %w", err)
	}
	return nil
}

func (t *sqlTx) SetOffset(seq uint64) error {
	if _, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO projection_offsets (tag, cart_id, seq) VALUES (?, ?, ?)
		 ON CONFLICT (tag, cart_id) DO UPDATE SET seq = excluded.seq`, t.tag, t.cartID, int64(seq),
	); err != nil {
		return fmt.Errorf("set offset: %w", err)
	}
	return nil
}

func (t *sqlTx) SetCursor(ordinal uint64) error {
	if _, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO projection_cursors (tag, ordinal) VALUES (?, ?)
		 ON CONFLICT (tag) DO UPDATE SET ordinal = excluded.ordinal`, t.tag, int64(ordinal),
	); err != nil {
		return fmt.Errorf("set cursor: %w", err)
	}
	return nil
}
