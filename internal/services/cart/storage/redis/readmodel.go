// Package redis stores the popularity read model in Redis.
//
// Each projection.Tx runs as an optimistic transaction: the cart's offset,
// counted set and the tag cursor are WATCHed, reads happen immediately and
// writes are queued into one MULTI/EXEC. A concurrent change aborts EXEC and
// the update is retried from scratch.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/louisbranch/shopping-cart/internal/platform/log"
	"github.com/louisbranch/shopping-cart/internal/services/cart/projection"
)

const (
	// DefaultPrefix keeps read model keys apart from cart leases (cart:lease:),
	// which share the client.
	DefaultPrefix     = "cart:rm:"
	defaultMaxRetries = 10
)

// Options configures a ReadModel.
type Options struct {
	// Prefix namespaces every key.
	Prefix string
	// MaxRetries bounds optimistic transaction retries per update.
	MaxRetries int
	Logger     *zerolog.Logger
}

// ReadModel implements projection.Store on Redis.
type ReadModel struct {
	client redis.UniversalClient
	opts   Options
	logger zerolog.Logger
}

var _ projection.Store = (*ReadModel)(nil)

// New wraps client.
func New(client redis.UniversalClient, opts Options) (*ReadModel, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	logger := log.WithComponent("readmodel")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &ReadModel{client: client, opts: opts, logger: logger}, nil
}

func (m *ReadModel) popularityKey() string         { return m.opts.Prefix + "popularity" }
func (m *ReadModel) offsetsKey(tag string) string  { return m.opts.Prefix + "offsets:" + tag }
func (m *ReadModel) countedKey(cart string) string { return m.opts.Prefix + "counted:" + cart }
func (m *ReadModel) cursorKey(tag string) string   { return m.opts.Prefix + "cursor:" + tag }

// Update implements projection.Store.
func (m *ReadModel) Update(ctx context.Context, tag, cartID string, fn func(projection.Tx) error) error {
	offsets, counted, cursor := m.offsetsKey(tag), m.countedKey(cartID), m.cursorKey(tag)
	txf := func(tx *redis.Tx) error {
		rtx := &redisTx{ctx: ctx, tx: tx, model: m, tag: tag, cartID: cartID}
		if err := fn(rtx); err != nil {
			return err
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, write := range rtx.writes {
				write(pipe)
			}
			return nil
		})
		return err
	}

	for attempt := 1; attempt <= m.opts.MaxRetries; attempt++ {
		err := m.client.Watch(ctx, txf, offsets, counted, cursor)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		m.logger.Debug().Str(log.FieldTag, tag).Str(log.FieldCartID, cartID).Int(log.FieldAttempts, attempt).
			Msg("read model transaction raced, retrying")
	}
	return fmt.Errorf("update %s/%s: %w", tag, cartID, redis.TxFailedErr)
}

// Cursor implements projection.Store.
func (m *ReadModel) Cursor(ctx context.Context, tag string) (uint64, error) {
	ordinal, err := m.client.Get(ctx, m.cursorKey(tag)).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get cursor: %w", err)
	}
	return ordinal, nil
}

// Reset implements projection.Store.
func (m *ReadModel) Reset(ctx context.Context) error {
	iter := m.client.Scan(ctx, 0, m.opts.Prefix+"*", 500).Iterator()
	var batch []string
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := m.client.Del(ctx, batch...).Err()
		batch = batch[:0]
		return err
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 500 {
			if err := flush(); err != nil {
				return fmt.Errorf("reset read model: %w", err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan read model: %w", err)
	}
	if err := flush(); err != nil {
		return fmt.Errorf("reset read model: %w", err)
	}
	return nil
}

// Popularity implements projection.Reader.
func (m *ReadModel) Popularity(ctx context.Context, productID string) (uint64, error) {
	if productID == "" {
		return 0, projection.ErrProductIDRequired
	}
	score, err := m.client.ZScore(ctx, m.popularityKey(), productID).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get popularity: %w", err)
	}
	return uint64(score), nil
}

// TopItems implements projection.Reader. Redis orders equal scores by member
// descending, so every member tied with the last returned score is fetched
// and the slice is reordered by product id.
func (m *ReadModel) TopItems(ctx context.Context, limit int) ([]projection.ItemCount, error) {
	key := m.popularityKey()
	floor := "-inf"
	if limit > 0 {
		top, err := m.client.ZRevRangeWithScores(ctx, key, int64(limit-1), int64(limit-1)).Result()
		if err != nil {
			return nil, fmt.Errorf("find top items boundary: %w", err)
		}
		if len(top) == 1 {
			floor = strconv.FormatFloat(top[0].Score, 'f', -1, 64)
		}
	}
	members, err := m.client.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{Min: floor, Max: "+inf"}).Result()
	if err != nil {
		return nil, fmt.Errorf("list top items: %w", err)
	}

	items := make([]projection.ItemCount, 0, len(members))
	for _, z := range members {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		items = append(items, projection.ItemCount{ProductID: member, Count: uint64(z.Score)})
	}
	projection.SortItems(items)
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

type redisTx struct {
	ctx    context.Context
	tx     *redis.Tx
	model  *ReadModel
	tag    string
	cartID string
	writes []func(redis.Pipeliner)
	marked map[string]bool
}

func (t *redisTx) Offset() (uint64, error) {
	seq, err := t.tx.HGet(t.ctx, t.model.offsetsKey(t.tag), t.cartID).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get offset: %w", err)
	}
	return seq, nil
}

func (t *redisTx) IsCounted(productID string) (bool, error) {
	if t.marked[productID] {
		return true, nil
	}
	counted, err := t.tx.SIsMember(t.ctx, t.model.countedKey(t.cartID), productID).Result()
	if err != nil {
		return false, fmt.Errorf("check counted: %w", err)
	}
	return counted, nil
}

func (t *redisTx) MarkCounted(productID string) error {
	if t.marked == nil {
		t.marked = map[string]bool{}
	}
	t.marked[productID] = true
	key := t.model.countedKey(t.cartID)
	t.writes = append(t.writes, func(pipe redis.Pipeliner) {
		pipe.SAdd(t.ctx, key, productID)
	})
	return nil
}

func (t *redisTx) Increment(productID string) error {
	key := t.model.popularityKey()
	t.writes = append(t.writes, func(pipe redis.Pipeliner) {
		pipe.ZIncrBy(t.ctx, key, 1, productID)
	})
	return nil
}

func (t *redisTx) SetOffset(seq uint64) error {
	key := t.model.offsetsKey(t.tag)
	t.writes = append(t.writes, func(pipe redis.Pipeliner) {
		pipe.HSet(t.ctx, key, t.cartID, seq)
	})
	return nil
}

func (t *redisTx) SetCursor(ordinal uint64) error {
	key := t.model.cursorKey(t.tag)
	t.writes = append(t.writes, func(pipe redis.Pipeliner) {
		pipe.Set(t.ctx, key, ordinal, 0)
	})
	return nil
}
