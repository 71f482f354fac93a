package server

import (
	"context"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"

	"github.com/louisbranch/shopping-cart/internal/services/cart/domain/checkpoint"
	"github.com/louisbranch/shopping-cart/internal/services/cart/domain/journal"
	"github.com/louisbranch/shopping-cart/internal/services/cart/projection"
	badgerstore "github.com/louisbranch/shopping-cart/internal/services/cart/storage/badger"
	redisstore "github.com/louisbranch/shopping-cart/internal/services/cart/storage/redis"
	sqlitestore "github.com/louisbranch/shopping-cart/internal/services/cart/storage/sqlite"
)

type storage struct {
	journal   journal.Journal
	snapshots checkpoint.Store
	readModel projection.Store
	redis     redis.UniversalClient
	closers   []io.Closer
}

// openStorage opens the configured journal and read model. On failure every
// store already opened is closed.
func openStorage(ctx context.Context, cfg Config) (st storage, err error) {
	defer func() {
		if err != nil {
			for i := len(st.closers) - 1; i >= 0; i-- {
				_ = st.closers[i].Close()
			}
			st = storage{}
		}
	}()

	stamper := journal.Stamper{TagCount: cfg.TagCount}
	switch cfg.JournalBackend {
	case BackendSQLite, "":
		path := cfg.JournalPath
		if path == "" {
			path = "data/journal.db"
		}
		j, err := sqlitestore.OpenJournal(path, stamper)
		if err != nil {
			return st, fmt.Errorf("open journal: %w", err)
		}
		st.closers = append(st.closers, j)
		st.journal, st.snapshots = j, j
	case BackendBadger:
		dir := cfg.JournalPath
		if dir == "" {
			dir = "data/journal"
		}
		j, err := badgerstore.Open(dir, stamper)
		if err != nil {
			return st, fmt.Errorf("open journal: %w", err)
		}
		st.closers = append(st.closers, j)
		st.journal, st.snapshots = j, j
	case BackendMemory:
		j := journal.NewMemory(stamper)
		st.closers = append(st.closers, j)
		st.journal, st.snapshots = j, checkpoint.NewMemory()
	default:
		return st, fmt.Errorf("unknown journal backend %q", cfg.JournalBackend)
	}

	if cfg.RedisAddr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{cfg.RedisAddr}})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return st, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		st.closers = append(st.closers, client)
		st.redis = client
	}

	switch cfg.ReadModelBackend {
	case BackendSQLite, "":
		path := cfg.ProjectionsPath
		if path == "" {
			path = "data/projections.db"
		}
		p, err := sqlitestore.OpenProjections(path)
		if err != nil {
			return st, fmt.Errorf("open projections: %w", err)
		}
		st.closers = append(st.closers, p)
		st.readModel = p
	case BackendRedis:
		if st.redis == nil {
			return st, fmt.Errorf("read model backend %q requires a redis address", BackendRedis)
		}
		rm, err := redisstore.New(st.redis, redisstore.Options{})
		if err != nil {
			return st, fmt.Errorf("open redis read model: %w", err)
		}
		st.readModel = rm
	case BackendMemory:
		st.readModel = projection.NewMemory()
	default:
		return st, fmt.Errorf("unknown read model backend %q", cfg.ReadModelBackend)
	}
	return st, nil
}
