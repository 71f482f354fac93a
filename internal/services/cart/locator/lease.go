package locator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/louisbranch/shopping-cart/internal/platform/id"
	"github.com/louisbranch/shopping-cart/internal/platform/log"
	"github.com/louisbranch/shopping-cart/internal/services/cart/domain/engine"
	"github.com/louisbranch/shopping-cart/internal/services/cart/observability/metrics"
)

const (
	defaultLeaseTTL    = 10 * time.Second
	defaultLeasePrefix = "cart:lease:"
)

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LeaserOptions configures a RedisLeaser.
type LeaserOptions struct {
	// TTL is how long a lease survives without renewal.
	TTL time.Duration
	// RenewEvery defaults to a third of TTL.
	RenewEvery time.Duration
	// Prefix namespaces lease keys.
	Prefix string
	Logger *zerolog.Logger
}

// RedisLeaser implements engine.Guard with expiring redis keys.
// The key value is a token unique to one lease, so a stale holder can never
// renew or delete a successor's lease.
type RedisLeaser struct {
	client redis.UniversalClient
	node   string
	opts   LeaserOptions
	logger zerolog.Logger
}

// NewRedisLeaser creates a leaser that claims carts for node.
func NewRedisLeaser(client redis.UniversalClient, node string, opts LeaserOptions) (*RedisLeaser, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if node == "" {
		return nil, errors.New("node id is required")
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultLeaseTTL
	}
	if opts.RenewEvery <= 0 || opts.RenewEvery >= opts.TTL {
		opts.RenewEvery = opts.TTL / 3
	}
	if opts.Prefix == "" {
		opts.Prefix = defaultLeasePrefix
	}
	logger := log.WithComponent("lease")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &RedisLeaser{client: client, node: node, opts: opts, logger: logger}, nil
}

// Acquire implements engine.Guard.
func (l *RedisLeaser) Acquire(ctx context.Context, cartID string) (engine.Lease, error) {
	token, err := id.NewID()
	if err != nil {
		return nil, fmt.Errorf("lease token: %w", err)
	}
	token = l.node + "/" + token
	key := l.opts.Prefix + cartID

	ok, err := l.client.SetNX(ctx, key, token, l.opts.TTL).Result()
	if err != nil {
		metrics.RecordLease("error")
		return nil, fmt.Errorf("acquire lease %s: %w", cartID, err)
	}
	if !ok {
		metrics.RecordLease("refused")
		holder, _ := l.client.Get(ctx, key).Result()
		return nil, fmt.Errorf("%w: %s", ErrLeaseHeld, holder)
	}
	metrics.RecordLease("acquired")

	lease := &redisLease{
		leaser: l,
		cartID: cartID,
		key:    key,
		token:  token,
		lost:   make(chan struct{}),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go lease.renew()
	return lease, nil
}

type redisLease struct {
	leaser *RedisLeaser
	cartID string
	key    string
	token  string

	lost     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func (l *redisLease) Lost() <-chan struct{} { return l.lost }

// renew extends the lease until Release. It gives up, closing lost, once the
// key belongs to someone else or renewals have failed for long enough that
// the key may already have expired.
func (l *redisLease) renew() {
	defer close(l.done)
	opts := l.leaser.opts
	ticker := time.NewTicker(opts.RenewEvery)
	defer ticker.Stop()
	lastOK := time.Now()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), opts.RenewEvery)
		n, err := renewScript.Run(ctx, l.leaser.client, []string{l.key}, l.token, opts.TTL.Milliseconds()).Int()
		cancel()
		switch {
		case err == nil && n == 1:
			lastOK = time.Now()
			continue
		case err == nil:
			l.leaser.logger.Warn().Str(log.FieldCartID, l.cartID).Msg("lease taken over")
		case time.Since(lastOK)+opts.RenewEvery < opts.TTL:
			l.leaser.logger.Warn().Err(err).Str(log.FieldCartID, l.cartID).Msg("renew lease")
			continue
		default:
			l.leaser.logger.Error().Err(err).Str(log.FieldCartID, l.cartID).Msg("lease expiring without renewal")
		}
		metrics.RecordLease("lost")
		close(l.lost)
		return
	}
}

// Release implements engine.Lease.
func (l *redisLease) Release(ctx context.Context) error {
	l.stopOnce.Do(func() { close(l.stop) })
	<-l.done
	if _, err := releaseScript.Run(ctx, l.leaser.client, []string{l.key}, l.token).Result(); err != nil {
		return fmt.Errorf("release lease %s: %w", l.cartID, err)
	}
	metrics.RecordLease("released")
	return nil
}
