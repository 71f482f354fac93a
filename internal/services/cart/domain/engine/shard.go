package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/louisbranch/shopping-cart/internal/platform/errors"
	"github.com/louisbranch/shopping-cart/internal/platform/log"
	"github.com/louisbranch/shopping-cart/internal/platform/timeouts"
	"github.com/louisbranch/shopping-cart/internal/services/cart/domain/cart"
	"github.com/louisbranch/shopping-cart/internal/services/cart/domain/checkpoint"
	"github.com/louisbranch/shopping-cart/internal/services/cart/domain/journal"
)

const (
	defaultIdleTimeout       = 2 * time.Minute
	defaultActivationTimeout = 10 * time.Second
	maxDeliveryAttempts      = 3
)

// Options configures a Shard. Zero values select defaults.
type Options struct {
	// IdleTimeout passivates an entity after this long without commands.
	IdleTimeout time.Duration
	// AppendTimeout bounds each journal append independently of the caller.
	AppendTimeout time.Duration
	// ActivationTimeout bounds lease acquisition and replay.
	ActivationTimeout time.Duration
	// SnapshotEvery saves a snapshot after this many events; 0 disables snapshots.
	SnapshotEvery int
	Snapshots     checkpoint.Store
	Guard         Guard
	Logger        *zerolog.Logger
}

// Shard hosts cart entities for one process.
type Shard struct {
	journal journal.Journal
	opts    Options
	logger  zerolog.Logger

	mu       sync.Mutex
	entities map[string]*entity
	stopped  bool
	stop     chan struct{}
	wg       sync.WaitGroup
}

// NewShard creates a shard backed by j.
func NewShard(j journal.Journal, opts Options) (*Shard, error) {
	if j == nil {
		return nil, errors.New("journal is required")
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaultIdleTimeout
	}
	if opts.AppendTimeout <= 0 {
		opts.AppendTimeout = timeouts.JournalAppend
	}
	if opts.ActivationTimeout <= 0 {
		opts.ActivationTimeout = defaultActivationTimeout
	}
	if opts.Snapshots == nil {
		opts.Snapshots = checkpoint.Noop{}
	}
	logger := log.WithComponent("engine")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Shard{
		journal:  j,
		opts:     opts,
		logger:   logger,
		entities: map[string]*entity{},
		stop:     make(chan struct{}),
	}, nil
}

// Handle delivers cmd to the cart's entity, activating it if needed, and
// waits for the reply. Cancelling ctx abandons the wait only: a command that
// reached the entity still runs to completion.
func (s *Shard) Handle(ctx context.Context, cartID string, cmd cart.Command) (cart.Summary, error) {
	if cartID == "" {
		return cart.Summary{}, apperrors.New(apperrors.CodeCartEmptyID, "cart id is required")
	}
	if cmd == nil {
		return cart.Summary{}, apperrors.New(apperrors.CodeCartInvalidArgument, "command is required")
	}

	for attempt := 0; attempt < maxDeliveryAttempts; attempt++ {
		ent, err := s.entity(cartID)
		if err != nil {
			return cart.Summary{}, unavailable(cartID, err)
		}

		env := envelope{ctx: ctx, cmd: cmd, reply: make(chan reply, 1)}
		select {
		case ent.mailbox <- env:
		case <-ent.done:
			if ent.err != nil {
				return cart.Summary{}, unavailable(cartID, ent.err)
			}
			continue
		case <-ctx.Done():
			return cart.Summary{}, unavailable(cartID, ctx.Err())
		}

		select {
		case r := <-env.reply:
			return r.summary, r.err
		case <-ctx.Done():
			if cart.IsReadOnly(cmd) {
				return cart.Summary{}, unavailable(cartID, ctx.Err())
			}
			return cart.Summary{}, ambiguous(cartID, ctx.Err())
		}
	}
	return cart.Summary{}, unavailable(cartID, ErrPassivated)
}

// Passivate evicts cartID from memory if it is active and waits until the
// entity has stopped. It reports whether an entity was active.
func (s *Shard) Passivate(ctx context.Context, cartID string) (bool, error) {
	s.mu.Lock()
	ent, ok := s.entities[cartID]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	ent.evict()
	select {
	case <-ent.done:
		return true, nil
	case <-ctx.Done():
		return true, ctx.Err()
	}
}

// Active returns the number of carts held in memory.
func (s *Shard) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entities)
}

// IsActive reports whether cartID is held in memory.
func (s *Shard) IsActive(cartID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entities[cartID]
	return ok
}

// Stop passivates every entity and refuses new commands. It waits for
// in-flight commands to finish or for ctx to end.
func (s *Shard) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.stop)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Shard) entity(cartID string) (*entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, ErrStopped
	}
	if ent, ok := s.entities[cartID]; ok {
		return ent, nil
	}
	ent := newEntity(s, cartID)
	s.entities[cartID] = ent
	s.wg.Add(1)
	go ent.run()
	return ent, nil
}

// remove drops ent from the map and closes its done channel. After remove
// returns, new senders reach a fresh entity.
func (s *Shard) remove(ent *entity) {
	s.mu.Lock()
	if current, ok := s.entities[ent.id]; ok && current == ent {
		delete(s.entities, ent.id)
	}
	s.mu.Unlock()
	close(ent.done)
}
