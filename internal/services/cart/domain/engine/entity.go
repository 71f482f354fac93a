package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/louisbranch/shopping-cart/internal/platform/log"
	"github.com/louisbranch/shopping-cart/internal/services/cart/domain/cart"
	"github.com/louisbranch/shopping-cart/internal/services/cart/domain/checkpoint"
	"github.com/louisbranch/shopping-cart/internal/services/cart/domain/event"
	"github.com/louisbranch/shopping-cart/internal/services/cart/domain/journal"
	"github.com/louisbranch/shopping-cart/internal/services/cart/domain/replay"
	"github.com/louisbranch/shopping-cart/internal/services/cart/observability/metrics"
)

type envelope struct {
	ctx   context.Context
	cmd   cart.Command
	reply chan reply
}

type reply struct {
	summary cart.Summary
	err     error
}

type entity struct {
	id      string
	shard   *Shard
	logger  zerolog.Logger
	mailbox chan envelope
	done    chan struct{}
	// err is set before done closes when activation fails.
	err error

	evictOnce sync.Once
	evictCh   chan struct{}

	lease         Lease
	state         cart.State
	seq           uint64
	sinceSnapshot int
	poisoned      bool
}

func newEntity(s *Shard, cartID string) *entity {
	return &entity{
		id:      cartID,
		shard:   s,
		logger:  s.logger.With().Str(log.FieldCartID, cartID).Logger(),
		mailbox: make(chan envelope),
		done:    make(chan struct{}),
		evictCh: make(chan struct{}),
	}
}

func (e *entity) evict() {
	e.evictOnce.Do(func() { close(e.evictCh) })
}

func (e *entity) run() {
	defer e.shard.wg.Done()

	replayed, err := e.activate()
	if err != nil {
		e.err = err
		metrics.EntityActivated(false, 0)
		e.logger.Warn().Err(err).Msg("cart activation failed")
		e.shard.remove(e)
		return
	}
	metrics.EntityActivated(true, replayed)
	e.logger.Debug().Uint64(log.FieldSeq, e.seq).Int("replayed", replayed).Msg("cart activated")

	var lost <-chan struct{}
	if e.lease != nil {
		lost = e.lease.Lost()
	}
	idle := time.NewTimer(e.shard.opts.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case env := <-e.mailbox:
			start := time.Now()
			r := e.process(env)
			metrics.RecordCommand(env.cmd.Name(), Outcome(r.err), time.Since(start))
			env.reply <- r
			if e.poisoned {
				e.passivate("failure")
				return
			}
			idle.Reset(e.shard.opts.IdleTimeout)
		case <-idle.C:
			e.passivate("idle")
			return
		case <-lost:
			e.passivate("lease_lost")
			return
		case <-e.evictCh:
			e.passivate("handoff")
			return
		case <-e.shard.stop:
			e.passivate("shutdown")
			return
		}
	}
}

func (e *entity) activate() (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), e.shard.opts.ActivationTimeout)
	defer cancel()

	if guard := e.shard.opts.Guard; guard != nil {
		lease, err := guard.Acquire(ctx, e.id)
		if err != nil {
			return 0, err
		}
		e.lease = lease
	}

	var (
		state cart.State
		after uint64
	)
	snapshot, err := e.shard.opts.Snapshots.GetSnapshot(ctx, e.id)
	switch {
	case err == nil:
		state, after = snapshot.State, snapshot.Seq
	case !errors.Is(err, checkpoint.ErrNotFound):
		e.logger.Warn().Err(err).Msg("load snapshot, replaying from start")
	}

	result, err := replay.Replay(ctx, e.shard.journal, e.id, state, after)
	if err != nil {
		e.releaseLease()
		return 0, err
	}
	e.state, e.seq = result.State, result.LastSeq
	return result.Applied, nil
}

func (e *entity) process(env envelope) reply {
	if cart.IsReadOnly(env.cmd) {
		return reply{summary: e.state.Summary(e.id)}
	}
	events, err := cart.Decide(e.id, e.state, env.cmd)
	if err != nil {
		return reply{err: err}
	}
	for _, evt := range events {
		rec, err := e.append(env.ctx, evt)
		if err != nil {
			return reply{err: e.appendFailed(err)}
		}
		e.state = cart.Apply(e.state, rec)
		e.seq = rec.Seq
		e.sinceSnapshot++
	}
	e.maybeSnapshot()
	return reply{summary: e.state.Summary(e.id)}
}

// append runs detached from the caller's cancellation so an abandoned wait
// never interrupts a write that may already be committing.
func (e *entity) append(ctx context.Context, evt event.Event) (event.Record, error) {
	appendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.shard.opts.AppendTimeout)
	defer cancel()
	rec, err := e.shard.journal.Append(appendCtx, e.id, e.seq+1, evt)
	switch {
	case err == nil:
		metrics.RecordAppend("ok")
	case errors.Is(err, journal.ErrConflict):
		metrics.RecordAppend("conflict")
	default:
		metrics.RecordAppend("error")
	}
	return rec, err
}

func (e *entity) appendFailed(err error) error {
	if errors.Is(err, journal.ErrConflict) {
		e.logger.Warn().Err(err).Uint64(log.FieldSeq, e.seq).Msg("append conflict, reloading")
		ctx, cancel := context.WithTimeout(context.Background(), e.shard.opts.ActivationTimeout)
		defer cancel()
		result, reloadErr := replay.Replay(ctx, e.shard.journal, e.id, e.state, e.seq)
		if reloadErr != nil {
			e.poisoned = true
			e.logger.Error().Err(reloadErr).Msg("reload after conflict failed")
		} else {
			e.state, e.seq = result.State, result.LastSeq
		}
		return conflict(e.id, err)
	}
	e.poisoned = true
	e.logger.Error().Err(err).Uint64(log.FieldSeq, e.seq+1).Msg("append outcome unknown, passivating")
	return ambiguous(e.id, err)
}

func (e *entity) maybeSnapshot() {
	every := e.shard.opts.SnapshotEvery
	if every <= 0 || e.sinceSnapshot < every {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.shard.opts.AppendTimeout)
	defer cancel()
	err := e.shard.opts.Snapshots.SaveSnapshot(ctx, checkpoint.Snapshot{
		CartID: e.id,
		Seq:    e.seq,
		State:  e.state.Clone(),
	})
	if err != nil {
		e.logger.Warn().Err(err).Uint64(log.FieldSeq, e.seq).Msg("save snapshot")
		return
	}
	e.sinceSnapshot = 0
}

// passivate releases ownership before leaving the shard map, so a successor
// on another node can only activate once this entity has stopped serving.
func (e *entity) passivate(reason string) {
	e.releaseLease()
	e.shard.remove(e)
	metrics.EntityPassivated(reason)
	e.logger.Debug().Str("reason", reason).Uint64(log.FieldSeq, e.seq).Msg("cart passivated")
}

func (e *entity) releaseLease() {
	if e.lease == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.shard.opts.AppendTimeout)
	defer cancel()
	if err := e.lease.Release(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("release lease")
	}
	e.lease = nil
}
