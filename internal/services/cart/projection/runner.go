package projection

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/louisbranch/shopping-cart/internal/platform/log"
	"github.com/louisbranch/shopping-cart/internal/services/cart/domain/event"
	"github.com/louisbranch/shopping-cart/internal/services/cart/domain/journal"
	"github.com/louisbranch/shopping-cart/internal/services/cart/observability/metrics"
)

// HealthService is the gRPC health service name reporting projection health.
const HealthService = "cart.projection"

const (
	defaultPollInterval     = 200 * time.Millisecond
	defaultBatchSize        = 200
	defaultFailureThreshold = 5
	defaultRetryInitial     = 100 * time.Millisecond
	defaultRetryMax         = 10 * time.Second
)

// HealthSetter receives serving status changes. *health.Server satisfies it.
type HealthSetter interface {
	SetServingStatus(service string, status grpc_health_v1.HealthCheckResponse_ServingStatus)
}

// Options configures a Runner.
type Options struct {
	TagCount         int
	PollInterval     time.Duration
	BatchSize        int
	FailureThreshold int
	RetryInitial     time.Duration
	RetryMax         time.Duration
	Health           HealthSetter
	Logger           *zerolog.Logger
}

// Runner keeps a Store in step with a Journal.
type Runner struct {
	journal journal.Journal
	store   Store
	opts    Options
	logger  zerolog.Logger

	mu        sync.Mutex
	unhealthy map[string]bool
}

// NewRunner creates a runner over every tag of the deployment.
func NewRunner(j journal.Journal, store Store, opts Options) (*Runner, error) {
	if j == nil {
		return nil, errors.New("journal is required")
	}
	if store == nil {
		return nil, errors.New("store is required")
	}
	if opts.TagCount <= 0 {
		opts.TagCount = event.DefaultTagCount
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = defaultFailureThreshold
	}
	if opts.RetryInitial <= 0 {
		opts.RetryInitial = defaultRetryInitial
	}
	if opts.RetryMax <= 0 {
		opts.RetryMax = defaultRetryMax
	}
	logger := log.WithComponent("projection")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	r := &Runner{
		journal:   j,
		store:     store,
		opts:      opts,
		logger:    logger,
		unhealthy: map[string]bool{},
	}
	for _, tag := range event.Tags(opts.TagCount) {
		metrics.SetProjectionHealthy(tag, true)
	}
	r.publishHealth()
	return r, nil
}

// Run tails every tag until ctx ends. It returns nil on cancellation.
func (r *Runner) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, tag := range event.Tags(r.opts.TagCount) {
		g.Go(func() error {
			return r.tail(gctx, tag)
		})
	}
	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// CatchUp applies every record committed so far and returns.
func (r *Runner) CatchUp(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, tag := range event.Tags(r.opts.TagCount) {
		g.Go(func() error {
			cursor, err := r.cursor(gctx, tag)
			if err != nil {
				return err
			}
			for {
				n, next, err := r.step(gctx, tag, cursor)
				if err != nil {
					return err
				}
				if n == 0 {
					return nil
				}
				cursor = next
			}
		})
	}
	return g.Wait()
}

// Rebuild clears the read model and replays the whole journal into it.
func (r *Runner) Rebuild(ctx context.Context) error {
	if err := r.store.Reset(ctx); err != nil {
		return err
	}
	r.logger.Info().Msg("read model reset, replaying journal")
	return r.CatchUp(ctx)
}

// Healthy reports whether every tag is applying records.
func (r *Runner) Healthy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.unhealthy) == 0
}

func (r *Runner) tail(ctx context.Context, tag string) error {
	cursor, err := r.cursor(ctx, tag)
	if err != nil {
		return err
	}
	r.logger.Debug().Str(log.FieldTag, tag).Uint64(log.FieldOrdinal, cursor).Msg("tailing tag")

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
		for {
			n, next, err := r.step(ctx, tag, cursor)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			cursor = next
			if n < r.opts.BatchSize {
				break
			}
		}
		timer.Reset(r.opts.PollInterval)
	}
}

// step applies one batch after cursor and returns how many records it read
// and the new cursor.
func (r *Runner) step(ctx context.Context, tag string, cursor uint64) (int, uint64, error) {
	records, err := retry(ctx, r, tag, func() ([]event.Record, error) {
		return r.journal.ListByTag(ctx, tag, cursor, r.opts.BatchSize)
	})
	if err != nil {
		return 0, cursor, err
	}
	for _, rec := range records {
		applied, err := retry(ctx, r, tag, func() (bool, error) {
			return Apply(ctx, r.store, rec)
		})
		if err != nil {
			return 0, cursor, err
		}
		cursor = rec.Ordinal
		metrics.RecordProjection(tag, applied, cursor)
		if !applied {
			r.logger.Debug().Str(log.FieldCartID, rec.CartID).Uint64(log.FieldSeq, rec.Seq).Msg("record already applied")
		}
	}
	return len(records), cursor, nil
}

func (r *Runner) cursor(ctx context.Context, tag string) (uint64, error) {
	return retry(ctx, r, tag, func() (uint64, error) {
		return r.store.Cursor(ctx, tag)
	})
}

// retry runs op until it succeeds or ctx ends. Consecutive failures past the
// threshold mark tag unhealthy until the next success.
func retry[T any](ctx context.Context, r *Runner, tag string, op func() (T, error)) (T, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.opts.RetryInitial
	policy.MaxInterval = r.opts.RetryMax

	failures := 0
	result, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(policy),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			failures++
			metrics.RecordProjectionRetry(tag)
			r.logger.Warn().Err(err).Str(log.FieldTag, tag).Int(log.FieldAttempts, failures).
				Dur("retry_in", next).Msg("projection step failed")
			if failures == r.opts.FailureThreshold {
				r.setHealthy(tag, false)
			}
		}),
	)
	if err == nil && failures >= r.opts.FailureThreshold {
		r.setHealthy(tag, true)
	}
	return result, err
}

func (r *Runner) setHealthy(tag string, healthy bool) {
	r.mu.Lock()
	if healthy {
		delete(r.unhealthy, tag)
	} else {
		r.unhealthy[tag] = true
	}
	r.mu.Unlock()

	metrics.SetProjectionHealthy(tag, healthy)
	if healthy {
		r.logger.Info().Str(log.FieldTag, tag).Msg("projection recovered")
	} else {
		r.logger.Error().Str(log.FieldTag, tag).Int("threshold", r.opts.FailureThreshold).
			Msg("projection failing repeatedly")
	}
	r.publishHealth()
}

func (r *Runner) publishHealth() {
	if r.opts.Health == nil {
		return
	}
	status := grpc_health_v1.HealthCheckResponse_SERVING
	if !r.Healthy() {
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	r.opts.Health.SetServingStatus(HealthService, status)
}
