// Package server wires the cart runtime, its storage and the gRPC, HTTP and
// ops listeners of one node.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	cartv1 "github.com/louisbranch/shopping-cart/api/cart/v1"
	"github.com/louisbranch/shopping-cart/internal/platform/discovery"
	"github.com/louisbranch/shopping-cart/internal/platform/log"
	"github.com/louisbranch/shopping-cart/internal/platform/timeouts"
	cartservice "github.com/louisbranch/shopping-cart/internal/services/cart/api/grpc/cart"
	"github.com/louisbranch/shopping-cart/internal/services/cart/api/grpc/interceptors"
	grpcmeta "github.com/louisbranch/shopping-cart/internal/services/cart/api/grpc/metadata"
	"github.com/louisbranch/shopping-cart/internal/services/cart/api/http/gateway"
	"github.com/louisbranch/shopping-cart/internal/services/cart/api/http/ops"
	"github.com/louisbranch/shopping-cart/internal/services/cart/domain/engine"
	"github.com/louisbranch/shopping-cart/internal/services/cart/locator"
	"github.com/louisbranch/shopping-cart/internal/services/cart/projection"
)

// Backend names accepted by Config.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config describes one cart node. Zero durations and sizes select the
// component defaults.
type Config struct {
	GRPCAddr string
	HTTPAddr string
	OpsAddr  string

	NodeID string
	// Peers lists every ring member, this node included. Empty runs a
	// single-process deployment without leases.
	Peers []discovery.Peer

	JournalBackend   string
	JournalPath      string
	ReadModelBackend string
	ProjectionsPath  string
	RedisAddr        string

	TagCount       int
	IdleTimeout    time.Duration
	SnapshotEvery  int
	AppendTimeout  time.Duration
	RequestTimeout time.Duration
	LeaseTTL       time.Duration

	ProjectionPollInterval     time.Duration
	ProjectionBatchSize        int
	ProjectionFailureThreshold int

	// RateLimit is requests per second per node for gRPC and per client IP
	// for HTTP. Zero disables limiting.
	RateLimit float64
	RateBurst int
}

// Server hosts the cart APIs and the projection runner.
type Server struct {
	cfg    Config
	logger zerolog.Logger

	grpcListener net.Listener
	httpListener net.Listener
	opsListener  net.Listener

	grpcServer *grpc.Server
	health     *health.Server
	httpServer *http.Server
	opsServer  *http.Server

	shard  *engine.Shard
	runner *projection.Runner

	// closers run in reverse order on Close.
	closers []io.Closer
}

// New opens storage, builds the runtime and binds every listener.
func New(ctx context.Context, cfg Config) (srv *Server, err error) {
	s := &Server{
		cfg:    cfg,
		logger: log.WithComponent("server").With().Str(log.FieldNode, cfg.NodeID).Logger(),
	}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	st, err := openStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, st.closers...)

	s.health = health.NewServer()

	shardOpts := engine.Options{
		IdleTimeout:   cfg.IdleTimeout,
		AppendTimeout: cfg.AppendTimeout,
		SnapshotEvery: cfg.SnapshotEvery,
		Snapshots:     st.snapshots,
	}
	loc, err := s.buildLocator(cfg, st, shardOpts)
	if err != nil {
		return nil, err
	}

	s.runner, err = projection.NewRunner(st.journal, st.readModel, projection.Options{
		TagCount:         cfg.TagCount,
		PollInterval:     cfg.ProjectionPollInterval,
		BatchSize:        cfg.ProjectionBatchSize,
		FailureThreshold: cfg.ProjectionFailureThreshold,
		Health:           s.health,
	})
	if err != nil {
		return nil, err
	}

	service := cartservice.NewService(loc, st.readModel)
	accessLogger := log.WithComponent("grpc")
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = int(cfg.RateLimit) + 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	s.grpcServer = grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			grpcmeta.UnaryServerInterceptor(nil),
			interceptors.AccessLog(accessLogger),
			interceptors.RateLimit(limiter),
			interceptors.Timeout(requestTimeout(cfg)),
		),
	)
	cartv1.RegisterCartServiceServer(s.grpcServer, service)
	grpc_health_v1.RegisterHealthServer(s.grpcServer, s.health)

	router, err := gateway.NewRouter(service, gateway.Options{
		RequestLimit: httpRequestLimit(cfg),
		Window:       time.Second,
		Timeout:      requestTimeout(cfg),
	})
	if err != nil {
		return nil, err
	}
	s.httpServer = &http.Server{Handler: router, ReadHeaderTimeout: timeouts.ReadHeader}
	s.opsServer = &http.Server{
		Handler: ops.NewHandler(map[string]ops.HealthChecker{
			"projection": s.runner,
			"server":     ops.HealthCheckerFunc(s.serving),
		}),
		ReadHeaderTimeout: timeouts.ReadHeader,
	}

	if s.grpcListener, err = listen(discovery.OrDefaultAddr(cfg.GRPCAddr, discovery.ServiceCart)); err != nil {
		return nil, err
	}
	if s.httpListener, err = listen(discovery.OrDefaultAddr(cfg.HTTPAddr, discovery.ServiceCartGateway)); err != nil {
		return nil, err
	}
	if s.opsListener, err = listen(discovery.OrDefaultAddr(cfg.OpsAddr, discovery.ServiceCartOps)); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) buildLocator(cfg Config, st storage, shardOpts engine.Options) (locator.Locator, error) {
	if len(cfg.Peers) == 0 {
		shard, err := engine.NewShard(st.journal, shardOpts)
		if err != nil {
			return nil, err
		}
		s.shard = shard
		return locator.NewLocal(shard)
	}

	if st.redis == nil {
		return nil, errors.New("a clustered deployment requires a redis address for leases")
	}
	ring, err := locator.NewRing(cfg.Peers, locator.DefaultVirtualNodes)
	if err != nil {
		return nil, err
	}
	leaser, err := locator.NewRedisLeaser(st.redis, cfg.NodeID, locator.LeaserOptions{TTL: cfg.LeaseTTL})
	if err != nil {
		return nil, err
	}
	shardOpts.Guard = leaser
	shard, err := engine.NewShard(st.journal, shardOpts)
	if err != nil {
		return nil, err
	}
	s.shard = shard

	peers, err := cartservice.NewPeerClient(cartservice.PeerClientOptions{
		Node:           cfg.NodeID,
		RequestTimeout: requestTimeout(cfg),
	})
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, peers)
	return locator.NewCluster(cfg.NodeID, ring, shard, peers, locator.ClusterOptions{})
}

func requestTimeout(cfg Config) time.Duration {
	if cfg.RequestTimeout > 0 {
		return cfg.RequestTimeout
	}
	return timeouts.GRPCRequest
}

func httpRequestLimit(cfg Config) int {
	if cfg.RateLimit <= 0 {
		return 0
	}
	if cfg.RateBurst > int(cfg.RateLimit) {
		return cfg.RateBurst
	}
	return int(cfg.RateLimit) + 1
}

func listen(addr string) (net.Listener, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return listener, nil
}

func (s *Server) serving() bool {
	if s == nil || s.health == nil {
		return false
	}
	resp, err := s.health.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: cartv1.ServiceName})
	return err == nil && resp.GetStatus() == grpc_health_v1.HealthCheckResponse_SERVING
}

// Addr returns the gRPC listener address.
func (s *Server) Addr() string { return addrOf(s.grpcListener) }

// HTTPAddr returns the gateway listener address.
func (s *Server) HTTPAddr() string { return addrOf(s.httpListener) }

// OpsAddr returns the ops listener address.
func (s *Server) OpsAddr() string { return addrOf(s.opsListener) }

func addrOf(listener net.Listener) string {
	if listener == nil {
		return ""
	}
	return listener.Addr().String()
}

// Run creates and serves a cart node until ctx is cancelled.
func Run(ctx context.Context, cfg Config) error {
	server, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve runs every listener and the projection runner until ctx ends or one
// of them fails, then shuts everything down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	defer s.Close()

	s.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(cartv1.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	s.logger.Info().
		Str("grpc_addr", s.Addr()).
		Str("http_addr", s.HTTPAddr()).
		Str("ops_addr", s.OpsAddr()).
		Msg("cart node listening")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.grpcServer.Serve(s.grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("serve gRPC: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return serveHTTP(s.httpServer, s.httpListener, "gateway")
	})
	g.Go(func() error {
		return serveHTTP(s.opsServer, s.opsListener, "ops")
	})
	g.Go(func() error {
		return s.runner.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		return s.shutdown()
	})
	return g.Wait()
}

func serveHTTP(server *http.Server, listener net.Listener, name string) error {
	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve %s: %w", name, err)
	}
	return nil
}

// shutdown drains the listeners, then passivates every entity so leases are
// released before the process exits.
func (s *Server) shutdown() error {
	s.health.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
	defer cancel()

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown gateway: %w", err))
	}
	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpcServer.Stop()
	}
	if err := s.shard.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop shard: %w", err))
	}
	if err := s.opsServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown ops: %w", err))
	}
	s.logger.Info().Msg("cart node stopped")
	return errors.Join(errs...)
}

// Close releases listeners and storage. It is safe to call more than once.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.grpcServer != nil {
		s.grpcServer.Stop()
	}
	for _, listener := range []net.Listener{s.grpcListener, s.httpListener, s.opsListener} {
		if listener != nil {
			_ = listener.Close()
		}
	}
	if s.shard != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		if err := s.shard.Stop(ctx); err != nil && !errors.Is(err, engine.ErrStopped) {
			s.logger.Warn().Err(err).Msg("stop shard")
		}
		cancel()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			s.logger.Warn().Err(err).Msg("close storage")
		}
	}
	s.closers = nil
}

