// Package cart parses cart node flags and launches the node.
package cart

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/louisbranch/shopping-cart/internal/platform/discovery"
	"github.com/louisbranch/shopping-cart/internal/platform/log"
	entrypoint "github.com/louisbranch/shopping-cart/internal/platform/cmd"
	server "github.com/louisbranch/shopping-cart/internal/services/cart/app"
)

// Config holds cart command configuration.
type Config struct {
	GRPCAddr string `env:"CART_GRPC_ADDR" envDefault:"localhost:8101"`
	HTTPAddr string `env:"CART_HTTP_ADDR" envDefault:"localhost:8102"`
	OpsAddr  string `env:"CART_OPS_ADDR" envDefault:"localhost:8103"`

	NodeID string `env:"CART_NODE_ID" envDefault:"node-1"`
	// Peers is a comma-separated id=host:port list, this node included.
	Peers string `env:"CART_PEERS"`

	JournalBackend   string `env:"CART_JOURNAL_BACKEND" envDefault:"sqlite"`
	JournalPath      string `env:"CART_JOURNAL_PATH" envDefault:"data/journal.db"`
	ReadModelBackend string `env:"CART_READ_MODEL_BACKEND" envDefault:"sqlite"`
	ProjectionsPath  string `env:"CART_PROJECTIONS_PATH" envDefault:"data/projections.db"`
	RedisAddr        string `env:"CART_REDIS_ADDR"`

	TagCount       int           `env:"CART_TAG_COUNT" envDefault:"4"`
	IdleTimeout    time.Duration `env:"CART_IDLE_TIMEOUT" envDefault:"2m"`
	SnapshotEvery  int           `env:"CART_SNAPSHOT_EVERY" envDefault:"100"`
	AppendTimeout  time.Duration `env:"CART_APPEND_TIMEOUT" envDefault:"5s"`
	RequestTimeout time.Duration `env:"CART_REQUEST_TIMEOUT" envDefault:"3s"`
	LeaseTTL       time.Duration `env:"CART_LEASE_TTL" envDefault:"15s"`

	ProjectionPollInterval     time.Duration `env:"CART_PROJECTION_POLL_INTERVAL" envDefault:"200ms"`
	ProjectionBatchSize        int           `env:"CART_PROJECTION_BATCH_SIZE" envDefault:"256"`
	ProjectionFailureThreshold int           `env:"CART_PROJECTION_FAILURE_THRESHOLD" envDefault:"5"`

	RateLimit float64 `env:"CART_RATE_LIMIT" envDefault:"0"`
	RateBurst int     `env:"CART_RATE_BURST" envDefault:"0"`

	LogLevel string `env:"CART_LOG_LEVEL" envDefault:"info"`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "The cart gRPC listen address")
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "The cart HTTP gateway listen address")
	fs.StringVar(&cfg.OpsAddr, "ops-addr", cfg.OpsAddr, "The metrics and health listen address")
	fs.StringVar(&cfg.NodeID, "node-id", cfg.NodeID, "This node's ring identity")
	fs.StringVar(&cfg.Peers, "peers", cfg.Peers, "Ring members as id=host:port,...")
	fs.StringVar(&cfg.JournalBackend, "journal-backend", cfg.JournalBackend, "Journal backend: sqlite, badger or memory")
	fs.StringVar(&cfg.JournalPath, "journal-path", cfg.JournalPath, "Journal file or directory")
	fs.StringVar(&cfg.ReadModelBackend, "read-model-backend", cfg.ReadModelBackend, "Read model backend: sqlite, redis or memory")
	fs.StringVar(&cfg.ProjectionsPath, "projections-path", cfg.ProjectionsPath, "Read model SQLite file")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address for leases and the redis read model")
	fs.IntVar(&cfg.TagCount, "tag-count", cfg.TagCount, "Number of projection tags")
	fs.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "Passivate carts idle this long")
	fs.IntVar(&cfg.SnapshotEvery, "snapshot-every", cfg.SnapshotEvery, "Events between cart snapshots (0 disables)")
	fs.Float64Var(&cfg.RateLimit, "rate-limit", cfg.RateLimit, "Requests per second (0 disables)")
	fs.IntVar(&cfg.RateBurst, "rate-burst", cfg.RateBurst, "Rate limit burst")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	if cfg.TagCount <= 0 {
		return Config{}, fmt.Errorf("tag count must be positive, got %d", cfg.TagCount)
	}
	return cfg, nil
}

// ServerConfig converts cfg into the node configuration.
func (cfg Config) ServerConfig() (server.Config, error) {
	peers, err := discovery.ParsePeers(cfg.Peers)
	if err != nil {
		return server.Config{}, fmt.Errorf("parse peers: %w", err)
	}
	return server.Config{
		GRPCAddr:                   cfg.GRPCAddr,
		HTTPAddr:                   cfg.HTTPAddr,
		OpsAddr:                    cfg.OpsAddr,
		NodeID:                     cfg.NodeID,
		Peers:                      peers,
		JournalBackend:             cfg.JournalBackend,
		JournalPath:                cfg.JournalPath,
		ReadModelBackend:           cfg.ReadModelBackend,
		ProjectionsPath:            cfg.ProjectionsPath,
		RedisAddr:                  cfg.RedisAddr,
		TagCount:                   cfg.TagCount,
		IdleTimeout:                cfg.IdleTimeout,
		SnapshotEvery:              cfg.SnapshotEvery,
		AppendTimeout:              cfg.AppendTimeout,
		RequestTimeout:             cfg.RequestTimeout,
		LeaseTTL:                   cfg.LeaseTTL,
		ProjectionPollInterval:     cfg.ProjectionPollInterval,
		ProjectionBatchSize:        cfg.ProjectionBatchSize,
		ProjectionFailureThreshold: cfg.ProjectionFailureThreshold,
		RateLimit:                  cfg.RateLimit,
		RateBurst:                  cfg.RateBurst,
	}, nil
}

// Run starts the cart node.
func Run(ctx context.Context, cfg Config) error {
	log.Configure(log.Config{Level: cfg.LogLevel, Service: entrypoint.ServiceCart})
	serverCfg, err := cfg.ServerConfig()
	if err != nil {
		return err
	}
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceCart, func(ctx context.Context) error {
		return server.Run(ctx, serverCfg)
	})
}
