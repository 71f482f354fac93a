// Package cmd holds the startup plumbing shared by the cart binaries.
package cmd

import (
	"context"
	"errors"
	"flag"
	"strings"
	"time"

	"github.com/louisbranch/shopping-cart/internal/platform/config"
	"github.com/louisbranch/shopping-cart/internal/platform/log"
	"github.com/louisbranch/shopping-cart/internal/platform/otel"
)

// Service names used for telemetry resources and log fields.
const (
	ServiceCart        = "cart"
	ServiceMaintenance = "maintenance"
)

// DotEnvPath is the dotenv file loaded before environment parsing.
const DotEnvPath = ".env"

const defaultTelemetryShutdown = 5 * time.Second

// ParseConfig fills cfg from the environment. Variables in DotEnvPath apply
// only where the process environment leaves them unset.
func ParseConfig[T any](cfg *T) error {
	if cfg == nil {
		return errors.New("config target is required")
	}
	if err := config.LoadDotEnv(DotEnvPath); err != nil {
		return err
	}
	return config.ParseEnv(cfg)
}

// ParseArgs parses command-line flags on top of env-derived defaults.
func ParseArgs(fs *flag.FlagSet, args []string) error {
	if fs == nil {
		return errors.New("flag set is required")
	}
	if args == nil {
		args = []string{}
	}
	return fs.Parse(args)
}

// ParseConfigFromArgs runs ParseConfig and then ParseArgs.
func ParseConfigFromArgs[T any](cfg *T, fs *flag.FlagSet, args []string) error {
	if err := ParseConfig(cfg); err != nil {
		return err
	}
	return ParseArgs(fs, args)
}

type runSettings struct {
	shutdownTimeout time.Duration
}

// RunOption adjusts RunWithTelemetry.
type RunOption func(*runSettings)

// WithShutdownTimeout bounds the trace flush after run returns.
func WithShutdownTimeout(d time.Duration) RunOption {
	return func(s *runSettings) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// RunWithTelemetry installs tracing for service, calls run, and flushes
// pending spans once run returns.
func RunWithTelemetry(ctx context.Context, service string, run func(context.Context) error, opts ...RunOption) error {
	service = strings.TrimSpace(service)
	if service == "" {
		return errors.New("service name is required")
	}
	if run == nil {
		return errors.New("run function is required")
	}
	settings := runSettings{shutdownTimeout: defaultTelemetryShutdown}
	for _, opt := range opts {
		opt(&settings)
	}

	shutdown, err := otel.Setup(ctx, service)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), settings.shutdownTimeout)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			logger := log.WithComponent("entrypoint")
			logger.Warn().Err(err).Str(log.FieldService, service).Msg("flush traces")
		}
	}()
	return run(ctx)
}
