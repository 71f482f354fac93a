package grpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	gogrpc "google.golang.org/grpc"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	healthProbeTimeout  = time.Second
	healthRetryInitial  = 100 * time.Millisecond
	healthRetryInterval = time.Second
)

// errNotServing is returned by a probe that reached the server but got a
// status other than SERVING.
var errNotServing = errors.New("not serving")

// WaitServing polls the health service of conn with exponential backoff until
// it reports SERVING or ctx ends.
func WaitServing(ctx context.Context, conn *gogrpc.ClientConn, service string, logger zerolog.Logger) error {
	if conn == nil {
		return errors.New("gRPC connection is required")
	}
	client := grpc_health_v1.NewHealthClient(conn)
	probe := func() (grpc_health_v1.HealthCheckResponse_ServingStatus, error) {
		probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
		defer cancel()
		resp, err := client.Check(probeCtx, &grpc_health_v1.HealthCheckRequest{Service: service})
		if err != nil {
			return grpc_health_v1.HealthCheckResponse_UNKNOWN, err
		}
		if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
			return resp.GetStatus(), fmt.Errorf("%w: %s", errNotServing, resp.GetStatus())
		}
		return resp.GetStatus(), nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = healthRetryInitial
	policy.MaxInterval = healthRetryInterval

	attempts := 0
	_, err := backoff.Retry(ctx, probe,
		backoff.WithBackOff(policy),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			attempts++
			logger.Debug().Err(err).Int("attempt", attempts).Dur("retry_in", next).
				Str("health_service", service).Msg("peer not serving yet")
		}),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("wait for %q to serve: %w", service, errors.Join(ctxErr, err))
		}
		return fmt.Errorf("wait for %q to serve: %w", service, err)
	}
	return nil
}
