package grpc

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Dialer opens a client connection to addr.
type Dialer interface {
	Dial(ctx context.Context, addr string, opts ...gogrpc.DialOption) (*gogrpc.ClientConn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, addr string, opts ...gogrpc.DialOption) (*gogrpc.ClientConn, error)

// Dial implements Dialer.
func (fn DialerFunc) Dial(ctx context.Context, addr string, opts ...gogrpc.DialOption) (*gogrpc.ClientConn, error) {
	return fn(ctx, addr, opts...)
}

// newClient creates a lazily connected client and starts connecting at once.
func newClient(_ context.Context, addr string, opts ...gogrpc.DialOption) (*gogrpc.ClientConn, error) {
	conn, err := gogrpc.NewClient(addr, opts...)
	if err != nil {
		return nil, err
	}
	conn.Connect()
	return conn, nil
}

// DialPhase names the step of DialPeer that failed.
type DialPhase string

const (
	DialPhaseConnect DialPhase = "connect"
	DialPhaseHealth  DialPhase = "health"
)

// DialError reports a peer that could not be reached. Callers treat it as
// the peer being unavailable.
type DialError struct {
	Addr  string
	Phase DialPhase
	Err   error
}

func (e *DialError) Error() string {
	if e == nil {
		return "dial peer"
	}
	return fmt.Sprintf("dial %s (%s): %v", e.Addr, e.Phase, e.Err)
}

func (e *DialError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// DefaultClientDialOptions returns the options peer clients dial with:
// plaintext transport and client-side tracing.
func DefaultClientDialOptions() []gogrpc.DialOption {
	return []gogrpc.DialOption{
		gogrpc.WithTransportCredentials(insecure.NewCredentials()),
		gogrpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}
}

// DialConfig controls DialPeer.
type DialConfig struct {
	// Dialer defaults to grpc.NewClient.
	Dialer Dialer
	// Timeout bounds connecting and the health wait together.
	Timeout time.Duration
	// HealthService must report SERVING before the connection is returned.
	// Empty checks the server as a whole.
	HealthService string
	Logger        zerolog.Logger
	Options       []gogrpc.DialOption
}

// DialPeer connects to addr and waits until its health service serves. The
// connection is closed on any failure.
func DialPeer(ctx context.Context, addr string, cfg DialConfig) (*gogrpc.ClientConn, error) {
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = DialerFunc(newClient)
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	conn, err := dialer.Dial(ctx, addr, cfg.Options...)
	if err != nil {
		return nil, &DialError{Addr: addr, Phase: DialPhaseConnect, Err: err}
	}
	logger := cfg.Logger.With().Str("addr", addr).Logger()
	if err := WaitServing(ctx, conn, cfg.HealthService, logger); err != nil {
		_ = conn.Close()
		return nil, &DialError{Addr: addr, Phase: DialPhaseHealth, Err: err}
	}
	return conn, nil
}
