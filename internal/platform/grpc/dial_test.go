package grpc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gogrpc "google.golang.org/grpc"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

func TestDialPeerReturnsServingConnection(t *testing.T) {
	srv := startHealthServer(t, grpc_health_v1.HealthCheckResponse_SERVING)

	conn, err := DialPeer(context.Background(), srv.addr, DialConfig{
		Timeout:       2 * time.Second,
		HealthService: testService,
		Logger:        zerolog.Nop(),
		Options:       DefaultClientDialOptions(),
	})
	require.NoError(t, err)
	require.NoError(t, conn.Close())
}

func TestDialPeerFailsHealthPhaseWithinTimeout(t *testing.T) {
	srv := startHealthServer(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	start := time.Now()
	conn, err := DialPeer(context.Background(), srv.addr, DialConfig{
		Timeout:       200 * time.Millisecond,
		HealthService: testService,
		Options:       DefaultClientDialOptions(),
	})
	require.Error(t, err)
	assert.Nil(t, conn)
	assert.Less(t, time.Since(start), 2*time.Second)

	var dialErr *DialError
	require.ErrorAs(t, err, &dialErr)
	assert.Equal(t, DialPhaseHealth, dialErr.Phase)
	assert.Equal(t, srv.addr, dialErr.Addr)
}

func TestDialPeerUnknownHealthServiceFails(t *testing.T) {
	srv := startHealthServer(t, grpc_health_v1.HealthCheckResponse_SERVING)

	_, err := DialPeer(context.Background(), srv.addr, DialConfig{
		Timeout:       200 * time.Millisecond,
		HealthService: "cart.v1.Missing",
		Options:       DefaultClientDialOptions(),
	})
	var dialErr *DialError
	require.ErrorAs(t, err, &dialErr)
	assert.Equal(t, DialPhaseHealth, dialErr.Phase)
}

func TestDialPeerConnectPhase(t *testing.T) {
	boom := errors.New("no route")
	dialer := DialerFunc(func(context.Context, string, ...gogrpc.DialOption) (*gogrpc.ClientConn, error) {
		return nil, boom
	})

	_, err := DialPeer(context.Background(), "n2:8101", DialConfig{Dialer: dialer})
	var dialErr *DialError
	require.ErrorAs(t, err, &dialErr)
	assert.Equal(t, DialPhaseConnect, dialErr.Phase)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "n2:8101")
}

func TestDialErrorNilSafe(t *testing.T) {
	var err *DialError
	assert.NotEmpty(t, err.Error())
	assert.Nil(t, err.Unwrap())
}
