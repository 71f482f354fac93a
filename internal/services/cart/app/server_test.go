package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	cartv1 "github.com/louisbranch/shopping-cart/api/cart/v1"
	"github.com/louisbranch/shopping-cart/internal/platform/discovery"
)

func memoryConfig() Config {
	return Config{
		GRPCAddr:               "127.0.0.1:0",
		HTTPAddr:               "127.0.0.1:0",
		OpsAddr:                "127.0.0.1:0",
		NodeID:                 "n1",
		JournalBackend:         BackendMemory,
		ReadModelBackend:       BackendMemory,
		TagCount:               2,
		ProjectionPollInterval: 10 * time.Millisecond,
	}
}

// startServer serves srv until the test ends and fails the test when Serve
// returns an error.
func startServer(t *testing.T, srv *Server) {
	t.Helper()
	runCtx, runCancel := context.WithCancel(context.Background())
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- srv.Serve(runCtx)
	}()
	t.Cleanup(func() {
		runCancel()
		select {
		case serveErr := <-serveDone:
			if serveErr != nil {
				t.Fatalf("serve: %v", serveErr)
			}
		case <-time.After(10 * time.Second):
			t.Fatal("timeout waiting for server shutdown")
		}
	})
}

func dial(t *testing.T, addr string) *grpc.ClientConn {
	t.Helper()
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestServerRoundTripOverGRPCAndHTTP(t *testing.T) {
	srv, err := New(context.Background(), memoryConfig())
	require.NoError(t, err)
	startServer(t, srv)

	conn := dial(t, srv.Addr())
	client := cartv1.NewCartServiceClient(conn)
	ctx := context.Background()

	got, err := client.AddItem(ctx, &cartv1.AddItemRequest{CartID: "c1", ProductID: "apple", Quantity: 2})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"apple": 2}, got.Items)

	_, err = client.Checkout(ctx, &cartv1.CheckoutRequest{CartID: "c1"})
	require.NoError(t, err)

	resp, err := http.Get("http://" + srv.HTTPAddr() + "/v1/carts/c1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cart cartv1.Cart
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cart))
	assert.True(t, cart.CheckedOut)
	assert.Equal(t, map[string]int{"apple": 2}, cart.Items)

	require.Eventually(t, func() bool {
		pop, err := client.GetItemPopularity(ctx, &cartv1.GetItemPopularityRequest{ProductID: "apple"})
		return err == nil && pop.Count == 1
	}, 5*time.Second, 20*time.Millisecond)
}

func TestServerReportsHealth(t *testing.T) {
	srv, err := New(context.Background(), memoryConfig())
	require.NoError(t, err)
	startServer(t, srv)

	healthClient := grpc_health_v1.NewHealthClient(dial(t, srv.Addr()))
	require.Eventually(t, func() bool {
		resp, err := healthClient.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: cartv1.ServiceName})
		return err == nil && resp.GetStatus() == grpc_health_v1.HealthCheckResponse_SERVING
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := healthClient.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: "cart.projection"})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.GetStatus())

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + srv.OpsAddr() + "/healthz")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	metricsResp, err := http.Get("http://" + srv.OpsAddr() + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	assert.Equal(t, http.StatusOK, metricsResp.StatusCode)
}

func TestServerWithSQLiteBackends(t *testing.T) {
	dir := t.TempDir()
	cfg := memoryConfig()
	cfg.JournalBackend = BackendSQLite
	cfg.JournalPath = dir + "/journal.db"
	cfg.ReadModelBackend = BackendSQLite
	cfg.ProjectionsPath = dir + "/projections.db"

	srv, err := New(context.Background(), cfg)
	require.NoError(t, err)
	startServer(t, srv)

	client := cartv1.NewCartServiceClient(dial(t, srv.Addr()))
	_, err = client.AddItem(context.Background(), &cartv1.AddItemRequest{CartID: "c1", ProductID: "pear", Quantity: 1})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		top, err := client.GetTopItems(context.Background(), &cartv1.GetTopItemsRequest{Limit: 5})
		return err == nil && len(top.Items) == 1 && top.Items[0].ProductID == "pear"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestServerWithRedisReadModel(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := memoryConfig()
	cfg.ReadModelBackend = BackendRedis
	cfg.RedisAddr = mr.Addr()

	srv, err := New(context.Background(), cfg)
	require.NoError(t, err)
	startServer(t, srv)

	client := cartv1.NewCartServiceClient(dial(t, srv.Addr()))
	for _, id := range []string{"c1", "c2"} {
		_, err := client.AddItem(context.Background(), &cartv1.AddItemRequest{CartID: id, ProductID: "fig", Quantity: 1})
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool {
		pop, err := client.GetItemPopularity(context.Background(), &cartv1.GetItemPopularityRequest{ProductID: "fig"})
		return err == nil && pop.Count == 2
	}, 5*time.Second, 20*time.Millisecond)
}

func TestNewRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		edit func(*Config)
		want string
	}{
		{
			name: "journal backend",
			edit: func(cfg *Config) { cfg.JournalBackend = "tape" },
			want: "unknown journal backend",
		},
		{
			name: "read model backend",
			edit: func(cfg *Config) { cfg.ReadModelBackend = "tape" },
			want: "unknown read model backend",
		},
		{
			name: "redis read model without address",
			edit: func(cfg *Config) { cfg.ReadModelBackend = BackendRedis },
			want: "requires a redis address",
		},
		{
			name: "cluster without redis",
			edit: func(cfg *Config) {
				cfg.Peers = []discovery.Peer{{ID: "n1", Addr: "127.0.0.1:1"}, {ID: "n2", Addr: "127.0.0.1:2"}}
			},
			want: "requires a redis address for leases",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := memoryConfig()
			tt.edit(&cfg)
			_, err := New(context.Background(), cfg)
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.want), "error %q does not mention %q", err, tt.want)
		})
	}
}

func TestServerClusterNodeServesOwnedCarts(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := memoryConfig()
	cfg.RedisAddr = mr.Addr()
	// A single-member ring owns every cart, so no call is forwarded.
	cfg.Peers = []discovery.Peer{{ID: "n1", Addr: "127.0.0.1:1"}}

	srv, err := New(context.Background(), cfg)
	require.NoError(t, err)
	startServer(t, srv)

	client := cartv1.NewCartServiceClient(dial(t, srv.Addr()))
	got, err := client.AddItem(context.Background(), &cartv1.AddItemRequest{CartID: "c9", ProductID: "kiwi", Quantity: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, got.Items["kiwi"])
	assert.NotEmpty(t, mr.Keys(), "lease should be recorded in redis")
}
