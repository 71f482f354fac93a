package interceptors

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	cartv1 "github.com/louisbranch/shopping-cart/api/cart/v1"
	"github.com/louisbranch/shopping-cart/internal/platform/log"
	"github.com/louisbranch/shopping-cart/internal/services/cart/locator"
)

var info = &grpc.UnaryServerInfo{FullMethod: cartv1.CartService_AddItem_FullMethodName}

func okHandler(context.Context, any) (any, error) { return "ok", nil }

func TestAccessLogWritesCartAndRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)

	ctx := log.ContextWithRequestID(context.Background(), "req-1")
	req := &cartv1.AddItemRequest{CartID: "cart-1", ProductID: "sku-1", Quantity: 1}
	if _, err := AccessLog(logger)(ctx, req, info, okHandler); err != nil {
		t.Fatalf("access log: %v", err)
	}

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if line[log.FieldCartID] != "cart-1" {
		t.Fatalf("cart_id = %v", line[log.FieldCartID])
	}
	if line[log.FieldRequestID] != "req-1" {
		t.Fatalf("request_id = %v", line[log.FieldRequestID])
	}
	if line[log.FieldCode] != codes.OK.String() {
		t.Fatalf("code = %v", line[log.FieldCode])
	}
	if line["level"] != "debug" {
		t.Fatalf("level = %v, want debug", line["level"])
	}
}

func TestAccessLogWritesTraceID(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)

	traceID := trace.TraceID{0x0a, 0x0b, 0x0c, 0x0d, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  trace.SpanID{1, 2, 3, 4, 5, 6, 7, 8},
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	if _, err := AccessLog(logger)(ctx, nil, info, okHandler); err != nil {
		t.Fatalf("access log: %v", err)
	}

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line[log.FieldTraceID] != traceID.String() {
		t.Fatalf("trace_id = %v, want %s", line[log.FieldTraceID], traceID)
	}
}

func TestAccessLogWarnsOnServerFault(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)

	failing := func(context.Context, any) (any, error) {
		return nil, status.Error(codes.Unavailable, "down")
	}
	if _, err := AccessLog(logger)(context.Background(), nil, info, failing); status.Code(err) != codes.Unavailable {
		t.Fatalf("expected handler error to pass through, got %v", err)
	}

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["level"] != "warn" {
		t.Fatalf("level = %v, want warn", line["level"])
	}
}

func TestRateLimit(t *testing.T) {
	interceptor := RateLimit(rate.NewLimiter(rate.Every(time.Hour), 1))

	if _, err := interceptor(context.Background(), nil, info, okHandler); err != nil {
		t.Fatalf("first call: %v", err)
	}
	_, err := interceptor(context.Background(), nil, info, okHandler)
	if status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("second call code = %v, want ResourceExhausted", status.Code(err))
	}
	if _, err := interceptor(locator.WithForwarded(context.Background()), nil, info, okHandler); err != nil {
		t.Fatalf("forwarded call should bypass the limiter: %v", err)
	}
}

func TestRateLimitNilLimiter(t *testing.T) {
	if _, err := RateLimit(nil)(context.Background(), nil, info, okHandler); err != nil {
		t.Fatalf("nil limiter: %v", err)
	}
}

func TestTimeout(t *testing.T) {
	var deadline time.Time
	var ok bool
	handler := func(ctx context.Context, req any) (any, error) {
		deadline, ok = ctx.Deadline()
		return nil, nil
	}

	if _, err := Timeout(time.Second)(context.Background(), nil, info, handler); err != nil {
		t.Fatalf("timeout: %v", err)
	}
	if !ok || time.Until(deadline) > time.Second {
		t.Fatalf("expected a deadline within one second, got %v (set=%v)", deadline, ok)
	}

	if _, err := Timeout(0)(context.Background(), nil, info, handler); err != nil {
		t.Fatalf("timeout: %v", err)
	}
	if ok {
		t.Fatal("expected no deadline when disabled")
	}
}
