// Package interceptors holds the unary interceptors of the cart gRPC server.
package interceptors

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/louisbranch/shopping-cart/internal/platform/log"
	"github.com/louisbranch/shopping-cart/internal/services/cart/locator"
)

type cartIDGetter interface {
	GetCartId() string
}

// AccessLog logs one line per unary call. Server errors log at warn, the
// rest at debug.
func AccessLog(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		code := status.Code(err)
		reqLogger := log.FromContext(ctx, logger)
		event := reqLogger.Debug()
		if isServerFault(code) {
			event = reqLogger.Warn().Err(err)
		}
		if getter, ok := req.(cartIDGetter); ok {
			if cartID := strings.TrimSpace(getter.GetCartId()); cartID != "" {
				event = event.Str(log.FieldCartID, cartID)
			}
		}
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			event = event.Str(log.FieldTraceID, sc.TraceID().String())
		}
		event.Str(log.FieldMethod, info.FullMethod).
			Str(log.FieldCode, code.String()).
			Dur(log.FieldDuration, time.Since(start)).
			Bool("forwarded", locator.IsForwarded(ctx)).
			Msg("grpc call")
		return resp, err
	}
}

func isServerFault(code codes.Code) bool {
	switch code {
	case codes.Internal, codes.Unknown, codes.Unavailable, codes.DataLoss, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}

// RateLimit rejects calls with ResourceExhausted once limiter runs dry.
// Forwarded calls already passed the limiter on the node that received them.
func RateLimit(limiter *rate.Limiter) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if limiter != nil && !locator.IsForwarded(ctx) && !limiter.Allow() {
			return nil, status.Errorf(codes.ResourceExhausted, "rate limit exceeded for %s", info.FullMethod)
		}
		return handler(ctx, req)
	}
}

// Timeout bounds every call by d. A non-positive d disables the bound.
func Timeout(d time.Duration) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if d <= 0 {
			return handler(ctx, req)
		}
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return handler(ctx, req)
	}
}
