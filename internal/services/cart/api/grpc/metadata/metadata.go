// Package metadata defines the headers that carry request context across
// cart gRPC boundaries: correlation ids, caller locale and the marker that a
// command was already forwarded by a peer.
package metadata

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/louisbranch/shopping-cart/internal/platform/id"
	"github.com/louisbranch/shopping-cart/internal/platform/log"
	"github.com/louisbranch/shopping-cart/internal/platform/requestctx"
	"github.com/louisbranch/shopping-cart/internal/services/cart/locator"
)

// RequestIDHeader is the gRPC metadata key for request correlation IDs.
const RequestIDHeader = "x-request-id"

// LocaleHeader carries the caller's preferred locale, in Accept-Language form.
const LocaleHeader = "accept-language"

// ForwardedHeader is set by the node that forwarded a command; its value is
// the forwarding node id.
const ForwardedHeader = "x-cart-forwarded"

// RequestIDFromContext returns the request ID stored in context.
func RequestIDFromContext(ctx context.Context) string {
	return log.RequestIDFromContext(ctx)
}

// WithRequestID stores the request ID in context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return log.ContextWithRequestID(ctx, requestID)
}

// IsPrintableASCII reports whether a string contains only printable ASCII characters.
func IsPrintableASCII(value string) bool {
	if value == "" {
		return false
	}
	for i := 0; i < len(value); i++ {
		if value[i] < 0x20 || value[i] > 0x7e {
			return false
		}
	}
	return true
}

// FirstMetadataValue returns the first printable ASCII metadata value for a key.
func FirstMetadataValue(md metadata.MD, key string) string {
	if len(md) == 0 {
		return ""
	}
	for mdKey, values := range md {
		if !strings.EqualFold(mdKey, key) {
			continue
		}
		for _, value := range values {
			if IsPrintableASCII(value) {
				return value
			}
		}
	}
	return ""
}

// UnaryServerInterceptor moves request metadata into the handler context.
// Calls without a request id get a generated one, echoed in the response
// headers.
func UnaryServerInterceptor(idGenerator func() (string, error)) grpc.UnaryServerInterceptor {
	if idGenerator == nil {
		idGenerator = id.NewID
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)

		requestID := FirstMetadataValue(md, RequestIDHeader)
		if requestID == "" {
			generated, err := idGenerator()
			if err != nil {
				return nil, status.Errorf(codes.Internal, "ensure request metadata: %v", err)
			}
			requestID = generated
		}
		ctx = WithRequestID(ctx, requestID)
		if locale := FirstMetadataValue(md, LocaleHeader); locale != "" {
			ctx = requestctx.WithLocale(ctx, locale)
		}
		if FirstMetadataValue(md, ForwardedHeader) != "" {
			ctx = locator.WithForwarded(ctx)
		}

		if err := grpc.SetHeader(ctx, metadata.Pairs(RequestIDHeader, requestID)); err != nil {
			return nil, status.Errorf(codes.Internal, "set response metadata: %v", err)
		}
		return handler(ctx, req)
	}
}

// OutgoingContext copies the request id and locale of ctx into outgoing
// metadata and marks the call as forwarded by node.
func OutgoingContext(ctx context.Context, node string) context.Context {
	pairs := []string{ForwardedHeader, node}
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		pairs = append(pairs, RequestIDHeader, requestID)
	}
	if locale := requestctx.LocaleFromContext(ctx); locale != "" {
		pairs = append(pairs, LocaleHeader, locale)
	}
	return metadata.AppendToOutgoingContext(ctx, pairs...)
}
