package cartv1

import (
	"context"

	platformgrpc "github.com/louisbranch/shopping-cart/internal/platform/grpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ServiceName is the fully qualified cart service name.
const ServiceName = "cart.v1.CartService"

const (
	CartService_AddItem_FullMethodName            = "/cart.v1.CartService/AddItem"
	CartService_RemoveItem_FullMethodName         = "/cart.v1.CartService/RemoveItem"
	CartService_AdjustItemQuantity_FullMethodName = "/cart.v1.CartService/AdjustItemQuantity"
	CartService_Checkout_FullMethodName           = "/cart.v1.CartService/Checkout"
	CartService_GetCart_FullMethodName            = "/cart.v1.CartService/GetCart"
	CartService_GetItemPopularity_FullMethodName  = "/cart.v1.CartService/GetItemPopularity"
	CartService_GetTopItems_FullMethodName        = "/cart.v1.CartService/GetTopItems"
)

// CartServiceServer is the server API for cart.v1.CartService.
type CartServiceServer interface {
	AddItem(context.Context, *AddItemRequest) (*Cart, error)
	RemoveItem(context.Context, *RemoveItemRequest) (*Cart, error)
	AdjustItemQuantity(context.Context, *AdjustItemQuantityRequest) (*Cart, error)
	Checkout(context.Context, *CheckoutRequest) (*Cart, error)
	GetCart(context.Context, *GetCartRequest) (*Cart, error)
	GetItemPopularity(context.Context, *GetItemPopularityRequest) (*ItemPopularity, error)
	GetTopItems(context.Context, *GetTopItemsRequest) (*TopItemsResponse, error)
}

// UnimplementedCartServiceServer answers every method with codes.Unimplemented.
type UnimplementedCartServiceServer struct{}

func (UnimplementedCartServiceServer) AddItem(context.Context, *AddItemRequest) (*Cart, error) {
	return nil, status.Error(codes.Unimplemented, "method AddItem not implemented")
}
func (UnimplementedCartServiceServer) RemoveItem(context.Context, *RemoveItemRequest) (*Cart, error) {
	return nil, status.Error(codes.Unimplemented, "method RemoveItem not implemented")
}
func (UnimplementedCartServiceServer) AdjustItemQuantity(context.Context, *AdjustItemQuantityRequest) (*Cart, error) {
	return nil, status.Error(codes.Unimplemented, "method AdjustItemQuantity not implemented")
}
func (UnimplementedCartServiceServer) Checkout(context.Context, *CheckoutRequest) (*Cart, error) {
	return nil, status.Error(codes.Unimplemented, "method Checkout not implemented")
}
func (UnimplementedCartServiceServer) GetCart(context.Context, *GetCartRequest) (*Cart, error) {
	return nil, status.Error(codes.Unimplemented, "method GetCart not implemented")
}
func (UnimplementedCartServiceServer) GetItemPopularity(context.Context, *GetItemPopularityRequest) (*ItemPopularity, error) {
	return nil, status.Error(codes.Unimplemented, "method GetItemPopularity not implemented")
}
func (UnimplementedCartServiceServer) GetTopItems(context.Context, *GetTopItemsRequest) (*TopItemsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetTopItems not implemented")
}

// RegisterCartServiceServer registers srv on s.
func RegisterCartServiceServer(s grpc.ServiceRegistrar, srv CartServiceServer) {
	s.RegisterService(&CartService_ServiceDesc, srv)
}

func unaryHandler[Req, Resp any](fullMethod string, call func(CartServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(CartServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(CartServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// CartService_ServiceDesc describes cart.v1.CartService for grpc.Server.
var CartService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CartServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "AddItem",
			Handler:    unaryHandler(CartService_AddItem_FullMethodName, CartServiceServer.AddItem),
		},
		{
			MethodName: "RemoveItem",
			Handler:    unaryHandler(CartService_RemoveItem_FullMethodName, CartServiceServer.RemoveItem),
		},
		{
			MethodName: "AdjustItemQuantity",
			Handler:    unaryHandler(CartService_AdjustItemQuantity_FullMethodName, CartServiceServer.AdjustItemQuantity),
		},
		{
			MethodName: "Checkout",
			Handler:    unaryHandler(CartService_Checkout_FullMethodName, CartServiceServer.Checkout),
		},
		{
			MethodName: "GetCart",
			Handler:    unaryHandler(CartService_GetCart_FullMethodName, CartServiceServer.GetCart),
		},
		{
			MethodName: "GetItemPopularity",
			Handler:    unaryHandler(CartService_GetItemPopularity_FullMethodName, CartServiceServer.GetItemPopularity),
		},
		{
			MethodName: "GetTopItems",
			Handler:    unaryHandler(CartService_GetTopItems_FullMethodName, CartServiceServer.GetTopItems),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "api/cart/v1",
}

// CartServiceClient is the client API for cart.v1.CartService. Every call
// is sent with the cartpb content-subtype.
type CartServiceClient interface {
	AddItem(ctx context.Context, in *AddItemRequest, opts ...grpc.CallOption) (*Cart, error)
	RemoveItem(ctx context.Context, in *RemoveItemRequest, opts ...grpc.CallOption) (*Cart, error)
	AdjustItemQuantity(ctx context.Context, in *AdjustItemQuantityRequest, opts ...grpc.CallOption) (*Cart, error)
	Checkout(ctx context.Context, in *CheckoutRequest, opts ...grpc.CallOption) (*Cart, error)
	GetCart(ctx context.Context, in *GetCartRequest, opts ...grpc.CallOption) (*Cart, error)
	GetItemPopularity(ctx context.Context, in *GetItemPopularityRequest, opts ...grpc.CallOption) (*ItemPopularity, error)
	GetTopItems(ctx context.Context, in *GetTopItemsRequest, opts ...grpc.CallOption) (*TopItemsResponse, error)
}

type cartServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewCartServiceClient wraps cc.
func NewCartServiceClient(cc grpc.ClientConnInterface) CartServiceClient {
	return &cartServiceClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	callOpts := append([]grpc.CallOption{grpc.CallContentSubtype(platformgrpc.WireCodecName)}, opts...)
	if err := cc.Invoke(ctx, method, in, out, callOpts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *cartServiceClient) AddItem(ctx context.Context, in *AddItemRequest, opts ...grpc.CallOption) (*Cart, error) {
	return invoke[Cart](ctx, c.cc, CartService_AddItem_FullMethodName, in, opts)
}

func (c *cartServiceClient) RemoveItem(ctx context.Context, in *RemoveItemRequest, opts ...grpc.CallOption) (*Cart, error) {
	return invoke[Cart](ctx, c.cc, CartService_RemoveItem_FullMethodName, in, opts)
}

func (c *cartServiceClient) AdjustItemQuantity(ctx context.Context, in *AdjustItemQuantityRequest, opts ...grpc.CallOption) (*Cart, error) {
	return invoke[Cart](ctx, c.cc, CartService_AdjustItemQuantity_FullMethodName, in, opts)
}

func (c *cartServiceClient) Checkout(ctx context.Context, in *CheckoutRequest, opts ...grpc.CallOption) (*Cart, error) {
	return invoke[Cart](ctx, c.cc, CartService_Checkout_FullMethodName, in, opts)
}

func (c *cartServiceClient) GetCart(ctx context.Context, in *GetCartRequest, opts ...grpc.CallOption) (*Cart, error) {
	return invoke[Cart](ctx, c.cc, CartService_GetCart_FullMethodName, in, opts)
}

func (c *cartServiceClient) GetItemPopularity(ctx context.Context, in *GetItemPopularityRequest, opts ...grpc.CallOption) (*ItemPopularity, error) {
	return invoke[ItemPopularity](ctx, c.cc, CartService_GetItemPopularity_FullMethodName, in, opts)
}

func (c *cartServiceClient) GetTopItems(ctx context.Context, in *GetTopItemsRequest, opts ...grpc.CallOption) (*TopItemsResponse, error) {
	return invoke[TopItemsResponse](ctx, c.cc, CartService_GetTopItems_FullMethodName, in, opts)
}
