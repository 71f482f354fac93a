// Package cart implements the cart.v1 gRPC service and the peer client used
// to forward commands to the node that owns a cart.
package cart

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	cartv1 "github.com/louisbranch/shopping-cart/api/cart/v1"
	apperrors "github.com/louisbranch/shopping-cart/internal/platform/errors"
	"github.com/louisbranch/shopping-cart/internal/platform/errors/i18n"
	"github.com/louisbranch/shopping-cart/internal/platform/grpc/pagination"
	"github.com/louisbranch/shopping-cart/internal/platform/requestctx"
	cartdomain "github.com/louisbranch/shopping-cart/internal/services/cart/domain/cart"
	"github.com/louisbranch/shopping-cart/internal/services/cart/domain/engine"
	"github.com/louisbranch/shopping-cart/internal/services/cart/locator"
	"github.com/louisbranch/shopping-cart/internal/services/cart/projection"
)

// topItemsLimits bounds GetTopItems; zero asks for the default.
var topItemsLimits = pagination.Limits{Default: 10, Max: 100}

// Service exposes cart.v1 gRPC operations.
type Service struct {
	cartv1.UnimplementedCartServiceServer
	locator    locator.Locator
	popularity projection.Reader
}

// NewService creates a cart service that routes commands through loc and
// answers popularity queries from popularity.
func NewService(loc locator.Locator, popularity projection.Reader) *Service {
	return &Service{
		locator:    loc,
		popularity: popularity,
	}
}

// AddItem adds units of a product to a cart.
func (s *Service) AddItem(ctx context.Context, in *cartv1.AddItemRequest) (*cartv1.Cart, error) {
	if in == nil {
		return nil, status.Error(codes.InvalidArgument, "add item request is required")
	}
	cartID, productID, err := itemTarget(ctx, in.CartID, in.ProductID)
	if err != nil {
		return nil, err
	}
	return s.handle(ctx, cartID, cartdomain.AddItem{ProductID: productID, Quantity: in.Quantity})
}

// RemoveItem removes units of a product from a cart.
func (s *Service) RemoveItem(ctx context.Context, in *cartv1.RemoveItemRequest) (*cartv1.Cart, error) {
	if in == nil {
		return nil, status.Error(codes.InvalidArgument, "remove item request is required")
	}
	cartID, productID, err := itemTarget(ctx, in.CartID, in.ProductID)
	if err != nil {
		return nil, err
	}
	return s.handle(ctx, cartID, cartdomain.RemoveItem{ProductID: productID, Quantity: in.Quantity})
}

// AdjustItemQuantity sets the quantity of a product already in a cart.
func (s *Service) AdjustItemQuantity(ctx context.Context, in *cartv1.AdjustItemQuantityRequest) (*cartv1.Cart, error) {
	if in == nil {
		return nil, status.Error(codes.InvalidArgument, "adjust item quantity request is required")
	}
	cartID, productID, err := itemTarget(ctx, in.CartID, in.ProductID)
	if err != nil {
		return nil, err
	}
	return s.handle(ctx, cartID, cartdomain.AdjustItemQuantity{ProductID: productID, Quantity: in.Quantity})
}

// Checkout closes a cart.
func (s *Service) Checkout(ctx context.Context, in *cartv1.CheckoutRequest) (*cartv1.Cart, error) {
	if in == nil {
		return nil, status.Error(codes.InvalidArgument, "checkout request is required")
	}
	cartID, err := requireCartID(ctx, in.CartID)
	if err != nil {
		return nil, err
	}
	return s.handle(ctx, cartID, cartdomain.Checkout{})
}

// GetCart returns the current cart summary. Unknown carts are empty.
func (s *Service) GetCart(ctx context.Context, in *cartv1.GetCartRequest) (*cartv1.Cart, error) {
	if in == nil {
		return nil, status.Error(codes.InvalidArgument, "get cart request is required")
	}
	cartID, err := requireCartID(ctx, in.CartID)
	if err != nil {
		return nil, err
	}
	return s.handle(ctx, cartID, cartdomain.Get{})
}

// GetItemPopularity returns how many distinct carts added a product.
func (s *Service) GetItemPopularity(ctx context.Context, in *cartv1.GetItemPopularityRequest) (*cartv1.ItemPopularity, error) {
	if in == nil {
		return nil, status.Error(codes.InvalidArgument, "get item popularity request is required")
	}
	if s == nil || s.popularity == nil {
		return nil, status.Error(codes.Internal, "popularity reader is not configured")
	}
	productID := strings.TrimSpace(in.ProductID)
	if productID == "" {
		return nil, StatusFromError(ctx, apperrors.New(apperrors.CodePopularityEmptyProductID, "product id is required"))
	}

	count, err := s.popularity.Popularity(ctx, productID)
	if err != nil {
		return nil, StatusFromError(ctx, err)
	}
	return &cartv1.ItemPopularity{ProductID: productID, Count: count}, nil
}

// GetTopItems returns the most popular products. A zero limit selects the
// default page.
func (s *Service) GetTopItems(ctx context.Context, in *cartv1.GetTopItemsRequest) (*cartv1.TopItemsResponse, error) {
	if in == nil {
		return nil, status.Error(codes.InvalidArgument, "get top items request is required")
	}
	if s == nil || s.popularity == nil {
		return nil, status.Error(codes.Internal, "popularity reader is not configured")
	}
	limit, err := topItemsLimits.Resolve(in.Limit)
	if err != nil {
		return nil, StatusFromError(ctx, apperrors.WithMetadata(apperrors.CodePopularityInvalidLimit,
			err.Error(), map[string]string{"Max": strconv.Itoa(topItemsLimits.Max)}))
	}

	items, err := s.popularity.TopItems(ctx, limit)
	if err != nil {
		return nil, StatusFromError(ctx, err)
	}
	resp := &cartv1.TopItemsResponse{Items: make([]cartv1.ItemPopularity, 0, len(items))}
	for _, item := range items {
		resp.Items = append(resp.Items, cartv1.ItemPopularity{ProductID: item.ProductID, Count: item.Count})
	}
	return resp, nil
}

func (s *Service) handle(ctx context.Context, cartID string, cmd cartdomain.Command) (*cartv1.Cart, error) {
	if s == nil || s.locator == nil {
		return nil, status.Error(codes.Internal, "cart locator is not configured")
	}
	handle, err := s.locator.Locate(ctx, cartID)
	if err != nil {
		return nil, StatusFromError(ctx, err)
	}
	summary, err := handle.Handle(ctx, cmd)
	if err != nil {
		return nil, StatusFromError(ctx, err)
	}
	return CartToProto(summary), nil
}

func requireCartID(ctx context.Context, raw string) (string, error) {
	cartID := strings.TrimSpace(raw)
	if cartID == "" {
		return "", StatusFromError(ctx, apperrors.New(apperrors.CodeCartEmptyID, "cart id is required"))
	}
	return cartID, nil
}

func itemTarget(ctx context.Context, rawCartID, rawProductID string) (string, string, error) {
	cartID, err := requireCartID(ctx, rawCartID)
	if err != nil {
		return "", "", err
	}
	productID := strings.TrimSpace(rawProductID)
	if productID == "" {
		return "", "", StatusFromError(ctx, apperrors.New(apperrors.CodeCartEmptyProductID, "product id is required"))
	}
	return cartID, productID, nil
}

// StatusFromError converts err to a gRPC status. Domain errors carry their
// code as ErrorInfo and a message localized for the caller.
func StatusFromError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var domainErr *apperrors.Error
	if errors.As(err, &domainErr) {
		if domainErr.Code.Retryable() && engine.IsNonRetryable(err) {
			domainErr = apperrors.Wrap(apperrors.CodeCartAmbiguous, domainErr.Error(), err)
		}
		catalog := i18n.GetCatalog(requestctx.LocaleFromContext(ctx))
		return domainErr.ToGRPCStatus(catalog.Locale(), catalog.Format(string(domainErr.Code), domainErr.Metadata))
	}
	switch {
	case errors.Is(err, projection.ErrProductIDRequired):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Errorf(codes.Internal, "cart: %v", err)
}

// CartToProto converts a domain summary to its wire form.
func CartToProto(summary cartdomain.Summary) *cartv1.Cart {
	items := make(map[string]int, len(summary.Items))
	for productID, quantity := range summary.Items {
		items[productID] = quantity
	}
	out := &cartv1.Cart{
		CartID:     summary.CartID,
		Items:      items,
		CheckedOut: summary.CheckedOut,
	}
	if !summary.CheckedOutAt.IsZero() {
		out.CheckedOutAt = summary.CheckedOutAt.UnixMilli()
	}
	return out
}

// CartFromProto converts a wire cart back to a domain summary.
func CartFromProto(in *cartv1.Cart) cartdomain.Summary {
	if in == nil {
		return cartdomain.Summary{Items: map[string]int{}}
	}
	items := make(map[string]int, len(in.Items))
	for productID, quantity := range in.Items {
		items[productID] = quantity
	}
	return cartdomain.Summary{
		CartID:       in.CartID,
		Items:        items,
		CheckedOut:   in.CheckedOut,
		CheckedOutAt: in.CheckedOutTime(),
	}
}
