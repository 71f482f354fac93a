// Package gateway serves the cart RPC surface as JSON over HTTP.
package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	cartv1 "github.com/louisbranch/shopping-cart/api/cart/v1"
	apperrors "github.com/louisbranch/shopping-cart/internal/platform/errors"
	"github.com/louisbranch/shopping-cart/internal/platform/id"
	"github.com/louisbranch/shopping-cart/internal/platform/log"
	"github.com/louisbranch/shopping-cart/internal/platform/requestctx"
	grpcmeta "github.com/louisbranch/shopping-cart/internal/services/cart/api/grpc/metadata"
)

const maxBodyBytes = 1 << 16

// Options configures the gateway router.
type Options struct {
	// RequestLimit requests per Window are allowed from one client IP.
	// Zero disables the limit.
	RequestLimit int
	Window       time.Duration
	// Timeout bounds each request. Zero disables the bound.
	Timeout time.Duration
	Logger  *zerolog.Logger
}

// ErrorResponse is the body of every non-2xx gateway reply.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`

	// Retryable is set only when resending the same request is safe.
	Retryable bool `json:"retryable,omitempty"`
}

type itemBody struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type gateway struct {
	svc    cartv1.CartServiceServer
	logger zerolog.Logger
}

// NewRouter returns the HTTP routes for svc.
func NewRouter(svc cartv1.CartServiceServer, opts Options) (http.Handler, error) {
	if svc == nil {
		return nil, errors.New("cart service is required")
	}
	logger := log.WithComponent("gateway")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	g := &gateway{svc: svc, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestContext)
	r.Use(g.accessLog)
	if opts.RequestLimit > 0 {
		window := opts.Window
		if window <= 0 {
			window = time.Second
		}
		r.Use(httprate.Limit(opts.RequestLimit, window,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds()+0.5)))
				writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
					Code:      codes.ResourceExhausted.String(),
					Message:   "too many requests",
					Retryable: true,
				})
			}),
		))
	}
	if opts.Timeout > 0 {
		r.Use(middleware.Timeout(opts.Timeout))
	}

	r.Route("/v1/carts/{cartID}", func(r chi.Router) {
		r.Get("/", g.getCart)
		r.Post("/items", g.addItem)
		r.Put("/items/{productID}", g.adjustItem)
		r.Delete("/items/{productID}", g.removeItem)
		r.Post("/checkout", g.checkout)
	})
	r.Get("/v1/popularity", g.topItems)
	r.Get("/v1/popularity/{productID}", g.popularity)
	return r, nil
}

// requestContext moves the request id and locale headers into the context.
func requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(grpcmeta.RequestIDHeader))
		if !grpcmeta.IsPrintableASCII(requestID) {
			generated, err := id.NewID()
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, ErrorResponse{Code: codes.Internal.String(), Message: "request id"})
				return
			}
			requestID = generated
		}
		w.Header().Set(grpcmeta.RequestIDHeader, requestID)
		ctx := log.ContextWithRequestID(r.Context(), requestID)
		if locale := r.Header.Get("Accept-Language"); locale != "" {
			ctx = requestctx.WithLocale(ctx, locale)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (g *gateway) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger := log.FromContext(r.Context(), g.logger)
		event := logger.Debug()
		if ww.Status() >= http.StatusInternalServerError {
			event = logger.Warn()
		}
		event.Str(log.FieldMethod, r.Method+" "+r.URL.Path).
			Int("status", ww.Status()).
			Dur(log.FieldDuration, time.Since(start)).
			Msg("http request")
	})
}

func (g *gateway) getCart(w http.ResponseWriter, r *http.Request) {
	resp, err := g.svc.GetCart(r.Context(), &cartv1.GetCartRequest{CartID: chi.URLParam(r, "cartID")})
	reply(w, resp, err)
}

func (g *gateway) addItem(w http.ResponseWriter, r *http.Request) {
	var body itemBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	resp, err := g.svc.AddItem(r.Context(), &cartv1.AddItemRequest{
		CartID:    chi.URLParam(r, "cartID"),
		ProductID: body.ProductID,
		Quantity:  body.Quantity,
	})
	reply(w, resp, err)
}

func (g *gateway) adjustItem(w http.ResponseWriter, r *http.Request) {
	var body itemBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	resp, err := g.svc.AdjustItemQuantity(r.Context(), &cartv1.AdjustItemQuantityRequest{
		CartID:    chi.URLParam(r, "cartID"),
		ProductID: chi.URLParam(r, "productID"),
		Quantity:  body.Quantity,
	})
	reply(w, resp, err)
}

// removeItem takes the quantity from the query string, since DELETE bodies
// are dropped by some proxies.
func (g *gateway) removeItem(w http.ResponseWriter, r *http.Request) {
	quantity, err := intQuery(r, "quantity")
	if err != nil {
		writeError(w, err)
		return
	}
	resp, err := g.svc.RemoveItem(r.Context(), &cartv1.RemoveItemRequest{
		CartID:    chi.URLParam(r, "cartID"),
		ProductID: chi.URLParam(r, "productID"),
		Quantity:  quantity,
	})
	reply(w, resp, err)
}

func (g *gateway) checkout(w http.ResponseWriter, r *http.Request) {
	resp, err := g.svc.Checkout(r.Context(), &cartv1.CheckoutRequest{CartID: chi.URLParam(r, "cartID")})
	reply(w, resp, err)
}

func (g *gateway) popularity(w http.ResponseWriter, r *http.Request) {
	resp, err := g.svc.GetItemPopularity(r.Context(), &cartv1.GetItemPopularityRequest{ProductID: chi.URLParam(r, "productID")})
	reply(w, resp, err)
}

func (g *gateway) topItems(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	resp, err := g.svc.GetTopItems(r.Context(), &cartv1.GetTopItemsRequest{Limit: limit})
	reply(w, resp, err)
}

func decodeBody(r *http.Request, target any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return status.Errorf(codes.InvalidArgument, "decode request body: %v", err)
	}
	return nil
}

func intQuery(r *http.Request, key string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, status.Errorf(codes.InvalidArgument, "%s must be an integer", key)
	}
	return n, nil
}

func reply[T any](w http.ResponseWriter, resp *T, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeError renders err as {code, message}. The code is the domain reason
// when the status carries one; the message prefers the localized text.
func writeError(w http.ResponseWriter, err error) {
	st := status.Convert(err)
	resp := ErrorResponse{Code: st.Code().String(), Message: st.Message()}
	if reason := apperrors.ReasonFromStatus(st); reason != apperrors.CodeUnknown {
		resp.Code = string(reason)
		resp.Retryable = reason.Retryable()
	}
	for _, detail := range st.Details() {
		if localized, ok := detail.(*errdetails.LocalizedMessage); ok && localized.GetMessage() != "" {
			resp.Message = localized.GetMessage()
		}
	}
	if delay, ok := apperrors.RetryDelayFromStatus(st); ok && resp.Retryable {
		w.Header().Set("Retry-After", strconv.Itoa(int(max(delay.Round(time.Second), time.Second)/time.Second)))
	}
	writeJSON(w, HTTPStatus(st.Code()), resp)
}

// HTTPStatus maps a gRPC code to the HTTP status the gateway replies with.
func HTTPStatus(code codes.Code) int {
	switch code {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.FailedPrecondition, codes.Aborted, codes.AlreadyExists:
		return http.StatusConflict
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.Canceled:
		return 499
	case codes.Unimplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
