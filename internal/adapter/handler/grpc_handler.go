package handler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/carbon-exchange/internal/core/domain"
)

const (
	ServiceName = "carbon.exchange.v1.Exchange"

	callerMetadataKey      = "x-caller-id"
	idempotencyMetadataKey = "idempotency-key"
)

// jsonCodec carries messages as JSON so the service needs no generated stubs.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return "json" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type IDRequest struct {
	ID int64 `json:"id"`
}

type AccountRequest struct {
	ID string `json:"id"`
}

type ProjectRequest struct {
	ProjectID string `json:"project_id"`
}

type ListingsResponse struct {
	Listings []ListingView `json:"listings"`
}

type GRPCHandler struct {
	exchange *Exchange
}

func NewGRPCHandler(exchange *Exchange) *GRPCHandler {
	return &GRPCHandler{exchange: exchange}
}

// Register attaches the exchange service to s.
func (h *GRPCHandler) Register(s grpc.ServiceRegistrar) {
	s.RegisterService(&serviceDesc, h)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		unary("VerifyIssuer", mutation((*Exchange).VerifyIssuer)),
		unary("ReviewIssuer", mutation((*Exchange).ReviewIssuer)),
		unary("Mint", mutation((*Exchange).Mint)),
		unary("Transfer", mutation((*Exchange).Transfer)),
		unary("Retire", mutation((*Exchange).Retire)),
		unary("CreateListing", mutation((*Exchange).CreateListing)),
		unary("Buy", mutation((*Exchange).Buy)),
		unary("CancelListing", mutation((*Exchange).CancelListing)),
		unary("Deposit", mutation((*Exchange).Deposit)),
		unary("ActiveListings", func(x *Exchange, _ context.Context, _ Empty) (ListingsResponse, error) {
			return ListingsResponse{Listings: x.ActiveListings()}, nil
		}),
		unary("GetListing", func(x *Exchange, _ context.Context, req IDRequest) (ListingView, error) {
			return x.Listing(req.ID)
		}),
		unary("GetBatch", func(x *Exchange, _ context.Context, req IDRequest) (domain.CreditBatch, error) {
			return x.Batch(req.ID)
		}),
		unary("GetAccount", func(x *Exchange, _ context.Context, req AccountRequest) (domain.Account, error) {
			return x.Account(req.ID), nil
		}),
		unary("PaymentBalance", func(x *Exchange, ctx context.Context, req AccountRequest) (PaymentBalance, error) {
			return x.PaymentBalance(ctx, req.ID)
		}),
		unary("ProjectSupply", func(x *Exchange, _ context.Context, req ProjectRequest) (ProjectSupply, error) {
			return x.ProjectSupply(req.ProjectID), nil
		}),
		unary("Supply", func(x *Exchange, _ context.Context, _ Empty) (domain.Supply, error) {
			return x.Supply(), nil
		}),
		unary("Events", (*Exchange).EventFeed),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "carbon/exchange/v1/exchange.proto",
}

// unary adapts a typed call into a method handler. The caller identity from
// the incoming metadata is attached to the context before any interceptor
// runs.
func unary[Req, Resp any](name string, call func(x *Exchange, ctx context.Context, req Req) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			req := new(Req)
			if err := dec(req); err != nil {
				return nil, status.Errorf(codes.InvalidArgument, "decode %s request: %v", name, err)
			}
			ctx = withCaller(ctx, incoming(ctx, callerMetadataKey))
			x := srv.(*GRPCHandler).exchange

			handler := func(ctx context.Context, r any) (any, error) {
				resp, err := call(x, ctx, *r.(*Req))
				if err != nil {
					return nil, statusError(err)
				}
				return resp, nil
			}
			if interceptor == nil {
				return handler(ctx, req)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, req, info, handler)
		},
	}
}

func mutation[Req, Resp any](fn func(x *Exchange, ctx context.Context, caller, key string, req Req) (Resp, error)) func(*Exchange, context.Context, Req) (Resp, error) {
	return func(x *Exchange, ctx context.Context, req Req) (Resp, error) {
		caller := CallerFrom(ctx)
		if caller == "" {
			var zero Resp
			return zero, status.Error(codes.Unauthenticated, "missing "+callerMetadataKey+" metadata")
		}
		return fn(x, ctx, caller, incoming(ctx, idempotencyMetadataKey), req)
	}
}

func incoming(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}

func statusError(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	kind := domain.KindOf(err)
	code := grpcCode(kind)
	if code == codes.Internal {
		return status.Error(code, "internal error")
	}
	return status.Error(code, err.Error())
}

// UnaryInterceptor rate limits callers, counts requests and logs failures.
func UnaryInterceptor(rl *RateLimiter, obs RequestObserver, log logrus.FieldLogger) grpc.UnaryServerInterceptor {
	if obs == nil {
		obs = nopObserver{}
	}
	if log == nil {
		log = discardLogger()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		caller := CallerFrom(ctx)
		if caller != "" && !rl.Allow(caller) {
			obs.ObserveRequest("grpc", codes.ResourceExhausted.String())
			return nil, status.Error(codes.ResourceExhausted, "too many requests")
		}

		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		obs.ObserveRequest("grpc", code.String())

		entry := log.WithFields(logrus.Fields{
			"method":  info.FullMethod,
			"caller":  caller,
			"code":    code.String(),
			"elapsed": time.Since(start),
		})
		if code == codes.Internal || code == codes.Unknown {
			entry.WithError(err).Error("rpc failed")
		} else {
			entry.Debug("rpc served")
		}
		return resp, err
	}
}

// NewGRPCServer builds a server with the exchange service registered.
func NewGRPCServer(h *GRPCHandler, interceptors ...grpc.UnaryServerInterceptor) *grpc.Server {
	s := grpc.NewServer(
		grpc.ForceServerCodec(jsonCodec{}),
		grpc.ChainUnaryInterceptor(interceptors...),
	)
	h.Register(s)
	return s
}

// GRPCClient calls the exchange service over an existing connection.
type GRPCClient struct {
	conn   grpc.ClientConnInterface
	caller string
}

func NewGRPCClient(conn grpc.ClientConnInterface, caller string) *GRPCClient {
	return &GRPCClient{conn: conn, caller: caller}
}

// Invoke calls method with req and decodes the reply into resp. A non-empty
// key is sent as the idempotency key.
func (c *GRPCClient) Invoke(ctx context.Context, method, key string, req, resp any) error {
	pairs := []string{callerMetadataKey, c.caller}
	if key != "" {
		pairs = append(pairs, idempotencyMetadataKey, key)
	}
	ctx = metadata.AppendToOutgoingContext(ctx, pairs...)
	return c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, req, resp, grpc.ForceCodec(jsonCodec{}))
}
