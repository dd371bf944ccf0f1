package handler

import (
	"context"
	"encoding/json"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/SWLivingstone/margin-calculator/pricing/internal/logic"
	"github.com/SWLivingstone/margin-calculator/pricing/internal/store"
)

// MarginServiceServer is the margin.v1.MarginService contract. Requests and
// responses are google.protobuf.Struct values keyed like the JSON API.
type MarginServiceServer interface {
	Cm0(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Cm1(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Cm2(context.Context, *structpb.Struct) (*structpb.Struct, error)
	LowestPossiblePrice(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetProductMargins(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetFloorPrices(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type GRPCHandler struct {
	pricing *Pricing
}

// NewGRPCHandler constructs the margin gRPC handler.
func NewGRPCHandler(p *Pricing) *GRPCHandler {
	return &GRPCHandler{pricing: p}
}

func (h *GRPCHandler) Cm0(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var v logic.Cm0Values
	if err := decodeStruct(req, &v); err != nil {
		return nil, err
	}
	if err := validateNetRetail(v); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return marginResponse(logic.CM0(v))
}

func (h *GRPCHandler) Cm1(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var v logic.Cm1Values
	if err := decodeStruct(req, &v); err != nil {
		return nil, err
	}
	if err := validateNetRetail(v.Cm0Values); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return marginResponse(logic.CM1(v))
}

func (h *GRPCHandler) Cm2(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var v logic.Cm2Values
	if err := decodeStruct(req, &v); err != nil {
		return nil, err
	}
	if err := validateNetRetail(v.Cm0Values); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return marginResponse(logic.CM2(v))
}

func (h *GRPCHandler) LowestPossiblePrice(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in lowestPriceRequest
	if err := decodeStruct(req, &in); err != nil {
		return nil, err
	}
	if in.TargetMargin == nil {
		return nil, status.Error(codes.InvalidArgument, "target_margin is required")
	}

	level := logic.ParseMarginLevel(in.MarginLevel)
	price, err := h.pricing.lowestPrice(in.Values, *in.TargetMargin, level)
	if err != nil {
		return nil, solverStatus(err)
	}
	h.pricing.logger.Debug().Float64("price", price).Str("margin_level", level.String()).Msg("grpc lowest price solved")

	return encodeStruct(map[string]any{
		"price":         price,
		"target_margin": *in.TargetMargin,
		"margin_level":  level.String(),
	})
}

func (h *GRPCHandler) GetProductMargins(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sku := req.GetFields()["sku"].GetStringValue()
	if sku == "" {
		return nil, status.Error(codes.InvalidArgument, "sku is required")
	}

	product, err := h.pricing.products.GetProduct(ctx, sku)
	if errors.Is(err, store.ErrNotFound) {
		return nil, status.Errorf(codes.NotFound, "sku %s not found", sku)
	} else if err != nil {
		h.pricing.logger.Error().Err(err).Str("sku", sku).Msg("grpc product lookup failed")
		return nil, status.Errorf(codes.Internal, "failed to load product: %v", err)
	}

	breakdown := logic.Breakdown(product.Values)
	if err := validateMargins(breakdown.CM0, breakdown.CM1, breakdown.CM2); err != nil {
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	}

	price, _, err := h.pricing.floorPrice(ctx, product, product.TargetMargin, product.Level)
	if err != nil {
		return nil, solverStatus(err)
	}

	return encodeStruct(map[string]any{
		"sku":           product.Sku,
		"margins":       breakdown,
		"target_margin": product.TargetMargin,
		"margin_level":  product.Level.String(),
		"floor_price":   price,
	})
}

func (h *GRPCHandler) GetFloorPrices(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in struct {
		Skus []string `json:"skus"`
	}
	if err := decodeStruct(req, &in); err != nil {
		return nil, err
	}

	results, err := h.pricing.floorPrices(ctx, in.Skus)
	if err != nil {
		if !isInputError(err) {
			h.pricing.logger.Error().Err(err).Int("skus", len(in.Skus)).Msg("grpc batch product lookup failed")
		}
		return nil, solverStatus(err)
	}

	return encodeStruct(map[string]any{"prices": results})
}

func marginResponse(m logic.MarginCalculation) (*structpb.Struct, error) {
	if err := validateMargins(m); err != nil {
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	}
	return encodeStruct(m)
}

func solverStatus(err error) error {
	switch {
	case isInputError(err):
		return status.Error(codes.InvalidArgument, err.Error())
	case isSolverError(err):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Errorf(codes.Internal, "floor price failed: %v", err)
	}
}

func decodeStruct(in *structpb.Struct, out any) error {
	raw, err := protojson.Marshal(in)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	return nil
}

func encodeStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return out, nil
}

// RegisterMarginServiceServer registers srv on s.
func RegisterMarginServiceServer(s grpc.ServiceRegistrar, srv MarginServiceServer) {
	s.RegisterService(&marginServiceDesc, srv)
}

const marginServiceName = "margin.v1.MarginService"

var marginServiceDesc = grpc.ServiceDesc{
	ServiceName: marginServiceName,
	HandlerType: (*MarginServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Cm0", Handler: unaryHandler("Cm0", MarginServiceServer.Cm0)},
		{MethodName: "Cm1", Handler: unaryHandler("Cm1", MarginServiceServer.Cm1)},
		{MethodName: "Cm2", Handler: unaryHandler("Cm2", MarginServiceServer.Cm2)},
		{MethodName: "LowestPossiblePrice", Handler: unaryHandler("LowestPossiblePrice", MarginServiceServer.LowestPossiblePrice)},
		{MethodName: "GetProductMargins", Handler: unaryHandler("GetProductMargins", MarginServiceServer.GetProductMargins)},
		{MethodName: "GetFloorPrices", Handler: unaryHandler("GetFloorPrices", MarginServiceServer.GetFloorPrices)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "margin/v1/margin.proto",
}

type unaryMethod func(MarginServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(name string, method unaryMethod) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	fullMethod := "/" + marginServiceName + "/" + name

	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return method(srv.(MarginServiceServer), ctx, in)
		}

		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return method(srv.(MarginServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}
