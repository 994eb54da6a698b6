package server

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// InspectServer is the gRPC side of InspectService. Messages are
// protobuf well-known types, so no generated code is needed.
type InspectServer interface {
	Stats(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Describe(context.Context, *wrapperspb.Int64Value) (*structpb.Struct, error)
	DescribeRoot(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	ListRoots(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
}

// RegisterInspectService registers svc on a gRPC server.
func RegisterInspectService(gs grpc.ServiceRegistrar, svc *InspectService) {
	gs.RegisterService(&inspectServiceDesc, grpcInspect{svc})
}

// grpcInspect adapts InspectService to InspectServer.
type grpcInspect struct {
	svc *InspectService
}

func (g grpcInspect) Stats(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	out, err := g.svc.stats()
	return out, grpcError(err)
}

func (g grpcInspect) Describe(ctx context.Context, in *wrapperspb.Int64Value) (*structpb.Struct, error) {
	out, err := g.svc.describe(in.GetValue())
	return out, grpcError(err)
}

func (g grpcInspect) DescribeRoot(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	if in.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "root name is required")
	}
	out, err := g.svc.describeRoot(in.GetValue())
	return out, grpcError(err)
}

func (g grpcInspect) ListRoots(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	return g.svc.listRoots(), nil
}

func grpcError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNoSuchHandle), errors.Is(err, ErrNoSuchRoot):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ErrWorkerStopped):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// ---------------------------------------------------------------------------
// Service descriptor
// ---------------------------------------------------------------------------

// unary builds a grpc.MethodDesc handler for one InspectServer method.
func unary[Req any](fullMethod string, call func(InspectServer, context.Context, *Req) (any, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(InspectServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(InspectServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var inspectServiceDesc = grpc.ServiceDesc{
	ServiceName: InspectServiceName,
	HandlerType: (*InspectServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Stats",
			Handler: unary(StatsProcedure, func(s InspectServer, ctx context.Context, in *emptypb.Empty) (any, error) {
				return s.Stats(ctx, in)
			}),
		},
		{
			MethodName: "Describe",
			Handler: unary(DescribeProcedure, func(s InspectServer, ctx context.Context, in *wrapperspb.Int64Value) (any, error) {
				return s.Describe(ctx, in)
			}),
		},
		{
			MethodName: "DescribeRoot",
			Handler: unary(DescribeRootProcedure, func(s InspectServer, ctx context.Context, in *wrapperspb.StringValue) (any, error) {
				return s.DescribeRoot(ctx, in)
			}),
		},
		{
			MethodName: "ListRoots",
			Handler: unary(ListRootsProcedure, func(s InspectServer, ctx context.Context, in *emptypb.Empty) (any, error) {
				return s.ListRoots(ctx, in)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pagevm/v1/inspect.proto",
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// InspectClient calls InspectService over a gRPC connection.
type InspectClient struct {
	cc grpc.ClientConnInterface
}

// NewInspectClient creates an InspectClient on cc.
func NewInspectClient(cc grpc.ClientConnInterface) *InspectClient {
	return &InspectClient{cc: cc}
}

func (c *InspectClient) Stats(ctx context.Context) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, StatsProcedure, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *InspectClient) Describe(ctx context.Context, handle int64) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, DescribeProcedure, wrapperspb.Int64(handle), out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *InspectClient) DescribeRoot(ctx context.Context, name string) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, DescribeRootProcedure, wrapperspb.String(name), out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *InspectClient) ListRoots(ctx context.Context) ([]string, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, ListRootsProcedure, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	names := make([]string, len(out.GetValues()))
	for i, v := range out.GetValues() {
		names[i] = v.GetStringValue()
	}
	return names, nil
}
