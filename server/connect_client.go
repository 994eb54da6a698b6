package server

import (
	"context"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ConnectClient calls InspectService over Connect (HTTP).
type ConnectClient struct {
	stats        *connect.Client[emptypb.Empty, structpb.Struct]
	describe     *connect.Client[wrapperspb.Int64Value, structpb.Struct]
	describeRoot *connect.Client[wrapperspb.StringValue, structpb.Struct]
	listRoots    *connect.Client[emptypb.Empty, structpb.ListValue]
}

// NewConnectClient creates a client for the server at baseURL, e.g.
// "http://localhost:7420".
func NewConnectClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *ConnectClient {
	baseURL = strings.TrimRight(baseURL, "/")
	return &ConnectClient{
		stats:        connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+StatsProcedure, opts...),
		describe:     connect.NewClient[wrapperspb.Int64Value, structpb.Struct](httpClient, baseURL+DescribeProcedure, opts...),
		describeRoot: connect.NewClient[wrapperspb.StringValue, structpb.Struct](httpClient, baseURL+DescribeRootProcedure, opts...),
		listRoots:    connect.NewClient[emptypb.Empty, structpb.ListValue](httpClient, baseURL+ListRootsProcedure, opts...),
	}
}

func (c *ConnectClient) Stats(ctx context.Context) (*structpb.Struct, error) {
	resp, err := c.stats.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *ConnectClient) Describe(ctx context.Context, handle int64) (*structpb.Struct, error) {
	resp, err := c.describe.CallUnary(ctx, connect.NewRequest(wrapperspb.Int64(handle)))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *ConnectClient) DescribeRoot(ctx context.Context, name string) (*structpb.Struct, error) {
	resp, err := c.describeRoot.CallUnary(ctx, connect.NewRequest(wrapperspb.String(name)))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *ConnectClient) ListRoots(ctx context.Context) ([]string, error) {
	resp, err := c.listRoots.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		return nil, err
	}
	names := make([]string, len(resp.Msg.GetValues()))
	for i, v := range resp.Msg.GetValues() {
		names[i] = v.GetStringValue()
	}
	return names, nil
}
