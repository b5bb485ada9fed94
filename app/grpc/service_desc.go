package grpc

import (
	"context"

	"github.com/vibast-solutions/ms-go-tap-payments/app/types"
	"google.golang.org/grpc"
)

const (
	tapServiceName = "tap.TapService"

	AuthorizeFullMethod         = "/" + tapServiceName + "/Authorize"
	GetTransactionFullMethod    = "/" + tapServiceName + "/GetTransaction"
	CancelTransactionFullMethod = "/" + tapServiceName + "/CancelTransaction"
)

type TapServiceServer interface {
	Authorize(ctx context.Context, req *types.TapRequest) (*types.TapResponse, error)
	GetTransaction(ctx context.Context, req *types.GetTransactionRequest) (*types.TransactionResponse, error)
	CancelTransaction(ctx context.Context, req *types.CancelTransactionRequest) (*types.TransactionResponse, error)
}

// TapServiceDesc is served over the JSON codec only, see CodecName.
var TapServiceDesc = grpc.ServiceDesc{
	ServiceName: tapServiceName,
	HandlerType: (*TapServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Authorize", Handler: authorizeHandler},
		{MethodName: "GetTransaction", Handler: getTransactionHandler},
		{MethodName: "CancelTransaction", Handler: cancelTransactionHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tap/tap.json",
}

func RegisterTapServiceServer(s grpc.ServiceRegistrar, srv TapServiceServer) {
	s.RegisterService(&TapServiceDesc, srv)
}

func authorizeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(types.TapRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TapServiceServer).Authorize(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: AuthorizeFullMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TapServiceServer).Authorize(ctx, req.(*types.TapRequest))
	})
}

func getTransactionHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(types.GetTransactionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TapServiceServer).GetTransaction(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GetTransactionFullMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TapServiceServer).GetTransaction(ctx, req.(*types.GetTransactionRequest))
	})
}

func cancelTransactionHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(types.CancelTransactionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TapServiceServer).CancelTransaction(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: CancelTransactionFullMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TapServiceServer).CancelTransaction(ctx, req.(*types.CancelTransactionRequest))
	})
}

// TapServiceClient calls TapService with the JSON codec. Callers that build their own
// stubs must pass grpc.CallContentSubtype(CodecName) on every call; the default
// protobuf codec fails to marshal the request.
type TapServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewTapServiceClient(cc grpc.ClientConnInterface) *TapServiceClient {
	return &TapServiceClient{cc: cc}
}

func (c *TapServiceClient) Authorize(ctx context.Context, in *types.TapRequest, opts ...grpc.CallOption) (*types.TapResponse, error) {
	out := new(types.TapResponse)
	if err := c.cc.Invoke(ctx, AuthorizeFullMethod, in, out, withJSON(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *TapServiceClient) GetTransaction(ctx context.Context, in *types.GetTransactionRequest, opts ...grpc.CallOption) (*types.TransactionResponse, error) {
	out := new(types.TransactionResponse)
	if err := c.cc.Invoke(ctx, GetTransactionFullMethod, in, out, withJSON(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *TapServiceClient) CancelTransaction(ctx context.Context, in *types.CancelTransactionRequest, opts ...grpc.CallOption) (*types.TransactionResponse, error) {
	out := new(types.TransactionResponse)
	if err := c.cc.Invoke(ctx, CancelTransactionFullMethod, in, out, withJSON(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func withJSON(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}
