package syncrpc

import (
	"context"

	"google.golang.org/grpc"
)

// Method names as they appear in signature payloads and gRPC paths.
const (
	MethodRegister   = "Register"
	MethodGetNonce   = "GetNonce"
	MethodGetList    = "GetList"
	MethodGetByID    = "GetById"
	MethodGetAll     = "GetAll"
	MethodSetOne     = "SetOne"
	MethodSetRecords = "SetRecords"
	MethodDeleteByID = "DeleteById"
	MethodDeleteAll  = "DeleteAll"
)

// FullMethod returns the gRPC path for a method name.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// PassmgrServer is the server-side API surface.
type PassmgrServer interface {
	Register(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error)
	GetNonce(ctx context.Context, req *GetNonceRequest) (*GetNonceResponse, error)
	GetList(ctx context.Context, req *GetListRequest) (*GetListResponse, error)
	GetByID(ctx context.Context, req *GetByIDRequest) (*GetByIDResponse, error)
	GetAll(ctx context.Context, req *GetAllRequest) (*GetAllResponse, error)
	SetOne(ctx context.Context, req *SetOneRequest) (*SetOneResponse, error)
	SetRecords(ctx context.Context, req *SetRecordsRequest) (*SetRecordsResponse, error)
	DeleteByID(ctx context.Context, req *DeleteByIDRequest) (*DeleteResponse, error)
	DeleteAll(ctx context.Context, req *DeleteAllRequest) (*DeleteResponse, error)
}

// RegisterPassmgrServer attaches an implementation to a gRPC server.
func RegisterPassmgrServer(s grpc.ServiceRegistrar, srv PassmgrServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// unary adapts one typed method into a grpc.MethodDesc handler.
func unary[Req any, Resp any](method string, call func(PassmgrServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(PassmgrServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: FullMethod(method),
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(PassmgrServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc is the hand-written service descriptor. The messages travel
// through the registered deterministic CBOR codec instead of protobuf, so
// no generated code is involved.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PassmgrServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodRegister, func(s PassmgrServer, ctx context.Context, r *RegisterRequest) (*RegisterResponse, error) {
			return s.Register(ctx, r)
		}),
		unary(MethodGetNonce, func(s PassmgrServer, ctx context.Context, r *GetNonceRequest) (*GetNonceResponse, error) {
			return s.GetNonce(ctx, r)
		}),
		unary(MethodGetList, func(s PassmgrServer, ctx context.Context, r *GetListRequest) (*GetListResponse, error) {
			return s.GetList(ctx, r)
		}),
		unary(MethodGetByID, func(s PassmgrServer, ctx context.Context, r *GetByIDRequest) (*GetByIDResponse, error) {
			return s.GetByID(ctx, r)
		}),
		unary(MethodGetAll, func(s PassmgrServer, ctx context.Context, r *GetAllRequest) (*GetAllResponse, error) {
			return s.GetAll(ctx, r)
		}),
		unary(MethodSetOne, func(s PassmgrServer, ctx context.Context, r *SetOneRequest) (*SetOneResponse, error) {
			return s.SetOne(ctx, r)
		}),
		unary(MethodSetRecords, func(s PassmgrServer, ctx context.Context, r *SetRecordsRequest) (*SetRecordsResponse, error) {
			return s.SetRecords(ctx, r)
		}),
		unary(MethodDeleteByID, func(s PassmgrServer, ctx context.Context, r *DeleteByIDRequest) (*DeleteResponse, error) {
			return s.DeleteByID(ctx, r)
		}),
		unary(MethodDeleteAll, func(s PassmgrServer, ctx context.Context, r *DeleteAllRequest) (*DeleteResponse, error) {
			return s.DeleteAll(ctx, r)
		}),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "passmgr/v1",
}
