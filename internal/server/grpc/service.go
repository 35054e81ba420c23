package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "credkeeper.v1.AuthService"

// Full method names.
const (
	MethodRegister       = "/" + ServiceName + "/Register"
	MethodLogin          = "/" + ServiceName + "/Login"
	MethodRefresh        = "/" + ServiceName + "/Refresh"
	MethodLogout         = "/" + ServiceName + "/Logout"
	MethodLogoutAll      = "/" + ServiceName + "/LogoutAll"
	MethodVerify         = "/" + ServiceName + "/Verify"
	MethodChangePassword = "/" + ServiceName + "/ChangePassword"
)

// AuthServiceServer is the server side of the auth service. Messages are
// protobuf well-known types so no generated code is needed.
type AuthServiceServer interface {
	Register(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Login(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Refresh(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	Logout(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	LogoutAll(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Verify(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	ChangePassword(context.Context, *structpb.Struct) (*emptypb.Empty, error)
}

// AuthServiceDesc describes the service for grpc.Server.RegisterService.
var AuthServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AuthServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Register", AuthServiceServer.Register),
		unary("Login", AuthServiceServer.Login),
		unary("Refresh", AuthServiceServer.Refresh),
		unary("Logout", AuthServiceServer.Logout),
		unary("LogoutAll", AuthServiceServer.LogoutAll),
		unary("Verify", AuthServiceServer.Verify),
		unary("ChangePassword", AuthServiceServer.ChangePassword),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "credkeeper/v1/auth.proto",
}

// RegisterAuthServiceServer registers srv on s.
func RegisterAuthServiceServer(s grpc.ServiceRegistrar, srv AuthServiceServer) {
	s.RegisterService(&AuthServiceDesc, srv)
}

func unary[T any, Req interface {
	*T
	proto.Message
}, Resp proto.Message](method string, call func(AuthServiceServer, context.Context, Req) (Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + method

	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := Req(new(T))
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(AuthServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(AuthServiceServer), ctx, req.(Req))
			})
		},
	}
}

// AuthClient is the client side of the auth service.
type AuthClient struct {
	cc grpc.ClientConnInterface
}

// NewAuthClient wraps a client connection.
func NewAuthClient(cc grpc.ClientConnInterface) *AuthClient {
	return &AuthClient{cc: cc}
}

func (c *AuthClient) Register(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	return out, c.cc.Invoke(ctx, MethodRegister, in, out, opts...)
}

func (c *AuthClient) Login(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	return out, c.cc.Invoke(ctx, MethodLogin, in, out, opts...)
}

func (c *AuthClient) Refresh(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	return out, c.cc.Invoke(ctx, MethodRefresh, in, out, opts...)
}

func (c *AuthClient) Logout(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	return out, c.cc.Invoke(ctx, MethodLogout, in, out, opts...)
}

func (c *AuthClient) LogoutAll(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	return out, c.cc.Invoke(ctx, MethodLogoutAll, in, out, opts...)
}

func (c *AuthClient) Verify(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	return out, c.cc.Invoke(ctx, MethodVerify, in, out, opts...)
}

func (c *AuthClient) ChangePassword(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	return out, c.cc.Invoke(ctx, MethodChangePassword, in, out, opts...)
}
