package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/waitgate/internal/api"
)

// ProvisioningServer is the handler interface of the Provisioning service.
type ProvisioningServer interface {
	Join(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SelfRegister(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SignIn(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ConfirmPasswordReset(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListWaitlist(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchWaitlist(*structpb.Struct, grpc.ServerStream) error
	Approve(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateAccount(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RunReconciliation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListUsers(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ResolvePermissions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ReplayFailedWrites(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var _ ProvisioningServer = (*Server)(nil)

type unaryFn func(ProvisioningServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, fn unaryFn) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, ic grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if ic == nil {
				return fn(srv.(ProvisioningServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: api.FullMethod(name)}
			return ic(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return fn(srv.(ProvisioningServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

func watchWaitlistHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ProvisioningServer).WatchWaitlist(in, stream)
}

// ServiceDesc describes waitgate.v1.Provisioning. Messages are
// google.protobuf.Struct values shaped like the types of package api.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: api.ServiceName,
	HandlerType: (*ProvisioningServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(api.Join, ProvisioningServer.Join),
		unary(api.SelfRegister, ProvisioningServer.SelfRegister),
		unary(api.SignIn, ProvisioningServer.SignIn),
		unary(api.ConfirmPasswordReset, ProvisioningServer.ConfirmPasswordReset),
		unary(api.ListWaitlist, ProvisioningServer.ListWaitlist),
		unary(api.Approve, ProvisioningServer.Approve),
		unary(api.CreateAccount, ProvisioningServer.CreateAccount),
		unary(api.RunReconciliation, ProvisioningServer.RunReconciliation),
		unary(api.ListUsers, ProvisioningServer.ListUsers),
		unary(api.ResolvePermissions, ProvisioningServer.ResolvePermissions),
		unary(api.ReplayFailedWrites, ProvisioningServer.ReplayFailedWrites),
	},
	Streams: []grpc.StreamDesc{{
		StreamName:    api.WatchWaitlist,
		Handler:       watchWaitlistHandler,
		ServerStreams: true,
	}},
	Metadata: "waitgate/v1/provisioning",
}
