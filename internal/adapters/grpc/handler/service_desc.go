package handler

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName は退職手続きサービスの完全修飾名です。
const ServiceName = "offboarding.v1.OffboardingService"

// OffboardingServiceServer は OffboardingService のサーバー実装が満たすインターフェースです。
type OffboardingServiceServer interface {
	CreateResignation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreatePerformanceTermination(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateSeparationStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetSeparation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetChecklist(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateClearanceItem(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RunReminderPass(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetSettlement(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListEvents(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(OffboardingServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

// ServiceDesc は OffboardingService の gRPC サービス定義です。
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OffboardingServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("CreateResignation", OffboardingServiceServer.CreateResignation),
		unaryMethod("CreatePerformanceTermination", OffboardingServiceServer.CreatePerformanceTermination),
		unaryMethod("UpdateSeparationStatus", OffboardingServiceServer.UpdateSeparationStatus),
		unaryMethod("GetSeparation", OffboardingServiceServer.GetSeparation),
		unaryMethod("GetChecklist", OffboardingServiceServer.GetChecklist),
		unaryMethod("UpdateClearanceItem", OffboardingServiceServer.UpdateClearanceItem),
		unaryMethod("RunReminderPass", OffboardingServiceServer.RunReminderPass),
		unaryMethod("GetSettlement", OffboardingServiceServer.GetSettlement),
		unaryMethod("ListEvents", OffboardingServiceServer.ListEvents),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "offboarding/v1/offboarding.proto",
}

// RegisterOffboardingServiceServer は gRPC サーバーに実装を登録します。
func RegisterOffboardingServiceServer(s grpc.ServiceRegistrar, srv OffboardingServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func unaryMethod(name string, call unaryCall) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			server := srv.(OffboardingServiceServer)
			if interceptor == nil {
				return call(server, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(server, ctx, req.(*structpb.Struct))
			})
		},
	}
}
