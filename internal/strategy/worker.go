package strategy

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// WorkerHandler is the server side of the strategy service.
type WorkerHandler interface {
	OnTick(ctx context.Context, tick *structpb.Struct) (*structpb.Struct, error)
}

// WorkerFunc adapts a function to WorkerHandler.
type WorkerFunc func(ctx context.Context, tick *structpb.Struct) (*structpb.Struct, error)

func (f WorkerFunc) OnTick(ctx context.Context, tick *structpb.Struct) (*structpb.Struct, error) {
	return f(ctx, tick)
}

var workerServiceDesc = grpc.ServiceDesc{
	ServiceName: "strategy.StrategyService",
	HandlerType: (*WorkerHandler)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "OnTick",
		Handler:    onTickHandler,
	}},
	Streams:  []grpc.StreamDesc{},
	Metadata: "strategy.proto",
}

func onTickHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkerHandler).OnTick(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: OnTickMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(WorkerHandler).OnTick(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterWorker serves h as the strategy service on s.
func RegisterWorker(s grpc.ServiceRegistrar, h WorkerHandler) {
	s.RegisterService(&workerServiceDesc, h)
}
