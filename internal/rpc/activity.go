// Copyright (c) 2025 Fleetwatch
// SPDX-License-Identifier: MIT

package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// ActivityServiceName is the full gRPC service name of the activity sink.
const ActivityServiceName = "activity.ActivityGrpcService"

// ActivityReply is the activity record as the backplane stores and echoes it.
// The Synced field keeps its historical capitalized wire name.
type ActivityReply struct {
	ID           int64   `json:"id,omitempty"`
	ComputerID   int64   `json:"computer_id"`
	Timestamp    string  `json:"timestamp"`
	ActivityType string  `json:"activity_type"`
	Details      string  `json:"details"`
	DurationMS   int64   `json:"duration_ms"`
	URL          string  `json:"url"`
	ProcessName  string  `json:"process_name"`
	IsBlocked    bool    `json:"is_blocked"`
	RiskScore    float64 `json:"risk_score"`
	Synced       bool    `json:"Synced"`
}

type CreateActivityRequest struct {
	Activity *ActivityReply `json:"activity"`
}

// ActivityGrpcServiceClient is the client surface of the activity sink.
// CreateActivity echoes the stored record back as its reply.
type ActivityGrpcServiceClient interface {
	CreateActivity(ctx context.Context, in *CreateActivityRequest, opts ...grpc.CallOption) (*ActivityReply, error)
}

type activityGrpcServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewActivityGrpcServiceClient(cc grpc.ClientConnInterface) ActivityGrpcServiceClient {
	return &activityGrpcServiceClient{cc: cc}
}

func (c *activityGrpcServiceClient) CreateActivity(ctx context.Context, in *CreateActivityRequest, opts ...grpc.CallOption) (*ActivityReply, error) {
	out := new(ActivityReply)
	err := c.cc.Invoke(ctx, "/"+ActivityServiceName+"/CreateActivity", in, out, callOptions(opts)...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ActivityGrpcServiceServer is implemented by in-process stands of the
// activity sink, primarily for tests.
type ActivityGrpcServiceServer interface {
	CreateActivity(ctx context.Context, in *CreateActivityRequest) (*ActivityReply, error)
}

// UnimplementedActivityGrpcServiceServer may be embedded for forward
// compatibility with methods added to the service.
type UnimplementedActivityGrpcServiceServer struct{}

func (UnimplementedActivityGrpcServiceServer) CreateActivity(context.Context, *CreateActivityRequest) (*ActivityReply, error) {
	return nil, errUnimplemented("CreateActivity")
}

func RegisterActivityGrpcServiceServer(s grpc.ServiceRegistrar, srv ActivityGrpcServiceServer) {
	s.RegisterService(&ActivityGrpcServiceDesc, srv)
}

func createActivityHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CreateActivityRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ActivityGrpcServiceServer).CreateActivity(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + ActivityServiceName + "/CreateActivity",
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ActivityGrpcServiceServer).CreateActivity(ctx, req.(*CreateActivityRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// ActivityGrpcServiceDesc wires the service the same way generated bindings
// would, minus the protobuf dependency.
var ActivityGrpcServiceDesc = grpc.ServiceDesc{
	ServiceName: ActivityServiceName,
	HandlerType: (*ActivityGrpcServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateActivity", Handler: createActivityHandler},
	},
	Streams: []grpc.StreamDesc{},
}
