// Copyright (c) 2025 Fleetwatch
// SPDX-License-Identifier: MIT

package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// AgentServiceName is the full gRPC service name of the management plane.
const AgentServiceName = "agent.AgentManagementService"

// Agent is the management plane's view of a registered endpoint agent.
type Agent struct {
	ID            int64  `json:"id"`
	ComputerID    int64  `json:"computer_id"`
	Version       string `json:"version"`
	Status        string `json:"status"`
	LastHeartbeat string `json:"last_heartbeat"`
	ConfigVersion string `json:"config_version"`
	OfflineSince  string `json:"offline_since"`
}

// AgentPolicy carries the effective runtime policy plus its control-plane
// signature envelope. Field order here matches the canonical signing payload.
type AgentPolicy struct {
	ID                           int64    `json:"id"`
	AgentID                      int64    `json:"agent_id"`
	ComputerID                   int64    `json:"computer_id"`
	PolicyVersion                string   `json:"policy_version"`
	CollectionIntervalSec        int      `json:"collection_interval_sec"`
	HeartbeatIntervalSec         int      `json:"heartbeat_interval_sec"`
	FlushIntervalSec             int      `json:"flush_interval_sec"`
	EnableProcessCollection      bool     `json:"enable_process_collection"`
	EnableBrowserCollection      bool     `json:"enable_browser_collection"`
	EnableActiveWindowCollection bool     `json:"enable_active_window_collection"`
	EnableIdleCollection         bool     `json:"enable_idle_collection"`
	IdleThresholdSec             int      `json:"idle_threshold_sec"`
	BrowserPollIntervalSec       int      `json:"browser_poll_interval_sec"`
	ProcessSnapshotLimit         int      `json:"process_snapshot_limit"`
	HighRiskThreshold            float64  `json:"high_risk_threshold"`
	AutoLockEnabled              bool     `json:"auto_lock_enabled"`
	AdminBlocked                 bool     `json:"admin_blocked"`
	BlockedReason                string   `json:"blocked_reason"`
	UpdatedAt                    string   `json:"updated_at"`
	Browsers                     []string `json:"browsers"`
	Signature                    string   `json:"signature"`
	SignatureKeyID               string   `json:"signature_key_id"`
	SignatureAlg                 string   `json:"signature_alg"`
}

// AgentCommand is an operator instruction queued for this agent.
type AgentCommand struct {
	ID             int64  `json:"id"`
	AgentID        int64  `json:"agent_id"`
	Type           string `json:"type"`
	PayloadJSON    string `json:"payload_json"`
	Status         string `json:"status"`
	RequestedBy    string `json:"requested_by"`
	ResultMessage  string `json:"result_message"`
	CreatedAt      string `json:"created_at"`
	AcknowledgedAt string `json:"acknowledged_at"`
	Signature      string `json:"signature"`
	SignatureKeyID string `json:"signature_key_id"`
	SignatureAlg   string `json:"signature_alg"`
}

type RegisterAgentRequest struct {
	ComputerID    int64  `json:"computer_id"`
	Version       string `json:"version"`
	ConfigVersion string `json:"config_version"`
}

type RegisterAgentResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Agent   *Agent `json:"agent,omitempty"`
}

type GetAgentsByComputerRequest struct {
	ComputerID int64 `json:"computer_id"`
}

type GetAgentsByComputerResponse struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Agents  []*Agent `json:"agents,omitempty"`
}

type UpdateAgentStatusRequest struct {
	AgentID       int64  `json:"agent_id"`
	Status        string `json:"status"`
	ConfigVersion string `json:"config_version"`
}

type UpdateAgentStatusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Agent   *Agent `json:"agent,omitempty"`
}

type GetAgentPolicyRequest struct {
	AgentID int64 `json:"agent_id"`
}

type GetAgentPolicyResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Policy  *AgentPolicy `json:"policy,omitempty"`
}

type GetPendingAgentCommandsRequest struct {
	AgentID int64 `json:"agent_id"`
	Limit   int   `json:"limit"`
}

type GetPendingAgentCommandsResponse struct {
	Success  bool            `json:"success"`
	Message  string          `json:"message"`
	Commands []*AgentCommand `json:"commands,omitempty"`
}

type AckAgentCommandRequest struct {
	CommandID     int64  `json:"command_id"`
	Status        string `json:"status"`
	ResultMessage string `json:"result_message"`
}

type AckAgentCommandResponse struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Command *AgentCommand `json:"command,omitempty"`
}

// AgentManagementServiceClient is the client surface of the management
// plane as the agent consumes it.
type AgentManagementServiceClient interface {
	RegisterAgent(ctx context.Context, in *RegisterAgentRequest, opts ...grpc.CallOption) (*RegisterAgentResponse, error)
	GetAgentsByComputer(ctx context.Context, in *GetAgentsByComputerRequest, opts ...grpc.CallOption) (*GetAgentsByComputerResponse, error)
	UpdateAgentStatus(ctx context.Context, in *UpdateAgentStatusRequest, opts ...grpc.CallOption) (*UpdateAgentStatusResponse, error)
	GetAgentPolicy(ctx context.Context, in *GetAgentPolicyRequest, opts ...grpc.CallOption) (*GetAgentPolicyResponse, error)
	GetPendingAgentCommands(ctx context.Context, in *GetPendingAgentCommandsRequest, opts ...grpc.CallOption) (*GetPendingAgentCommandsResponse, error)
	AckAgentCommand(ctx context.Context, in *AckAgentCommandRequest, opts ...grpc.CallOption) (*AckAgentCommandResponse, error)
}

type agentManagementServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewAgentManagementServiceClient(cc grpc.ClientConnInterface) AgentManagementServiceClient {
	return &agentManagementServiceClient{cc: cc}
}

func (c *agentManagementServiceClient) RegisterAgent(ctx context.Context, in *RegisterAgentRequest, opts ...grpc.CallOption) (*RegisterAgentResponse, error) {
	out := new(RegisterAgentResponse)
	if err := c.cc.Invoke(ctx, "/"+AgentServiceName+"/RegisterAgent", in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *agentManagementServiceClient) GetAgentsByComputer(ctx context.Context, in *GetAgentsByComputerRequest, opts ...grpc.CallOption) (*GetAgentsByComputerResponse, error) {
	out := new(GetAgentsByComputerResponse)
	if err := c.cc.Invoke(ctx, "/"+AgentServiceName+"/GetAgentsByComputer", in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *agentManagementServiceClient) UpdateAgentStatus(ctx context.Context, in *UpdateAgentStatusRequest, opts ...grpc.CallOption) (*UpdateAgentStatusResponse, error) {
	out := new(UpdateAgentStatusResponse)
	if err := c.cc.Invoke(ctx, "/"+AgentServiceName+"/UpdateAgentStatus", in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *agentManagementServiceClient) GetAgentPolicy(ctx context.Context, in *GetAgentPolicyRequest, opts ...grpc.CallOption) (*GetAgentPolicyResponse, error) {
	out := new(GetAgentPolicyResponse)
	if err := c.cc.Invoke(ctx, "/"+AgentServiceName+"/GetAgentPolicy", in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *agentManagementServiceClient) GetPendingAgentCommands(ctx context.Context, in *GetPendingAgentCommandsRequest, opts ...grpc.CallOption) (*GetPendingAgentCommandsResponse, error) {
	out := new(GetPendingAgentCommandsResponse)
	if err := c.cc.Invoke(ctx, "/"+AgentServiceName+"/GetPendingAgentCommands", in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *agentManagementServiceClient) AckAgentCommand(ctx context.Context, in *AckAgentCommandRequest, opts ...grpc.CallOption) (*AckAgentCommandResponse, error) {
	out := new(AckAgentCommandResponse)
	if err := c.cc.Invoke(ctx, "/"+AgentServiceName+"/AckAgentCommand", in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// AgentManagementServiceServer is implemented by in-process stands of the
// management plane, primarily for tests.
type AgentManagementServiceServer interface {
	RegisterAgent(ctx context.Context, in *RegisterAgentRequest) (*RegisterAgentResponse, error)
	GetAgentsByComputer(ctx context.Context, in *GetAgentsByComputerRequest) (*GetAgentsByComputerResponse, error)
	UpdateAgentStatus(ctx context.Context, in *UpdateAgentStatusRequest) (*UpdateAgentStatusResponse, error)
	GetAgentPolicy(ctx context.Context, in *GetAgentPolicyRequest) (*GetAgentPolicyResponse, error)
	GetPendingAgentCommands(ctx context.Context, in *GetPendingAgentCommandsRequest) (*GetPendingAgentCommandsResponse, error)
	AckAgentCommand(ctx context.Context, in *AckAgentCommandRequest) (*AckAgentCommandResponse, error)
}

// UnimplementedAgentManagementServiceServer may be embedded for forward
// compatibility with methods added to the service.
type UnimplementedAgentManagementServiceServer struct{}

func (UnimplementedAgentManagementServiceServer) RegisterAgent(context.Context, *RegisterAgentRequest) (*RegisterAgentResponse, error) {
	return nil, errUnimplemented("RegisterAgent")
}

func (UnimplementedAgentManagementServiceServer) GetAgentsByComputer(context.Context, *GetAgentsByComputerRequest) (*GetAgentsByComputerResponse, error) {
	return nil, errUnimplemented("GetAgentsByComputer")
}

func (UnimplementedAgentManagementServiceServer) UpdateAgentStatus(context.Context, *UpdateAgentStatusRequest) (*UpdateAgentStatusResponse, error) {
	return nil, errUnimplemented("UpdateAgentStatus")
}

func (UnimplementedAgentManagementServiceServer) GetAgentPolicy(context.Context, *GetAgentPolicyRequest) (*GetAgentPolicyResponse, error) {
	return nil, errUnimplemented("GetAgentPolicy")
}

func (UnimplementedAgentManagementServiceServer) GetPendingAgentCommands(context.Context, *GetPendingAgentCommandsRequest) (*GetPendingAgentCommandsResponse, error) {
	return nil, errUnimplemented("GetPendingAgentCommands")
}

func (UnimplementedAgentManagementServiceServer) AckAgentCommand(context.Context, *AckAgentCommandRequest) (*AckAgentCommandResponse, error) {
	return nil, errUnimplemented("AckAgentCommand")
}

func RegisterAgentManagementServiceServer(s grpc.ServiceRegistrar, srv AgentManagementServiceServer) {
	s.RegisterService(&AgentManagementServiceDesc, srv)
}

func registerAgentHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(RegisterAgentRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentManagementServiceServer).RegisterAgent(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + AgentServiceName + "/RegisterAgent"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(AgentManagementServiceServer).RegisterAgent(ctx, req.(*RegisterAgentRequest))
	})
}

func getAgentsByComputerHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetAgentsByComputerRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentManagementServiceServer).GetAgentsByComputer(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + AgentServiceName + "/GetAgentsByComputer"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(AgentManagementServiceServer).GetAgentsByComputer(ctx, req.(*GetAgentsByComputerRequest))
	})
}

func updateAgentStatusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(UpdateAgentStatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentManagementServiceServer).UpdateAgentStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + AgentServiceName + "/UpdateAgentStatus"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(AgentManagementServiceServer).UpdateAgentStatus(ctx, req.(*UpdateAgentStatusRequest))
	})
}

func getAgentPolicyHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetAgentPolicyRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentManagementServiceServer).GetAgentPolicy(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + AgentServiceName + "/GetAgentPolicy"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(AgentManagementServiceServer).GetAgentPolicy(ctx, req.(*GetAgentPolicyRequest))
	})
}

func getPendingAgentCommandsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetPendingAgentCommandsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentManagementServiceServer).GetPendingAgentCommands(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + AgentServiceName + "/GetPendingAgentCommands"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(AgentManagementServiceServer).GetPendingAgentCommands(ctx, req.(*GetPendingAgentCommandsRequest))
	})
}

func ackAgentCommandHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(AckAgentCommandRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentManagementServiceServer).AckAgentCommand(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + AgentServiceName + "/AckAgentCommand"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(AgentManagementServiceServer).AckAgentCommand(ctx, req.(*AckAgentCommandRequest))
	})
}

// AgentManagementServiceDesc wires the service the same way generated
// bindings would, minus the protobuf dependency.
var AgentManagementServiceDesc = grpc.ServiceDesc{
	ServiceName: AgentServiceName,
	HandlerType: (*AgentManagementServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RegisterAgent", Handler: registerAgentHandler},
		{MethodName: "GetAgentsByComputer", Handler: getAgentsByComputerHandler},
		{MethodName: "UpdateAgentStatus", Handler: updateAgentStatusHandler},
		{MethodName: "GetAgentPolicy", Handler: getAgentPolicyHandler},
		{MethodName: "GetPendingAgentCommands", Handler: getPendingAgentCommandsHandler},
		{MethodName: "AckAgentCommand", Handler: ackAgentCommandHandler},
	},
	Streams: []grpc.StreamDesc{},
}
