package rpc

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func TestTarget(t *testing.T) {
	assert.Equal(t, "localhost:5001", Target("http://localhost:5001"))
	assert.Equal(t, "backplane:5015", Target("https://backplane:5015/"))
	assert.Equal(t, "10.0.0.4:5001", Target(" 10.0.0.4:5001 "))
}

type fakeBackplane struct {
	UnimplementedActivityGrpcServiceServer
	UnimplementedAgentManagementServiceServer

	mu         sync.Mutex
	activities []*ActivityReply
	acks       []*AckAgentCommandRequest
	statuses   []string
}

func (f *fakeBackplane) CreateActivity(_ context.Context, in *CreateActivityRequest) (*ActivityReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := *in.Activity
	stored.ID = int64(len(f.activities) + 1)
	f.activities = append(f.activities, &stored)
	return &stored, nil
}

func (f *fakeBackplane) RegisterAgent(_ context.Context, in *RegisterAgentRequest) (*RegisterAgentResponse, error) {
	if in.ComputerID == 99 {
		return &RegisterAgentResponse{Success: false, Message: "Agent already exists for this computer"}, nil
	}
	return &RegisterAgentResponse{
		Success: true,
		Message: "Agent registered successfully",
		Agent:   &Agent{ID: 7, ComputerID: in.ComputerID, Version: in.Version, Status: "online"},
	}, nil
}

func (f *fakeBackplane) GetAgentsByComputer(_ context.Context, in *GetAgentsByComputerRequest) (*GetAgentsByComputerResponse, error) {
	return &GetAgentsByComputerResponse{
		Success: true,
		Agents:  []*Agent{{ID: 11, ComputerID: in.ComputerID, Status: "online"}},
	}, nil
}

func (f *fakeBackplane) UpdateAgentStatus(_ context.Context, in *UpdateAgentStatusRequest) (*UpdateAgentStatusResponse, error) {
	f.mu.Lock()
	f.statuses = append(f.statuses, in.Status)
	f.mu.Unlock()
	return &UpdateAgentStatusResponse{Success: true, Agent: &Agent{ID: in.AgentID, Status: in.Status}}, nil
}

func (f *fakeBackplane) GetAgentPolicy(_ context.Context, in *GetAgentPolicyRequest) (*GetAgentPolicyResponse, error) {
	return &GetAgentPolicyResponse{
		Success: true,
		Policy: &AgentPolicy{
			ID:                    3,
			AgentID:               in.AgentID,
			PolicyVersion:         "9",
			CollectionIntervalSec: 2,
			HighRiskThreshold:     85,
			Browsers:              []string{"chrome", "firefox"},
			BlockedReason:         "плановая проверка",
		},
	}, nil
}

func (f *fakeBackplane) GetPendingAgentCommands(_ context.Context, in *GetPendingAgentCommandsRequest) (*GetPendingAgentCommandsResponse, error) {
	return &GetPendingAgentCommandsResponse{
		Success: true,
		Commands: []*AgentCommand{{
			ID:          41,
			AgentID:     in.AgentID,
			Type:        "BLOCK_WORKSTATION",
			PayloadJSON: `{"reason":"audit"}`,
			Status:      "pending",
		}},
	}, nil
}

func (f *fakeBackplane) AckAgentCommand(_ context.Context, in *AckAgentCommandRequest) (*AckAgentCommandResponse, error) {
	f.mu.Lock()
	f.acks = append(f.acks, in)
	f.mu.Unlock()
	return &AckAgentCommandResponse{Success: true}, nil
}

func startBackplane(t *testing.T, impl *fakeBackplane) *grpc.ClientConn {
	t.Helper()
	srv := grpc.NewServer()
	RegisterActivityGrpcServiceServer(srv, impl)
	RegisterAgentManagementServiceServer(srv, impl)
	lis := bufconn.Listen(1024 * 1024)
	go func() { _ = srv.Serve(lis) }()

	conn, err := grpc.NewClient(
		"passthrough:///bufconn",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
		srv.Stop()
		_ = lis.Close()
	})
	return conn
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestCreateActivityRoundTrip(t *testing.T) {
	impl := &fakeBackplane{}
	conn := startBackplane(t, impl)
	client := NewActivityGrpcServiceClient(conn)

	reply, err := client.CreateActivity(testContext(t), &CreateActivityRequest{Activity: &ActivityReply{
		ComputerID:   12,
		Timestamp:    "2025-01-02T03:04:05.000Z",
		ActivityType: "PROCESS_SNAPSHOT",
		Details:      `{"processes":[]}`,
		URL:          "",
		ProcessName:  "chrome.exe",
		RiskScore:    5,
		Synced:       true,
	}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), reply.ID)
	assert.Equal(t, int64(12), reply.ComputerID)
	assert.Equal(t, "PROCESS_SNAPSHOT", reply.ActivityType)
	assert.True(t, reply.Synced)
}

func TestAgentManagementRoundTrip(t *testing.T) {
	impl := &fakeBackplane{}
	conn := startBackplane(t, impl)
	client := NewAgentManagementServiceClient(conn)
	ctx := testContext(t)

	reg, err := client.RegisterAgent(ctx, &RegisterAgentRequest{ComputerID: 12, Version: "v0.4.2", ConfigVersion: "1"})
	require.NoError(t, err)
	require.True(t, reg.Success)
	assert.Equal(t, int64(7), reg.Agent.ID)

	dup, err := client.RegisterAgent(ctx, &RegisterAgentRequest{ComputerID: 99})
	require.NoError(t, err)
	assert.False(t, dup.Success)
	assert.Nil(t, dup.Agent)

	lookup, err := client.GetAgentsByComputer(ctx, &GetAgentsByComputerRequest{ComputerID: 99})
	require.NoError(t, err)
	require.Len(t, lookup.Agents, 1)
	assert.Equal(t, int64(11), lookup.Agents[0].ID)

	hb, err := client.UpdateAgentStatus(ctx, &UpdateAgentStatusRequest{AgentID: 7, Status: "online", ConfigVersion: "1"})
	require.NoError(t, err)
	assert.True(t, hb.Success)

	pol, err := client.GetAgentPolicy(ctx, &GetAgentPolicyRequest{AgentID: 7})
	require.NoError(t, err)
	require.NotNil(t, pol.Policy)
	assert.Equal(t, "9", pol.Policy.PolicyVersion)
	assert.Equal(t, []string{"chrome", "firefox"}, pol.Policy.Browsers)
	assert.Equal(t, "плановая проверка", pol.Policy.BlockedReason, "UTF-8 survives the codec")

	cmds, err := client.GetPendingAgentCommands(ctx, &GetPendingAgentCommandsRequest{AgentID: 7, Limit: 20})
	require.NoError(t, err)
	require.Len(t, cmds.Commands, 1)
	assert.Equal(t, "BLOCK_WORKSTATION", cmds.Commands[0].Type)

	_, err = client.AckAgentCommand(ctx, &AckAgentCommandRequest{CommandID: 41, Status: "done", ResultMessage: "Workstation blocked"})
	require.NoError(t, err)
	impl.mu.Lock()
	defer impl.mu.Unlock()
	require.Len(t, impl.acks, 1)
	assert.Equal(t, int64(41), impl.acks[0].CommandID)
}

func TestUnimplementedEmbedding(t *testing.T) {
	type bare struct {
		UnimplementedActivityGrpcServiceServer
		UnimplementedAgentManagementServiceServer
	}
	srv := grpc.NewServer()
	impl := &bare{}
	RegisterActivityGrpcServiceServer(srv, impl)
	RegisterAgentManagementServiceServer(srv, impl)
	lis := bufconn.Listen(1024 * 1024)
	go func() { _ = srv.Serve(lis) }()
	conn, err := grpc.NewClient(
		"passthrough:///bufconn",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
		srv.Stop()
		_ = lis.Close()
	})

	_, err = NewActivityGrpcServiceClient(conn).CreateActivity(testContext(t), &CreateActivityRequest{Activity: &ActivityReply{}})
	require.Error(t, err)
	assert.Equal(t, codes.Unimplemented, status.Code(err))
}
