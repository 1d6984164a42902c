package activity

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

	"github.com/fleetwatch/agent/internal/event"
	"github.com/fleetwatch/agent/internal/rpc"
)

type fakeSink struct {
	rpc.UnimplementedActivityGrpcServiceServer

	mu       sync.Mutex
	received []*rpc.ActivityReply
	failURL  string
	down     bool
}

func (f *fakeSink) CreateActivity(_ context.Context, in *rpc.CreateActivityRequest) (*rpc.ActivityReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down || (f.failURL != "" && in.Activity.URL == f.failURL) {
		return nil, status.Error(codes.Unavailable, "sink down")
	}
	stored := *in.Activity
	stored.ID = int64(len(f.received) + 1)
	f.received = append(f.received, &stored)
	return &stored, nil
}

func startSink(t *testing.T, impl *fakeSink) *Client {
	t.Helper()
	srv := grpc.NewServer()
	rpc.RegisterActivityGrpcServiceServer(srv, impl)
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
	return NewClientWithConn(conn)
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestSendActivity(t *testing.T) {
	impl := &fakeSink{}
	c := startSink(t, impl)

	e := event.New(12, event.TypeActiveWindowChange)
	e.Details["window_title"] = "Кафе для сотрудников"
	e.Details["agent_user_id"] = nil
	e.RiskScore = 1.0

	require.True(t, c.SendActivity(testCtx(t), e))

	impl.mu.Lock()
	defer impl.mu.Unlock()
	require.Len(t, impl.received, 1)
	got := impl.received[0]
	assert.Equal(t, int64(12), got.ComputerID)
	assert.Equal(t, "ACTIVE_WINDOW_CHANGE", got.ActivityType)
	assert.Contains(t, got.Details, `"window_title":"Кафе для сотрудников"`)
	assert.Zero(t, got.DurationMS, "nil duration travels as zero")
	assert.True(t, got.Synced)
}

func TestSendActivityDuration(t *testing.T) {
	impl := &fakeSink{}
	c := startSink(t, impl)

	e := event.New(12, event.TypeUserIdle)
	e.DurationMS = event.Duration(130000)

	require.True(t, c.SendActivity(testCtx(t), e))

	impl.mu.Lock()
	defer impl.mu.Unlock()
	require.Len(t, impl.received, 1)
	assert.Equal(t, int64(130000), impl.received[0].DurationMS)
}

func TestSendActivityFailure(t *testing.T) {
	impl := &fakeSink{down: true}
	c := startSink(t, impl)

	assert.False(t, c.SendActivity(testCtx(t), event.New(12, event.TypeProcessSnapshot)))
}

func TestSendBatchContinuesAfterFailure(t *testing.T) {
	impl := &fakeSink{failURL: "https://broken"}
	c := startSink(t, impl)

	a := event.New(12, event.TypeBrowserVisit)
	a.URL = "https://a"
	b := event.New(12, event.TypeBrowserVisit)
	b.URL = "https://broken"
	d := event.New(12, event.TypeBrowserVisit)
	d.URL = "https://d"

	sent, failed := c.SendBatch(testCtx(t), []event.ActivityEvent{a, b, d})

	require.Len(t, sent, 2)
	assert.Equal(t, "https://a", sent[0].URL)
	assert.Equal(t, "https://d", sent[1].URL, "delivery order survives a mid-batch failure")
	require.Len(t, failed, 1)
	assert.Equal(t, "https://broken", failed[0].URL)
}

func TestSendBatchEmpty(t *testing.T) {
	c := startSink(t, &fakeSink{})

	sent, failed := c.SendBatch(testCtx(t), nil)
	assert.Empty(t, sent)
	assert.Empty(t, failed)
}

func TestSendBatchStopsOnCanceledContext(t *testing.T) {
	impl := &fakeSink{down: true}
	c := startSink(t, impl)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	events := []event.ActivityEvent{
		event.New(12, event.TypeProcessSnapshot),
		event.New(12, event.TypeProcessSnapshot),
		event.New(12, event.TypeProcessSnapshot),
	}
	sent, failed := c.SendBatch(ctx, events)
	assert.Empty(t, sent)
	assert.Len(t, failed, 3, "remaining events fail without individual attempts")
}
