package control

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/ota-agent/pkg/otatypes"
)

// fakeAgent is a scriptable Agent double standing in for
// *orchestrator.Orchestrator.
type fakeAgent struct {
	mu sync.Mutex

	snapshot     otatypes.AgentSnapshot
	checkNowHits int
	stopHits     int
}

func (f *fakeAgent) Snapshot() otatypes.AgentSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot
}

func (f *fakeAgent) CheckNow() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkNowHits++
}

func (f *fakeAgent) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopHits++
}

// startTestServer binds to an OS-assigned loopback port, serves in the
// background, and returns a connected Client plus a cleanup func.
func startTestServer(t *testing.T, agent Agent) (*Client, func()) {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(agent)
	go func() {
		_ = srv.serve(lis)
	}()

	client, err := Dial(lis.Addr().String())
	require.NoError(t, err)

	return client, func() {
		client.Close()
		srv.Stop()
	}
}

func TestStatus_ReflectsAgentSnapshot(t *testing.T) {
	agent := &fakeAgent{snapshot: otatypes.AgentSnapshot{
		State:        otatypes.StateAgentWaiting,
		LastError:    errors.New("signature mismatch"),
		Progress:     otatypes.Progress{TotalSize: 100, BytesWritten: 42, Percentage: 42.0},
		RetryCount:   2,
		ConnectRetry: 1,
	}}
	client, cleanup := startTestServer(t, agent)
	defer cleanup()

	resp, err := client.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, string(otatypes.StateAgentWaiting), resp.State)
	require.Equal(t, "signature mismatch", resp.LastError)
	require.Equal(t, uint32(100), resp.TotalSize)
	require.Equal(t, uint32(42), resp.BytesWritten)
	require.Equal(t, 42.0, resp.Percentage)
	require.Equal(t, int32(2), resp.RetryCount)
	require.Equal(t, int32(1), resp.ConnectRetry)
}

func TestStatus_NoLastErrorLeavesErrorFieldEmpty(t *testing.T) {
	agent := &fakeAgent{snapshot: otatypes.AgentSnapshot{State: otatypes.StateAgentWaiting}}
	client, cleanup := startTestServer(t, agent)
	defer cleanup()

	resp, err := client.Status(context.Background())
	require.NoError(t, err)
	require.Empty(t, resp.LastError)
}

func TestUpdateNow_CallsAgentCheckNow(t *testing.T) {
	agent := &fakeAgent{}
	client, cleanup := startTestServer(t, agent)
	defer cleanup()

	resp, err := client.UpdateNow(context.Background())
	require.NoError(t, err)
	require.True(t, resp.Accepted)

	require.Eventually(t, func() bool {
		agent.mu.Lock()
		defer agent.mu.Unlock()
		return agent.checkNowHits == 1
	}, time.Second, 10*time.Millisecond)
}

func TestStop_CallsAgentStopAsynchronously(t *testing.T) {
	agent := &fakeAgent{}
	client, cleanup := startTestServer(t, agent)
	defer cleanup()

	resp, err := client.Stop(context.Background())
	require.NoError(t, err)
	require.True(t, resp.Accepted)

	require.Eventually(t, func() bool {
		agent.mu.Lock()
		defer agent.mu.Unlock()
		return agent.stopHits == 1
	}, time.Second, 10*time.Millisecond)
}
