package transport

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	v1 "github.com/mrshabel/treekeep/api/v1"
	"github.com/mrshabel/treekeep/internal/clusterconfig"
	"github.com/mrshabel/treekeep/internal/raft"
	"github.com/mrshabel/treekeep/internal/raftlog"
	"github.com/mrshabel/treekeep/internal/statemachine"
	"github.com/mrshabel/treekeep/internal/storage"
)

// allowAll authorizes every subject/object/action, standing in for a
// configured casbin.Authorizer in tests that aren't exercising ACLs.
type allowAll struct{}

func (allowAll) Authorize(subject, object, action string) error { return nil }

// setupServer boots a single-node Raft cluster behind a real grpc.Server
// on a loopback listener, and returns a Client dialed against it.
func setupServer(t *testing.T) (*Client, func()) {
	t.Helper()

	layout, err := storage.NewEphemeralLayout()
	require.NoError(t, err)

	log := raftlog.NewMemoryLog()
	sm := statemachine.New(nil)
	dialer := NewDialer()

	cfg := raft.DefaultConfig()
	cfg.ElectionTimeout = 40 * time.Millisecond
	cfg.HeartbeatPeriod = 10 * time.Millisecond

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()

	core := raft.New(cfg, nil, 1, addr, log, sm, dialer)
	core.SetSnapshotLayout(layout)
	require.NoError(t, core.BootstrapConfiguration([]clusterconfig.Server{{ID: 1, Address: addr}}))

	gsrv, err := NewGRPCServer(&Config{
		Core:         core,
		StateMachine: sm,
		Authorizer:   allowAll{},
		Layout:       layout,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go core.Run(ctx)
	go gsrv.Serve(ln)

	require.Eventually(t, func() bool {
		return core.RoleState() == raft.Leader
	}, time.Second, 5*time.Millisecond)

	client := dialer.NewClient(addr)
	teardown := func() {
		cancel()
		gsrv.Stop()
		dialer.Close()
		layout.Close()
	}
	return client, teardown
}

func TestOpenSessionExecuteAndQueryRoundTrip(t *testing.T) {
	client, teardown := setupServer(t)
	defer teardown()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	session, err := client.OpenSession(ctx)
	require.NoError(t, err)
	require.NotZero(t, session.ClientID)

	mkdir := v1.TreeCommand{Op: v1.TreeOpMakeDirectory, Path: "/a"}
	execResp, err := client.Execute(ctx, &v1.ExecuteRequest{
		ClientID:            session.ClientID,
		FirstOutstandingRPC: 1,
		RPCNumber:           1,
		Command:             mkdir,
	})
	require.NoError(t, err)
	require.Equal(t, v1.StatusOK, execResp.Status)

	queryResp, err := client.Query(ctx, &v1.QueryRequest{
		Command: v1.TreeCommand{Op: v1.TreeOpListDirectory, Path: "/"},
	})
	require.NoError(t, err)
	require.Equal(t, v1.StatusOK, queryResp.Status)
	require.Contains(t, queryResp.Payload, "a")

	require.NoError(t, client.CloseSession(ctx, session.ClientID))
}

func TestExecuteRejectsUnauthorizedClient(t *testing.T) {
	layout, err := storage.NewEphemeralLayout()
	require.NoError(t, err)
	defer layout.Close()

	log := raftlog.NewMemoryLog()
	sm := statemachine.New(nil)
	dialer := NewDialer()
	defer dialer.Close()

	cfg := raft.DefaultConfig()
	cfg.ElectionTimeout = 40 * time.Millisecond
	cfg.HeartbeatPeriod = 10 * time.Millisecond

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()

	core := raft.New(cfg, nil, 1, addr, log, sm, dialer)
	core.SetSnapshotLayout(layout)
	require.NoError(t, core.BootstrapConfiguration([]clusterconfig.Server{{ID: 1, Address: addr}}))

	gsrv, err := NewGRPCServer(&Config{
		Core:         core,
		StateMachine: sm,
		Authorizer:   denyAll{},
		Layout:       layout,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go core.Run(ctx)
	go gsrv.Serve(ln)
	defer gsrv.Stop()

	require.Eventually(t, func() bool {
		return core.RoleState() == raft.Leader
	}, time.Second, 5*time.Millisecond)

	client := dialer.NewClient(addr)
	callCtx, callCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer callCancel()
	_, err = client.OpenSession(callCtx)
	require.Error(t, err)
}

type denyAll struct{}

func (denyAll) Authorize(subject, object, action string) error {
	return errors.New("permission denied")
}
