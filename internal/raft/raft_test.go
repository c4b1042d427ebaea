package raft

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mrshabel/treekeep/internal/clusterconfig"
	"github.com/mrshabel/treekeep/internal/raftlog"
	"github.com/mrshabel/treekeep/internal/statemachine"
)

// fakeTransport routes RPCs directly to in-process Cores by address,
// standing in for internal/transport's gRPC client in these tests.
type fakeTransport struct {
	mu    sync.Mutex
	cores map[string]*Core
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{cores: make(map[string]*Core)}
}

func (f *fakeTransport) register(addr string, c *Core) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cores[addr] = c
}

func (f *fakeTransport) lookup(addr string) *Core {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cores[addr]
}

func (f *fakeTransport) RequestVote(ctx context.Context, addr string, req RequestVoteRequest) (RequestVoteResponse, error) {
	c := f.lookup(addr)
	if c == nil {
		return RequestVoteResponse{}, context.DeadlineExceeded
	}
	return c.HandleRequestVote(req), nil
}

func (f *fakeTransport) AppendEntries(ctx context.Context, addr string, req AppendEntriesRequest) (AppendEntriesResponse, error) {
	c := f.lookup(addr)
	if c == nil {
		return AppendEntriesResponse{}, context.DeadlineExceeded
	}
	return c.HandleAppendEntries(req), nil
}

func (f *fakeTransport) InstallSnapshot(ctx context.Context, addr string, req InstallSnapshotRequest) (InstallSnapshotResponse, error) {
	c := f.lookup(addr)
	if c == nil || c.snapshotLayout == nil {
		return InstallSnapshotResponse{}, context.DeadlineExceeded
	}
	return c.HandleInstallSnapshot(c.snapshotLayout, req)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ElectionTimeout = 40 * time.Millisecond
	cfg.HeartbeatPeriod = 10 * time.Millisecond
	cfg.RPCFailureBackoff = 10 * time.Millisecond
	cfg.StateMachineUpdaterBackoff = 20 * time.Millisecond
	return cfg
}

func newTestCore(t *testing.T, id uint64, addr string, transport Transport) *Core {
	t.Helper()
	log := raftlog.NewMemoryLog()
	sm := statemachine.New(nil)
	return New(testConfig(), nil, id, addr, log, sm, transport)
}

// TestSingleNodeBecomesLeaderAndAppliesCommand covers the bootstrap
// scenario: a brand-new single-server cluster elects itself leader and
// commits a client command through to the state machine.
func TestSingleNodeBecomesLeaderAndAppliesCommand(t *testing.T) {
	transport := newFakeTransport()
	core := newTestCore(t, 1, "node1", transport)
	transport.register("node1", core)

	require.NoError(t, core.BootstrapConfiguration([]clusterconfig.Server{{ID: 1, Address: "node1"}}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go core.Run(ctx)

	require.Eventually(t, func() bool {
		return core.RoleState() == Leader
	}, time.Second, 5*time.Millisecond)

	cmd := &statemachine.Command{
		Type: statemachine.CommandOpenSession,
	}
	index, err := core.Propose(cmd)
	require.NoError(t, err)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	resp, err := core.sm.WaitForResponse(waitCtx, index, cmd)
	require.NoError(t, err)
	require.Equal(t, index, resp.ClientID)
}

// TestThreeNodeClusterElectsASingleLeader covers the common case:
// exactly one of three mutually-visible servers becomes leader for a
// given term, and the others remain followers.
func TestThreeNodeClusterElectsASingleLeader(t *testing.T) {
	transport := newFakeTransport()
	servers := []clusterconfig.Server{
		{ID: 1, Address: "node1"},
		{ID: 2, Address: "node2"},
		{ID: 3, Address: "node3"},
	}

	cores := make(map[uint64]*Core)
	for _, s := range servers {
		c := newTestCore(t, s.ID, s.Address, transport)
		cores[s.ID] = c
		transport.register(s.Address, c)
	}
	for _, c := range cores {
		require.NoError(t, c.BootstrapConfiguration(servers))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for _, c := range cores {
		go c.Run(ctx)
	}

	require.Eventually(t, func() bool {
		leaders := 0
		for _, c := range cores {
			if c.RoleState() == Leader {
				leaders++
			}
		}
		return leaders == 1
	}, 2*time.Second, 10*time.Millisecond)
}

// TestProposeFailsWhenNotLeader covers the redirect-to-leader error
// path: a follower must reject client commands outright.
func TestProposeFailsWhenNotLeader(t *testing.T) {
	transport := newFakeTransport()
	core := newTestCore(t, 1, "node1", transport)
	transport.register("node1", core)
	require.NoError(t, core.BootstrapConfiguration([]clusterconfig.Server{{ID: 1, Address: "node1"}}))

	_, err := core.Propose(&statemachine.Command{Type: statemachine.CommandOpenSession})
	require.ErrorIs(t, err, ErrNotLeader)
}

// TestCandidateLogUpToDate exercises Raft's "higher term, or equal
// term with a longer log, wins" comparison directly.
func TestCandidateLogUpToDate(t *testing.T) {
	transport := newFakeTransport()
	core := newTestCore(t, 1, "node1", transport)
	_, _, err := core.log.Append([]raftlog.Entry{{Term: 2}})
	require.NoError(t, err)

	require.True(t, core.candidateLogUpToDateLocked(1, 2))
	require.True(t, core.candidateLogUpToDateLocked(1, 3))
	require.False(t, core.candidateLogUpToDateLocked(1, 1))
	require.False(t, core.candidateLogUpToDateLocked(0, 2))
}

// TestHandleAppendEntriesRejectsStaleTerm covers AppendEntries's first
// rule: a leader from an older term is told no and given our term back.
func TestHandleAppendEntriesRejectsStaleTerm(t *testing.T) {
	transport := newFakeTransport()
	core := newTestCore(t, 1, "node1", transport)
	meta := core.log.Metadata()
	meta.CurrentTerm = 5
	require.NoError(t, core.log.UpdateMetadata(meta))

	resp := core.HandleAppendEntries(AppendEntriesRequest{Term: 3, ServerID: 2})
	require.False(t, resp.Success)
	require.EqualValues(t, 5, resp.Term)
}
