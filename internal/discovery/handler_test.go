package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mrshabel/treekeep/internal/raft"
	"github.com/mrshabel/treekeep/internal/raftlog"
	"github.com/mrshabel/treekeep/internal/statemachine"
)

type noopTransport struct{}

func (noopTransport) RequestVote(context.Context, string, raft.RequestVoteRequest) (raft.RequestVoteResponse, error) {
	return raft.RequestVoteResponse{}, nil
}
func (noopTransport) AppendEntries(context.Context, string, raft.AppendEntriesRequest) (raft.AppendEntriesResponse, error) {
	return raft.AppendEntriesResponse{}, nil
}
func (noopTransport) InstallSnapshot(context.Context, string, raft.InstallSnapshotRequest) (raft.InstallSnapshotResponse, error) {
	return raft.InstallSnapshotResponse{}, nil
}

func newIdleCore() *raft.Core {
	sm := statemachine.New(nil)
	return raft.New(raft.DefaultConfig(), nil, 1, "127.0.0.1:9000", raftlog.NewMemoryLog(), sm, noopTransport{})
}

func TestServerIDIsDeterministicAndDistinct(t *testing.T) {
	require.Equal(t, ServerID("a"), ServerID("a"))
	require.NotEqual(t, ServerID("a"), ServerID("b"))
}

func TestRaftHandlerIgnoresEventsWhenNotLeader(t *testing.T) {
	core := newIdleCore() // a fresh Core starts as Follower and never runs an election here
	h := NewRaftHandler(core, time.Second)

	require.NoError(t, h.Join("node-2", "127.0.0.1:9001"))
	require.NoError(t, h.Leave("node-2"))
}
