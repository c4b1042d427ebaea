package raft

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mrshabel/treekeep/internal/clusterconfig"
	"github.com/mrshabel/treekeep/internal/raftlog"
	"github.com/mrshabel/treekeep/internal/statemachine"
	"github.com/mrshabel/treekeep/internal/storage"
)

// TestBeginSnapshotTruncatesLogAndConfigs covers the leader-driven
// snapshot path end to end: BeginSnapshot takes a snapshot of the
// current state machine, and SnapshotDone truncates both the log and
// the configuration manager's history up through the covered index.
func TestBeginSnapshotTruncatesLogAndConfigs(t *testing.T) {
	transport := newFakeTransport()
	core := newTestCore(t, 1, "node1", transport)
	transport.register("node1", core)
	require.NoError(t, core.BootstrapConfiguration([]clusterconfig.Server{{ID: 1, Address: "node1"}}))

	layout, err := storage.NewEphemeralLayout()
	require.NoError(t, err)
	core.SetSnapshotLayout(layout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go core.Run(ctx)

	require.Eventually(t, func() bool {
		return core.RoleState() == Leader
	}, time.Second, 5*time.Millisecond)

	cmd := &statemachine.Command{Type: statemachine.CommandOpenSession}
	index, err := core.Propose(cmd)
	require.NoError(t, err)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	_, err = core.sm.WaitForResponse(waitCtx, index, cmd)
	require.NoError(t, err)

	require.True(t, core.BeginSnapshot())
	require.Eventually(t, func() bool {
		core.mu.Lock()
		defer core.mu.Unlock()
		return !core.snapshotting && core.lastSnapshotIndex > 0
	}, time.Second, 5*time.Millisecond)

	core.mu.Lock()
	defer core.mu.Unlock()
	require.Equal(t, core.lastSnapshotIndex+1, core.log.LogStartIndex())
}

// TestShouldSnapshotLockedRespectsThresholds covers the size/ratio gate
// that decides whether a leader should start a new snapshot: a fresh,
// single-entry log shouldn't trigger one even with a low threshold
// configured, since there's nothing yet to snapshot past.
func TestShouldSnapshotLockedRespectsThresholds(t *testing.T) {
	transport := newFakeTransport()
	core := newTestCore(t, 1, "node1", transport)
	require.NoError(t, core.BootstrapConfiguration([]clusterconfig.Server{{ID: 1, Address: "node1"}}))

	layout, err := storage.NewEphemeralLayout()
	require.NoError(t, err)
	core.SetSnapshotLayout(layout)

	core.mu.Lock()
	core.role = Leader
	core.cfg.SnapshotMinLogSize = 2
	core.cfg.SnapshotRatio = 2
	should := core.shouldSnapshotLocked()
	core.mu.Unlock()
	require.False(t, should, "a freshly bootstrapped log shouldn't be large enough to snapshot")
}

// TestMatchIndexNeverRegresses covers the monotonic guard on a leader's
// view of a peer's replicated index: an out-of-order RPC response must
// not move matchIndex backwards.
func TestMatchIndexNeverRegresses(t *testing.T) {
	transport := newFakeTransport()
	core := newTestCore(t, 1, "node1", transport)
	follower := newTestCore(t, 2, "node2", transport)
	transport.register("node2", follower)

	entries := func() []raftlog.Entry { return []raftlog.Entry{{Term: 1}, {Term: 1}, {Term: 1}} }
	_, _, err := core.log.Append(entries())
	require.NoError(t, err)
	_, _, err = follower.log.Append(entries())
	require.NoError(t, err)
	meta := core.log.Metadata()
	meta.CurrentTerm = 1
	require.NoError(t, core.log.UpdateMetadata(meta))

	core.role = Leader
	core.leaderID = 1
	// matchIndex is already 10 when a successful heartbeat that only
	// acknowledges index 3 comes back from the follower.
	core.peers[2] = &peer{server: clusterconfig.Server{ID: 2, Address: "node2"}, nextIndex: 4, matchIndex: 10, suppressBulkData: true}

	core.replicateOnce(context.Background(), 2)

	require.EqualValues(t, 10, core.peers[2].matchIndex, "a stale response must not regress matchIndex")
}
