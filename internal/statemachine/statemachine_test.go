package statemachine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mrshabel/treekeep/internal/snapshot"
	"github.com/mrshabel/treekeep/internal/storage"
	"github.com/mrshabel/treekeep/internal/tree"
)

func TestOpenSessionThenTreeWrite(t *testing.T) {
	sm := New(nil)

	openResp := sm.Apply(1, 10, EntryData, &Command{Type: CommandOpenSession})
	require.EqualValues(t, 1, openResp.ClientID)

	writeResp := sm.Apply(2, 11, EntryData, &Command{
		Type:        CommandTree,
		ExactlyOnce: ExactlyOnce{ClientID: 1, RPCNumber: 1},
		Tree:        TreeCommand{Op: TreeOpWrite, Path: "/hello", Contents: "world"},
	})
	require.Equal(t, tree.StatusOK, writeResp.TreeStatus)

	// duplicate RPC returns the identical cached response, and does not
	// re-execute the operation (session only advances once).
	dup := sm.Apply(3, 12, EntryData, &Command{
		Type:        CommandTree,
		ExactlyOnce: ExactlyOnce{ClientID: 1, RPCNumber: 1},
		Tree:        TreeCommand{Op: TreeOpWrite, Path: "/hello", Contents: "world"},
	})
	require.Equal(t, writeResp, dup)
}

func TestTreeCommandWithoutSessionIsIgnored(t *testing.T) {
	sm := New(nil)
	resp := sm.Apply(1, 2, EntryData, &Command{
		Type:        CommandTree,
		ExactlyOnce: ExactlyOnce{ClientID: 39, RPCNumber: 1},
		Tree:        TreeCommand{Op: TreeOpWrite, Path: "/x", Contents: "y"},
	})
	require.Equal(t, ResponseSessionExpired, resp.Status)

	readResp, found := sm.Query(TreeCommand{Op: TreeOpRead, Path: "/x"})
	require.True(t, found)
	require.Equal(t, tree.StatusLookupError, readResp.TreeStatus)
}

func TestSessionExpiry(t *testing.T) {
	sm := New(nil)
	sm.SetSessionTimeout(1)

	sm.Apply(1, 0, EntryData, &Command{Type: CommandOpenSession}) // client id = 1, last_modified=0

	resp := sm.Apply(2, 2, EntryData, &Command{
		Type:        CommandTree,
		ExactlyOnce: ExactlyOnce{ClientID: 1, RPCNumber: 1},
		Tree:        TreeCommand{Op: TreeOpWrite, Path: "/f", Contents: "v"},
	})
	require.Equal(t, tree.StatusOK, resp.TreeStatus)

	// cluster_time now jumps far enough that last_modified(2)+1 < 4 expires it
	sm.Apply(3, 4, EntryNoop, nil)

	resp2 := sm.Apply(4, 5, EntryData, &Command{
		Type:        CommandTree,
		ExactlyOnce: ExactlyOnce{ClientID: 1, RPCNumber: 2},
		Tree:        TreeCommand{Op: TreeOpRead, Path: "/f"},
	})
	require.Equal(t, ResponseSessionExpired, resp2.Status)
}

func TestAdvanceVersionAndCloseSession(t *testing.T) {
	sm := New(nil)
	sm.Apply(1, 0, EntryData, &Command{Type: CommandOpenSession})

	advResp := sm.Apply(2, 0, EntryData, &Command{Type: CommandAdvanceVersion, RequestedVersion: 2})
	require.EqualValues(t, 2, advResp.RunningVersion)

	sm.Apply(3, 0, EntryData, &Command{Type: CommandCloseSession, CloseSessionClientID: 1})

	// session 1 is gone: a subsequent Tree command against it is ignored.
	resp := sm.Apply(4, 0, EntryData, &Command{
		Type:        CommandTree,
		ExactlyOnce: ExactlyOnce{ClientID: 1, RPCNumber: 1},
		Tree:        TreeCommand{Op: TreeOpRead, Path: "/x"},
	})
	require.Equal(t, ResponseSessionExpired, resp.Status)
}

func TestWaitForResponseBlocksUntilApplied(t *testing.T) {
	sm := New(nil)
	done := make(chan Response, 1)
	go func() {
		resp, err := sm.WaitForResponse(context.Background(), 1, &Command{Type: CommandOpenSession})
		require.NoError(t, err)
		done <- resp
	}()

	sm.Apply(1, 0, EntryData, &Command{Type: CommandOpenSession})

	resp := <-done
	require.EqualValues(t, 1, resp.ClientID)
}

func TestSnapshotRoundTrip(t *testing.T) {
	sm := New(nil)
	sm.Apply(1, 0, EntryData, &Command{Type: CommandOpenSession})
	sm.Apply(2, 0, EntryData, &Command{
		Type:        CommandTree,
		ExactlyOnce: ExactlyOnce{ClientID: 1, RPCNumber: 1},
		Tree:        TreeCommand{Op: TreeOpWrite, Path: "/k", Contents: "v"},
	})

	layout, err := storage.NewEphemeralLayout()
	require.NoError(t, err)
	defer layout.Close()

	w, err := snapshot.NewWriter(layout, 1700000000, 0)
	require.NoError(t, err)
	lastApplied, err := sm.TakeSnapshot(w)
	require.NoError(t, err)
	require.EqualValues(t, 2, lastApplied)
	_, err = w.Save()
	require.NoError(t, err)

	r, err := snapshot.NewReader(layout)
	require.NoError(t, err)
	defer r.Close()

	loaded := New(nil)
	require.NoError(t, loaded.LoadSnapshot(r))

	resp, found := loaded.Query(TreeCommand{Op: TreeOpRead, Path: "/k"})
	require.True(t, found)
	require.Equal(t, "v", resp.Payload)
}
