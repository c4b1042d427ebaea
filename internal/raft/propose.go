package raft

import (
	"context"
	"errors"

	"github.com/mrshabel/treekeep/internal/raftlog"
	"github.com/mrshabel/treekeep/internal/statemachine"
)

// ErrNotLeader is returned by Propose when this server cannot accept
// client commands, triggering a redirect to the current leader.
var ErrNotLeader = errors.New("raft: not leader")

// appendDataLocked appends a DATA entry carrying payload at the current
// term and cluster-time stamp, waking every background thread that
// waits on new log entries. Must be called with c.mu held and c.role
// == Leader.
func (c *Core) appendDataLocked(payload []byte) uint64 {
	term := c.log.Metadata().CurrentTerm
	clusterTime := c.clusterClock.LeaderStamp()
	entry := raftlog.Entry{Term: term, ClusterTime: clusterTime, Type: raftlog.EntryData, Payload: payload}
	first, _, err := c.log.Append([]raftlog.Entry{entry})
	if err != nil {
		c.logger.Fatal("failed to append data entry")
	}
	c.cond.Broadcast()
	return first
}

// Propose appends cmd as a new DATA entry if this server is currently
// the leader. The returned index is only meaningful once committed; callers wait for
// that via sm.WaitForResponse(ctx, index, cmd).
func (c *Core) Propose(cmd *statemachine.Command) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.role != Leader {
		return 0, ErrNotLeader
	}
	return c.appendDataLocked(encodeCommand(cmd)), nil
}

// applyLoopThread feeds newly committed entries into the state machine
// in strict log order, regardless of role: followers must apply
// committed entries too so reads stay linearizable with the leader's
// view, as commit_index advances drive Apply.
func (c *Core) applyLoopThread(ctx context.Context) {
	for {
		c.mu.Lock()
		for {
			if c.exiting {
				c.mu.Unlock()
				return
			}
			if c.commitIndex > c.sm.LastApplied() {
				break
			}
			c.cond.Wait()
		}
		next := c.sm.LastApplied() + 1
		if next < c.log.LogStartIndex() {
			// already covered by an installed snapshot; the snapshot
			// load itself advanced the state machine's applied index.
			c.mu.Unlock()
			continue
		}
		if next > c.log.LastLogIndex() {
			c.mu.Unlock()
			continue
		}
		entry := c.log.GetEntry(next)
		c.mu.Unlock()

		var kind statemachine.EntryKind
		var cmd *statemachine.Command
		switch entry.Type {
		case raftlog.EntryData:
			kind = statemachine.EntryData
			cmd = decodeCommand(entry.Payload)
		case raftlog.EntryNoop:
			kind = statemachine.EntryNoop
		case raftlog.EntryConfiguration:
			kind = statemachine.EntryConfiguration
		}
		c.sm.Apply(next, entry.ClusterTime, kind, cmd)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}
