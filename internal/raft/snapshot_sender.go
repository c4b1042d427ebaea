package raft

import (
	"context"
	"time"

	"github.com/mrshabel/treekeep/internal/snapshot"
	"github.com/mrshabel/treekeep/internal/storage"
)

// snapshotLayout is set once at startup so sendInstallSnapshot can open
// the local snapshot file; kept separate from Core's other fields since
// it never changes after construction.
func (c *Core) SetSnapshotLayout(layout *storage.Layout) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshotLayout = layout
}

// sendInstallSnapshot: when a peer's next_index falls below
// log_start_index, stream the
// local snapshot file to it in SoftRPCSizeLimit-bounded chunks.
func (c *Core) sendInstallSnapshot(ctx context.Context, peerID uint64) {
	c.mu.Lock()
	layout := c.snapshotLayout
	if layout == nil || c.role != Leader {
		c.mu.Unlock()
		return
	}
	p, ok := c.peers[peerID]
	if !ok {
		c.mu.Unlock()
		return
	}
	term := c.log.Metadata().CurrentTerm
	lastSnapshotIndex := c.lastSnapshotIndex
	addr := p.server.Address
	c.mu.Unlock()

	reader, err := snapshot.NewReader(layout)
	if err != nil {
		c.mu.Lock()
		p.backoffUntil = time.Now().Add(c.cfg.RPCFailureBackoff)
		c.mu.Unlock()
		return
	}
	defer reader.Close()

	offset := uint64(0)
	total := reader.SizeBytes()
	chunkSize := uint64(c.cfg.SoftRPCSizeLimit)
	if chunkSize == 0 {
		chunkSize = total
	}
	for offset < total {
		n := chunkSize
		if offset+n > total {
			n = total - offset
		}
		data, err := reader.ReadRaw(n)
		if err != nil {
			c.mu.Lock()
			p.backoffUntil = time.Now().Add(c.cfg.RPCFailureBackoff)
			c.mu.Unlock()
			return
		}
		done := offset+n >= total
		resp, err := c.transport.InstallSnapshot(ctx, addr, InstallSnapshotRequest{
			Term: term, ServerID: c.localID, LastSnapshotIndex: lastSnapshotIndex,
			ByteOffset: offset, Data: data, Done: done, Version: 2,
		})
		c.mu.Lock()
		if c.role != Leader {
			c.mu.Unlock()
			return
		}
		if err != nil {
			p.backoffUntil = time.Now().Add(c.cfg.RPCFailureBackoff)
			c.mu.Unlock()
			return
		}
		if resp.Term > c.log.Metadata().CurrentTerm {
			c.stepDownLocked(resp.Term)
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
		offset = resp.BytesStored
		if done {
			c.mu.Lock()
			p.nextIndex = lastSnapshotIndex + 1
			if lastSnapshotIndex > p.matchIndex {
				p.matchIndex = lastSnapshotIndex
			}
			c.advanceCommitIndexLocked()
			c.mu.Unlock()
		}
	}
}
