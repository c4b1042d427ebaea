package raft

import (
	"context"
	"time"
)

// buildAppendEntriesLocked builds one AppendEntries request for p,
// packing entries starting at p.nextIndex subject to SoftRPCSizeLimit
// and MaxLogEntriesPerRequest (always including at least one entry if
// one exists). It returns a heartbeat request with no entries when
// p.suppressBulkData is set.
func (c *Core) buildAppendEntriesLocked(p *peer) AppendEntriesRequest {
	term := c.log.Metadata().CurrentTerm
	prevIndex := p.nextIndex - 1
	var prevTerm uint64
	if prevIndex >= c.log.LogStartIndex() && prevIndex > 0 {
		prevTerm = c.log.GetEntry(prevIndex).Term
	}

	req := AppendEntriesRequest{
		Term:         term,
		ServerID:     c.localID,
		PrevLogIndex: prevIndex,
		PrevLogTerm:  prevTerm,
		CommitIndex:  c.commitIndex,
	}
	if p.suppressBulkData {
		return req
	}

	lastLogIndex := c.log.LastLogIndex()
	size := 0
	for idx := p.nextIndex; idx <= lastLogIndex && len(req.Entries) < c.cfg.MaxLogEntriesPerRequest; idx++ {
		e := c.log.GetEntry(idx)
		we := toWireEntry(e)
		if len(req.Entries) > 0 && size+len(we.Payload) > c.cfg.SoftRPCSizeLimit {
			break
		}
		req.Entries = append(req.Entries, we)
		size += len(we.Payload)
	}
	return req
}

// replicateOnce issues one AppendEntries RPC to p and applies
// the response, following the "on success ... on mismatch ... on
// higher term ... on transport failure" rules. Must be called without
// c.mu held (the RPC itself suspends without the lock).
func (c *Core) replicateOnce(ctx context.Context, peerID uint64) {
	c.mu.Lock()
	if c.role != Leader || c.exiting {
		c.mu.Unlock()
		return
	}
	p, ok := c.peers[peerID]
	if !ok {
		c.mu.Unlock()
		return
	}
	if time.Now().Before(p.backoffUntil) {
		c.mu.Unlock()
		return
	}
	if c.lastSnapshotIndex > 0 && p.nextIndex < c.log.LogStartIndex() {
		c.mu.Unlock()
		c.sendInstallSnapshot(ctx, peerID)
		return
	}
	req := c.buildAppendEntriesLocked(p)
	lastSent := req.PrevLogIndex
	if len(req.Entries) > 0 {
		lastSent = req.Entries[len(req.Entries)-1].Index
	}
	addr := p.server.Address
	c.mu.Unlock()

	resp, err := c.transport.AppendEntries(ctx, addr, req)

	c.mu.Lock()
	defer c.mu.Unlock()
	// re-validate: term or role may have changed while the RPC was
	// outstanding.
	if c.role != Leader {
		return
	}
	p, ok = c.peers[peerID]
	if !ok {
		return
	}
	if err != nil {
		p.backoffUntil = time.Now().Add(c.cfg.RPCFailureBackoff)
		return
	}
	if resp.Term > c.log.Metadata().CurrentTerm {
		c.stepDownLocked(resp.Term)
		return
	}
	p.minStateMachineVersion = resp.Capabilities.MinStateMachineVersion
	p.maxStateMachineVersion = resp.Capabilities.MaxStateMachineVersion
	if resp.Success {
		if lastSent > p.matchIndex {
			p.matchIndex = lastSent
		}
		p.nextIndex = lastSent + 1
		p.suppressBulkData = false
		c.advanceCommitIndexLocked()
		return
	}
	next := resp.LastLogIndex + 1
	if next > p.nextIndex-1 {
		next = p.nextIndex - 1
	}
	if next < 1 {
		next = 1
	}
	p.nextIndex = next
	p.suppressBulkData = true
}

// sendRequestVoteOnce issues one RequestVote RPC to peerID and records
// the grant.
func (c *Core) sendRequestVoteOnce(ctx context.Context, peerID uint64) {
	c.mu.Lock()
	if c.role != Candidate || c.exiting {
		c.mu.Unlock()
		return
	}
	p, ok := c.peers[peerID]
	if !ok || p.requestVoteDone {
		c.mu.Unlock()
		return
	}
	term := c.log.Metadata().CurrentTerm
	lastIndex := c.log.LastLogIndex()
	var lastTerm uint64
	if lastIndex >= c.log.LogStartIndex() && lastIndex > 0 {
		lastTerm = c.log.GetEntry(lastIndex).Term
	}
	addr := p.server.Address
	c.mu.Unlock()

	resp, err := c.transport.RequestVote(ctx, addr, RequestVoteRequest{
		Term: term, ServerID: c.localID, LastLogIndex: lastIndex, LastLogTerm: lastTerm,
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.role != Candidate || err != nil {
		return
	}
	if resp.Term > c.log.Metadata().CurrentTerm {
		c.stepDownLocked(resp.Term)
		return
	}
	p, ok = c.peers[peerID]
	if !ok {
		return
	}
	p.requestVoteDone = true
	if resp.Granted {
		p.voteGranted = true
	}
	if c.configLocal.QuorumAll(func(id uint64) bool {
		if id == c.localID {
			return true
		}
		if pp, ok := c.peers[id]; ok {
			return pp.voteGranted
		}
		return false
	}) {
		c.becomeLeaderLocked()
	}
}
