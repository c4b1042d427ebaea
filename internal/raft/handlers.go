package raft

import (
	"time"

	"go.uber.org/zap"

	"github.com/mrshabel/treekeep/internal/raftlog"
)

// HandleRequestVote implements the RequestVote RPC's receiver-side logic.
func (c *Core) HandleRequestVote(req RequestVoteRequest) RequestVoteResponse {
	c.mu.Lock()
	defer c.mu.Unlock()

	currentTerm := c.log.Metadata().CurrentTerm
	if req.Term < currentTerm {
		return RequestVoteResponse{Term: currentTerm, Granted: false}
	}
	if req.Term > currentTerm {
		c.stepDownLocked(req.Term)
		currentTerm = req.Term
	}

	if time.Now().Before(c.withholdVotesUntil) {
		return RequestVoteResponse{Term: currentTerm, Granted: false}
	}

	logOK := c.candidateLogUpToDateLocked(req.LastLogIndex, req.LastLogTerm)
	meta := c.log.Metadata()
	if logOK && (meta.VotedFor == 0 || meta.VotedFor == req.ServerID) {
		meta.VotedFor = req.ServerID
		if err := c.log.UpdateMetadata(meta); err != nil {
			c.logger.Fatal("failed to persist vote", zap.Error(err))
		}
		c.resetElectionTimerLocked()
		c.checkInvariantsLocked()
		return RequestVoteResponse{Term: currentTerm, Granted: true, LogOK: true}
	}
	c.checkInvariantsLocked()
	return RequestVoteResponse{Term: currentTerm, Granted: false, LogOK: logOK}
}

// candidateLogUpToDateLocked implements Raft's "higher term wins; equal
// term, longer log wins" rule.
func (c *Core) candidateLogUpToDateLocked(lastLogIndex, lastLogTerm uint64) bool {
	ourLastIndex := c.log.LastLogIndex()
	ourLastTerm := uint64(0)
	if ourLastIndex >= c.log.LogStartIndex() {
		ourLastTerm = c.log.GetEntry(ourLastIndex).Term
	}
	if lastLogTerm != ourLastTerm {
		return lastLogTerm > ourLastTerm
	}
	return lastLogIndex >= ourLastIndex
}

// HandleAppendEntries implements the AppendEntries RPC's receiver-side logic.
func (c *Core) HandleAppendEntries(req AppendEntriesRequest) AppendEntriesResponse {
	c.mu.Lock()
	defer c.mu.Unlock()

	currentTerm := c.log.Metadata().CurrentTerm
	if req.Term < currentTerm {
		return AppendEntriesResponse{Term: currentTerm, Success: false, LastLogIndex: c.log.LastLogIndex()}
	}
	if req.Term >= currentTerm {
		if req.Term > currentTerm || c.role != Follower {
			c.stepDownLocked(req.Term)
		}
		currentTerm = c.log.Metadata().CurrentTerm
		c.leaderID = req.ServerID
		c.resetElectionTimerLocked()
		c.withholdVotesUntil = time.Now().Add(c.cfg.ElectionTimeout)
	}

	lastLogIndex := c.log.LastLogIndex()
	logStart := c.log.LogStartIndex()

	if req.PrevLogIndex > lastLogIndex {
		return AppendEntriesResponse{Term: currentTerm, Success: false, LastLogIndex: lastLogIndex, Capabilities: c.localCapabilities()}
	}
	if req.PrevLogIndex+1 < logStart {
		// prevLogIndex < logStart-1: entirely out of range (already
		// covered by a snapshot); reject rather than guess.
		return AppendEntriesResponse{Term: currentTerm, Success: false, LastLogIndex: lastLogIndex, Capabilities: c.localCapabilities()}
	}
	if req.PrevLogIndex >= logStart && req.PrevLogIndex > 0 {
		if c.log.GetEntry(req.PrevLogIndex).Term != req.PrevLogTerm {
			return AppendEntriesResponse{Term: currentTerm, Success: false, LastLogIndex: lastLogIndex, Capabilities: c.localCapabilities()}
		}
	}

	var lastAppendedClusterTime uint64
	appended := false
	for _, we := range req.Entries {
		e := fromWireEntry(we)
		if e.Index <= c.log.LastLogIndex() && e.Index >= c.log.LogStartIndex() {
			existing := c.log.GetEntry(e.Index)
			if existing.Term == e.Term {
				continue // idempotent: already have this exact entry
			}
			if err := c.log.TruncateSuffix(e.Index - 1); err != nil {
				c.logger.Fatal("truncate_suffix failed", zap.Error(err))
			}
			c.configs.TruncateSuffix(e.Index - 1)
		}
		if _, _, err := c.log.Append([]raftlog.Entry{e}); err != nil {
			c.logger.Fatal("append failed during AppendEntries", zap.Error(err))
		}
		if e.Type == raftlog.EntryConfiguration {
			c.configs.Add(e.Index, decodeConfiguration(e.Payload))
		}
		lastAppendedClusterTime = e.ClusterTime
		appended = true
	}
	if appended {
		c.clusterClock.NewEpoch(lastAppendedClusterTime)
	} else if req.PrevLogIndex >= logStart && req.PrevLogIndex > 0 {
		c.clusterClock.NewEpoch(c.log.GetEntry(req.PrevLogIndex).ClusterTime)
	}

	newLast := c.log.LastLogIndex()
	leaderCommit := req.CommitIndex
	if leaderCommit > newLast {
		leaderCommit = newLast
	}
	if leaderCommit > c.commitIndex {
		c.commitIndex = leaderCommit
	}
	c.cond.Broadcast()
	c.checkInvariantsLocked()

	return AppendEntriesResponse{Term: currentTerm, Success: true, LastLogIndex: newLast, Capabilities: c.localCapabilities()}
}

func (c *Core) localCapabilities() Capabilities {
	return Capabilities{MinStateMachineVersion: 1, MaxStateMachineVersion: 2}
}

func fromWireEntry(w WireEntry) raftlog.Entry {
	return raftlog.Entry{
		Index:       w.Index,
		Term:        w.Term,
		ClusterTime: w.ClusterTime,
		Type:        raftlog.EntryType(w.Type),
		Payload:     w.Payload,
	}
}

func toWireEntry(e raftlog.Entry) WireEntry {
	return WireEntry{
		Index:       e.Index,
		Term:        e.Term,
		ClusterTime: e.ClusterTime,
		Type:        uint8(e.Type),
		Payload:     e.Payload,
	}
}
