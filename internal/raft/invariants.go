package raft

import "fmt"

// checkInvariantsLocked is a debug-only sanity pass adapted from
// LogCabin's Raft::checkInvariants (RaftConsensusInvariants.cc): a set
// of properties that must hold after every state mutation, expensive
// enough (it walks the in-memory log) that it only runs when
// c.cfg.RaftDebug is set. It panics on the first violation rather than
// returning an error, matching LogCabin's assert-and-abort behavior --
// a violation means a bug in RaftCore itself, not bad input.
func (c *Core) checkInvariantsLocked() {
	if !c.cfg.RaftDebug {
		return
	}

	meta := c.log.Metadata()
	logStart := c.log.LogStartIndex()
	lastLogIndex := c.log.LastLogIndex()

	if c.commitIndex > lastLogIndex {
		panic(fmt.Sprintf("raft: commitIndex %d exceeds lastLogIndex %d", c.commitIndex, lastLogIndex))
	}
	if logStart > 0 && c.commitIndex < logStart-1 {
		panic(fmt.Sprintf("raft: commitIndex %d below log's snapshot boundary %d", c.commitIndex, logStart-1))
	}
	if c.lastSnapshotIndex > c.commitIndex {
		panic(fmt.Sprintf("raft: lastSnapshotIndex %d exceeds commitIndex %d", c.lastSnapshotIndex, c.commitIndex))
	}

	// Log entries in range must carry non-decreasing terms, and none may
	// exceed currentTerm.
	prevTerm := uint64(0)
	for idx := logStart; idx <= lastLogIndex; idx++ {
		if idx == 0 {
			continue
		}
		term := c.log.GetEntry(idx).Term
		if term < prevTerm {
			panic(fmt.Sprintf("raft: log entry %d term %d lower than preceding entry's term %d", idx, term, prevTerm))
		}
		if term > meta.CurrentTerm {
			panic(fmt.Sprintf("raft: log entry %d term %d exceeds currentTerm %d", idx, term, meta.CurrentTerm))
		}
		prevTerm = term
	}

	switch c.role {
	case Leader:
		if c.leaderID != c.localID {
			panic("raft: role is LEADER but leaderID is not self")
		}
		if !c.startElectionAt.IsZero() {
			panic("raft: leader has a finite election deadline")
		}
		if meta.VotedFor != c.localID {
			panic("raft: leader did not vote for itself in its own term")
		}
	case Candidate:
		if meta.VotedFor != c.localID {
			panic("raft: role is CANDIDATE but didn't vote for self")
		}
	}
}
