package raft

import "github.com/mrshabel/treekeep/internal/clusterconfig"

// advanceCommitIndexLocked: on the leader, after any
// match_index/lastSyncedIndex change, recompute
// quorumMin(match_index) (treating self's match_index as
// lastSyncedIndex) and advance commit_index if the candidate index's
// term matches current_term.
func (c *Core) advanceCommitIndexLocked() {
	if c.role != Leader {
		return
	}
	n := c.configLocal.QuorumMin(func(id uint64) uint64 {
		if id == c.localID {
			return c.lastSyncedIndex
		}
		if p, ok := c.peers[id]; ok {
			return p.matchIndex
		}
		return 0
	})
	if n <= c.commitIndex {
		return
	}
	if n < c.log.LogStartIndex() {
		return
	}
	if c.log.GetEntry(n).Term != c.log.Metadata().CurrentTerm {
		return
	}
	c.commitIndex = n
	c.cond.Broadcast()

	// If the newly committed configuration (the active configuration
	// at the new commit index) is STABLE and excludes self, step down.
	if c.configLocal.State == clusterconfig.Stable && c.commitIndex >= c.configLocal.ID && !c.configLocal.HasVote(c.localID) {
		c.logger.Info("stepping down: committed configuration excludes self")
		c.stepDownLocked(c.log.Metadata().CurrentTerm)
	}
	c.checkInvariantsLocked()
}
